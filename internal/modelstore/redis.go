package modelstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/promo-copilot/promoplan/internal/api"
)

const (
	versionKeyPrefix = "upliftmodel:v:"
	currentKey       = "upliftmodel:current"
)

// RedisStore implements Store on Redis. SETNX gives the append-only
// guarantee atomically: concurrent saves of the same version race safely and
// the first write wins.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed model store.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Save(ctx context.Context, model *api.UpliftModel) error {
	data, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	// SETNX without TTL: model versions never expire. A false result means
	// the version already existed; losing that race is not an error.
	wasSet, err := r.client.SetNX(ctx, versionKeyPrefix+model.Version, data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis SETNX failed: %w", err)
	}

	if wasSet {
		// Promote the very first version to current.
		if err := r.client.SetNX(ctx, currentKey, model.Version, 0).Err(); err != nil {
			return fmt.Errorf("redis SETNX current failed: %w", err)
		}
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, version string) (*api.UpliftModel, error) {
	data, err := r.client.Get(ctx, versionKeyPrefix+version).Result()
	if err == redis.Nil {
		return nil, nil // not found
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}

	var model api.UpliftModel
	if err := json.Unmarshal([]byte(data), &model); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model: %w", err)
	}
	return &model, nil
}

func (r *RedisStore) Current(ctx context.Context) (*api.UpliftModel, error) {
	version, err := r.client.Get(ctx, currentKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET current failed: %w", err)
	}
	return r.Get(ctx, version)
}

func (r *RedisStore) SetCurrent(ctx context.Context, version string) error {
	exists, err := r.client.Exists(ctx, versionKeyPrefix+version).Result()
	if err != nil {
		return fmt.Errorf("redis EXISTS failed: %w", err)
	}
	if exists == 0 {
		return &api.UnknownModelVersionError{Version: version}
	}
	if err := r.client.Set(ctx, currentKey, version, 0).Err(); err != nil {
		return fmt.Errorf("redis SET current failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
