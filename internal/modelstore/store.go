package modelstore

import (
	"context"
	"sync"

	"github.com/promo-copilot/promoplan/internal/api"
)

// Store persists uplift models by version. Versions are append-only: the
// first write of a version wins and later writes of the same version are
// silently ignored, so a model referenced by a stored KPI can never change
// underneath it. A separate "current" pointer names the version new
// evaluations should use.
type Store interface {
	// Save stores the model under its version. First write wins.
	Save(ctx context.Context, model *api.UpliftModel) error

	// Get retrieves a model by version. Returns nil if not found.
	Get(ctx context.Context, version string) (*api.UpliftModel, error)

	// Current retrieves the model the current pointer names. Returns nil
	// when no current version is set.
	Current(ctx context.Context) (*api.UpliftModel, error)

	// SetCurrent repoints current to an existing version.
	SetCurrent(ctx context.Context, version string) error

	// Close releases resources
	Close() error
}

// MemoryStore is an in-memory model store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	models  map[string]*api.UpliftModel
	current string
}

// NewMemoryStore creates an in-memory model store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{models: make(map[string]*api.UpliftModel)}
}

func (m *MemoryStore) Save(ctx context.Context, model *api.UpliftModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// First write wins
	if _, exists := m.models[model.Version]; exists {
		return nil
	}
	m.models[model.Version] = model

	// The first model ever saved becomes current automatically.
	if m.current == "" {
		m.current = model.Version
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, version string) (*api.UpliftModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.models[version], nil
}

func (m *MemoryStore) Current(ctx context.Context) (*api.UpliftModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == "" {
		return nil, nil
	}
	return m.models[m.current], nil
}

func (m *MemoryStore) SetCurrent(ctx context.Context, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.models[version]; !exists {
		return &api.UnknownModelVersionError{Version: version}
	}
	m.current = version
	return nil
}

func (m *MemoryStore) Close() error { return nil }
