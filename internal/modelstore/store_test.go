package modelstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/promo-copilot/promoplan/internal/api"
)

func model(version string, bandWidth float64) *api.UpliftModel {
	return &api.UpliftModel{
		Version:     version,
		LastUpdated: time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
		BandWidth:   bandWidth,
	}
}

func TestMemoryStoreFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	if err := ms.Save(ctx, model("v1", 10)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	// A second save of the same version must not overwrite.
	if err := ms.Save(ctx, model("v1", 99)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := ms.Get(ctx, "v1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.BandWidth != 10 {
		t.Errorf("stored model mutated: %+v", got)
	}
}

func TestMemoryStoreCurrentPointer(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	cur, err := ms.Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if cur != nil {
		t.Errorf("empty store returned a current model: %+v", cur)
	}

	if err := ms.Save(ctx, model("v1", 10)); err != nil {
		t.Fatal(err)
	}
	if err := ms.Save(ctx, model("v2", 10)); err != nil {
		t.Fatal(err)
	}

	// The first saved version became current implicitly.
	cur, err = ms.Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if cur == nil || cur.Version != "v1" {
		t.Errorf("current = %+v, want v1", cur)
	}

	if err := ms.SetCurrent(ctx, "v2"); err != nil {
		t.Fatalf("SetCurrent failed: %v", err)
	}
	cur, err = ms.Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if cur == nil || cur.Version != "v2" {
		t.Errorf("current = %+v, want v2", cur)
	}
}

func TestMemoryStoreSetCurrentUnknownVersion(t *testing.T) {
	err := NewMemoryStore().SetCurrent(context.Background(), "ghost")
	var unknown *api.UnknownModelVersionError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownModelVersionError, got %v", err)
	}
	if unknown.Version != "ghost" {
		t.Errorf("error version = %q, want ghost", unknown.Version)
	}
}

func TestMemoryStoreGetAbsentVersion(t *testing.T) {
	got, err := NewMemoryStore().Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("absent version returned %+v, want nil", got)
	}
}
