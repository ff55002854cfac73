package pool

import (
	"testing"

	"bondmm/fixedpoint"
	"bondmm/storage"
)

func TestStoreAllocatesMonotonicIDs(t *testing.T) {
	store, err := NewPositionStore(storage.NewMemDB())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	for want := uint64(1); want <= 3; want++ {
		id, err := store.Allocate(Position{Owner: alice, FaceValue: fixedpoint.FromUint64(want), Active: true})
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if id != want {
			t.Fatalf("expected id %d, got %d", want, id)
		}
	}
	if store.NextID() != 4 {
		t.Fatalf("expected next id 4, got %d", store.NextID())
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store, err := NewPositionStore(storage.NewMemDB())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	original := Position{
		Owner:      bob,
		FaceValue:  fixedpoint.MustFromDecimal("10125.5"),
		Maturity:   startTime + 90*testDay,
		Collateral: fixedpoint.FromUint64(15_000),
		InitialPV:  fixedpoint.FromUint64(10_000),
		CreatedAt:  startTime,
		IsBorrow:   true,
		Active:     true,
	}
	id, err := store.Allocate(original)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	loaded, err := store.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Owner != original.Owner || !loaded.FaceValue.Equal(original.FaceValue) ||
		loaded.Maturity != original.Maturity || !loaded.Collateral.Equal(original.Collateral) ||
		!loaded.IsBorrow || !loaded.Active {
		t.Fatalf("record mismatch: %+v", loaded)
	}
}

func TestStoreUnknownIDIsInactiveZero(t *testing.T) {
	store, err := NewPositionStore(storage.NewMemDB())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	record, err := store.Get(42)
	if err != nil {
		t.Fatalf("get unknown: %v", err)
	}
	if record.Active || record.ID != 0 || !record.FaceValue.IsZero() {
		t.Fatalf("expected zeroed inactive record, got %+v", record)
	}
}

func TestStoreMarkInactiveIdempotent(t *testing.T) {
	store, err := NewPositionStore(storage.NewMemDB())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	id, err := store.Allocate(Position{Owner: alice, Active: true})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := store.MarkInactive(id); err != nil {
		t.Fatalf("mark inactive: %v", err)
	}
	if err := store.MarkInactive(id); err != nil {
		t.Fatalf("second mark inactive: %v", err)
	}
	record, err := store.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Active {
		t.Fatalf("record should stay inactive")
	}
}

func TestStoreCounterSurvivesReopen(t *testing.T) {
	db := storage.NewMemDB()
	store, err := NewPositionStore(db)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := store.Allocate(Position{Owner: alice, Active: true}); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := store.Allocate(Position{Owner: bob, Active: true}); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	reopened, err := NewPositionStore(db)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	id, err := reopened.Allocate(Position{Owner: carol, Active: true})
	if err != nil {
		t.Fatalf("allocate after reopen: %v", err)
	}
	if id != 3 {
		t.Fatalf("identifier reuse after reopen: got %d", id)
	}
}

func TestStoreActiveCount(t *testing.T) {
	store, err := NewPositionStore(storage.NewMemDB())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	first, _ := store.Allocate(Position{Owner: alice, Active: true})
	if _, err := store.Allocate(Position{Owner: bob, Active: true}); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := store.MarkInactive(first); err != nil {
		t.Fatalf("mark inactive: %v", err)
	}
	count, err := store.ActiveCount()
	if err != nil {
		t.Fatalf("active count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 active position, got %d", count)
	}
}
