package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/fleetops/permit-ledger/internal/port"
)

type testDoc struct {
	Name  string  `json:"name"`
	Truck string  `json:"truckNumber"`
	Qty   float64 `json:"quantity"`
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := NewMemoryStore()

	var doc testDoc
	err := store.Get(context.Background(), "tr800/missing", &doc)
	if !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestMemoryStore_WriteReadDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.AtomicUpdate(ctx, map[string]any{
		"tr800/e1": testDoc{Name: "first", Qty: 100},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var doc testDoc
	if err := store.Get(ctx, "tr800/e1", &doc); err != nil {
		t.Fatalf("read: %v", err)
	}
	if doc.Name != "first" || doc.Qty != 100 {
		t.Errorf("unexpected doc: %+v", doc)
	}

	// nil deletes the path.
	if err := store.AtomicUpdate(ctx, map[string]any{"tr800/e1": nil}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Get(ctx, "tr800/e1", &doc); !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got: %v", err)
	}
}

func TestMemoryStore_ListByPrefix(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.AtomicUpdate(ctx, map[string]any{
		"tr800/e1":          testDoc{Name: "a"},
		"tr800/e2":          testDoc{Name: "b"},
		"preallocations/p1": testDoc{Name: "c"},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	docs, err := store.List(ctx, "tr800/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("expected 2 docs, got %d", len(docs))
	}
}

func TestMemoryStore_QueryByField(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.AtomicUpdate(ctx, map[string]any{
		"preallocations/p1": testDoc{Truck: "T1", Qty: 10},
		"preallocations/p2": testDoc{Truck: "T2", Qty: 20},
		"preallocations/p3": testDoc{Truck: "T1", Qty: 30},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	docs, err := store.QueryByField(ctx, "preallocations/", "truckNumber", "T1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("expected 2 matches for T1, got %d", len(docs))
	}
	if _, ok := docs["preallocations/p2"]; ok {
		t.Error("p2 must not match truck T1")
	}
}

func TestMemoryStore_AtomicUpdateAllOrNothing(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// A channel cannot be marshaled; the whole batch must be rejected.
	err := store.AtomicUpdate(ctx, map[string]any{
		"tr800/good": testDoc{Name: "good"},
		"tr800/bad":  make(chan int),
	})
	if err == nil {
		t.Fatal("expected marshal error")
	}

	var doc testDoc
	if err := store.Get(ctx, "tr800/good", &doc); !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected no partial write, got: %v", err)
	}
}
