package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/fleetops/permit-ledger/internal/adapter/storage"
	"github.com/fleetops/permit-ledger/internal/core/domain"
)

type testEnv struct {
	store       *storage.MemoryStore
	volumes     *VolumeService
	matcher     *MatcherService
	allocations *AllocationService
	cleanup     *CleanupService
	sync        *SyncService
}

func newTestEnv() *testEnv {
	store := storage.NewMemoryStore()
	volumes := NewVolumeService(store)
	matcher := NewMatcherService(store, volumes)
	return &testEnv{
		store:       store,
		volumes:     volumes,
		matcher:     matcher,
		allocations: NewAllocationService(store, volumes, matcher),
		cleanup:     NewCleanupService(store),
		sync:        NewSyncService(store),
	}
}

func (e *testEnv) seedEntry(t *testing.T, id, number, product, destination string, remaining float64, timestamp int64) {
	t.Helper()
	entry := domain.PermitEntry{
		ID:                id,
		Number:            number,
		Product:           product,
		Destination:       destination,
		InitialQuantity:   remaining,
		RemainingQuantity: remaining,
		Timestamp:         timestamp,
	}
	entry.ProductDestination = entry.ProductDestinationKey()
	if err := e.store.AtomicUpdate(context.Background(), map[string]any{
		entryPath(id): entry,
	}); err != nil {
		t.Fatalf("seed entry %s: %v", id, err)
	}
}

func (e *testEnv) seedOrder(t *testing.T, id, truck, product, destination string, quantityM3 float64, loaded bool) {
	t.Helper()
	order := domain.WorkOrder{
		ID:          id,
		TruckNumber: truck,
		Product:     product,
		Destination: destination,
		Quantity:    quantityM3,
		Loaded:      loaded,
	}
	if err := e.store.AtomicUpdate(context.Background(), map[string]any{
		workOrderPath(id): order,
	}); err != nil {
		t.Fatalf("seed order %s: %v", id, err)
	}
}

func (e *testEnv) seedAlloc(t *testing.T, alloc domain.PreAllocation) {
	t.Helper()
	if alloc.ID == "" {
		t.Fatal("seedAlloc requires an ID")
	}
	if err := e.store.AtomicUpdate(context.Background(), map[string]any{
		preAllocationPath(alloc.ID): alloc,
	}); err != nil {
		t.Fatalf("seed allocation %s: %v", alloc.ID, err)
	}
}

func (e *testEnv) getOrder(t *testing.T, id string) domain.WorkOrder {
	t.Helper()
	var order domain.WorkOrder
	if err := e.store.Get(context.Background(), workOrderPath(id), &order); err != nil {
		t.Fatalf("get order %s: %v", id, err)
	}
	return order
}

func (e *testEnv) getEntry(t *testing.T, id string) domain.PermitEntry {
	t.Helper()
	var entry domain.PermitEntry
	if err := e.store.Get(context.Background(), entryPath(id), &entry); err != nil {
		t.Fatalf("get entry %s: %v", id, err)
	}
	return entry
}

func (e *testEnv) activeAllocations(t *testing.T) []domain.PreAllocation {
	t.Helper()
	allocs, _, err := e.cleanup.loadPreAllocations(context.Background())
	if err != nil {
		t.Fatalf("load allocations: %v", err)
	}
	var active []domain.PreAllocation
	for _, alloc := range allocs {
		if alloc.Active() {
			active = append(active, alloc)
		}
	}
	return active
}

// checkConservation asserts remaining >= sum of active allocations for
// every entry.
func (e *testEnv) checkConservation(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	docs, err := e.store.List(ctx, entriesPrefix)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	for path := range docs {
		id := idFromPath(path, entriesPrefix)
		entry := e.getEntry(t, id)
		reserved, err := e.volumes.ActivePreAllocatedTotal(ctx, id)
		if err != nil {
			t.Fatalf("reserved total for %s: %v", id, err)
		}
		if entry.RemainingQuantity < reserved {
			t.Fatalf("conservation violated for %s: remaining %.0f < reserved %.0f",
				id, entry.RemainingQuantity, reserved)
		}
	}
}

func allocID(truck, destination string, n int) string {
	return fmt.Sprintf("%s-%s-%d", truck, destination, n)
}
