package tests

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/fleetops/permit-ledger/internal/adapter/storage"
	"github.com/fleetops/permit-ledger/internal/core/domain"
	"github.com/fleetops/permit-ledger/internal/core/service"
)

type testEnv struct {
	store       *storage.MySQLStore
	volumes     *service.VolumeService
	allocations *service.AllocationService
	cleanup     *service.CleanupService
	sync        *service.SyncService
}

func setupTestEnv(t *testing.T) *testEnv {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/permits?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := storage.NewMySQLStore(db)
	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	// Clear ledger paths so runs are independent.
	for _, prefix := range []string{"tr800/", "allocations/", "preallocations/", "work_details/"} {
		if _, err := db.Exec(`DELETE FROM documents WHERE path LIKE CONCAT(?, '%')`, prefix); err != nil {
			t.Fatalf("clear %s: %v", prefix, err)
		}
	}

	volumes := service.NewVolumeService(store)
	matcher := service.NewMatcherService(store, volumes)
	return &testEnv{
		store:       store,
		volumes:     volumes,
		allocations: service.NewAllocationService(store, volumes, matcher),
		cleanup:     service.NewCleanupService(store),
		sync:        service.NewSyncService(store),
	}
}

func TestIntegration_FullAllocationFlow(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	entry := domain.PermitEntry{
		ID: "int-e1", Number: "TR800-0100", Product: "ago", Destination: "ssd",
		InitialQuantity: 100000, RemainingQuantity: 100000, Timestamp: 100,
	}
	orderID := uuid.NewString()
	order := domain.WorkOrder{
		ID: orderID, TruckNumber: "INT-T1", Product: "ago", Destination: "ssd", Quantity: 30,
	}
	if err := env.store.AtomicUpdate(ctx, map[string]any{
		"tr800/int-e1":             entry,
		"work_details/" + orderID: order,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Auto-allocate, inspect volumes, then release.
	result := env.allocations.AllocateForWorkOrder(ctx, orderID)
	if !result.Success {
		t.Fatalf("allocate failed: %+v", result)
	}

	report, err := env.volumes.CheckEntryVolumes(ctx, "int-e1")
	if err != nil {
		t.Fatalf("check volumes: %v", err)
	}
	if report.PreAllocated != 30000 || report.Remaining != 70000 {
		t.Fatalf("unexpected volumes after allocation: %+v", report)
	}

	var updated domain.WorkOrder
	if err := env.store.Get(ctx, "work_details/"+orderID, &updated); err != nil {
		t.Fatalf("get order: %v", err)
	}
	if !updated.PermitAllocated || updated.PermitNumber != "TR800-0100" {
		t.Fatalf("order not stamped: %+v", updated)
	}

	released, err := env.allocations.ResetTruckAllocation(ctx, "INT-T1", "")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 release, got %d", released)
	}

	report, err = env.volumes.CheckEntryVolumes(ctx, "int-e1")
	if err != nil {
		t.Fatalf("check volumes: %v", err)
	}
	if report.PreAllocated != 0 || report.Remaining != 100000 {
		t.Fatalf("unexpected volumes after release: %+v", report)
	}
}

func TestIntegration_CleanupAndSync(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	entry := domain.PermitEntry{
		ID: "int-e2", Number: "TR800-0200", Product: "ago", Destination: "",
		InitialQuantity: 50000, RemainingQuantity: 50000, Timestamp: 200,
	}
	loadedOrder := domain.WorkOrder{
		ID: "int-wo2", TruckNumber: "INT-T2", Product: "ago", Destination: "ssd",
		Quantity: 20, Loaded: true,
	}
	staleAlloc := domain.PreAllocation{
		ID: "INT-T2-ssd-1", TruckNumber: "INT-T2", Destination: "ssd",
		PermitEntryID: "int-e2", PermitNumber: "TR800-0200", Quantity: 20000,
	}
	if err := env.store.AtomicUpdate(ctx, map[string]any{
		"tr800/int-e2":                entry,
		"work_details/int-wo2":        loadedOrder,
		"preallocations/INT-T2-ssd-1": staleAlloc,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// The loaded truck's reservation must be swept.
	cleanupReport, err := env.cleanup.CleanupLoadedTrucks(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if cleanupReport.Deleted != 1 {
		t.Fatalf("expected 1 deletion, got %+v", cleanupReport)
	}

	// Sync stamps the legacy entry into the derived view, then settles.
	syncReport, err := env.sync.SyncAllocationsToEntries(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if syncReport.Copied != 1 {
		t.Fatalf("expected 1 copy, got %+v", syncReport)
	}

	syncReport, err = env.sync.SyncAllocationsToEntries(ctx)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if !syncReport.InSync {
		t.Fatalf("expected second sync to be a no-op, got %+v", syncReport)
	}

	var derived domain.PermitEntry
	if err := env.store.Get(ctx, "allocations/int-e2", &derived); err != nil {
		t.Fatalf("get derived: %v", err)
	}
	if derived.Destination != "ssd" {
		t.Fatalf("expected normalized default destination, got %q", derived.Destination)
	}
}
