package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fleetops/permit-ledger/internal/adapter/storage"
	"github.com/fleetops/permit-ledger/internal/core/domain"
	"github.com/fleetops/permit-ledger/internal/core/service"
	"github.com/fleetops/permit-ledger/internal/port"
)

// Seeds a backend with demo permit entries and work orders, then fires
// a burst of concurrent auto-allocations and prints the tally.
func main() {
	backend := flag.String("backend", "memory", "store backend: memory or redis")
	redisAddr := flag.String("redis", "localhost:6379", "redis address")
	entryCount := flag.Int("entries", 3, "permit entries to create")
	orderCount := flag.Int("orders", 20, "work orders to create")
	entryVolume := flag.Float64("volume", 200000, "liters per permit entry")
	flag.Parse()

	ctx := context.Background()

	var store port.DocumentStore
	switch *backend {
	case "memory":
		store = storage.NewMemoryStore()
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer rdb.Close()
		store = storage.NewRedisStore(rdb)
	default:
		log.Fatalf("unknown backend %q", *backend)
	}

	volumes := service.NewVolumeService(store)
	matcher := service.NewMatcherService(store, volumes)
	allocations := service.NewAllocationService(store, volumes, matcher)
	cleanup := service.NewCleanupService(store)

	// Seed permit entries, registration order encoded in the timestamp.
	updates := map[string]any{}
	base := time.Now().UnixMilli()
	for i := 0; i < *entryCount; i++ {
		id := fmt.Sprintf("entry-%03d", i+1)
		updates["tr800/"+id] = domain.PermitEntry{
			ID:                 id,
			Number:             fmt.Sprintf("TR800-%04d", i+1),
			Product:            "ago",
			Destination:        "ssd",
			ProductDestination: "ago_ssd",
			InitialQuantity:    *entryVolume,
			RemainingQuantity:  *entryVolume,
			Timestamp:          base + int64(i),
			CreatedBy:          "seed",
		}
	}

	orderIDs := make([]string, 0, *orderCount)
	for i := 0; i < *orderCount; i++ {
		id := uuid.NewString()
		orderIDs = append(orderIDs, id)
		updates["work_details/"+id] = domain.WorkOrder{
			ID:          id,
			TruckNumber: fmt.Sprintf("TRK-%03d", i+1),
			Product:     "ago",
			Destination: "ssd",
			Quantity:    30, // cubic meters
			Owner:       "seed",
		}
	}

	if err := store.AtomicUpdate(ctx, updates); err != nil {
		log.Fatalf("failed to seed store: %v", err)
	}
	log.Printf("seeded %d entries (%.0f L each) and %d work orders", *entryCount, *entryVolume, *orderCount)

	var successCount atomic.Int32
	var failCount atomic.Int32
	var wg sync.WaitGroup

	start := time.Now()
	for _, orderID := range orderIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			result := allocations.AllocateForWorkOrder(ctx, id)
			if result.Success {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}(orderID)
	}
	wg.Wait()

	log.Printf("allocated %d orders, %d unfulfilled, in %s",
		successCount.Load(), failCount.Load(), time.Since(start))

	issues, err := cleanup.ValidateAllocations(ctx)
	if err != nil {
		log.Fatalf("validation failed: %v", err)
	}
	if len(issues) == 0 {
		log.Println("validation clean")
		return
	}
	for _, issue := range issues {
		log.Printf("validation: %s", issue)
	}
}
