package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fleetops/permit-ledger/internal/core/domain"
	"github.com/fleetops/permit-ledger/internal/metrics"
	"github.com/fleetops/permit-ledger/internal/port"
)

// AllocationService runs the pre-allocate / mark-used / release state
// machine. Each pre-allocate holds a per-(truck,destination) critical
// section inside this process; the residual cross-process race window
// is closed after the fact by the cleanup routines.
type AllocationService struct {
	store   port.DocumentStore
	volumes *VolumeService
	matcher *MatcherService

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewAllocationService(store port.DocumentStore, volumes *VolumeService, matcher *MatcherService) *AllocationService {
	return &AllocationService{
		store:   store,
		volumes: volumes,
		matcher: matcher,
		locks:   make(map[string]*sync.Mutex),
	}
}

// PreAllocateParams are the inputs to one pre-allocation. WorkOrderID
// pins the order to stamp; when empty the truck's open order is
// selected.
type PreAllocateParams struct {
	TruckNumber   string
	Product       string
	Owner         string
	PermitEntryID string
	PermitNumber  string
	Destination   string
	WorkOrderID   string
}

// PreAllocate reserves permit volume for a truck. The reservation
// record and the work order's permit fields are written in one atomic
// batch so a partial application cannot occur.
func (s *AllocationService) PreAllocate(ctx context.Context, params PreAllocateParams) (*domain.PreAllocation, error) {
	destination := normalizeDestination(params.Destination)

	unlock := s.lockKey(params.TruckNumber + "|" + destination)
	defer unlock()

	existing, err := s.activeAllocationsForTruck(ctx, params.TruckNumber)
	if err != nil {
		return nil, err
	}
	for _, alloc := range existing {
		if strings.ToLower(alloc.Destination) == destination {
			metrics.AllocationRejections.WithLabelValues("duplicate").Inc()
			return nil, fmt.Errorf("%w: truck %s destination %s",
				ErrDuplicateAllocation, params.TruckNumber, destination)
		}
	}

	var entry domain.PermitEntry
	if err := s.store.Get(ctx, entryPath(params.PermitEntryID), &entry); err != nil {
		metrics.AllocationRejections.WithLabelValues("entry_missing").Inc()
		return nil, fmt.Errorf("permit entry %s: %w", params.PermitEntryID, err)
	}

	order, orderPath, err := s.selectWorkOrder(ctx, params)
	if err != nil {
		metrics.AllocationRejections.WithLabelValues("order_missing").Inc()
		return nil, err
	}

	required := order.RequiredLiters()
	available, err := s.volumes.AvailableVolume(ctx, params.PermitEntryID)
	if err != nil {
		return nil, err
	}
	if available < required {
		metrics.AllocationRejections.WithLabelValues("insufficient_volume").Inc()
		return nil, fmt.Errorf("%w: entry %s has %.0f, need %.0f",
			ErrInsufficientVolume, params.PermitEntryID, available, required)
	}

	alloc := domain.PreAllocation{
		ID:            fmt.Sprintf("%s-%s-%d", params.TruckNumber, destination, time.Now().UnixNano()),
		TruckNumber:   params.TruckNumber,
		Product:       params.Product,
		Destination:   destination,
		PermitEntryID: params.PermitEntryID,
		PermitNumber:  params.PermitNumber,
		Owner:         params.Owner,
		Quantity:      required,
		AllocatedAt:   time.Now().UTC().Format(time.RFC3339),
		WorkDetailID:  order.ID,
	}

	order.PermitAllocated = true
	order.PermitNumber = params.PermitNumber
	order.PermitEntryID = params.PermitEntryID
	order.PermitDestination = destination

	// Re-read the entry just before staging so a volume correction
	// committed while the checks ran is not clobbered by the write-back.
	if err := s.store.Get(ctx, entryPath(params.PermitEntryID), &entry); err != nil {
		return nil, fmt.Errorf("permit entry %s: %w", params.PermitEntryID, err)
	}
	entry.PreAllocatedQuantity += required

	updates := map[string]any{
		preAllocationPath(alloc.ID):     alloc,
		orderPath:                       order,
		entryPath(params.PermitEntryID): entry,
	}
	if err := s.store.AtomicUpdate(ctx, updates); err != nil {
		return nil, fmt.Errorf("commit pre-allocation: %w", err)
	}

	metrics.PreAllocations.Inc()
	return &alloc, nil
}

// MarkUsed transitions a pre-allocation to its terminal state. The
// record is deleted in the same batch; consumed reservations keep no
// durable history here, the work order carries it.
func (s *AllocationService) MarkUsed(ctx context.Context, preAllocationID string) (*domain.PreAllocation, error) {
	var alloc domain.PreAllocation
	if err := s.store.Get(ctx, preAllocationPath(preAllocationID), &alloc); err != nil {
		return nil, fmt.Errorf("pre-allocation %s: %w", preAllocationID, err)
	}

	alloc.Used = true
	alloc.UsedAt = time.Now().UTC().Format(time.RFC3339)

	updates := map[string]any{
		preAllocationPath(preAllocationID): nil,
	}
	s.stageEntryCacheRelease(ctx, alloc, updates)

	if err := s.store.AtomicUpdate(ctx, updates); err != nil {
		return nil, fmt.Errorf("mark used: %w", err)
	}

	metrics.MarkedUsed.Inc()
	return &alloc, nil
}

// Release deletes a pending pre-allocation and clears the permit fields
// of the matching-destination work orders. Orders tied to the truck's
// other destinations are left untouched.
func (s *AllocationService) Release(ctx context.Context, preAllocationID string) error {
	var alloc domain.PreAllocation
	if err := s.store.Get(ctx, preAllocationPath(preAllocationID), &alloc); err != nil {
		return fmt.Errorf("pre-allocation %s: %w", preAllocationID, err)
	}

	others, err := s.activeAllocationsForTruck(ctx, alloc.TruckNumber)
	if err != nil {
		return err
	}
	hasOther := false
	for _, other := range others {
		if other.ID != alloc.ID && other.Active() {
			hasOther = true
			break
		}
	}

	updates := map[string]any{
		preAllocationPath(preAllocationID): nil,
	}
	s.stageEntryCacheRelease(ctx, alloc, updates)

	if err := s.stageWorkOrderClears(ctx, alloc, hasOther, updates); err != nil {
		return err
	}

	if err := s.store.AtomicUpdate(ctx, updates); err != nil {
		return fmt.Errorf("release pre-allocation: %w", err)
	}

	metrics.Releases.Inc()
	return nil
}

// ResetTruckAllocation releases every active allocation held by the
// truck, optionally restricted to one destination. Returns the number
// of allocations released.
func (s *AllocationService) ResetTruckAllocation(ctx context.Context, truckNumber, destination string) (int, error) {
	allocs, err := s.activeAllocationsForTruck(ctx, truckNumber)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, alloc := range allocs {
		if destination != "" && strings.ToLower(alloc.Destination) != normalizeDestination(destination) {
			continue
		}
		if err := s.Release(ctx, alloc.ID); err != nil {
			log.Printf("reset truck %s: release %s: %v", truckNumber, alloc.ID, err)
			continue
		}
		released++
	}
	return released, nil
}

// UpdateQuantity corrects a pending allocation's quantity in place,
// adjusting the entry's advisory cache by the same delta. The entry's
// remainingQuantity is untouched: availability is recomputed from the
// active allocations, so moving both would double-count the change.
func (s *AllocationService) UpdateQuantity(ctx context.Context, preAllocationID string, newQuantity float64) error {
	if newQuantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %.0f", ErrInvalidVolume, newQuantity)
	}

	var alloc domain.PreAllocation
	if err := s.store.Get(ctx, preAllocationPath(preAllocationID), &alloc); err != nil {
		return fmt.Errorf("pre-allocation %s: %w", preAllocationID, err)
	}

	delta := newQuantity - alloc.Quantity
	if delta > 0 {
		available, err := s.volumes.AvailableVolume(ctx, alloc.PermitEntryID)
		if err != nil {
			return err
		}
		if available < delta {
			return fmt.Errorf("%w: entry %s has %.0f, need %.0f more",
				ErrInsufficientVolume, alloc.PermitEntryID, available, delta)
		}
	}

	alloc.Quantity = newQuantity
	updates := map[string]any{
		preAllocationPath(preAllocationID): alloc,
	}

	var entry domain.PermitEntry
	if err := s.store.Get(ctx, entryPath(alloc.PermitEntryID), &entry); err == nil {
		entry.PreAllocatedQuantity += delta
		if entry.PreAllocatedQuantity < 0 {
			entry.PreAllocatedQuantity = 0
		}
		updates[entryPath(alloc.PermitEntryID)] = entry
	}

	return s.store.AtomicUpdate(ctx, updates)
}

// AllocateForWorkOrder is the best-effort composite used during order
// creation: find a qualifying entry and pre-allocate it. Failures are
// reported in the result, never raised, so permit scarcity cannot
// abort the surrounding workflow.
func (s *AllocationService) AllocateForWorkOrder(ctx context.Context, workOrderID string) domain.AllocationResult {
	var order domain.WorkOrder
	if err := s.store.Get(ctx, workOrderPath(workOrderID), &order); err != nil {
		return domain.AllocationResult{Error: fmt.Sprintf("work order %s: %v", workOrderID, err)}
	}
	if order.PermitAllocated {
		return domain.AllocationResult{Error: "work order already has a permit allocated"}
	}

	entry, err := s.matcher.FindEntry(ctx, order.Product, order.Destination, order.RequiredLiters())
	if err != nil {
		return domain.AllocationResult{Error: fmt.Sprintf("matching permit entry: %v", err)}
	}
	if entry == nil {
		return domain.AllocationResult{Error: fmt.Sprintf(
			"no permit entry with %.0f liters available for %s/%s",
			order.RequiredLiters(), order.Product, normalizeDestination(order.Destination))}
	}

	alloc, err := s.PreAllocate(ctx, PreAllocateParams{
		TruckNumber:   order.TruckNumber,
		Product:       order.Product,
		Owner:         order.Owner,
		PermitEntryID: entry.ID,
		PermitNumber:  entry.Number,
		Destination:   order.Destination,
		WorkOrderID:   workOrderID,
	})
	if err != nil {
		return domain.AllocationResult{Error: err.Error()}
	}

	return domain.AllocationResult{Success: true, PermitNumber: alloc.PermitNumber}
}

// activeAllocationsForTruck returns the truck's active pre-allocations.
func (s *AllocationService) activeAllocationsForTruck(ctx context.Context, truckNumber string) ([]domain.PreAllocation, error) {
	docs, err := s.store.QueryByField(ctx, preAllocationsPrefix, "truckNumber", truckNumber)
	if err != nil {
		return nil, fmt.Errorf("query truck allocations: %w", err)
	}

	var allocs []domain.PreAllocation
	for path, raw := range docs {
		var alloc domain.PreAllocation
		if err := json.Unmarshal(raw, &alloc); err != nil {
			log.Printf("allocation: skipping undecodable record %s: %v", path, err)
			continue
		}
		if alloc.ID == "" {
			alloc.ID = idFromPath(path, preAllocationsPrefix)
		}
		if alloc.Active() {
			allocs = append(allocs, alloc)
		}
	}
	return allocs, nil
}

// selectWorkOrder resolves the order to stamp: the pinned one when the
// caller named it, otherwise the truck's open order.
func (s *AllocationService) selectWorkOrder(ctx context.Context, params PreAllocateParams) (domain.WorkOrder, string, error) {
	if params.WorkOrderID == "" {
		return s.findWorkOrder(ctx, params.TruckNumber)
	}
	path := workOrderPath(params.WorkOrderID)
	var order domain.WorkOrder
	if err := s.store.Get(ctx, path, &order); err != nil {
		return domain.WorkOrder{}, "", fmt.Errorf("work order %s: %w", params.WorkOrderID, err)
	}
	if order.ID == "" {
		order.ID = params.WorkOrderID
	}
	return order, path, nil
}

// findWorkOrder picks the truck's open work order: not loaded, and
// preferring one without a permit already attached.
func (s *AllocationService) findWorkOrder(ctx context.Context, truckNumber string) (domain.WorkOrder, string, error) {
	docs, err := s.store.QueryByField(ctx, workOrdersPrefix, "truck_number", truckNumber)
	if err != nil {
		return domain.WorkOrder{}, "", fmt.Errorf("query work orders: %w", err)
	}

	var fallback *domain.WorkOrder
	var fallbackPath string
	for path, raw := range docs {
		var order domain.WorkOrder
		if err := json.Unmarshal(raw, &order); err != nil {
			log.Printf("allocation: skipping undecodable work order %s: %v", path, err)
			continue
		}
		if order.ID == "" {
			order.ID = idFromPath(path, workOrdersPrefix)
		}
		if order.Loaded {
			continue
		}
		if !order.PermitAllocated {
			return order, path, nil
		}
		if fallback == nil {
			o := order
			fallback = &o
			fallbackPath = path
		}
	}
	if fallback != nil {
		return *fallback, fallbackPath, nil
	}
	return domain.WorkOrder{}, "", fmt.Errorf("work order for truck %s: %w", truckNumber, ErrNotFound)
}

// stageEntryCacheRelease decrements the entry's advisory cache when the
// entry still exists. Best-effort: a missing entry is not an error.
func (s *AllocationService) stageEntryCacheRelease(ctx context.Context, alloc domain.PreAllocation, updates map[string]any) {
	var entry domain.PermitEntry
	if err := s.store.Get(ctx, entryPath(alloc.PermitEntryID), &entry); err != nil {
		return
	}
	entry.PreAllocatedQuantity -= alloc.Quantity
	if entry.PreAllocatedQuantity < 0 {
		entry.PreAllocatedQuantity = 0
	}
	updates[entryPath(alloc.PermitEntryID)] = entry
}

// stageWorkOrderClears resets permit fields on the truck's work orders.
// When the truck holds other active allocations, only orders pointing
// at the released destination are cleared.
func (s *AllocationService) stageWorkOrderClears(ctx context.Context, alloc domain.PreAllocation, hasOther bool, updates map[string]any) error {
	docs, err := s.store.QueryByField(ctx, workOrdersPrefix, "truck_number", alloc.TruckNumber)
	if err != nil {
		return fmt.Errorf("query work orders: %w", err)
	}

	for path, raw := range docs {
		var order domain.WorkOrder
		if err := json.Unmarshal(raw, &order); err != nil {
			continue
		}
		if !order.PermitAllocated {
			continue
		}
		if hasOther && !strings.EqualFold(order.PermitDestination, alloc.Destination) {
			continue
		}
		order.ClearPermitFields()
		updates[path] = order
	}
	return nil
}

// lockKey serializes pre-allocation per truck+destination within this
// process.
func (s *AllocationService) lockKey(key string) func() {
	s.mu.Lock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
