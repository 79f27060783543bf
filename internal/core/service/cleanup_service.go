package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/fleetops/permit-ledger/internal/core/domain"
	"github.com/fleetops/permit-ledger/internal/metrics"
	"github.com/fleetops/permit-ledger/internal/port"
)

// CleanupService repairs invariant violations left behind by races or
// partial failures. Every mutation targets a record already judged
// invalid by a point-in-time read, so the routines are safe to run
// alongside live allocation traffic and safe to re-run.
type CleanupService struct {
	store port.DocumentStore
}

func NewCleanupService(store port.DocumentStore) *CleanupService {
	return &CleanupService{store: store}
}

// CleanupDuplicateAllocations removes zero/negative-quantity records
// (resetting their work orders) and deduplicates active allocations,
// first seen wins. The seen-set is keyed per (truck, destination): a
// truck legitimately holds allocations to different destinations.
func (c *CleanupService) CleanupDuplicateAllocations(ctx context.Context) (domain.CleanupReport, error) {
	report := domain.CleanupReport{}

	allocs, paths, err := c.loadPreAllocations(ctx)
	if err != nil {
		return report, err
	}

	updates := map[string]any{}
	seen := map[string]bool{}

	for i, alloc := range allocs {
		report.Scanned++

		if alloc.Quantity <= 0 {
			updates[paths[i]] = nil
			report.Deleted++
			report.Details = append(report.Details, fmt.Sprintf(
				"deleted %s: non-positive quantity %.0f", alloc.ID, alloc.Quantity))
			if err := c.stageOrderReset(ctx, alloc, updates); err != nil {
				log.Printf("cleanup: reset work order for %s: %v", alloc.TruckNumber, err)
			}
			continue
		}

		if !alloc.Active() {
			continue
		}

		key := alloc.DestinationKey()
		if seen[key] {
			updates[paths[i]] = nil
			report.Deleted++
			report.Details = append(report.Details, fmt.Sprintf(
				"deleted %s: duplicate for truck %s destination %s",
				alloc.ID, alloc.TruckNumber, alloc.Destination))
			continue
		}
		seen[key] = true
	}

	if len(updates) == 0 {
		return report, nil
	}
	if err := c.store.AtomicUpdate(ctx, updates); err != nil {
		return report, fmt.Errorf("apply duplicate cleanup: %w", err)
	}
	metrics.CleanupDeletions.WithLabelValues("duplicates").Add(float64(report.Deleted))
	return report, nil
}

// CleanupLoadedTrucks deletes active allocations whose truck's work
// order is already loaded. A loaded truck's reservation is consumed by
// definition and must not linger in the active set.
func (c *CleanupService) CleanupLoadedTrucks(ctx context.Context) (domain.CleanupReport, error) {
	report := domain.CleanupReport{}

	loaded, err := c.loadedTrucks(ctx)
	if err != nil {
		return report, err
	}

	allocs, paths, err := c.loadPreAllocations(ctx)
	if err != nil {
		return report, err
	}

	updates := map[string]any{}
	for i, alloc := range allocs {
		report.Scanned++
		if !alloc.Active() || !loaded[alloc.TruckNumber] {
			continue
		}
		updates[paths[i]] = nil
		report.Deleted++
		report.Details = append(report.Details, fmt.Sprintf(
			"deleted %s: truck %s already loaded", alloc.ID, alloc.TruckNumber))
	}

	if len(updates) == 0 {
		return report, nil
	}
	if err := c.store.AtomicUpdate(ctx, updates); err != nil {
		return report, fmt.Errorf("apply loaded-truck cleanup: %w", err)
	}
	metrics.CleanupDeletions.WithLabelValues("loaded_trucks").Add(float64(report.Deleted))
	return report, nil
}

// ValidateAllocations is the read-only audit. It returns human-readable
// violation descriptions and never mutates the store.
func (c *CleanupService) ValidateAllocations(ctx context.Context) ([]string, error) {
	var issues []string

	entryDocs, err := c.store.List(ctx, entriesPrefix)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	byNumber := map[string]domain.PermitEntry{}
	for path, raw := range entryDocs {
		var entry domain.PermitEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			issues = append(issues, fmt.Sprintf("entry %s: undecodable record", path))
			continue
		}
		byNumber[entry.Number] = entry
	}

	loaded, err := c.loadedTrucks(ctx)
	if err != nil {
		return nil, err
	}

	allocs, _, err := c.loadPreAllocations(ctx)
	if err != nil {
		return nil, err
	}

	for _, alloc := range allocs {
		if !alloc.Active() {
			continue
		}
		entry, known := byNumber[alloc.PermitNumber]
		if !known {
			issues = append(issues, fmt.Sprintf(
				"allocation %s references unknown permit %s", alloc.ID, alloc.PermitNumber))
		} else if alloc.Quantity > entry.RemainingQuantity {
			issues = append(issues, fmt.Sprintf(
				"allocation %s over-allocates permit %s: %.0f > %.0f remaining",
				alloc.ID, alloc.PermitNumber, alloc.Quantity, entry.RemainingQuantity))
		}
		if loaded[alloc.TruckNumber] {
			issues = append(issues, fmt.Sprintf(
				"allocation %s still active but truck %s is loaded", alloc.ID, alloc.TruckNumber))
		}
	}
	return issues, nil
}

// ConsolidateAllocations merges allocations erroneously split across
// multiple records for the same (truck, product) into one record
// carrying the summed quantity. The oldest record survives.
func (c *CleanupService) ConsolidateAllocations(ctx context.Context) (domain.CleanupReport, error) {
	report := domain.CleanupReport{}

	allocs, paths, err := c.loadPreAllocations(ctx)
	if err != nil {
		return report, err
	}

	type member struct {
		alloc domain.PreAllocation
		path  string
	}
	groups := map[string][]member{}
	for i, alloc := range allocs {
		report.Scanned++
		if !alloc.Active() {
			continue
		}
		key := alloc.TruckNumber + "|" + strings.ToLower(alloc.Product)
		groups[key] = append(groups[key], member{alloc: alloc, path: paths[i]})
	}

	updates := map[string]any{}
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			return members[i].alloc.AllocatedAt < members[j].alloc.AllocatedAt
		})

		merged := members[0].alloc
		for _, m := range members[1:] {
			merged.Quantity += m.alloc.Quantity
			updates[m.path] = nil
			report.Deleted++
		}
		updates[members[0].path] = merged
		report.Merged++
		report.Details = append(report.Details, fmt.Sprintf(
			"merged %d allocations for truck %s product %s into %s (%.0f)",
			len(members), merged.TruckNumber, merged.Product, merged.ID, merged.Quantity))
	}

	if len(updates) == 0 {
		return report, nil
	}
	if err := c.store.AtomicUpdate(ctx, updates); err != nil {
		return report, fmt.Errorf("apply consolidation: %w", err)
	}
	metrics.CleanupDeletions.WithLabelValues("consolidation").Add(float64(report.Deleted))
	return report, nil
}

// loadPreAllocations returns decoded records and their paths in sorted
// path order, so repeated runs scan deterministically. Undecodable
// records are logged and skipped, never block the batch.
func (c *CleanupService) loadPreAllocations(ctx context.Context) ([]domain.PreAllocation, []string, error) {
	docs, err := c.store.List(ctx, preAllocationsPrefix)
	if err != nil {
		return nil, nil, fmt.Errorf("list pre-allocations: %w", err)
	}

	paths := make([]string, 0, len(docs))
	for path := range docs {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var allocs []domain.PreAllocation
	var kept []string
	for _, path := range paths {
		var alloc domain.PreAllocation
		if err := json.Unmarshal(docs[path], &alloc); err != nil {
			log.Printf("cleanup: skipping undecodable record %s: %v", path, err)
			continue
		}
		if alloc.ID == "" {
			alloc.ID = idFromPath(path, preAllocationsPrefix)
		}
		allocs = append(allocs, alloc)
		kept = append(kept, path)
	}
	return allocs, kept, nil
}

// loadedTrucks maps truck number → loaded flag from the work orders.
func (c *CleanupService) loadedTrucks(ctx context.Context) (map[string]bool, error) {
	docs, err := c.store.List(ctx, workOrdersPrefix)
	if err != nil {
		return nil, fmt.Errorf("list work orders: %w", err)
	}

	loaded := map[string]bool{}
	for path, raw := range docs {
		var order domain.WorkOrder
		if err := json.Unmarshal(raw, &order); err != nil {
			log.Printf("cleanup: skipping undecodable work order %s: %v", path, err)
			continue
		}
		if order.Loaded {
			loaded[order.TruckNumber] = true
		}
	}
	return loaded, nil
}

// stageOrderReset clears the permit fields on the work orders stamped
// by a record removed as corrupt. Only orders linked to the corrupt
// allocation are touched: the truck's valid allocations to other
// destinations keep their stamps.
func (c *CleanupService) stageOrderReset(ctx context.Context, alloc domain.PreAllocation, updates map[string]any) error {
	docs, err := c.store.QueryByField(ctx, workOrdersPrefix, "truck_number", alloc.TruckNumber)
	if err != nil {
		return err
	}
	for path, raw := range docs {
		var order domain.WorkOrder
		if err := json.Unmarshal(raw, &order); err != nil {
			continue
		}
		if order.ID == "" {
			order.ID = idFromPath(path, workOrdersPrefix)
		}
		if !order.PermitAllocated {
			continue
		}
		if !orderMatchesAllocation(order, alloc) {
			continue
		}
		order.ClearPermitFields()
		updates[path] = order
	}
	return nil
}

// orderMatchesAllocation reports whether the order's permit stamp
// points at this allocation, by work-detail link or destination. A
// record too corrupt to carry either matches any stamped order for the
// truck.
func orderMatchesAllocation(order domain.WorkOrder, alloc domain.PreAllocation) bool {
	if alloc.WorkDetailID == "" && alloc.Destination == "" {
		return true
	}
	if alloc.WorkDetailID != "" && order.ID == alloc.WorkDetailID {
		return true
	}
	return alloc.Destination != "" && strings.EqualFold(order.PermitDestination, alloc.Destination)
}
