package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/fleetops/permit-ledger/internal/core/domain"
	"github.com/fleetops/permit-ledger/internal/port"
)

// VolumeService is the recomputation authority for permit volumes. It
// never trusts the preAllocatedQuantity cache stored on the entry.
type VolumeService struct {
	store port.DocumentStore
}

func NewVolumeService(store port.DocumentStore) *VolumeService {
	return &VolumeService{store: store}
}

// AvailableVolume returns remainingQuantity minus the sum of active
// pre-allocations against the entry. A negative result is legal and
// signals an over-allocation needing reconciliation.
func (s *VolumeService) AvailableVolume(ctx context.Context, entryID string) (float64, error) {
	var entry domain.PermitEntry
	if err := s.store.Get(ctx, entryPath(entryID), &entry); err != nil {
		return 0, fmt.Errorf("permit entry %s: %w", entryID, err)
	}

	reserved, err := s.ActivePreAllocatedTotal(ctx, entryID)
	if err != nil {
		return 0, err
	}
	return entry.RemainingQuantity - reserved, nil
}

// ActivePreAllocatedTotal sums the quantity of every active
// pre-allocation referencing the entry.
func (s *VolumeService) ActivePreAllocatedTotal(ctx context.Context, entryID string) (float64, error) {
	docs, err := s.store.QueryByField(ctx, preAllocationsPrefix, "permitEntryId", entryID)
	if err != nil {
		return 0, fmt.Errorf("query pre-allocations: %w", err)
	}

	var total float64
	for path, raw := range docs {
		var alloc domain.PreAllocation
		if err := json.Unmarshal(raw, &alloc); err != nil {
			log.Printf("volume: skipping undecodable pre-allocation %s: %v", path, err)
			continue
		}
		if alloc.Active() {
			total += alloc.Quantity
		}
	}
	return total, nil
}

// CheckEntryVolumes reports the full volume breakdown for an entry.
func (s *VolumeService) CheckEntryVolumes(ctx context.Context, entryID string) (domain.EntryVolumeReport, error) {
	var entry domain.PermitEntry
	if err := s.store.Get(ctx, entryPath(entryID), &entry); err != nil {
		return domain.EntryVolumeReport{}, fmt.Errorf("permit entry %s: %w", entryID, err)
	}

	reserved, err := s.ActivePreAllocatedTotal(ctx, entryID)
	if err != nil {
		return domain.EntryVolumeReport{}, err
	}

	report := domain.EntryVolumeReport{
		Available:    entry.RemainingQuantity,
		Allocated:    entry.InitialQuantity - entry.RemainingQuantity,
		PreAllocated: reserved,
		Remaining:    entry.RemainingQuantity - reserved,
	}
	report.IsValid = report.Remaining >= 0
	return report, nil
}

// UpdateEntryVolume sets remainingQuantity on the canonical entry (and
// the derived view when present). Rejected when the new volume is below
// the currently pre-allocated amount.
func (s *VolumeService) UpdateEntryVolume(ctx context.Context, entryID string, newVolume float64) error {
	var entry domain.PermitEntry
	if err := s.store.Get(ctx, entryPath(entryID), &entry); err != nil {
		return fmt.Errorf("permit entry %s: %w", entryID, err)
	}

	reserved, err := s.ActivePreAllocatedTotal(ctx, entryID)
	if err != nil {
		return err
	}
	if newVolume < reserved {
		return fmt.Errorf("%w: new volume %.0f below pre-allocated %.0f",
			ErrInvalidVolume, newVolume, reserved)
	}

	entry.RemainingQuantity = newVolume
	entry.PreAllocatedQuantity = reserved

	updates := map[string]any{entryPath(entryID): entry}

	var derived domain.PermitEntry
	if err := s.store.Get(ctx, derivedEntryPath(entryID), &derived); err == nil {
		derived.RemainingQuantity = newVolume
		derived.PreAllocatedQuantity = reserved
		updates[derivedEntryPath(entryID)] = derived
	}

	return s.store.AtomicUpdate(ctx, updates)
}
