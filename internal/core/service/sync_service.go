package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/fleetops/permit-ledger/internal/core/domain"
	"github.com/fleetops/permit-ledger/internal/metrics"
	"github.com/fleetops/permit-ledger/internal/port"
)

// SyncService keeps the derived allocations/ view consistent with the
// canonical tr800/ entries. One-way and corrective: missing records are
// copied, diverged remaining quantities overwritten, orphans deleted.
// Re-running against a consistent pair of views writes nothing.
type SyncService struct {
	store port.DocumentStore
}

func NewSyncService(store port.DocumentStore) *SyncService {
	return &SyncService{store: store}
}

func (s *SyncService) SyncAllocationsToEntries(ctx context.Context) (domain.SyncReport, error) {
	report := domain.SyncReport{}

	canonicalDocs, err := s.store.List(ctx, entriesPrefix)
	if err != nil {
		return report, fmt.Errorf("list canonical entries: %w", err)
	}
	derivedDocs, err := s.store.List(ctx, derivedEntriesPrefix)
	if err != nil {
		return report, fmt.Errorf("list derived entries: %w", err)
	}

	derived := map[string]domain.PermitEntry{}
	derivedIDs := map[string]bool{}
	for path, raw := range derivedDocs {
		id := idFromPath(path, derivedEntriesPrefix)
		derivedIDs[id] = true
		var entry domain.PermitEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			log.Printf("sync: undecodable derived record %s will be rewritten: %v", path, err)
			continue
		}
		derived[id] = entry
	}

	updates := map[string]any{}
	canonicalIDs := map[string]bool{}

	for path, raw := range canonicalDocs {
		var entry domain.PermitEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			log.Printf("sync: skipping undecodable canonical entry %s: %v", path, err)
			continue
		}
		id := idFromPath(path, entriesPrefix)
		if entry.ID == "" {
			entry.ID = id
		}
		canonicalIDs[id] = true

		// Legacy records lack a destination; the derived view always
		// carries the normalized one.
		entry.Destination = entry.NormalizedDestination()
		entry.ProductDestination = entry.ProductDestinationKey()

		existing, ok := derived[id]
		if !ok {
			updates[derivedEntryPath(id)] = entry
			report.Copied++
			continue
		}
		if existing.RemainingQuantity != entry.RemainingQuantity {
			updates[derivedEntryPath(id)] = entry
			report.Updated++
		}
	}

	for id := range derivedIDs {
		if !canonicalIDs[id] {
			updates[derivedEntryPath(id)] = nil
			report.Deleted++
		}
	}

	if len(updates) == 0 {
		report.InSync = true
		return report, nil
	}

	if err := s.store.AtomicUpdate(ctx, updates); err != nil {
		return report, fmt.Errorf("apply entry sync: %w", err)
	}
	metrics.SyncWrites.Add(float64(len(updates)))
	return report, nil
}
