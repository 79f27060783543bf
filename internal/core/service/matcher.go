package service

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strings"

	"github.com/fleetops/permit-ledger/internal/core/domain"
	"github.com/fleetops/permit-ledger/internal/port"
)

// MatcherService finds permit entries able to cover a requirement,
// oldest entry first so quota documents drain in registration order.
type MatcherService struct {
	store   port.DocumentStore
	volumes *VolumeService
}

func NewMatcherService(store port.DocumentStore, volumes *VolumeService) *MatcherService {
	return &MatcherService{store: store, volumes: volumes}
}

// FindEntry returns the oldest entry for the product/destination with
// at least required liters available, or (nil, nil) when none
// qualifies. An empty destination falls back to the legacy default.
func (s *MatcherService) FindEntry(ctx context.Context, product, destination string, required float64) (*domain.PermitEntry, error) {
	destination = normalizeDestination(destination)

	candidates, err := s.candidates(ctx, product, destination)
	if err != nil {
		return nil, err
	}

	for _, entry := range candidates {
		available, err := s.volumes.AvailableVolume(ctx, entry.ID)
		if err != nil {
			log.Printf("matcher: skipping entry %s: %v", entry.ID, err)
			continue
		}
		if available >= required {
			e := entry
			return &e, nil
		}
	}
	return nil, nil
}

// FindEntries greedily gathers entries for the product, oldest first,
// until required liters are covered or candidates run out. A short
// total is partial fulfilment, not an error; callers compare the sum.
func (s *MatcherService) FindEntries(ctx context.Context, product string, required float64) ([]domain.EntryPortion, error) {
	candidates, err := s.candidates(ctx, product, "")
	if err != nil {
		return nil, err
	}

	var portions []domain.EntryPortion
	remaining := required
	for _, entry := range candidates {
		if remaining <= 0 {
			break
		}
		available, err := s.volumes.AvailableVolume(ctx, entry.ID)
		if err != nil {
			log.Printf("matcher: skipping entry %s: %v", entry.ID, err)
			continue
		}
		if available <= 0 {
			continue
		}
		take := available
		if take > remaining {
			take = remaining
		}
		portions = append(portions, domain.EntryPortion{Entry: entry, Quantity: take})
		remaining -= take
	}
	return portions, nil
}

// candidates lists entries matching product (and destination when
// non-empty), sorted by timestamp ascending.
func (s *MatcherService) candidates(ctx context.Context, product, destination string) ([]domain.PermitEntry, error) {
	docs, err := s.store.List(ctx, entriesPrefix)
	if err != nil {
		return nil, err
	}

	var entries []domain.PermitEntry
	for path, raw := range docs {
		var entry domain.PermitEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			log.Printf("matcher: skipping undecodable entry %s: %v", path, err)
			continue
		}
		if entry.ID == "" {
			entry.ID = idFromPath(path, entriesPrefix)
		}
		if !strings.EqualFold(entry.Product, product) {
			continue
		}
		if destination != "" && entry.NormalizedDestination() != destination {
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp < entries[j].Timestamp
	})
	return entries, nil
}
