package service

import (
	"strings"

	"github.com/fleetops/permit-ledger/internal/core/domain"
)

// Store layout. tr800/ holds the canonical permit entries, allocations/
// the derived view kept consistent by the sync service.
const (
	entriesPrefix        = "tr800/"
	derivedEntriesPrefix = "allocations/"
	preAllocationsPrefix = "preallocations/"
	workOrdersPrefix     = "work_details/"
)

func entryPath(id string) string         { return entriesPrefix + id }
func derivedEntryPath(id string) string  { return derivedEntriesPrefix + id }
func preAllocationPath(id string) string { return preAllocationsPrefix + id }
func workOrderPath(id string) string     { return workOrdersPrefix + id }

func idFromPath(path, prefix string) string {
	return strings.TrimPrefix(path, prefix)
}

// normalizeDestination lower-cases and applies the legacy default.
func normalizeDestination(destination string) string {
	if destination == "" {
		return domain.DefaultDestination
	}
	return strings.ToLower(destination)
}
