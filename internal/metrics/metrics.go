// Package metrics holds the ledger's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PreAllocations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "permit_preallocations_total",
		Help: "Pre-allocations committed against permit entries.",
	})

	AllocationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "permit_allocation_rejections_total",
		Help: "Pre-allocations rejected by a precondition check.",
	}, []string{"reason"})

	Releases = promauto.NewCounter(prometheus.CounterOpts{
		Name: "permit_releases_total",
		Help: "Pre-allocations released back to their permit entry.",
	})

	MarkedUsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "permit_marked_used_total",
		Help: "Pre-allocations consumed by a confirmed loading.",
	})

	CleanupDeletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "permit_cleanup_deletions_total",
		Help: "Allocation records removed by a cleanup routine.",
	}, []string{"routine"})

	SyncWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "permit_sync_writes_total",
		Help: "Documents written by entry synchronization runs.",
	})
)
