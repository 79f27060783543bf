package domain

import "strings"

// DefaultDestination is stamped on legacy permit entries that were
// registered before destinations were tracked.
const DefaultDestination = "ssd"

// PermitEntry is one quota document (import/export permit) whose volume
// is consumed by trucks over time. Canonical records live under tr800/,
// a derived view under allocations/.
type PermitEntry struct {
	ID                 string  `json:"id"`
	Number             string  `json:"number"`
	Product            string  `json:"product"`
	Destination        string  `json:"destination"`
	ProductDestination string  `json:"product_destination"`
	InitialQuantity    float64 `json:"initialQuantity"`
	RemainingQuantity  float64 `json:"remainingQuantity"`
	// PreAllocatedQuantity is an advisory cache for display. Volume
	// accounting recomputes the real figure from active pre-allocations.
	PreAllocatedQuantity float64 `json:"preAllocatedQuantity"`
	Timestamp            int64   `json:"timestamp"`
	CreatedBy            string  `json:"createdBy,omitempty"`
}

// NormalizedDestination lower-cases the destination and substitutes the
// default for legacy records that lack one.
func (e PermitEntry) NormalizedDestination() string {
	if e.Destination == "" {
		return DefaultDestination
	}
	return strings.ToLower(e.Destination)
}

// ProductDestinationKey is the derived composite key stored on the entry.
func (e PermitEntry) ProductDestinationKey() string {
	return strings.ToLower(e.Product) + "_" + e.NormalizedDestination()
}

// EntryPortion is one slice of a split allocation: take Quantity liters
// from Entry.
type EntryPortion struct {
	Entry    PermitEntry
	Quantity float64
}

// EntryVolumeReport is the volume breakdown for a single permit entry.
// Remaining is Available minus PreAllocated and may be negative, which
// signals an over-allocation needing reconciliation.
type EntryVolumeReport struct {
	Available    float64 `json:"available"`
	Allocated    float64 `json:"allocated"`
	PreAllocated float64 `json:"preAllocated"`
	Remaining    float64 `json:"remaining"`
	IsValid      bool    `json:"isValid"`
}
