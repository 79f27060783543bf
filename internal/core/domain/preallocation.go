package domain

import "strings"

// PreAllocation is one truck's reserved claim against a permit entry,
// created before physical loading. At most one active (Used == false)
// record may exist per (truck, destination) pair.
type PreAllocation struct {
	ID            string  `json:"id"`
	TruckNumber   string  `json:"truckNumber"`
	Product       string  `json:"product"`
	Destination   string  `json:"destination"`
	PermitEntryID string  `json:"permitEntryId"`
	PermitNumber  string  `json:"permitNumber"`
	Owner         string  `json:"owner"`
	Quantity      float64 `json:"quantity"`
	AllocatedAt   string  `json:"allocatedAt"`
	Used          bool    `json:"used"`
	UsedAt        string  `json:"usedAt,omitempty"`
	WorkDetailID  string  `json:"workDetailId,omitempty"`
}

// Active reports whether the reservation still holds volume.
func (p PreAllocation) Active() bool {
	return !p.Used
}

// DestinationKey is the truck+destination uniqueness key.
func (p PreAllocation) DestinationKey() string {
	return p.TruckNumber + "|" + strings.ToLower(p.Destination)
}
