package domain

// WorkOrder is the external dispatch record for one truck. This
// subsystem writes only the four permit fields; everything else is
// read-only, and Loaded is a signal consumed by cleanup.
type WorkOrder struct {
	ID          string  `json:"id"`
	TruckNumber string  `json:"truck_number"`
	Product     string  `json:"product"`
	Destination string  `json:"destination"`
	// Quantity is in cubic meters; permits account in liters.
	Quantity          float64 `json:"quantity"`
	Owner             string  `json:"owner,omitempty"`
	PermitAllocated   bool    `json:"permitAllocated"`
	PermitNumber      string  `json:"permitNumber,omitempty"`
	PermitEntryID     string  `json:"permitEntryId,omitempty"`
	PermitDestination string  `json:"permitDestination,omitempty"`
	Loaded            bool    `json:"loaded"`
}

// RequiredLiters converts the order quantity to the permit unit.
func (w WorkOrder) RequiredLiters() float64 {
	return w.Quantity * 1000
}

// ClearPermitFields resets the order to the unallocated state.
func (w *WorkOrder) ClearPermitFields() {
	w.PermitAllocated = false
	w.PermitNumber = ""
	w.PermitEntryID = ""
	w.PermitDestination = ""
}
