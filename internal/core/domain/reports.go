package domain

// AllocationResult is the non-throwing outcome of the composite
// allocate-for-work-order operation. Failure is reported, not raised,
// because order creation must not abort on permit scarcity.
type AllocationResult struct {
	Success      bool   `json:"success"`
	PermitNumber string `json:"permitNumber,omitempty"`
	Error        string `json:"error,omitempty"`
}

// CleanupReport summarizes one batch maintenance run.
type CleanupReport struct {
	Scanned int      `json:"scanned"`
	Deleted int      `json:"deleted"`
	Merged  int      `json:"merged,omitempty"`
	Details []string `json:"details,omitempty"`
}

// SyncReport summarizes one canonical-to-derived entry sync run.
// InSync means the run performed zero writes.
type SyncReport struct {
	Copied  int  `json:"copied"`
	Updated int  `json:"updated"`
	Deleted int  `json:"deleted"`
	InSync  bool `json:"inSync"`
}
