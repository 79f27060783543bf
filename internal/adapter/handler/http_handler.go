package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fleetops/permit-ledger/internal/core/service"
)

// HTTPHandler exposes the ledger to order-entry, dashboards and admin
// tooling as a JSON API.
type HTTPHandler struct {
	allocations *service.AllocationService
	volumes     *service.VolumeService
	cleanup     *service.CleanupService
	sync        *service.SyncService
}

func NewHTTPHandler(
	allocations *service.AllocationService,
	volumes *service.VolumeService,
	cleanup *service.CleanupService,
	syncSvc *service.SyncService,
) *HTTPHandler {
	return &HTTPHandler{
		allocations: allocations,
		volumes:     volumes,
		cleanup:     cleanup,
		sync:        syncSvc,
	}
}

// Register mounts every route on the mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/api/preallocate", h.PreAllocate)
	mux.HandleFunc("/api/allocate-work-order", h.AllocateWorkOrder)
	mux.HandleFunc("/api/release", h.Release)
	mux.HandleFunc("/api/reset-truck", h.ResetTruck)
	mux.HandleFunc("/api/volumes", h.CheckVolumes)
	mux.HandleFunc("/api/update-volume", h.UpdateVolume)
	mux.HandleFunc("/api/update-quantity", h.UpdateQuantity)
	mux.HandleFunc("/api/cleanup/duplicates", h.CleanupDuplicates)
	mux.HandleFunc("/api/cleanup/loaded", h.CleanupLoaded)
	mux.HandleFunc("/api/consolidate", h.Consolidate)
	mux.HandleFunc("/api/validate", h.Validate)
	mux.HandleFunc("/api/sync", h.Sync)
}

type PreAllocateRequest struct {
	TruckNumber   string `json:"truck_number"`
	Product       string `json:"product"`
	Owner         string `json:"owner"`
	PermitEntryID string `json:"permit_entry_id"`
	PermitNumber  string `json:"permit_number"`
	Destination   string `json:"destination"`
	WorkOrderID   string `json:"work_order_id,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *HTTPHandler) PreAllocate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req PreAllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.TruckNumber == "" || req.PermitEntryID == "" || req.PermitNumber == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing required fields"})
		return
	}

	alloc, err := h.allocations.PreAllocate(r.Context(), service.PreAllocateParams{
		TruckNumber:   req.TruckNumber,
		Product:       req.Product,
		Owner:         req.Owner,
		PermitEntryID: req.PermitEntryID,
		PermitNumber:  req.PermitNumber,
		Destination:   req.Destination,
		WorkOrderID:   req.WorkOrderID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alloc)
}

func (h *HTTPHandler) AllocateWorkOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		WorkOrderID string `json:"work_order_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkOrderID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "work_order_id required"})
		return
	}

	// Best-effort by contract: the result reports failure, HTTP 200.
	result := h.allocations.AllocateForWorkOrder(r.Context(), req.WorkOrderID)
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) Release(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		PreAllocationID string `json:"pre_allocation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PreAllocationID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "pre_allocation_id required"})
		return
	}

	if err := h.allocations.Release(r.Context(), req.PreAllocationID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"released": true})
}

func (h *HTTPHandler) ResetTruck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		TruckNumber string `json:"truck_number"`
		Destination string `json:"destination"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TruckNumber == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "truck_number required"})
		return
	}

	released, err := h.allocations.ResetTruckAllocation(r.Context(), req.TruckNumber, req.Destination)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"released": released})
}

func (h *HTTPHandler) CheckVolumes(w http.ResponseWriter, r *http.Request) {
	entryID := r.URL.Query().Get("entry")
	if entryID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "entry query parameter required"})
		return
	}

	report, err := h.volumes.CheckEntryVolumes(r.Context(), entryID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *HTTPHandler) UpdateVolume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		EntryID   string  `json:"entry_id"`
		NewVolume float64 `json:"new_volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EntryID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "entry_id required"})
		return
	}

	if err := h.volumes.UpdateEntryVolume(r.Context(), req.EntryID, req.NewVolume); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (h *HTTPHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		PreAllocationID string  `json:"pre_allocation_id"`
		NewQuantity     float64 `json:"new_quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PreAllocationID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "pre_allocation_id required"})
		return
	}

	if err := h.allocations.UpdateQuantity(r.Context(), req.PreAllocationID, req.NewQuantity); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (h *HTTPHandler) CleanupDuplicates(w http.ResponseWriter, r *http.Request) {
	report, err := h.cleanup.CleanupDuplicateAllocations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *HTTPHandler) CleanupLoaded(w http.ResponseWriter, r *http.Request) {
	report, err := h.cleanup.CleanupLoadedTrucks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *HTTPHandler) Consolidate(w http.ResponseWriter, r *http.Request) {
	report, err := h.cleanup.ConsolidateAllocations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *HTTPHandler) Validate(w http.ResponseWriter, r *http.Request) {
	issues, err := h.cleanup.ValidateAllocations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if issues == nil {
		issues = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"issues": issues})
}

func (h *HTTPHandler) Sync(w http.ResponseWriter, r *http.Request) {
	report, err := h.sync.SyncAllocationsToEntries(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrDuplicateAllocation):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInsufficientVolume):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidVolume):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
