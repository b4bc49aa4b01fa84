package handler

import (
	"net/http"
)

// Validate checks the served topology and routing declarations.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	if h.validator == nil || h.topology == nil {
		http.Error(w, "validator not configured", http.StatusServiceUnavailable)
		return
	}
	result := h.validator.Validate(r.Context(), h.topology, h.routing)
	status := http.StatusOK
	if !result.Valid() {
		status = http.StatusUnprocessableEntity
	}
	writeJSONStatus(w, status, result)
}
