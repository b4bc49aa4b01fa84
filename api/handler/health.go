package handler

import (
	"context"
	"net/http"
	"time"

	"nodeship/api/model"
)

type ServiceHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // up, down
	Details string `json:"details,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := make([]ServiceHealth, 0, len(h.checks))
	allUp := true
	for _, c := range h.checks {
		s := ServiceHealth{Name: c.Name, Status: "up"}
		if err := c.Fn(ctx); err != nil {
			s.Status = "down"
			s.Details = err.Error()
			allUp = false
		}
		services = append(services, s)
	}

	status := "healthy"
	if !allUp {
		status = "degraded"
	}
	body := map[string]any{
		"status":   status,
		"services": services,
	}
	if h.ws != nil {
		body["subscribers"] = h.ws.Clients()
	}
	writeJSON(w, body)
}

// HealthChecks returns recorded endpoint checks, newest first. ?since takes a
// duration (default 1h) and ?service filters to one endpoint.
func (h *Handler) HealthChecks(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "health history not configured", http.StatusServiceUnavailable)
		return
	}
	window := time.Hour
	if s := r.URL.Query().Get("since"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			http.Error(w, "invalid since duration", http.StatusBadRequest)
			return
		}
		window = d
	}
	checks, err := h.history.ListHealthChecks(r.Context(), r.URL.Query().Get("service"), time.Now().Add(-window))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if checks == nil {
		checks = []model.HealthCheck{}
	}
	writeJSON(w, checks)
}
