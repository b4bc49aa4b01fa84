package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

func (h *Handler) CronState(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		http.Error(w, "scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	state := map[string]any{"schedule": h.scheduler.Schedule()}
	if next := h.scheduler.Next(); !next.IsZero() {
		state["nextRunAt"] = next.Format(time.RFC3339)
	} else {
		state["paused"] = true
	}
	writeJSON(w, state)
}

func (h *Handler) CronTrigger(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		http.Error(w, "scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	go h.scheduler.TriggerNow(context.WithoutCancel(r.Context()))
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (h *Handler) CronPause(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		http.Error(w, "scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	h.scheduler.Pause()
	writeJSON(w, map[string]string{"status": "paused"})
}

func (h *Handler) CronResume(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		http.Error(w, "scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	if err := h.scheduler.Resume(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, map[string]string{"status": "resumed"})
}

func (h *Handler) CronUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		http.Error(w, "scheduler not configured", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Schedule string `json:"schedule"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Schedule == "" {
		http.Error(w, "schedule is required", http.StatusBadRequest)
		return
	}
	if err := h.scheduler.UpdateSchedule(body.Schedule); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]string{"status": "updated"})
}
