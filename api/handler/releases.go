package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"nodeship/api/auth"
	"nodeship/api/model"
	"nodeship/api/pipeline"
	"nodeship/api/saga"
	"nodeship/api/store"
)

func (h *Handler) ListReleases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ReleaseFilter{
		Ref:    q.Get("ref"),
		Status: q.Get("status"),
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil {
		f.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		f.Offset = n
	}

	releases, total, err := h.releases.ListReleases(r.Context(), f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if releases == nil {
		releases = []model.Release{}
	}
	writeJSON(w, map[string]any{
		"releases": releases,
		"total":    total,
	})
}

func (h *Handler) GetRelease(w http.ResponseWriter, r *http.Request) {
	rel, err := h.releases.GetRelease(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rel == nil {
		http.Error(w, "release not found", http.StatusNotFound)
		return
	}
	writeJSON(w, rel)
}

// ReleaseEvents returns the stage event log; ?format=text renders it.
func (h *Handler) ReleaseEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		http.Error(w, "event log not configured", http.StatusServiceUnavailable)
		return
	}
	events, err := h.events.ListBySaga(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte((&saga.PlainFormatter{}).Format(events)))
		return
	}
	if events == nil {
		events = []saga.Event{}
	}
	writeJSON(w, events)
}

// TriggerRelease starts a manual release of the release branch, or of the
// ref and commit given in the body. Only the release branch is deployed.
func (h *Handler) TriggerRelease(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Ref   string `json:"ref"`
		SHA   string `json:"sha"`
		Actor string `json:"actor"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	switch {
	case body.Ref == "":
		body.Ref = "refs/heads/" + h.cfg.ReleaseBranch
	case !strings.HasPrefix(body.Ref, "refs/"):
		body.Ref = "refs/heads/" + body.Ref
	}
	if body.Actor == "" {
		body.Actor = auth.Identity(r.Context())
	}
	if body.Actor == "" {
		body.Actor = "api"
	}

	deploys := h.cfg.DeployTarget().Enabled && pipeline.OnReleaseBranch(body.Ref, h.cfg.ReleaseBranch)
	id := h.Enqueue(r.Context(), model.Trigger{
		Event:      model.EventManual,
		Ref:        body.Ref,
		SHA:        body.SHA,
		Actor:      body.Actor,
		Repository: h.cfg.Repository,
	})
	writeJSONStatus(w, http.StatusAccepted, map[string]any{"status": "queued", "releaseId": id, "deploy": deploys})
}
