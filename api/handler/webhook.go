package handler

import (
	"net/http"
	"strings"

	"github.com/google/go-github/v55/github"
	"go.uber.org/zap"

	"nodeship/api/model"
	"nodeship/api/pipeline"
)

// WebhookPush starts a release for a GitHub push to the release branch.
// The signature is checked against the configured webhook secret.
func (h *Handler) WebhookPush(w http.ResponseWriter, r *http.Request) {
	var secret []byte
	if h.cfg.WebhookSecret != "" {
		secret = []byte(h.cfg.WebhookSecret)
	}
	body, err := github.ValidatePayload(r, secret)
	if err != nil {
		h.log.Warn("webhook rejected", zap.Error(err))
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	kind := github.WebHookType(r)
	if kind == "ping" {
		writeJSON(w, map[string]string{"status": "pong"})
		return
	}
	if kind != "push" {
		http.Error(w, "unsupported webhook event", http.StatusBadRequest)
		return
	}

	event, err := github.ParseWebHook(kind, body)
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	push, ok := event.(*github.PushEvent)
	if !ok {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	t := model.Trigger{
		Event:      model.EventPush,
		Ref:        push.GetRef(),
		SHA:        push.GetAfter(),
		Actor:      push.GetSender().GetLogin(),
		Repository: push.GetRepo().GetFullName(),
		CloneURL:   push.GetRepo().GetCloneURL(),
	}
	if t.Actor == "" {
		t.Actor = push.GetPusher().GetName()
	}

	if h.cfg.Repository != "" && !strings.EqualFold(t.Repository, h.cfg.Repository) {
		http.Error(w, "repository not managed here", http.StatusNotFound)
		return
	}
	if push.GetDeleted() || !pipeline.ShouldTrigger(t, h.cfg.ReleaseBranch) {
		writeJSON(w, map[string]string{"status": "ignored", "ref": t.Ref})
		return
	}

	id := h.Enqueue(r.Context(), t)
	h.log.Info("release queued from push", zap.String("release", id), zap.String("sha", t.SHA), zap.String("actor", t.Actor))
	writeJSONStatus(w, http.StatusAccepted, map[string]string{
		"status":    "queued",
		"releaseId": id,
		"commit":    t.SHA,
	})
}
