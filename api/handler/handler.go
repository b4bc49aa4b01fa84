package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"nodeship/api/config"
	ncron "nodeship/api/cron"
	"nodeship/api/hub"
	"nodeship/api/logging"
	"nodeship/api/model"
	"nodeship/api/pipeline"
	"nodeship/api/proxy"
	"nodeship/api/saga"
	"nodeship/api/store"
	"nodeship/api/topology"
	"nodeship/api/validate"
)

var validReleaseIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]*$`)

// Releaser runs one release. *pipeline.Pipeline implements it.
type Releaser interface {
	Run(ctx context.Context, t model.Trigger, opts pipeline.Options) *pipeline.Result
}

// HealthHistory lists recorded endpoint checks.
type HealthHistory interface {
	ListHealthChecks(ctx context.Context, service string, since time.Time) ([]model.HealthCheck, error)
}

// Check is a named dependency probe reported by /api/health.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

type Deps struct {
	Config    *config.Config
	Pipeline  Releaser
	Releases  store.Releases
	Events    saga.Store
	Hub       *hub.Hub
	Validator *validate.Validator
	Topology  *topology.Topology
	Routing   proxy.Config
	Checks    []Check
	History   HealthHistory // nil when no database is configured
	Log       *zap.Logger
}

type Handler struct {
	cfg       *config.Config
	pipeline  Releaser
	releases  store.Releases
	events    saga.Store
	ws        *hub.Hub
	validator *validate.Validator
	topology  *topology.Topology
	routing   proxy.Config
	checks    []Check
	history   HealthHistory
	scheduler *ncron.Scheduler
	log       *zap.Logger

	// one worker drains queue, so releases run one at a time in arrival order
	queue chan queuedRelease
	wg    sync.WaitGroup
}

type queuedRelease struct {
	id      string
	trigger model.Trigger
}

const queueDepth = 64

func New(d Deps) *Handler {
	h := &Handler{
		cfg:       d.Config,
		pipeline:  d.Pipeline,
		releases:  d.Releases,
		events:    d.Events,
		ws:        d.Hub,
		validator: d.Validator,
		topology:  d.Topology,
		routing:   d.Routing,
		checks:    d.Checks,
		history:   d.History,
		log:       logging.OrNop(d.Log),
		queue:     make(chan queuedRelease, queueDepth),
	}
	go h.work()
	return h
}

// SetScheduler attaches the cron scheduler, which itself enqueues through h.
func (h *Handler) SetScheduler(s *ncron.Scheduler) {
	h.scheduler = s
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/health", h.Health)
	r.Get("/api/health/checks", h.HealthChecks)
	r.Post("/api/webhooks/push", h.WebhookPush)

	r.Get("/api/releases", h.ListReleases)
	r.Post("/api/releases", h.TriggerRelease)
	r.Route("/api/releases/{id}", func(r chi.Router) {
		r.Use(ValidateReleaseID)
		r.Get("/", h.GetRelease)
		r.Get("/events", h.ReleaseEvents)
	})

	r.Get("/api/validate", h.Validate)

	r.Get("/api/cron", h.CronState)
	r.Post("/api/cron/trigger", h.CronTrigger)
	r.Post("/api/cron/pause", h.CronPause)
	r.Post("/api/cron/resume", h.CronResume)
	r.Put("/api/cron/schedule", h.CronUpdateSchedule)
}

// Enqueue records t as queued and hands it to the release worker. It returns
// the release ID immediately.
func (h *Handler) Enqueue(ctx context.Context, t model.Trigger) string {
	id := uuid.NewString()
	if h.releases != nil {
		queued := &model.Release{
			ID:        id,
			Trigger:   t,
			Status:    model.ReleaseQueued,
			StartedAt: time.Now(),
		}
		if err := h.releases.InsertRelease(ctx, queued); err != nil {
			h.log.Warn("record queued release", zap.String("release", id), zap.Error(err))
		}
	}
	if h.ws != nil {
		h.ws.Broadcast(hub.Event{Type: hub.EventReleaseQueued, ReleaseID: id, Payload: t})
	}

	h.wg.Add(1)
	h.queue <- queuedRelease{id: id, trigger: t}
	return id
}

func (h *Handler) work() {
	for q := range h.queue {
		h.pipeline.Run(context.Background(), q.trigger, pipeline.Options{
			Deploy:    h.deployTarget(q.trigger),
			ReleaseID: q.id,
		})
		h.wg.Done()
	}
}

// deployTarget is the configured target for release branch refs. Any other
// ref is verified and published but never deployed.
func (h *Handler) deployTarget(t model.Trigger) model.DeployTarget {
	target := h.cfg.DeployTarget()
	if target.Enabled && !pipeline.OnReleaseBranch(t.Ref, h.cfg.ReleaseBranch) {
		h.log.Info("deploy disabled for non-release ref", zap.String("ref", t.Ref))
		target.Enabled = false
	}
	return target
}

// Wait blocks until every enqueued release has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// ValidateReleaseID is middleware that rejects requests with invalid release IDs.
func ValidateReleaseID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id != "" && !validReleaseIDRe.MatchString(id) {
			http.Error(w, "invalid release id", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
