package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"nodeship/api/config"
	"nodeship/api/model"
	"nodeship/api/pipeline"
	"nodeship/api/proxy"
	"nodeship/api/saga"
	"nodeship/api/store"
	"nodeship/api/topology"
	"nodeship/api/validate"
)

type fakeReleaser struct {
	mu    sync.Mutex
	runs  []model.Trigger
	opts  []pipeline.Options
	delay time.Duration
}

func (f *fakeReleaser) Run(_ context.Context, t model.Trigger, opts pipeline.Options) *pipeline.Result {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, t)
	f.opts = append(f.opts, opts)
	return &pipeline.Result{Release: model.Release{ID: opts.ReleaseID, Status: model.ReleaseSucceeded}}
}

func (f *fakeReleaser) triggers() []model.Trigger {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Trigger(nil), f.runs...)
}

// newTestHandler wires a handler to in-memory stores and a recording releaser.
func newTestHandler(t *testing.T, cfg *config.Config) (*Handler, *fakeReleaser, chi.Router) {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{ReleaseBranch: "master"}
	}
	rel := &fakeReleaser{}
	h := New(Deps{
		Config:   cfg,
		Pipeline: rel,
		Releases: store.NewMemory(),
		Events:   saga.NewMemoryStore(),
	})
	r := chi.NewRouter()
	h.Routes(r)
	return h, rel, r
}

func do(r http.Handler, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func pushBody(ref, sha string) []byte {
	b, _ := json.Marshal(map[string]any{
		"ref":    ref,
		"after":  sha,
		"sender": map[string]any{"login": "alice"},
		"repository": map[string]any{
			"full_name": "thenewboston-developers/thenewboston-node",
			"clone_url": "https://github.com/thenewboston-developers/thenewboston-node.git",
		},
	})
	return b
}

func pushHeaders(secret string, body []byte) map[string]string {
	return map[string]string{
		"Content-Type":        "application/json",
		"X-GitHub-Event":      "push",
		"X-Hub-Signature-256": sign(secret, body),
	}
}

func TestTriggerReleaseQueues(t *testing.T) {
	h, rel, r := newTestHandler(t, nil)

	w := do(r, "POST", "/api/releases", nil, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	var resp struct {
		ReleaseID string `json:"releaseId"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	id := resp.ReleaseID
	if id == "" {
		t.Fatal("expected a releaseId")
	}

	h.Wait()
	runs := rel.triggers()
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].Ref != "refs/heads/master" || runs[0].Event != model.EventManual {
		t.Errorf("unexpected trigger %+v", runs[0])
	}
	if rel.opts[0].ReleaseID != id {
		t.Errorf("release id = %q, want %q", rel.opts[0].ReleaseID, id)
	}

	got, err := h.releases.GetRelease(context.Background(), id)
	if err != nil || got == nil {
		t.Fatalf("queued record missing: %v", err)
	}
	if got.Status != model.ReleaseQueued {
		t.Errorf("status = %s, want queued", got.Status)
	}
}

func TestReleasesRunOneAtATime(t *testing.T) {
	h, rel, _ := newTestHandler(t, nil)
	rel.delay = 20 * time.Millisecond

	var active, peak int
	var mu sync.Mutex
	h.pipeline = releaserFunc(func(ctx context.Context, tr model.Trigger, o pipeline.Options) *pipeline.Result {
		mu.Lock()
		active++
		peak = max(peak, active)
		mu.Unlock()
		res := rel.Run(ctx, tr, o)
		mu.Lock()
		active--
		mu.Unlock()
		return res
	})

	for i := 0; i < 3; i++ {
		h.Enqueue(context.Background(), model.Trigger{Event: model.EventManual, Ref: "refs/heads/master"})
	}
	h.Wait()

	if len(rel.triggers()) != 3 {
		t.Fatalf("got %d runs, want 3", len(rel.triggers()))
	}
	if peak != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak)
	}
}

func TestReleasesRunInArrivalOrder(t *testing.T) {
	h, rel, _ := newTestHandler(t, nil)
	rel.delay = time.Millisecond

	var want []string
	for i := 0; i < 20; i++ {
		sha := fmt.Sprintf("%040d", i)
		want = append(want, sha)
		h.Enqueue(context.Background(), model.Trigger{Event: model.EventPush, Ref: "refs/heads/master", SHA: sha})
	}
	h.Wait()

	runs := rel.triggers()
	if len(runs) != len(want) {
		t.Fatalf("got %d runs, want %d", len(runs), len(want))
	}
	for i, tr := range runs {
		if tr.SHA != want[i] {
			t.Fatalf("run %d built %s, want %s", i, tr.SHA, want[i])
		}
	}
}

func TestManualReleaseDeploysOnlyReleaseBranch(t *testing.T) {
	cfg := &config.Config{ReleaseBranch: "master", DeployEnabled: true, DeployHost: "node.example.com"}
	h, rel, r := newTestHandler(t, cfg)

	tests := []struct {
		body       string
		wantRef    string
		wantDeploy bool
	}{
		{`{}`, "refs/heads/master", true},
		{`{"ref":"master"}`, "refs/heads/master", true},
		{`{"ref":"feature/x"}`, "refs/heads/feature/x", false},
		{`{"ref":"refs/tags/v1.0.0"}`, "refs/tags/v1.0.0", false},
	}
	for _, tt := range tests {
		w := do(r, "POST", "/api/releases", []byte(tt.body), map[string]string{"Content-Type": "application/json"})
		if w.Code != http.StatusAccepted {
			t.Fatalf("%s: status = %d", tt.body, w.Code)
		}
		var resp struct {
			Deploy bool `json:"deploy"`
		}
		json.NewDecoder(w.Body).Decode(&resp)
		if resp.Deploy != tt.wantDeploy {
			t.Errorf("%s: response deploy = %v, want %v", tt.body, resp.Deploy, tt.wantDeploy)
		}
	}
	h.Wait()

	runs := rel.triggers()
	if len(runs) != len(tests) {
		t.Fatalf("got %d runs, want %d", len(runs), len(tests))
	}
	for i, tt := range tests {
		if runs[i].Ref != tt.wantRef {
			t.Errorf("run %d ref = %q, want %q", i, runs[i].Ref, tt.wantRef)
		}
		if got := rel.opts[i].Deploy.Enabled; got != tt.wantDeploy {
			t.Errorf("run %d deploy enabled = %v, want %v", i, got, tt.wantDeploy)
		}
	}
}

type releaserFunc func(context.Context, model.Trigger, pipeline.Options) *pipeline.Result

func (f releaserFunc) Run(ctx context.Context, t model.Trigger, o pipeline.Options) *pipeline.Result {
	return f(ctx, t, o)
}

func TestWebhookPushStartsRelease(t *testing.T) {
	cfg := &config.Config{ReleaseBranch: "master", WebhookSecret: "s3cret"}
	h, rel, r := newTestHandler(t, cfg)

	body := pushBody("refs/heads/master", "0123456789abcdef0123")
	w := do(r, "POST", "/api/webhooks/push", body, pushHeaders("s3cret", body))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	h.Wait()

	runs := rel.triggers()
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	tr := runs[0]
	if tr.SHA != "0123456789abcdef0123" || tr.Actor != "alice" || tr.Event != model.EventPush {
		t.Errorf("unexpected trigger %+v", tr)
	}
	if !strings.HasSuffix(tr.CloneURL, "thenewboston-node.git") {
		t.Errorf("clone url = %q", tr.CloneURL)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	cfg := &config.Config{ReleaseBranch: "master", WebhookSecret: "s3cret"}
	h, rel, r := newTestHandler(t, cfg)

	body := pushBody("refs/heads/master", "abc")
	w := do(r, "POST", "/api/webhooks/push", body, pushHeaders("wrong", body))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	h.Wait()
	if len(rel.triggers()) != 0 {
		t.Error("release started despite bad signature")
	}
}

func TestWebhookIgnoresOtherBranches(t *testing.T) {
	cfg := &config.Config{ReleaseBranch: "master", WebhookSecret: "s3cret"}
	h, rel, r := newTestHandler(t, cfg)

	for _, ref := range []string{"refs/heads/feature", "refs/tags/v1.0.0"} {
		body := pushBody(ref, "abc")
		w := do(r, "POST", "/api/webhooks/push", body, pushHeaders("s3cret", body))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", ref, w.Code)
		}
		if !strings.Contains(w.Body.String(), "ignored") {
			t.Errorf("%s: expected ignored, got %s", ref, w.Body.String())
		}
	}
	h.Wait()
	if len(rel.triggers()) != 0 {
		t.Errorf("got %d runs, want 0", len(rel.triggers()))
	}
}

func TestWebhookRepositoryMismatch(t *testing.T) {
	cfg := &config.Config{ReleaseBranch: "master", Repository: "someone/else"}
	_, _, r := newTestHandler(t, cfg)

	body := pushBody("refs/heads/master", "abc")
	w := do(r, "POST", "/api/webhooks/push", body, map[string]string{
		"Content-Type":   "application/json",
		"X-GitHub-Event": "push",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestWebhookPing(t *testing.T) {
	_, _, r := newTestHandler(t, nil)
	w := do(r, "POST", "/api/webhooks/push", []byte(`{"zen":"hi"}`), map[string]string{
		"Content-Type":   "application/json",
		"X-GitHub-Event": "ping",
	})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pong") {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
}

func TestGetRelease(t *testing.T) {
	h, _, r := newTestHandler(t, nil)
	h.releases.InsertRelease(context.Background(), &model.Release{
		ID:     "rel-1",
		Status: model.ReleaseSucceeded,
		Trigger: model.Trigger{
			Event: model.EventPush,
			Ref:   "refs/heads/master",
		},
	})

	w := do(r, "GET", "/api/releases/rel-1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got model.Release
	json.NewDecoder(w.Body).Decode(&got)
	if got.ID != "rel-1" || got.Status != model.ReleaseSucceeded {
		t.Errorf("unexpected release %+v", got)
	}

	if w := do(r, "GET", "/api/releases/missing", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d, want 404", w.Code)
	}
	if w := do(r, "GET", "/api/releases/bad!id", nil, nil); w.Code != http.StatusBadRequest {
		t.Errorf("invalid id: status = %d, want 400", w.Code)
	}
}

func TestListReleasesFilters(t *testing.T) {
	h, _, r := newTestHandler(t, nil)
	ctx := context.Background()
	now := time.Now()
	h.releases.InsertRelease(ctx, &model.Release{ID: "a", Status: model.ReleaseSucceeded, StartedAt: now.Add(-2 * time.Minute)})
	h.releases.InsertRelease(ctx, &model.Release{ID: "b", Status: model.ReleaseFailed, StartedAt: now.Add(-time.Minute)})
	h.releases.InsertRelease(ctx, &model.Release{ID: "c", Status: model.ReleaseFailed, StartedAt: now})

	w := do(r, "GET", "/api/releases?status=failed", nil, nil)
	var resp struct {
		Releases []model.Release `json:"releases"`
		Total    int             `json:"total"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Total != 2 || len(resp.Releases) != 2 {
		t.Fatalf("got %d/%d releases, want 2", len(resp.Releases), resp.Total)
	}

	w = do(r, "GET", "/api/releases?limit=1", nil, nil)
	resp.Releases = nil
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Total != 3 || len(resp.Releases) != 1 {
		t.Fatalf("limit: got %d/%d releases", len(resp.Releases), resp.Total)
	}
	if resp.Releases[0].ID != "c" {
		t.Errorf("newest first: got %s", resp.Releases[0].ID)
	}
}

func TestReleaseEvents(t *testing.T) {
	h, _, r := newTestHandler(t, nil)
	s := saga.New(h.events, "rel-1", "master", "pipeline", "release")
	ctx := context.Background()
	s.StepStart(ctx, "verify")
	s.StepComplete(ctx, "verify", 2000)
	s.StepSkipped(ctx, "deploy", "deployment disabled")

	w := do(r, "GET", "/api/releases/rel-1/events", nil, nil)
	var events []saga.Event
	json.NewDecoder(w.Body).Decode(&events)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	w = do(r, "GET", "/api/releases/rel-1/events?format=text", nil, nil)
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "deployment disabled") {
		t.Errorf("text log missing skip reason:\n%s", w.Body.String())
	}
}

func TestHealthDegraded(t *testing.T) {
	h, _, r := newTestHandler(t, nil)
	h.checks = []Check{
		{Name: "postgres", Fn: func(context.Context) error { return nil }},
		{Name: "s3", Fn: func(context.Context) error { return errors.New("bucket missing") }},
	}

	w := do(r, "GET", "/api/health", nil, nil)
	var resp struct {
		Status   string          `json:"status"`
		Services []ServiceHealth `json:"services"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if len(resp.Services) != 2 || resp.Services[1].Details != "bucket missing" {
		t.Errorf("unexpected services %+v", resp.Services)
	}
}

func TestCronWithoutScheduler(t *testing.T) {
	_, _, r := newTestHandler(t, nil)
	if w := do(r, "GET", "/api/cron", nil, nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestValidate(t *testing.T) {
	h, _, r := newTestHandler(t, nil)
	h.validator = &validate.Validator{
		Target: model.DeployTarget{Host: "h", User: "deploy", KeyRef: "DEPLOY_SSH_KEY", KnownHostsFile: "/k", Enabled: true},
	}
	h.topology = topology.Default(topology.Defaults{BackendImage: "reg/node:abc123", ProxyImage: "reg/proxy:abc123"})
	h.routing = proxy.Config{Listen: 8555, Rules: proxy.DefaultRules("http://node:8555/", "/var/lib/blockchain", "</head>", "<nav/>")}

	if w := do(r, "GET", "/api/validate", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	h.routing.Listen = 0
	if w := do(r, "GET", "/api/validate", nil, nil); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
}

type fakeHistory struct {
	service string
	since   time.Time
}

func (f *fakeHistory) ListHealthChecks(_ context.Context, service string, since time.Time) ([]model.HealthCheck, error) {
	f.service, f.since = service, since
	return []model.HealthCheck{{ID: "1", Service: service, Healthy: true}}, nil
}

func TestHealthChecksHistory(t *testing.T) {
	h, _, r := newTestHandler(t, nil)
	if w := do(r, "GET", "/api/health/checks", nil, nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("without history: status = %d, want 503", w.Code)
	}

	hist := &fakeHistory{}
	h.history = hist
	w := do(r, "GET", "/api/health/checks?service=landing&since=10m", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if hist.service != "landing" {
		t.Errorf("service = %q", hist.service)
	}
	if age := time.Since(hist.since); age < 10*time.Minute || age > 11*time.Minute {
		t.Errorf("since window = %v, want ~10m", age)
	}

	if w := do(r, "GET", "/api/health/checks?since=soon", nil, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad since: status = %d, want 400", w.Code)
	}
}
