package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeship/api/model"
)

type postedStatus struct {
	Path        string
	State       string `json:"state"`
	Description string `json:"description"`
	Context     string `json:"context"`
	TargetURL   string `json:"target_url"`
}

func statusServer(t *testing.T) (*httptest.Server, func() []postedStatus) {
	var mu sync.Mutex
	var got []postedStatus
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var s postedStatus
		require.NoError(t, json.NewDecoder(r.Body).Decode(&s))
		s.Path = r.URL.Path
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []postedStatus {
		mu.Lock()
		defer mu.Unlock()
		return append([]postedStatus(nil), got...)
	}
}

func newReporter(t *testing.T, base string) *GitHubReporter {
	g, err := NewGitHubReporter(context.Background(), "token", nil).WithBaseURL(base)
	require.NoError(t, err)
	return g
}

func release() *model.Release {
	return &model.Release{
		ID:          "rel-1",
		Trigger:     model.Trigger{Repository: "thenewboston-developers/Node", SHA: "abc123"},
		FailedStage: "publish-backend-image",
		Stages: []model.StageLog{
			{Stage: "verify"},
			{Stage: "deploy"},
		},
	}
}

func TestStageStatuses(t *testing.T) {
	srv, posted := statusServer(t)
	g := newReporter(t, srv.URL)
	g.TargetURL = "https://ci.example/releases/{id}"
	ctx := context.Background()
	rel := release()

	require.NoError(t, g.StageFinished(ctx, rel, model.StageLog{Stage: "verify", Status: model.StageSucceeded, DurationMs: 4200}))
	require.NoError(t, g.StageFinished(ctx, rel, model.StageLog{Stage: "deploy", Status: model.StageSkipped}))
	require.NoError(t, g.StageFinished(ctx, rel, model.StageLog{Stage: "publish-backend-image", Status: model.StageFailed, Kind: "build", Error: "push denied"}))
	require.NoError(t, g.StageFinished(ctx, rel, model.StageLog{Stage: "publish-proxy-image", Status: model.StageBlocked}))

	got := posted()
	require.Len(t, got, 4)
	assert.Equal(t, "/repos/thenewboston-developers/Node/statuses/abc123", got[0].Path)
	assert.Equal(t, "nodeship/verify", got[0].Context)
	assert.Equal(t, "success", got[0].State)
	assert.Equal(t, "https://ci.example/releases/rel-1", got[0].TargetURL)

	assert.Equal(t, "success", got[1].State)
	assert.Equal(t, "skipped", got[1].Description)

	assert.Equal(t, "failure", got[2].State)
	assert.Equal(t, "build failure: push denied", got[2].Description)

	assert.Equal(t, "error", got[3].State)
	assert.Equal(t, "blocked by publish-backend-image", got[3].Description)
}

func TestRunStartedMarksEveryStagePending(t *testing.T) {
	srv, posted := statusServer(t)
	g := newReporter(t, srv.URL)

	require.NoError(t, g.RunStarted(context.Background(), release()))
	got := posted()
	require.Len(t, got, 2)
	for _, s := range got {
		assert.Equal(t, "pending", s.State)
	}
}

func TestNoStatusWithoutCommit(t *testing.T) {
	srv, posted := statusServer(t)
	g := newReporter(t, srv.URL)
	rel := release()
	rel.Trigger.SHA = ""

	require.NoError(t, g.StageStarted(context.Background(), rel, "verify"))
	assert.Empty(t, posted())
}

func TestLongDescriptionTruncated(t *testing.T) {
	srv, posted := statusServer(t)
	g := newReporter(t, srv.URL)

	long := strings.Repeat("x", 300)
	require.NoError(t, g.StageFinished(context.Background(), release(), model.StageLog{Stage: "verify", Status: model.StageFailed, Kind: "verification", Error: long}))
	got := posted()
	require.Len(t, got, 1)
	assert.Len(t, got[0].Description, 140)
}

func TestCreateStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := newReporter(t, srv.URL)
	err := g.StageStarted(context.Background(), release(), "verify")
	assert.Error(t, err)
}

func TestBranchHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/tnb/node/git/ref/heads/master", r.URL.Path)
		w.Write([]byte(`{"ref":"refs/heads/master","object":{"type":"commit","sha":"deadbeef"}}`))
	}))
	t.Cleanup(srv.Close)

	g := newReporter(t, srv.URL)
	sha, err := g.BranchHead(context.Background(), "tnb/node", "master")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", sha)

	_, err = g.BranchHead(context.Background(), "not-a-repo", "master")
	assert.Error(t, err)
}
