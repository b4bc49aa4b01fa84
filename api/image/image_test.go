package image

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeship/api/model"
)

func TestTagFor(t *testing.T) {
	tests := []struct {
		name    string
		trigger model.Trigger
		want    string
	}{
		{"full sha", model.Trigger{SHA: "0123456789abcdef0123456789abcdef01234567"}, "0123456789ab"},
		{"short sha", model.Trigger{SHA: "abc123"}, "abc123"},
		{"branch fallback", model.Trigger{Ref: "refs/heads/feature/x"}, "feature-x"},
		{"tag fallback", model.Trigger{Ref: "refs/tags/v1.0.0"}, "v1.0.0"},
		{"empty", model.Trigger{}, "latest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TagFor(tt.trigger))
		})
	}
}

func TestTagForIsStable(t *testing.T) {
	tr := model.Trigger{Ref: "refs/heads/master", SHA: "deadbeefcafe0000"}
	assert.Equal(t, TagFor(tr), TagFor(tr))
}

func TestDefaultTargets(t *testing.T) {
	targets := DefaultTargets("reg/node", "reg/proxy")
	require.Len(t, targets, 2)
	assert.Equal(t, "Dockerfile", targets[0].Dockerfile)
	assert.Equal(t, "Dockerfile-reverse-proxy", targets[1].Dockerfile)
	assert.Equal(t, "reg/proxy", targets[1].Repository)
}

type call struct {
	stdin string
	args  []string
}

func recorder(fail string) (*[]call, func(context.Context, string, string, ...string) (string, error)) {
	var calls []call
	return &calls, func(_ context.Context, _ string, stdin string, args ...string) (string, error) {
		calls = append(calls, call{stdin: stdin, args: args})
		if args[0] == fail {
			return fail + " exploded", errors.New("exit status 1")
		}
		return "", nil
	}
}

func TestPublishBuildsAndPushes(t *testing.T) {
	calls, run := recorder("")
	b := &DockerBuilder{Registry: "ghcr.io", User: "ci", Token: "s3cret", PushLatest: true, run: run}

	img, err := b.Publish(context.Background(), "/work", Target{Name: Backend, Repository: "ghcr.io/tnb/node", Dockerfile: "Dockerfile", Context: "."}, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "ghcr.io/tnb/node:abc123", img.Ref())

	var verbs []string
	for _, c := range *calls {
		verbs = append(verbs, c.args[0])
	}
	assert.Equal(t, []string{"login", "build", "push", "push"}, verbs)
	assert.Equal(t, "s3cret", (*calls)[0].stdin)
	assert.NotContains(t, strings.Join((*calls)[0].args, " "), "s3cret")
	assert.Contains(t, (*calls)[1].args, "/work/Dockerfile")
	assert.Equal(t, []string{"push", "ghcr.io/tnb/node:latest"}, (*calls)[3].args)
}

func TestPublishLogsInOnce(t *testing.T) {
	calls, run := recorder("")
	b := &DockerBuilder{Registry: "ghcr.io", User: "ci", Token: "t", run: run}
	for _, tg := range DefaultTargets("r/node", "r/proxy") {
		_, err := b.Publish(context.Background(), "/work", tg, "abc")
		require.NoError(t, err)
	}

	logins := 0
	for _, c := range *calls {
		if c.args[0] == "login" {
			logins++
		}
	}
	assert.Equal(t, 1, logins)
}

func TestPublishFailures(t *testing.T) {
	for _, phase := range []Phase{PhaseLogin, PhaseBuild, PhasePush} {
		t.Run(string(phase), func(t *testing.T) {
			_, run := recorder(string(phase))
			b := &DockerBuilder{Registry: "ghcr.io", Token: "t", run: run}

			img, err := b.Publish(context.Background(), "/work", Target{Name: Backend, Repository: "r/node", Dockerfile: "Dockerfile"}, "abc")
			var be *BuildError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, phase, be.Phase)
			assert.Equal(t, model.Image{}, img)
		})
	}
}

func TestRegistryCheckerResolve(t *testing.T) {
	const digest = "sha256:4b2a4e1b5f8a2b7c3d9e0f1a2b3c4d5e6f708192a3b4c5d6e7f8091a2b3c4d5e"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/tnb/node/manifests/abc123" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.oci.image.manifest.v1+json")
		w.Header().Set("Docker-Content-Digest", digest)
		w.Header().Set("Content-Length", "512")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	c := &RegistryChecker{PlainHTTP: true}

	got, err := c.Resolve(context.Background(), host+"/tnb/node:abc123")
	require.NoError(t, err)
	assert.Equal(t, digest, got)

	_, err = c.Resolve(context.Background(), host+"/tnb/node:missing")
	assert.Error(t, err)
}

func TestRegistryCheckerRejectsUntagged(t *testing.T) {
	c := &RegistryChecker{}
	_, err := c.Resolve(context.Background(), "localhost:5000/tnb/node")
	assert.Error(t, err)
}
