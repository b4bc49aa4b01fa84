package image

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"nodeship/api/logging"
	"nodeship/api/model"
)

type Phase string

const (
	PhaseLogin Phase = "login"
	PhaseBuild Phase = "build"
	PhasePush  Phase = "push"
)

// BuildError reports which docker phase failed for a target.
type BuildError struct {
	Target string
	Phase  Phase
	Output string
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Phase, e.Target, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Publisher builds and pushes a target under a tag.
type Publisher interface {
	Publish(ctx context.Context, workDir string, t Target, tag string) (model.Image, error)
}

type DockerBuilder struct {
	Registry   string
	User       string
	Token      string
	PushLatest bool
	Checker    *RegistryChecker
	Log        *zap.Logger

	mu       sync.Mutex
	loggedIn bool

	// run is swapped in tests.
	run func(ctx context.Context, dir, stdin string, args ...string) (string, error)
}

// Publish builds t from workDir, tags it, and pushes every tag. On any error
// the returned image is the zero value.
func (b *DockerBuilder) Publish(ctx context.Context, workDir string, t Target, tag string) (model.Image, error) {
	log := logging.OrNop(b.Log)

	if err := b.login(ctx); err != nil {
		return model.Image{}, &BuildError{Target: t.Name, Phase: PhaseLogin, Err: err}
	}

	ref := t.Repository + ":" + tag
	tags := []string{ref}
	if b.PushLatest && tag != "latest" {
		tags = append(tags, t.Repository+":latest")
	}

	args := []string{"build", "-f", filepath.Join(workDir, t.Dockerfile)}
	for _, tg := range tags {
		args = append(args, "-t", tg)
	}
	args = append(args, filepath.Join(workDir, t.Context))

	log.Info("building image", zap.String("target", t.Name), zap.String("ref", ref))
	if out, err := b.docker(ctx, workDir, "", args...); err != nil {
		return model.Image{}, &BuildError{Target: t.Name, Phase: PhaseBuild, Output: out, Err: err}
	}

	for _, tg := range tags {
		if out, err := b.docker(ctx, workDir, "", "push", tg); err != nil {
			return model.Image{}, &BuildError{Target: t.Name, Phase: PhasePush, Output: out, Err: err}
		}
	}

	img := model.Image{Name: t.Name, Repository: t.Repository, Tag: tag}
	if b.Checker != nil {
		digest, err := b.Checker.Resolve(ctx, ref)
		if err != nil {
			return model.Image{}, &BuildError{Target: t.Name, Phase: PhasePush, Err: fmt.Errorf("confirm pushed tag: %w", err)}
		}
		img.Digest = digest
	}
	log.Info("published image", zap.String("target", t.Name), zap.String("image", img.Pinned()))
	return img, nil
}

func (b *DockerBuilder) login(ctx context.Context) error {
	if b.Token == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loggedIn {
		return nil
	}
	out, err := b.docker(ctx, "", b.Token, "login", b.Registry, "-u", b.User, "--password-stdin")
	if err != nil {
		return fmt.Errorf("docker login %s: %s", b.Registry, strings.TrimSpace(out))
	}
	b.loggedIn = true
	return nil
}

func (b *DockerBuilder) docker(ctx context.Context, dir, stdin string, args ...string) (string, error) {
	if b.run != nil {
		return b.run(ctx, dir, stdin, args...)
	}
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Dir = dir
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	return string(out), err
}
