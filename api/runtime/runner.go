package runtime

import (
	"context"
	"time"
)

type RunResult struct {
	ExitCode int
	Output   string
	Duration time.Duration
}

type Runner interface {
	Run(ctx context.Context, opts RunOpts) (*RunResult, error)
	ImageExists(ctx context.Context, image string) (bool, error)
}

type RunOpts struct {
	Image   string
	Command []string
	Env     map[string]string
	Mounts  []string // "volume:/path" or "volume:/path:ro"
	Timeout time.Duration
	Memory  string // e.g. "256m"; empty means 512m
	Network string // empty means "none"
	Name    string // container name prefix; empty means "nodeship-run"
}
