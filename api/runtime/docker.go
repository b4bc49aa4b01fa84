package runtime

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"nodeship/api/logging"
)

const maxOutputBytes = 64 * 1024 // 64KB

var ErrTimeout = errors.New("execution timed out")

// DockerRunner runs one-off containers through the docker CLI.
type DockerRunner struct {
	Log *zap.Logger

	// exec is swapped in tests.
	exec func(ctx context.Context, args ...string) ([]byte, error)
}

func NewDockerRunner(log *zap.Logger) *DockerRunner {
	return &DockerRunner{Log: logging.OrNop(log)}
}

func (d *DockerRunner) Run(ctx context.Context, opts RunOpts) (*RunResult, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prefix := opts.Name
	if prefix == "" {
		prefix = "nodeship-run"
	}
	name := fmt.Sprintf("%s-%s", prefix, randomSuffix())
	args := runArgs(name, opts)
	logging.OrNop(d.Log).Info("docker run", zap.String("container", name), zap.String("image", opts.Image), zap.Strings("command", opts.Command))

	start := time.Now()
	out, err := d.docker(ctx, args...)
	duration := time.Since(start)

	output := string(out)
	if len(output) > maxOutputBytes {
		cut := maxOutputBytes
		for cut > 0 && !utf8.RuneStart(output[cut]) {
			cut--
		}
		output = output[:cut] + "\n... (output truncated at 64KB)"
	}

	result := &RunResult{
		Output:   output,
		Duration: duration,
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			d.docker(context.Background(), "kill", name)
			result.ExitCode = -1
			return result, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil // non-zero exit is not a runner error
		}
		return result, err
	}

	result.ExitCode = 0
	return result, nil
}

func runArgs(name string, opts RunOpts) []string {
	memory := opts.Memory
	if memory == "" {
		memory = "512m"
	}
	network := opts.Network
	if network == "" {
		network = "none"
	}

	args := []string{
		"run", "--rm", "--name", name,
		"--memory=" + memory, "--cpus=1", "--pids-limit=256",
		"--network=" + network,
	}
	for _, m := range opts.Mounts {
		args = append(args, "-v", m)
	}
	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, opts.Env[k]))
	}
	args = append(args, opts.Image)
	return append(args, opts.Command...)
}

func (d *DockerRunner) ImageExists(ctx context.Context, image string) (bool, error) {
	if _, err := d.docker(ctx, "image", "inspect", image); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *DockerRunner) docker(ctx context.Context, args ...string) ([]byte, error) {
	if d.exec != nil {
		return d.exec(ctx, args...)
	}
	return exec.CommandContext(ctx, "docker", args...).CombinedOutput()
}

func randomSuffix() string {
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
