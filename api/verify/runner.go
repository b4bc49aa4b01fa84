package verify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nodeship/api/logging"
)

// Archiver stores reports produced by checks.
type Archiver interface {
	Archive(ctx context.Context, key, path string) error
}

// StaticCheck runs in-process against the workspace, e.g. declaration validation.
type StaticCheck struct {
	Name string
	Fn   func(ctx context.Context, workDir string) error
}

type Runner struct {
	Setup   []Check
	Checks  []Check
	Static  []StaticCheck
	Workers int
	Harness Harness
	Archive Archiver
	Log     *zap.Logger

	// exec is swapped in tests.
	exec func(ctx context.Context, dir string, env []string, argv []string) (string, int, error)
}

type Report struct {
	Results  []CheckResult
	Archived []string
}

// Output joins the results into a log suitable for a stage record.
func (r *Report) Output() string {
	var b strings.Builder
	for _, res := range r.Results {
		status := "ok"
		if !res.Passed() {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %s (%s)\n", status, res.Name, res.Duration.Round(time.Millisecond))
		if !res.Passed() && res.Output != "" {
			b.WriteString(res.Output)
			if !strings.HasSuffix(res.Output, "\n") {
				b.WriteByte('\n')
			}
		}
	}
	return b.String()
}

// Run executes setup checks in order, stopping at the first failure, then runs
// every static and command check to completion on at most Workers goroutines.
// Any failed check yields a *Failure.
func (r *Runner) Run(ctx context.Context, workDir, releaseID string) (*Report, error) {
	log := logging.OrNop(r.Log)
	report := &Report{}

	for _, c := range r.Setup {
		res := r.runCheck(ctx, workDir, c)
		report.Results = append(report.Results, res)
		if !res.Passed() {
			log.Warn("verify setup failed", zap.String("check", c.Name), zap.Int("exit", res.ExitCode))
			return report, &Failure{Failed: []CheckResult{res}}
		}
	}

	workers := r.Workers
	if workers < 1 {
		workers = 1
	}

	results := make([]CheckResult, len(r.Static)+len(r.Checks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, sc := range r.Static {
		g.Go(func() error {
			start := time.Now()
			err := sc.Fn(gctx, workDir)
			res := CheckResult{Name: sc.Name, Duration: time.Since(start), Err: err}
			if err != nil {
				res.Output = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	for i, c := range r.Checks {
		g.Go(func() error {
			results[len(r.Static)+i] = r.runCheck(gctx, workDir, c)
			return nil
		})
	}
	g.Wait()

	report.Results = append(report.Results, results...)

	var failure Failure
	for _, res := range results {
		if !res.Passed() {
			failure.Failed = append(failure.Failed, res)
		}
	}

	for _, c := range r.Checks {
		if c.Report == "" || r.Archive == nil {
			continue
		}
		path := filepath.Join(workDir, c.Dir, c.Report)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		key := fmt.Sprintf("releases/%s/%s", releaseID, filepath.Base(c.Report))
		if err := r.Archive.Archive(ctx, key, path); err != nil {
			log.Warn("archive report", zap.String("key", key), zap.Error(err))
			continue
		}
		report.Archived = append(report.Archived, key)
	}

	if len(failure.Failed) > 0 {
		return report, &failure
	}
	return report, nil
}

func (r *Runner) runCheck(ctx context.Context, workDir string, c Check) CheckResult {
	run := r.exec
	if run == nil {
		run = execCommand
	}
	if len(c.Command) == 0 {
		return CheckResult{Name: c.Name, Err: errors.New("empty command")}
	}

	start := time.Now()
	out, code, err := run(ctx, filepath.Join(workDir, c.Dir), r.Harness.Environ(), c.Command)
	return CheckResult{
		Name:     c.Name,
		ExitCode: code,
		Output:   truncate(out),
		Duration: time.Since(start),
		Err:      err,
	}
}

func execCommand(ctx context.Context, dir string, env []string, argv []string) (string, int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(out), exitErr.ExitCode(), nil // non-zero exit is a failed check, not a runner error
		}
		return string(out), -1, err
	}
	return string(out), 0, nil
}
