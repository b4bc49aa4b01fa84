package verify

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const maxOutputBytes = 64 * 1024 // 64KB

// Check is one verification command run inside the workspace.
type Check struct {
	Name    string
	Command []string
	Dir     string // relative to the workspace
	Report  string // file produced by the check to archive, relative to Dir
}

type CheckResult struct {
	Name     string
	ExitCode int
	Output   string
	Duration time.Duration
	Err      error
}

func (r CheckResult) Passed() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Failure aggregates every check that did not pass.
type Failure struct {
	Failed []CheckResult
}

func (f *Failure) Error() string {
	names := make([]string, len(f.Failed))
	for i, r := range f.Failed {
		names[i] = r.Name
	}
	return fmt.Sprintf("%d check(s) failed: %s", len(f.Failed), strings.Join(names, ", "))
}

// DefaultSetup installs dependencies before any check runs.
func DefaultSetup() []Check {
	return []Check{
		{Name: "install", Command: []string{"poetry", "install"}},
	}
}

// DefaultChecks mirrors the node's CI: lint, migration sanity, tests with coverage.
func DefaultChecks() []Check {
	return []Check{
		{Name: "lint", Command: []string{"make", "lint"}},
		{Name: "migrations", Command: []string{"poetry", "run", "python", "-m", "thenewboston_node.manage", "makemigrations", "--check", "--dry-run"}},
		{Name: "test", Command: []string{"poetry", "run", "pytest", "-v", "-rs", "-n", "auto", "--cov=thenewboston_node", "--cov-report=xml"}, Report: "coverage.xml"},
	}
}

// truncate caps out at maxOutputBytes without splitting a UTF-8 sequence.
func truncate(out string) string {
	if len(out) <= maxOutputBytes {
		return out
	}
	cut := maxOutputBytes
	for cut > 0 && !utf8.RuneStart(out[cut]) {
		cut--
	}
	return out[:cut] + "\n... (output truncated at 64KB)"
}
