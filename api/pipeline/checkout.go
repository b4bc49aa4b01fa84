package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"nodeship/api/logging"
	"nodeship/api/model"
)

// Checkout fetches the triggering commit into a fresh workspace.
type Checkout struct {
	Token      string // HTTPS token, handed to git through GIT_ASKPASS
	SSHKeyFile string
	TempDir    string
	Log        *zap.Logger

	// git is swapped in tests.
	git func(ctx context.Context, dir string, env []string, args ...string) (string, error)
}

// Clone fetches the trigger's commit (or its ref when no SHA is known) and
// returns the workspace, the resolved commit, and a cleanup func.
func (c *Checkout) Clone(ctx context.Context, t model.Trigger) (string, string, func(), error) {
	url := cloneURL(t)
	if url == "" {
		return "", "", nil, errors.New("trigger has no repository to clone")
	}
	want := t.SHA
	if want == "" {
		want = t.Ref
	}

	dir, err := os.MkdirTemp(c.TempDir, "nodeship-build-*")
	if err != nil {
		return "", "", nil, fmt.Errorf("create workspace: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	env, envCleanup, err := c.gitEnv(url)
	if err != nil {
		cleanup()
		return "", "", nil, err
	}
	defer envCleanup()

	git := c.git
	if git == nil {
		git = runGit
	}
	steps := [][]string{
		{"init", "--quiet"},
		{"remote", "add", "origin", url},
		{"fetch", "--depth", "1", "origin", want},
		{"checkout", "--quiet", "FETCH_HEAD"},
	}
	for _, args := range steps {
		if out, err := git(ctx, dir, env, args...); err != nil {
			cleanup()
			return "", "", nil, fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(out))
		}
	}

	out, err := git(ctx, dir, env, "rev-parse", "HEAD")
	if err != nil {
		cleanup()
		return "", "", nil, fmt.Errorf("git rev-parse: %w", err)
	}
	commit := strings.TrimSpace(out)
	logging.OrNop(c.Log).Info("checked out", zap.String("ref", t.Ref), zap.String("commit", commit))
	return dir, commit, cleanup, nil
}

func cloneURL(t model.Trigger) string {
	if t.CloneURL != "" {
		return t.CloneURL
	}
	if t.Repository != "" {
		return "https://github.com/" + t.Repository + ".git"
	}
	return ""
}

// gitEnv returns the credential environment for url. The token itself is
// passed through the environment, never written into the helper script.
func (c *Checkout) gitEnv(url string) ([]string, func(), error) {
	nop := func() {}
	if isSSHURL(url) {
		if c.SSHKeyFile == "" {
			return nil, nop, nil
		}
		return []string{
			fmt.Sprintf("GIT_SSH_COMMAND=ssh -i %s -o StrictHostKeyChecking=accept-new", c.SSHKeyFile),
		}, nop, nil
	}
	if c.Token == "" {
		return []string{"GIT_TERMINAL_PROMPT=0"}, nop, nil
	}

	script, err := os.CreateTemp(c.TempDir, "nodeship-askpass-*")
	if err != nil {
		return nil, nop, fmt.Errorf("create askpass helper: %w", err)
	}
	fmt.Fprint(script, "#!/bin/sh\necho \"$NODESHIP_GIT_TOKEN\"\n")
	script.Close()
	if err := os.Chmod(script.Name(), 0o700); err != nil {
		os.Remove(script.Name())
		return nil, nop, fmt.Errorf("chmod askpass helper: %w", err)
	}
	return []string{
		"GIT_ASKPASS=" + script.Name(),
		"GIT_TERMINAL_PROMPT=0",
		"NODESHIP_GIT_TOKEN=" + c.Token,
	}, func() { os.Remove(script.Name()) }, nil
}

func isSSHURL(url string) bool {
	return strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")
}

func runGit(ctx context.Context, dir string, env []string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}
