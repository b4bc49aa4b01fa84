package deployer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"nodeship/api/logging"
	"nodeship/api/model"
	"nodeship/api/secrets"
)

var (
	ErrGateClosed  = errors.New("deploy target not enabled")
	ErrConnect     = errors.New("connect to deploy target")
	ErrScriptFetch = errors.New("fetch deployment script")
	ErrChecksum    = errors.New("deployment script checksum mismatch")
)

// ScriptError is a non-zero exit of the deployment script itself.
type ScriptError struct {
	ExitCode int
	Output   string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("deployment script exited with status %d", e.ExitCode)
}

// Session runs commands on the remote host.
type Session interface {
	Run(ctx context.Context, cmd string) (output string, exitCode int, err error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, target model.DeployTarget, keyFile string) (Session, error)
}

type Executor struct {
	Script  ScriptSource
	Secrets secrets.Store
	Dialer  Dialer
	TempDir string // parent for the private key directory; empty uses os.TempDir
	Log     *zap.Logger
}

// Deploy fetches the pinned script on the target and runs it with the actor
// and credential as positional arguments. A disabled target returns
// ErrGateClosed before anything is touched. Failures are never retried.
func (e *Executor) Deploy(ctx context.Context, target model.DeployTarget, actor, credential string) (string, error) {
	if !target.Enabled {
		return "", ErrGateClosed
	}
	log := logging.OrNop(e.Log).With(zap.String("target", target.String()))

	if e.Script.Moving() {
		log.Warn("deployment script is not pinned; the run is not reproducible", zap.String("ref", e.Script.Ref))
	}

	key, err := e.Secrets.Get(ctx, target.KeyRef)
	if err != nil {
		return "", fmt.Errorf("load deploy key %s: %w", target.KeyRef, err)
	}

	keyFile, cleanup, err := writeKey(e.TempDir, key)
	if err != nil {
		return "", err
	}
	defer cleanup()

	sess, err := e.Dialer.Dial(ctx, target, keyFile)
	if err != nil {
		return "", fmt.Errorf("%w %s: %v", ErrConnect, target.Addr(), err)
	}
	defer sess.Close()

	var out strings.Builder
	run := func(cmd, redacted string) (string, int, error) {
		log.Info("remote exec", zap.String("cmd", redacted))
		o, code, err := sess.Run(ctx, cmd)
		out.WriteString(o)
		return o, code, err
	}

	tmpOut, code, err := run("mktemp", "mktemp")
	if err != nil || code != 0 {
		return out.String(), fmt.Errorf("%w: mktemp exited %d: %v", ErrScriptFetch, code, err)
	}
	script := strings.TrimSpace(tmpOut)
	if script == "" || strings.ContainsAny(script, "\n'") {
		return out.String(), fmt.Errorf("%w: unexpected mktemp output %q", ErrScriptFetch, tmpOut)
	}
	rm := command("rm", "-f", script)
	defer sess.Run(context.WithoutCancel(ctx), rm)

	url := e.Script.URL()
	fetch := command("curl", "-fsSL", url, "-o", script)
	if _, code, err := run(fetch, fetch); err != nil || code != 0 {
		return out.String(), fmt.Errorf("%w from %s: exit %d: %v", ErrScriptFetch, url, code, err)
	}

	if e.Script.SHA256 != "" {
		check := fmt.Sprintf("printf '%%s  %%s\\n' %s %s | sha256sum -c -", quote(e.Script.SHA256), quote(script))
		if _, code, err := run(check, check); err != nil || code != 0 {
			return out.String(), fmt.Errorf("%w: want %s", ErrChecksum, e.Script.SHA256)
		}
	}

	exec := command("bash", script, actor, credential)
	redacted := command("bash", script, actor, "***")
	_, code, err = run(exec, redacted)
	if err != nil {
		return out.String(), fmt.Errorf("run deployment script: %w", err)
	}
	if code != 0 {
		return out.String(), &ScriptError{ExitCode: code, Output: out.String()}
	}
	log.Info("deployment script finished")
	return out.String(), nil
}

// writeKey stores key in a fresh 0700 directory as a 0600 file. The returned
// cleanup removes both.
func writeKey(parent, key string) (string, func(), error) {
	dir, err := os.MkdirTemp(parent, "nodeship-key-*")
	if err != nil {
		return "", nil, fmt.Errorf("create key dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	if err := os.Chmod(dir, 0o700); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("chmod key dir: %w", err)
	}
	path := filepath.Join(dir, "id_deploy")
	if !strings.HasSuffix(key, "\n") {
		key += "\n"
	}
	if err := os.WriteFile(path, []byte(key), 0o600); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write key: %w", err)
	}
	// WriteFile does not change the mode of an existing file and is subject to umask.
	if err := os.Chmod(path, 0o600); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("chmod key: %w", err)
	}
	return path, cleanup, nil
}
