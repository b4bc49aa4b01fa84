package deployer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeship/api/model"
	"nodeship/api/secrets"
)

type fakeSession struct {
	cmds   []string
	exits  map[string]int // command prefix -> exit code
	closed bool
}

func (s *fakeSession) Run(_ context.Context, cmd string) (string, int, error) {
	s.cmds = append(s.cmds, cmd)
	if cmd == "mktemp" {
		return "/tmp/tmp.abc123\n", 0, nil
	}
	for prefix, code := range s.exits {
		if strings.HasPrefix(cmd, prefix) {
			return "failed: " + prefix + "\n", code, nil
		}
	}
	return "ok\n", 0, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeDialer struct {
	sess    *fakeSession
	err     error
	keyFile string
	keyMode os.FileMode
	dirMode os.FileMode
	key     string
}

func (d *fakeDialer) Dial(_ context.Context, _ model.DeployTarget, keyFile string) (Session, error) {
	d.keyFile = keyFile
	if info, err := os.Stat(keyFile); err == nil {
		d.keyMode = info.Mode().Perm()
	}
	if info, err := os.Stat(filepath.Dir(keyFile)); err == nil {
		d.dirMode = info.Mode().Perm()
	}
	b, _ := os.ReadFile(keyFile)
	d.key = string(b)
	if d.err != nil {
		return nil, d.err
	}
	return d.sess, nil
}

var enabledTarget = model.DeployTarget{Host: "node.example.com", User: "deploy", KeyRef: "DEPLOY_SSH_KEY", Enabled: true}

func newExecutor(t *testing.T, d Dialer, script ScriptSource) *Executor {
	return &Executor{
		Script:  script,
		Secrets: secrets.MapStore{"DEPLOY_SSH_KEY": "PRIVATE KEY"},
		Dialer:  d,
		TempDir: t.TempDir(),
	}
}

var pinned = ScriptSource{BaseURL: "https://raw.githubusercontent.com/tnb/node/", Ref: "v1.2.0", Path: "/scripts/deploy.sh"}

func TestDeploySequence(t *testing.T) {
	sess := &fakeSession{}
	d := &fakeDialer{sess: sess}
	e := newExecutor(t, d, pinned)

	_, err := e.Deploy(context.Background(), enabledTarget, "octocat", "hunter2")
	require.NoError(t, err)

	require.Len(t, sess.cmds, 4)
	assert.Equal(t, "mktemp", sess.cmds[0])
	assert.Equal(t, "'curl' '-fsSL' 'https://raw.githubusercontent.com/tnb/node/v1.2.0/scripts/deploy.sh' '-o' '/tmp/tmp.abc123'", sess.cmds[1])
	assert.Equal(t, "'bash' '/tmp/tmp.abc123' 'octocat' 'hunter2'", sess.cmds[2])
	assert.Equal(t, "'rm' '-f' '/tmp/tmp.abc123'", sess.cmds[3])
	assert.True(t, sess.closed)
}

func TestDeployKeyFileLifecycle(t *testing.T) {
	d := &fakeDialer{sess: &fakeSession{}}
	e := newExecutor(t, d, pinned)

	_, err := e.Deploy(context.Background(), enabledTarget, "octocat", "pw")
	require.NoError(t, err)

	assert.Equal(t, os.FileMode(0o600), d.keyMode)
	assert.Equal(t, os.FileMode(0o700), d.dirMode)
	assert.Equal(t, "PRIVATE KEY\n", d.key)

	_, err = os.Stat(d.keyFile)
	assert.True(t, os.IsNotExist(err), "key file removed after session")
	_, err = os.Stat(filepath.Dir(d.keyFile))
	assert.True(t, os.IsNotExist(err), "key dir removed after session")
}

func TestDeployGateClosed(t *testing.T) {
	d := &fakeDialer{sess: &fakeSession{}}
	e := newExecutor(t, d, pinned)

	_, err := e.Deploy(context.Background(), model.DeployTarget{Host: "h"}, "octocat", "pw")
	assert.ErrorIs(t, err, ErrGateClosed)
	assert.Empty(t, d.keyFile, "no side effects when gate is closed")
}

func TestDeployConnectFailureRemovesKey(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	e := newExecutor(t, d, pinned)

	_, err := e.Deploy(context.Background(), enabledTarget, "octocat", "pw")
	assert.ErrorIs(t, err, ErrConnect)
	_, statErr := os.Stat(d.keyFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeployScriptFetchFailure(t *testing.T) {
	sess := &fakeSession{exits: map[string]int{"'curl'": 22}}
	e := newExecutor(t, &fakeDialer{sess: sess}, pinned)

	_, err := e.Deploy(context.Background(), enabledTarget, "octocat", "pw")
	assert.ErrorIs(t, err, ErrScriptFetch)
	for _, c := range sess.cmds {
		assert.False(t, strings.HasPrefix(c, "'bash'"), "script must not run after fetch failure")
	}
	assert.Equal(t, "'rm' '-f' '/tmp/tmp.abc123'", sess.cmds[len(sess.cmds)-1])
}

func TestDeployChecksum(t *testing.T) {
	script := pinned
	script.SHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	sess := &fakeSession{exits: map[string]int{"printf": 1}}
	e := newExecutor(t, &fakeDialer{sess: sess}, script)

	_, err := e.Deploy(context.Background(), enabledTarget, "octocat", "pw")
	assert.ErrorIs(t, err, ErrChecksum)
	assert.Contains(t, sess.cmds[2], "sha256sum -c -")
	assert.Contains(t, sess.cmds[2], script.SHA256)
}

func TestDeployScriptExitCode(t *testing.T) {
	sess := &fakeSession{exits: map[string]int{"'bash'": 7}}
	e := newExecutor(t, &fakeDialer{sess: sess}, pinned)

	out, err := e.Deploy(context.Background(), enabledTarget, "octocat", "pw")
	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 7, se.ExitCode)
	assert.Contains(t, out, "failed: 'bash'")
}

func TestDeployMissingKey(t *testing.T) {
	d := &fakeDialer{sess: &fakeSession{}}
	e := newExecutor(t, d, pinned)
	e.Secrets = secrets.MapStore{}

	_, err := e.Deploy(context.Background(), enabledTarget, "octocat", "pw")
	assert.ErrorIs(t, err, secrets.ErrSecretNotFound)
	assert.Empty(t, d.keyFile)
}

func TestScriptSource(t *testing.T) {
	assert.False(t, pinned.Moving())
	for _, ref := range []string{"master", "main", "latest", "HEAD", ""} {
		assert.True(t, ScriptSource{Ref: ref}.Moving(), ref)
	}
	assert.Equal(t, "https://x/HEAD/deploy.sh", ScriptSource{BaseURL: "https://x", Path: "deploy.sh"}.URL())
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, quote("it's"))
	assert.Equal(t, `'$(rm -rf /)'`, quote("$(rm -rf /)"))
	assert.Equal(t, `'a' 'b c'`, command("a", "b c"))
}
