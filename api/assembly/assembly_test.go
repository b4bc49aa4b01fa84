package assembly

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeship/api/config"
	"nodeship/api/pipeline"
	"nodeship/api/proxy"
	"nodeship/api/secrets"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFile("")
	require.NoError(t, err)
	cfg.RoutingConfig = filepath.Join(t.TempDir(), "node.conf")
	cfg.S3Endpoint = ""
	cfg.WorkDir = t.TempDir()
	return cfg
}

func TestBuildDefaultChain(t *testing.T) {
	cfg := testConfig(t)
	stack, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		pipeline.StageVerify,
		pipeline.StagePublishBackend,
		pipeline.StagePublishProxy,
		pipeline.StageDeploy,
	}, stack.Pipeline.Graph.Order())
	assert.Nil(t, stack.Archive)
	assert.Equal(t, cfg.ProxyListen, stack.Routing.Listen)
	require.NoError(t, stack.Routing.Validate())

	_, ok := stack.Topology.Service("reverse-proxy")
	assert.True(t, ok)
}

func TestRoutingReadsWrittenConfig(t *testing.T) {
	cfg := testConfig(t)
	want := proxy.Config{Listen: 9000, Rules: proxy.DefaultRules("http://node:9000/", "/data", "", "")}
	require.NoError(t, want.WriteFile(cfg.RoutingConfig))

	got, err := Routing(cfg)
	require.NoError(t, err)
	assert.Equal(t, 9000, got.Listen)
	assert.Len(t, got.Rules, len(want.Rules))
}

func TestRoutingRequiresWrittenConfig(t *testing.T) {
	cfg := testConfig(t)

	_, err := Routing(cfg)
	assert.ErrorIs(t, err, proxy.ErrConfigMissing)

	planned, err := PlannedRouting(cfg)
	require.NoError(t, err)
	assert.Equal(t, DefaultRouting(cfg), planned)
}

func TestTopologyRelativeToWorkspace(t *testing.T) {
	cfg := testConfig(t)
	def, err := Topology(cfg, "")
	require.NoError(t, err)
	data, err := def.Marshal()
	require.NoError(t, err)

	cfg.TopologyFile = "deploy/topology.yaml"
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "deploy"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deploy", "topology.yaml"), data, 0o644))

	topo, err := Topology(cfg, dir)
	require.NoError(t, err)
	assert.Equal(t, "thenewboston-node", topo.Project)

	_, err = Topology(cfg, t.TempDir())
	assert.Error(t, err)
}

func TestValidatorRequiresDeploySecrets(t *testing.T) {
	cfg := testConfig(t)
	v := Validator(cfg, secrets.MapStore{})
	assert.Empty(t, v.Required)

	cfg.DeployEnabled = true
	cfg.DeployHost = "node.example.com"
	v = Validator(cfg, secrets.MapStore{})
	assert.ElementsMatch(t, []string{cfg.DeployKeyRef, cfg.DeployCredential}, v.Required)
}
