package topology

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func defaultTopo() *Topology {
	return Default(Defaults{BackendImage: "reg/node:abc", ProxyImage: "reg/proxy:abc"})
}

func TestDefaultTopologyIsValid(t *testing.T) {
	topo := defaultTopo()
	require.NoError(t, topo.Validate())

	order, err := topo.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"db", "node", "reverse-proxy"}, order)

	vols := topo.Handles()
	bc := vols["blockchain"]
	assert.True(t, bc.CanWrite("node"))
	assert.False(t, bc.CanWrite("reverse-proxy"))
	assert.True(t, bc.CanRead("reverse-proxy"))
	assert.False(t, bc.CanRead("db"))
	assert.True(t, bc.Persistent())
	assert.True(t, vols["nginx-conf.d"].Persistent())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Topology)
		want   error
	}{
		{"unknown dependency", func(t *Topology) { t.Services[1].DependsOn = []string{"redis"} }, ErrUnknownService},
		{"cycle", func(t *Topology) { t.Services[0].DependsOn = []string{"reverse-proxy"} }, ErrCycle},
		{"unknown volume", func(t *Topology) {
			t.Services[0].Mounts = append(t.Services[0].Mounts, Mount{Volume: "cache", Path: "/cache"})
		}, ErrUnknownVolume},
		{"reader mounts read-write", func(t *Topology) { t.Services[2].Mounts[0].ReadOnly = false }, ErrWriterConflict},
		{"writer mounts read-only", func(t *Topology) { t.Services[1].Mounts[0].ReadOnly = true }, ErrWriterConflict},
		{"undeclared mounter", func(t *Topology) {
			t.Services[0].Mounts = append(t.Services[0].Mounts, Mount{Volume: "blockchain", Path: "/bc", ReadOnly: true})
		}, ErrUndeclaredMount},
		{"reader not after writer", func(t *Topology) { t.Services[2].DependsOn = []string{"db"} }, ErrReaderNotDependent},
		{"shared volume not persistent", func(t *Topology) { t.Volumes[2].Persistent = false }, ErrSharedNotPersisted},
		{"second writer", func(t *Topology) {
			t.Volumes[1].Readers = append(t.Volumes[1].Readers, "node")
		}, ErrWriterConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo := defaultTopo()
			tt.mutate(topo)
			err := topo.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	topo := defaultTopo()
	topo.Services[2].Mounts[0].ReadOnly = false
	topo.Services[2].Mounts[1].ReadOnly = false

	err := topo.Validate()
	var joined interface{ Unwrap() []error }
	require.True(t, errors.As(err, &joined))
	assert.Len(t, joined.Unwrap(), 2)
}

func TestTransitiveReaderDependency(t *testing.T) {
	topo := defaultTopo()
	// reverse-proxy -> node -> db: a reader of db's volume depends on it transitively.
	topo.Volumes[0].Readers = []string{"reverse-proxy"}
	topo.Services[2].Mounts = append(topo.Services[2].Mounts, Mount{Volume: "postgresql-data", Path: "/pg", ReadOnly: true})
	assert.NoError(t, topo.Validate())
}

func TestParseAndLoad(t *testing.T) {
	data, err := defaultTopo().Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	topo, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, defaultTopo(), topo)

	_, err = Parse([]byte("project: x\nservicez: []\n"))
	assert.Error(t, err, "unknown fields are rejected")
}

func TestParseDefaultsNetwork(t *testing.T) {
	topo, err := Parse([]byte("project: tnb\nservices:\n  - name: db\n    image: postgres\n"))
	require.NoError(t, err)
	assert.Equal(t, "tnb_default", topo.Network)
}

func TestRenderCompose(t *testing.T) {
	out, err := RenderCompose(defaultTopo())
	require.NoError(t, err)

	var f composeFile
	require.NoError(t, yaml.Unmarshal(out, &f))
	proxy := f.Services["reverse-proxy"]
	assert.Equal(t, []string{"node"}, proxy.DependsOn)
	assert.Contains(t, proxy.Volumes, "blockchain:/var/lib/blockchain:ro")
	assert.Equal(t, []string{"8555:8555"}, proxy.Ports)
	assert.Contains(t, f.Services["node"].Volumes, "blockchain:/var/lib/blockchain")
	assert.Equal(t, "thenewboston-node_blockchain", f.Volumes["blockchain"].Name)
	assert.True(t, strings.Contains(string(out), "restart: always"))

	bad := defaultTopo()
	bad.Services[0].DependsOn = []string{"missing"}
	_, err = RenderCompose(bad)
	assert.Error(t, err)
}

func TestEndpoints(t *testing.T) {
	assert.Equal(t, []string{"http://node.example.com:8555/"}, defaultTopo().Endpoints("node.example.com"))
}

func TestManagerUp(t *testing.T) {
	rt := NewMemoryRuntime()
	m, err := NewManager(defaultTopo(), rt, nil)
	require.NoError(t, err)

	require.NoError(t, m.Up(context.Background()))
	assert.Equal(t, []string{"db", "node", "reverse-proxy"}, rt.Started)
	assert.True(t, rt.Networks["thenewboston-node_default"])
	assert.True(t, rt.Volumes["thenewboston-node_blockchain"])
	for _, s := range m.States() {
		assert.Equal(t, StateStarted, s)
	}

	// Up is idempotent for started services.
	require.NoError(t, m.Up(context.Background()))
	assert.Len(t, rt.Started, 3)
}

func TestManagerStartRequiresDependencies(t *testing.T) {
	rt := NewMemoryRuntime()
	m, err := NewManager(defaultTopo(), rt, nil)
	require.NoError(t, err)

	err = m.Start(context.Background(), "reverse-proxy")
	assert.ErrorIs(t, err, ErrDependencyNotStarted)
	assert.Empty(t, rt.Started)

	require.NoError(t, m.Start(context.Background(), "db"))
	require.NoError(t, m.Start(context.Background(), "node"))
	require.NoError(t, m.Start(context.Background(), "reverse-proxy"))

	assert.ErrorIs(t, m.Start(context.Background(), "redis"), ErrUnknownService)
}

func TestManagerFailureBlocksDependents(t *testing.T) {
	rt := NewMemoryRuntime()
	rt.Fail["node"] = errors.New("image not found")
	m, err := NewManager(defaultTopo(), rt, nil)
	require.NoError(t, err)

	err = m.Up(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image not found")

	states := m.States()
	assert.Equal(t, StateStarted, states["db"])
	assert.Equal(t, StateFailed, states["node"])
	assert.Equal(t, StateBlocked, states["reverse-proxy"])
	assert.Equal(t, []string{"db"}, rt.Started)
}

func TestManagerDown(t *testing.T) {
	topo := defaultTopo()
	topo.Volumes = append(topo.Volumes, VolumeSpec{Name: "scratch", Writer: "db"})
	topo.Services[0].Mounts = append(topo.Services[0].Mounts, Mount{Volume: "scratch", Path: "/scratch"})

	rt := NewMemoryRuntime()
	m, err := NewManager(topo, rt, nil)
	require.NoError(t, err)
	require.NoError(t, m.Up(context.Background()))

	require.NoError(t, m.Down(context.Background()))
	assert.Equal(t, []string{"reverse-proxy", "node", "db"}, rt.Stopped)
	assert.True(t, rt.Volumes["thenewboston-node_blockchain"], "persistent volume kept")
	assert.True(t, rt.Volumes["thenewboston-node_postgresql-data"], "persistent volume kept")
	assert.True(t, rt.Volumes["thenewboston-node_nginx-conf.d"], "config handoff volume kept")
	assert.False(t, rt.Volumes["thenewboston-node_scratch"], "scratch volume removed")
	assert.Equal(t, StateStopped, m.State("db"))
}

func TestNewManagerRejectsInvalid(t *testing.T) {
	topo := defaultTopo()
	topo.Services[0].Image = ""
	_, err := NewManager(topo, NewMemoryRuntime(), nil)
	assert.Error(t, err)
}
