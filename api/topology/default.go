package topology

import (
	"fmt"
	"strconv"
)

type Defaults struct {
	Project      string
	BackendImage string
	ProxyImage   string
	NodePort     int
	ProxyPort    int
	DataDir      string // blockchain directory inside the node and proxy containers
	ConfDir      string // directory holding the routing config written by the node
}

// Default is the node deployment: a database, the node writing the
// blockchain and the routing config, and the reverse proxy reading both.
func Default(d Defaults) *Topology {
	if d.Project == "" {
		d.Project = "thenewboston-node"
	}
	if d.NodePort == 0 {
		d.NodePort = 8555
	}
	if d.ProxyPort == 0 {
		d.ProxyPort = d.NodePort
	}
	if d.DataDir == "" {
		d.DataDir = "/var/lib/blockchain"
	}
	if d.ConfDir == "" {
		d.ConfDir = "/etc/nginx/conf.d"
	}

	return &Topology{
		Project: d.Project,
		Network: d.Project + "_default",
		Volumes: []VolumeSpec{
			{Name: "postgresql-data", Persistent: true, Writer: "db"},
			{Name: "blockchain", Persistent: true, Writer: "node", Readers: []string{"reverse-proxy"}},
			{Name: "nginx-conf.d", Persistent: true, Writer: "node", Readers: []string{"reverse-proxy"}},
		},
		Services: []Service{
			{
				Name:  "db",
				Image: "postgres:13.3-alpine",
				Env: map[string]string{
					"POSTGRES_DB":       "thenewboston_node",
					"POSTGRES_USER":     "thenewboston_node",
					"POSTGRES_PASSWORD": "thenewboston_node",
				},
				Mounts: []Mount{{Volume: "postgresql-data", Path: "/var/lib/postgresql/data"}},
			},
			{
				Name:      "node",
				Image:     d.BackendImage,
				DependsOn: []string{"db"},
				Env: map[string]string{
					"THENEWBOSTON_NODE_DATABASES":      `{"default":{"HOST":"db"}}`,
					"THENEWBOSTON_NODE_NODE_PORT":      strconv.Itoa(d.NodePort),
					"THENEWBOSTON_NODE_BLOCKCHAIN_DIR": d.DataDir,
				},
				Command: []string{"./run.sh"},
				Mounts: []Mount{
					{Volume: "blockchain", Path: d.DataDir},
					{Volume: "nginx-conf.d", Path: d.ConfDir},
				},
			},
			{
				Name:      "reverse-proxy",
				Image:     d.ProxyImage,
				DependsOn: []string{"node"},
				Ports:     []Port{{Host: d.ProxyPort, Container: d.ProxyPort}},
				Mounts: []Mount{
					{Volume: "blockchain", Path: d.DataDir, ReadOnly: true},
					{Volume: "nginx-conf.d", Path: d.ConfDir, ReadOnly: true},
				},
				Healthcheck: &Healthcheck{Path: "/", Port: d.ProxyPort},
			},
		},
	}
}

// Endpoints lists the URLs of every service healthcheck on host.
func (t *Topology) Endpoints(host string) []string {
	var out []string
	for _, s := range t.Services {
		if s.Healthcheck == nil {
			continue
		}
		out = append(out, fmt.Sprintf("http://%s:%d%s", host, s.Healthcheck.Port, s.Healthcheck.Path))
	}
	return out
}
