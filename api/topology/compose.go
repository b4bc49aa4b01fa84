package topology

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
	Volumes  map[string]composeVolume  `yaml:"volumes,omitempty"`
	Networks map[string]composeNetwork `yaml:"networks,omitempty"`
}

type composeService struct {
	Image       string                     `yaml:"image"`
	Command     []string                   `yaml:"command,omitempty"`
	Environment map[string]string          `yaml:"environment,omitempty"`
	DependsOn   []string                   `yaml:"depends_on,omitempty"`
	Ports       []string                   `yaml:"ports,omitempty"`
	Volumes     []string                   `yaml:"volumes,omitempty"`
	Networks    map[string]composeEndpoint `yaml:"networks,omitempty"`
	Restart     string                     `yaml:"restart"`
}

type composeEndpoint struct {
	Aliases []string `yaml:"aliases,omitempty"`
}

type composeVolume struct {
	Name string `yaml:"name"`
}

type composeNetwork struct {
	Name string `yaml:"name"`
}

// RenderCompose emits a compose file equivalent to t for the remote host.
// Readers get ":ro" mounts; start order follows depends_on.
func RenderCompose(t *Topology) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	f := composeFile{
		Services: map[string]composeService{},
		Volumes:  map[string]composeVolume{},
		Networks: map[string]composeNetwork{"default": {Name: t.Network}},
	}
	for _, v := range t.Volumes {
		f.Volumes[v.Name] = composeVolume{Name: t.VolumeName(v.Name)}
	}
	for _, s := range t.Services {
		cs := composeService{
			Image:       s.Image,
			Command:     s.Command,
			Environment: s.Env,
			DependsOn:   s.DependsOn,
			Restart:     "always",
		}
		for _, p := range s.Ports {
			if p.Host == 0 {
				continue
			}
			if p.HostIP != "" {
				cs.Ports = append(cs.Ports, fmt.Sprintf("%s:%d:%d", p.HostIP, p.Host, p.Container))
			} else {
				cs.Ports = append(cs.Ports, fmt.Sprintf("%d:%d", p.Host, p.Container))
			}
		}
		for _, m := range s.Mounts {
			spec := m.Volume + ":" + m.Path
			if m.ReadOnly {
				spec += ":ro"
			}
			cs.Volumes = append(cs.Volumes, spec)
		}
		if len(s.Aliases) > 0 {
			cs.Networks = map[string]composeEndpoint{"default": {Aliases: s.Aliases}}
		}
		f.Services[s.Name] = cs
	}
	return yaml.Marshal(f)
}
