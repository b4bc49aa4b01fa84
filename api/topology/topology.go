package topology

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"nodeship/api/dag"
)

var (
	ErrUnknownService     = errors.New("unknown service")
	ErrUnknownVolume      = errors.New("unknown volume")
	ErrWriterConflict     = errors.New("volume writer conflict")
	ErrReaderNotDependent = errors.New("volume reader does not depend on writer")
	ErrUndeclaredMount    = errors.New("service mounts volume without a declared role")
	ErrSharedNotPersisted = errors.New("shared volume must be persistent")
	ErrCycle              = dag.ErrCycle
)

// Topology declares the services of one deployment and the volumes they share.
type Topology struct {
	Project  string       `yaml:"project"`
	Network  string       `yaml:"network,omitempty"`
	Volumes  []VolumeSpec `yaml:"volumes"`
	Services []Service    `yaml:"services"`
}

// VolumeSpec names the single service allowed to write a volume and the
// services that may read it.
type VolumeSpec struct {
	Name       string   `yaml:"name"`
	Persistent bool     `yaml:"persistent,omitempty"`
	Writer     string   `yaml:"writer"`
	Readers    []string `yaml:"readers,omitempty"`
}

type Service struct {
	Name        string            `yaml:"name"`
	Image       string            `yaml:"image"`
	Env         map[string]string `yaml:"env,omitempty"`
	Command     []string          `yaml:"command,omitempty"`
	DependsOn   []string          `yaml:"dependsOn,omitempty"`
	Ports       []Port            `yaml:"ports,omitempty"`
	Mounts      []Mount           `yaml:"mounts,omitempty"`
	Aliases     []string          `yaml:"aliases,omitempty"`
	Healthcheck *Healthcheck      `yaml:"healthcheck,omitempty"`
}

type Port struct {
	Host      int    `yaml:"host"`
	Container int    `yaml:"container"`
	HostIP    string `yaml:"hostIP,omitempty"`
}

type Mount struct {
	Volume   string `yaml:"volume"`
	Path     string `yaml:"path"`
	ReadOnly bool   `yaml:"readOnly,omitempty"`
}

// Healthcheck is polled after a deploy. Start order never waits on it.
type Healthcheck struct {
	Path string `yaml:"path"`
	Port int    `yaml:"port"` // published host port
}

func Parse(data []byte) (*Topology, error) {
	var t Topology
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}
	if t.Network == "" && t.Project != "" {
		t.Network = t.Project + "_default"
	}
	return &t, nil
}

func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	return Parse(data)
}

func (t *Topology) Marshal() ([]byte, error) {
	return yaml.Marshal(t)
}

func (t *Topology) Service(name string) (Service, bool) {
	for _, s := range t.Services {
		if s.Name == name {
			return s, true
		}
	}
	return Service{}, false
}

func (t *Topology) deps() map[string][]string {
	deps := make(map[string][]string, len(t.Services))
	for _, s := range t.Services {
		deps[s.Name] = s.DependsOn
	}
	return deps
}

// Order returns service names with every service after its dependencies.
func (t *Topology) Order() ([]string, error) {
	names := make([]string, len(t.Services))
	for i, s := range t.Services {
		names[i] = s.Name
	}
	return dag.Sort(names, t.deps())
}

// Validate reports every problem in the declaration, joined.
func (t *Topology) Validate() error {
	var errs []error
	if t.Project == "" {
		errs = append(errs, errors.New("project is required"))
	}

	services := map[string]bool{}
	for _, s := range t.Services {
		if s.Name == "" {
			errs = append(errs, errors.New("service without a name"))
			continue
		}
		if s.Image == "" {
			errs = append(errs, fmt.Errorf("service %s: image is required", s.Name))
		}
		services[s.Name] = true
	}
	for _, s := range t.Services {
		for _, d := range s.DependsOn {
			if !services[d] {
				errs = append(errs, fmt.Errorf("service %s depends on %q: %w", s.Name, d, ErrUnknownService))
			}
		}
	}
	if len(errs) == 0 {
		if _, err := t.Order(); err != nil {
			errs = append(errs, err)
		}
	}

	volumes := map[string]VolumeSpec{}
	for _, v := range t.Volumes {
		if _, dup := volumes[v.Name]; dup {
			errs = append(errs, fmt.Errorf("volume %s declared twice", v.Name))
			continue
		}
		volumes[v.Name] = v
		if len(v.Readers) > 0 && !v.Persistent {
			errs = append(errs, fmt.Errorf("volume %s: %w", v.Name, ErrSharedNotPersisted))
		}
		if !services[v.Writer] {
			errs = append(errs, fmt.Errorf("volume %s writer %q: %w", v.Name, v.Writer, ErrUnknownService))
		}
		for _, r := range v.Readers {
			if !services[r] {
				errs = append(errs, fmt.Errorf("volume %s reader %q: %w", v.Name, r, ErrUnknownService))
				continue
			}
			if r == v.Writer {
				errs = append(errs, fmt.Errorf("volume %s: %s is both writer and reader: %w", v.Name, r, ErrWriterConflict))
				continue
			}
			if !dag.DependsOn(t.deps(), r, v.Writer) {
				errs = append(errs, fmt.Errorf("volume %s: %s must depend on %s: %w", v.Name, r, v.Writer, ErrReaderNotDependent))
			}
		}
	}

	for _, s := range t.Services {
		for _, m := range s.Mounts {
			v, ok := volumes[m.Volume]
			if !ok {
				errs = append(errs, fmt.Errorf("service %s mounts %q: %w", s.Name, m.Volume, ErrUnknownVolume))
				continue
			}
			if !strings.HasPrefix(m.Path, "/") {
				errs = append(errs, fmt.Errorf("service %s mounts %s at relative path %q", s.Name, m.Volume, m.Path))
			}
			h := newHandle(v)
			switch {
			case h.CanWrite(s.Name):
				if m.ReadOnly {
					errs = append(errs, fmt.Errorf("service %s writes %s but mounts it read-only: %w", s.Name, v.Name, ErrWriterConflict))
				}
			case h.CanRead(s.Name):
				if !m.ReadOnly {
					errs = append(errs, fmt.Errorf("service %s mounts %s read-write but is only a reader: %w", s.Name, v.Name, ErrWriterConflict))
				}
			default:
				errs = append(errs, fmt.Errorf("service %s, volume %s: %w", s.Name, v.Name, ErrUndeclaredMount))
			}
		}
	}
	return errors.Join(errs...)
}

// VolumeHandle is the typed view of a shared volume: one writer, many readers.
type VolumeHandle struct {
	name       string
	writer     string
	readers    map[string]bool
	persistent bool
}

func newHandle(v VolumeSpec) VolumeHandle {
	h := VolumeHandle{name: v.Name, writer: v.Writer, persistent: v.Persistent, readers: map[string]bool{}}
	for _, r := range v.Readers {
		h.readers[r] = true
	}
	return h
}

func (h VolumeHandle) Name() string { return h.name }
func (h VolumeHandle) Writer() string { return h.writer }
func (h VolumeHandle) Persistent() bool { return h.persistent }
func (h VolumeHandle) CanWrite(svc string) bool { return svc == h.writer }

// CanRead is true for the writer and every declared reader.
func (h VolumeHandle) CanRead(svc string) bool {
	return svc == h.writer || h.readers[svc]
}

// Handles returns handles for every declared volume.
func (t *Topology) Handles() map[string]VolumeHandle {
	out := make(map[string]VolumeHandle, len(t.Volumes))
	for _, v := range t.Volumes {
		out[v.Name] = newHandle(v)
	}
	return out
}

// VolumeName is the engine-level name of a declared volume.
func (t *Topology) VolumeName(volume string) string {
	return t.Project + "_" + volume
}

// ContainerName is the engine-level name of a service container.
func (t *Topology) ContainerName(service string) string {
	return t.Project + "-" + service
}
