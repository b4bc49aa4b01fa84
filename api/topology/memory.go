package topology

import (
	"context"
	"sync"
)

// MemoryRuntime records engine calls without touching a container engine.
// Services listed in Fail refuse to start.
type MemoryRuntime struct {
	Fail map[string]error

	mu       sync.Mutex
	Networks map[string]bool
	Volumes  map[string]bool
	Running  map[string]bool
	Started  []string
	Stopped  []string
}

func NewMemoryRuntime() *MemoryRuntime {
	return &MemoryRuntime{
		Fail:     map[string]error{},
		Networks: map[string]bool{},
		Volumes:  map[string]bool{},
		Running:  map[string]bool{},
	}
}

func (r *MemoryRuntime) EnsureNetwork(_ context.Context, name string, _ map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Networks[name] = true
	return nil
}

func (r *MemoryRuntime) EnsureVolume(_ context.Context, name string, _ map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Volumes[name] = true
	return nil
}

func (r *MemoryRuntime) RemoveVolume(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.Volumes, name)
	return nil
}

func (r *MemoryRuntime) StartService(_ context.Context, _ *Topology, svc Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.Fail[svc.Name]; err != nil {
		return err
	}
	r.Running[svc.Name] = true
	r.Started = append(r.Started, svc.Name)
	return nil
}

func (r *MemoryRuntime) StopService(_ context.Context, _ *Topology, svc Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Running[svc.Name] {
		r.Stopped = append(r.Stopped, svc.Name)
	}
	delete(r.Running, svc.Name)
	return nil
}
