package topology

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"nodeship/api/logging"
)

var ErrDependencyNotStarted = errors.New("dependency not started")

type State string

const (
	StatePending State = "pending"
	StateStarted State = "started"
	StateFailed  State = "failed"
	StateBlocked State = "blocked"
	StateStopped State = "stopped"
)

// Runtime is the container engine the manager drives.
type Runtime interface {
	EnsureNetwork(ctx context.Context, name string, labels map[string]string) error
	EnsureVolume(ctx context.Context, name string, labels map[string]string) error
	RemoveVolume(ctx context.Context, name string) error
	StartService(ctx context.Context, t *Topology, svc Service) error
	StopService(ctx context.Context, t *Topology, svc Service) error
}

// Manager starts services in dependency order. Started means the container
// is running; it says nothing about whether the process inside is ready.
type Manager struct {
	topo  *Topology
	rt    Runtime
	log   *zap.Logger
	order []string

	mu     sync.Mutex
	states map[string]State
}

func NewManager(t *Topology, rt Runtime, log *zap.Logger) (*Manager, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}
	order, err := t.Order()
	if err != nil {
		return nil, err
	}
	states := make(map[string]State, len(order))
	for _, n := range order {
		states[n] = StatePending
	}
	return &Manager{topo: t, rt: rt, log: logging.OrNop(log), order: order, states: states}, nil
}

func (m *Manager) labels() map[string]string {
	return map[string]string{"nodeship.project": m.topo.Project}
}

// Up creates the network and volumes, then starts every service in order.
// The first failure stops the walk and leaves the remaining services blocked.
func (m *Manager) Up(ctx context.Context) error {
	if err := m.rt.EnsureNetwork(ctx, m.topo.Network, m.labels()); err != nil {
		return fmt.Errorf("network %s: %w", m.topo.Network, err)
	}
	for _, v := range m.topo.Volumes {
		labels := m.labels()
		labels["nodeship.volume"] = v.Name
		if err := m.rt.EnsureVolume(ctx, m.topo.VolumeName(v.Name), labels); err != nil {
			return fmt.Errorf("volume %s: %w", v.Name, err)
		}
	}

	for i, name := range m.order {
		if m.State(name) == StateStarted {
			continue
		}
		if err := m.Start(ctx, name); err != nil {
			m.mu.Lock()
			for _, rest := range m.order[i+1:] {
				if m.states[rest] != StateStarted {
					m.states[rest] = StateBlocked
				}
			}
			m.mu.Unlock()
			return err
		}
	}
	return nil
}

// Start starts one service. Every dependency must already be started.
func (m *Manager) Start(ctx context.Context, name string) error {
	svc, ok := m.topo.Service(name)
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownService)
	}

	m.mu.Lock()
	for _, d := range svc.DependsOn {
		if m.states[d] != StateStarted {
			m.mu.Unlock()
			return fmt.Errorf("start %s: %s is %s: %w", name, d, m.states[d], ErrDependencyNotStarted)
		}
	}
	m.mu.Unlock()

	m.log.Info("starting service", zap.String("service", name), zap.String("image", svc.Image))
	if err := m.rt.StartService(ctx, m.topo, svc); err != nil {
		m.setState(name, StateFailed)
		return fmt.Errorf("start %s: %w", name, err)
	}
	m.setState(name, StateStarted)
	return nil
}

// Down stops started services in reverse order and removes volumes that are
// not persistent.
func (m *Manager) Down(ctx context.Context) error {
	var errs []error
	for i := len(m.order) - 1; i >= 0; i-- {
		name := m.order[i]
		svc, _ := m.topo.Service(name)
		if err := m.rt.StopService(ctx, m.topo, svc); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
			continue
		}
		m.setState(name, StateStopped)
	}
	for _, v := range m.topo.Volumes {
		if v.Persistent {
			continue
		}
		if err := m.rt.RemoveVolume(ctx, m.topo.VolumeName(v.Name)); err != nil {
			errs = append(errs, fmt.Errorf("remove volume %s: %w", v.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) State(name string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[name]
}

// States returns a copy of every service state.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out
}

func (m *Manager) Order() []string {
	return append([]string(nil), m.order...)
}

func (m *Manager) setState(name string, s State) {
	m.mu.Lock()
	m.states[name] = s
	m.mu.Unlock()
}
