package saga

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps events in process, for the CLI and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, evt *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *evt)
	return nil
}

func (m *MemoryStore) ListBySaga(_ context.Context, sagaID string) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if e.SagaID == sagaID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListRecent(_ context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	out := append([]Event(nil), m.events...)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
