package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"nodeship/api/model"
)

// Releases is the release persistence used by the API and the recorder.
type Releases interface {
	InsertRelease(ctx context.Context, r *model.Release) error
	UpdateRelease(ctx context.Context, r *model.Release) error
	GetRelease(ctx context.Context, id string) (*model.Release, error)
	ListReleases(ctx context.Context, f ReleaseFilter) ([]model.Release, int, error)
}

var (
	_ Releases = (*DB)(nil)
	_ Releases = (*Memory)(nil)
)

// Memory keeps releases in process when no database is configured.
type Memory struct {
	mu       sync.RWMutex
	releases map[string]model.Release
}

func NewMemory() *Memory {
	return &Memory{releases: make(map[string]model.Release)}
}

func (m *Memory) InsertRelease(_ context.Context, r *model.Release) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, exists := m.releases[r.ID]; exists && prev.Status != model.ReleaseQueued {
		return fmt.Errorf("release %s already exists", r.ID)
	}
	m.releases[r.ID] = cloneRelease(r)
	return nil
}

func (m *Memory) UpdateRelease(_ context.Context, r *model.Release) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.releases[r.ID]; !exists {
		return fmt.Errorf("release %s not found", r.ID)
	}
	m.releases[r.ID] = cloneRelease(r)
	return nil
}

func (m *Memory) GetRelease(_ context.Context, id string) (*model.Release, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.releases[id]
	if !ok {
		return nil, nil
	}
	out := cloneRelease(&r)
	return &out, nil
}

func (m *Memory) ListReleases(_ context.Context, f ReleaseFilter) ([]model.Release, int, error) {
	m.mu.RLock()
	var matched []model.Release
	for _, r := range m.releases {
		if f.Ref != "" && r.Trigger.Ref != f.Ref {
			continue
		}
		if f.Status != "" && string(r.Status) != f.Status {
			continue
		}
		matched = append(matched, cloneRelease(&r))
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].StartedAt.After(matched[j].StartedAt) })
	total := len(matched)

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if f.Offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func cloneRelease(r *model.Release) model.Release {
	out := *r
	out.Images = append([]model.Image(nil), r.Images...)
	out.Stages = append([]model.StageLog(nil), r.Stages...)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
