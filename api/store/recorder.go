package store

import (
	"context"

	"nodeship/api/model"
)

// Recorder persists release progress as a pipeline observer.
type Recorder struct {
	DB Releases
}

func (r *Recorder) Name() string { return "postgres" }

func (r *Recorder) RunStarted(ctx context.Context, rel *model.Release) error {
	return r.DB.InsertRelease(ctx, rel)
}

func (r *Recorder) StageStarted(ctx context.Context, rel *model.Release, _ string) error {
	return r.DB.UpdateRelease(ctx, rel)
}

func (r *Recorder) StageFinished(ctx context.Context, rel *model.Release, _ model.StageLog) error {
	return r.DB.UpdateRelease(ctx, rel)
}

func (r *Recorder) RunFinished(ctx context.Context, rel *model.Release) error {
	return r.DB.UpdateRelease(ctx, rel)
}
