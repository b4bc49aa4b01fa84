package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nodeship/api/image"
	"nodeship/api/logging"
	"nodeship/api/model"
)

// Pipeline runs a stage graph once per trigger.
type Pipeline struct {
	Graph     *Graph
	Observers []Observer
	Metrics   *Metrics
	Log       *zap.Logger

	now func() time.Time
}

func New(g *Graph, log *zap.Logger, observers ...Observer) *Pipeline {
	return &Pipeline{Graph: g, Observers: observers, Log: logging.OrNop(log)}
}

// Run executes every stage in graph order, one at a time. The first failing
// stage fails the release and blocks the rest; nothing already done is undone.
func (p *Pipeline) Run(ctx context.Context, trigger model.Trigger, opts Options) *Result {
	// A started run completes or fails; callers cannot abort it midway.
	ctx = context.WithoutCancel(ctx)
	log := logging.OrNop(p.Log)
	now := p.now
	if now == nil {
		now = time.Now
	}

	id := opts.ReleaseID
	if id == "" {
		id = uuid.New().String()
	}
	run := &Run{
		ID:      id,
		Trigger: trigger,
		Options: opts,
		Tag:     image.TagFor(trigger),
		WorkDir: opts.WorkDir,
	}
	defer run.finish()

	order := p.Graph.Order()
	rel := &model.Release{
		ID:        id,
		Trigger:   trigger,
		ImageTag:  run.Tag,
		Status:    model.ReleaseRunning,
		StartedAt: now(),
	}
	for _, name := range order {
		rel.Stages = append(rel.Stages, model.StageLog{Stage: name, Status: model.StagePending})
	}
	log = log.With(zap.String("release", id), zap.String("ref", trigger.Ref))
	log.Info("release started", zap.String("tag", run.Tag), zap.Bool("deploy", opts.Deploy.Enabled))
	p.notify(ctx, log, func(o Observer) error { return o.RunStarted(ctx, rel) })

	res := &Result{}
	status := make(map[string]model.StageStatus, len(order))
	for i, name := range order {
		stage, _ := p.Graph.Stage(name)
		entry := &rel.Stages[i]

		if res.Err != nil || !depsDone(stage, status) {
			entry.Status = model.StageBlocked
			status[name] = entry.Status
			p.Metrics.observeStage(name, entry.Status, 0)
			p.notify(ctx, log, func(o Observer) error { return o.StageFinished(ctx, rel, *entry) })
			continue
		}

		// The gate is read here and nowhere earlier.
		if stage.Gate != nil && !stage.Gate(ctx, run) {
			entry.Status = model.StageSkipped
			entry.Output = "gate closed"
			status[name] = entry.Status
			log.Info("stage skipped", zap.String("stage", name))
			p.Metrics.observeStage(name, entry.Status, 0)
			p.notify(ctx, log, func(o Observer) error { return o.StageFinished(ctx, rel, *entry) })
			continue
		}

		entry.Status = model.StageRunning
		p.notify(ctx, log, func(o Observer) error { return o.StageStarted(ctx, rel, name) })
		log.Info("stage started", zap.String("stage", name))

		start := now()
		out, err := stage.Action(ctx, run)
		elapsed := now().Sub(start)
		entry.DurationMs = elapsed.Milliseconds()
		entry.Output = out.Log

		if err != nil {
			serr := asStageError(name, stage.Kind, err)
			entry.Status = model.StageFailed
			entry.Kind = string(serr.Kind)
			entry.Error = serr.Err.Error()
			rel.Status = model.ReleaseFailed
			rel.FailedStage = name
			rel.Error = serr.Error()
			res.Err = serr
			log.Error("stage failed", zap.String("stage", name), zap.String("kind", entry.Kind), zap.Error(serr.Err))
		} else {
			entry.Status = model.StageSucceeded
			p.commit(run, rel, out)
			log.Info("stage succeeded", zap.String("stage", name), zap.Duration("took", elapsed))
		}
		status[name] = entry.Status
		p.Metrics.observeStage(name, entry.Status, elapsed)
		p.notify(ctx, log, func(o Observer) error { return o.StageFinished(ctx, rel, *entry) })
	}

	if res.Err == nil {
		rel.Status = model.ReleaseSucceeded
	}
	finished := now()
	rel.FinishedAt = &finished
	p.Metrics.observeRun(rel.Status)
	log.Info("release finished", zap.String("status", string(rel.Status)))
	p.notify(ctx, log, func(o Observer) error { return o.RunFinished(ctx, rel) })

	res.Release = *rel
	return res
}

// commit makes a successful stage's output visible to later stages.
func (p *Pipeline) commit(run *Run, rel *model.Release, out Output) {
	if out.WorkDir != "" {
		run.WorkDir = out.WorkDir
	}
	if out.Commit != "" && run.Trigger.SHA == "" {
		run.Trigger.SHA = out.Commit
		run.Tag = image.TagFor(run.Trigger)
		rel.Trigger = run.Trigger
		rel.ImageTag = run.Tag
	}
	run.images = append(run.images, out.Images...)
	rel.Images = append(rel.Images, out.Images...)
}

func (p *Pipeline) notify(ctx context.Context, log *zap.Logger, fn func(Observer) error) {
	for _, o := range p.Observers {
		if err := fn(o); err != nil {
			log.Warn("observer failed", zap.String("observer", observerName(o)), zap.Error(err))
		}
	}
}

func depsDone(s Stage, status map[string]model.StageStatus) bool {
	for _, d := range s.Needs {
		if !status[d].Done() {
			return false
		}
	}
	return true
}

func asStageError(name string, kind FailureKind, err error) *StageError {
	var serr *StageError
	if errors.As(err, &serr) {
		return serr
	}
	return &StageError{Stage: name, Kind: kind, Err: err}
}
