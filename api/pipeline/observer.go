package pipeline

import (
	"context"
	"fmt"

	"nodeship/api/hub"
	"nodeship/api/model"
	"nodeship/api/saga"
)

// Observer is told about every state change of a release. Errors are
// logged by the pipeline and never change the outcome.
type Observer interface {
	RunStarted(ctx context.Context, rel *model.Release) error
	StageStarted(ctx context.Context, rel *model.Release, stage string) error
	StageFinished(ctx context.Context, rel *model.Release, log model.StageLog) error
	RunFinished(ctx context.Context, rel *model.Release) error
}

// NopObserver can be embedded to implement only some callbacks.
type NopObserver struct{}

func (NopObserver) RunStarted(context.Context, *model.Release) error { return nil }
func (NopObserver) StageStarted(context.Context, *model.Release, string) error { return nil }
func (NopObserver) StageFinished(context.Context, *model.Release, model.StageLog) error { return nil }
func (NopObserver) RunFinished(context.Context, *model.Release) error { return nil }

func observerName(o Observer) string {
	if n, ok := o.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", o)
}

// HubObserver broadcasts stage events to websocket subscribers.
type HubObserver struct {
	Hub *hub.Hub
}

func (h *HubObserver) Name() string { return "hub" }

func (h *HubObserver) RunStarted(_ context.Context, rel *model.Release) error {
	h.Hub.Broadcast(hub.Event{Type: hub.EventReleaseStarted, ReleaseID: rel.ID, Payload: rel})
	return nil
}

func (h *HubObserver) StageStarted(_ context.Context, rel *model.Release, stage string) error {
	h.Hub.Broadcast(hub.Event{Type: hub.EventStageStarted, ReleaseID: rel.ID, Stage: stage})
	return nil
}

func (h *HubObserver) StageFinished(_ context.Context, rel *model.Release, log model.StageLog) error {
	h.Hub.Broadcast(hub.Event{Type: hub.EventStageFinished, ReleaseID: rel.ID, Stage: log.Stage, Payload: log})
	return nil
}

func (h *HubObserver) RunFinished(_ context.Context, rel *model.Release) error {
	h.Hub.Broadcast(hub.Event{Type: hub.EventReleaseFinished, ReleaseID: rel.ID, Payload: rel})
	return nil
}

// SagaObserver appends every stage transition to the event log.
type SagaObserver struct {
	Store  saga.Store
	Source string
}

func (s *SagaObserver) Name() string { return "saga" }

func (s *SagaObserver) saga(rel *model.Release) *saga.Saga {
	return saga.New(s.Store, rel.ID, rel.Trigger.Ref, s.Source, "release")
}

func (s *SagaObserver) RunStarted(ctx context.Context, rel *model.Release) error {
	return s.saga(rel).Log(ctx, "release.start", "release started for "+rel.Trigger.Ref, map[string]string{
		"sha":   rel.Trigger.SHA,
		"actor": rel.Trigger.Actor,
		"tag":   rel.ImageTag,
	})
}

func (s *SagaObserver) StageStarted(ctx context.Context, rel *model.Release, stage string) error {
	return s.saga(rel).StepStart(ctx, stage)
}

func (s *SagaObserver) StageFinished(ctx context.Context, rel *model.Release, log model.StageLog) error {
	sg := s.saga(rel)
	switch log.Status {
	case model.StageSucceeded:
		return sg.StepComplete(ctx, log.Stage, log.DurationMs)
	case model.StageFailed:
		return sg.StepFailed(ctx, log.Stage, fmt.Errorf("%s", log.Error))
	case model.StageSkipped:
		return sg.StepSkipped(ctx, log.Stage, log.Output)
	case model.StageBlocked:
		return sg.StepBlocked(ctx, log.Stage, rel.FailedStage)
	}
	return nil
}

func (s *SagaObserver) RunFinished(ctx context.Context, rel *model.Release) error {
	msg := "release " + string(rel.Status)
	if rel.Error != "" {
		msg += ": " + rel.Error
	}
	return s.saga(rel).Log(ctx, "release.finish", msg, map[string]string{"status": string(rel.Status)})
}
