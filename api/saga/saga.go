package saga

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	ActionStart    = "step.start"
	ActionComplete = "step.complete"
	ActionFailed   = "step.failed"
	ActionSkipped  = "step.skipped"
	ActionBlocked  = "step.blocked"
)

type Event struct {
	ID        string            `json:"id"`
	SagaID    string            `json:"sagaId"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Subject   string            `json:"subject"`  // project or ref the saga acts on
	Category  string            `json:"category"` // release, deploy, topology
	Action    string            `json:"action"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Store is an append-only event log.
type Store interface {
	Append(ctx context.Context, evt *Event) error
	ListBySaga(ctx context.Context, sagaID string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Saga logs the structured events of one operation under a shared ID.
type Saga struct {
	ID       string
	Subject  string
	Source   string
	Category string
	store    Store
}

// New starts a saga. An empty id gets a fresh UUID.
func New(store Store, id, subject, source, category string) *Saga {
	if id == "" {
		id = uuid.New().String()
	}
	return &Saga{
		ID:       id,
		Subject:  subject,
		Source:   source,
		Category: category,
		store:    store,
	}
}

func (s *Saga) Log(ctx context.Context, action, message string, metadata map[string]string) error {
	evt := &Event{
		ID:        uuid.New().String(),
		SagaID:    s.ID,
		Timestamp: time.Now(),
		Source:    s.Source,
		Subject:   s.Subject,
		Category:  s.Category,
		Action:    action,
		Message:   message,
		Metadata:  metadata,
	}
	return s.store.Append(ctx, evt)
}

func (s *Saga) StepStart(ctx context.Context, step string) error {
	return s.Log(ctx, ActionStart, step+" started", map[string]string{"step": step})
}

func (s *Saga) StepComplete(ctx context.Context, step string, durationMs int64) error {
	return s.Log(ctx, ActionComplete, step+" completed", map[string]string{
		"step":       step,
		"durationMs": strconv.FormatInt(durationMs, 10),
	})
}

func (s *Saga) StepFailed(ctx context.Context, step string, err error) error {
	return s.Log(ctx, ActionFailed, step+" failed: "+err.Error(), map[string]string{
		"step":  step,
		"error": err.Error(),
	})
}

// StepSkipped records a closed gate. It is an outcome, not a failure.
func (s *Saga) StepSkipped(ctx context.Context, step, reason string) error {
	return s.Log(ctx, ActionSkipped, step+" skipped: "+reason, map[string]string{"step": step})
}

func (s *Saga) StepBlocked(ctx context.Context, step, failed string) error {
	return s.Log(ctx, ActionBlocked, step+" blocked by "+failed, map[string]string{
		"step":      step,
		"blockedBy": failed,
	})
}
