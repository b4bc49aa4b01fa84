package model

import "time"

type ReleaseStatus string

const (
	ReleaseQueued    ReleaseStatus = "queued"
	ReleaseRunning   ReleaseStatus = "running"
	ReleaseSucceeded ReleaseStatus = "succeeded"
	ReleaseFailed    ReleaseStatus = "failed"
)

type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped" // gate closed, not an error
	StageBlocked   StageStatus = "blocked" // never started because an earlier stage failed
)

// Done reports whether the stage reached an outcome that lets dependents run.
func (s StageStatus) Done() bool {
	return s == StageSucceeded || s == StageSkipped
}

// Release is the persisted record of one pipeline run.
type Release struct {
	ID          string        `json:"id" db:"id"`
	Trigger     Trigger       `json:"trigger" db:"trigger"`
	ImageTag    string        `json:"imageTag,omitempty" db:"image_tag"`
	Images      []Image       `json:"images,omitempty" db:"images"`
	Status      ReleaseStatus `json:"status" db:"status"`
	Stages      []StageLog    `json:"stages" db:"stages"`
	FailedStage string        `json:"failedStage,omitempty" db:"failed_stage"`
	Error       string        `json:"error,omitempty" db:"error"`
	StartedAt   time.Time     `json:"startedAt" db:"started_at"`
	FinishedAt  *time.Time    `json:"finishedAt,omitempty" db:"finished_at"`
}

type StageLog struct {
	Stage      string      `json:"stage"`
	Status     StageStatus `json:"status"`
	Kind       string      `json:"kind,omitempty"` // failure classification when failed
	DurationMs int64       `json:"durationMs,omitempty"`
	Output     string      `json:"output,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Stage returns the log entry for the named stage, if recorded.
func (r *Release) Stage(name string) (StageLog, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageLog{}, false
}
