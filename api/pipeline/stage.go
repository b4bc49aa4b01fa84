package pipeline

import (
	"context"
	"errors"
	"fmt"

	"nodeship/api/dag"
	"nodeship/api/model"
)

const (
	StageVerify         = "verify"
	StagePublishBackend = "publish-backend-image"
	StagePublishProxy   = "publish-proxy-image"
	StageDeploy         = "deploy"
)

// FailureKind classifies why a stage failed.
type FailureKind string

const (
	KindVerification    FailureKind = "verification"
	KindBuild           FailureKind = "build"
	KindRemoteExecution FailureKind = "remote-execution"
)

var (
	ErrCycle             = dag.ErrCycle
	ErrUnknownDependency = dag.ErrUnknownDependency
	ErrDuplicateStage    = dag.ErrDuplicate
)

// StageError is the error a failed stage halts the pipeline with.
type StageError struct {
	Stage string
	Kind  FailureKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Output is what a stage hands to later stages. It is applied to the Run
// only when the stage succeeds.
type Output struct {
	Log     string
	Images  []model.Image
	WorkDir string
	Commit  string
}

type (
	Gate   func(ctx context.Context, run *Run) bool
	Action func(ctx context.Context, run *Run) (Output, error)
)

type Stage struct {
	Name   string
	Needs  []string
	Gate   Gate // nil means always open
	Action Action
	Kind   FailureKind
}

// Graph is a validated, acyclic set of stages.
type Graph struct {
	stages map[string]Stage
	order  []string
}

func NewGraph(stages ...Stage) (*Graph, error) {
	names := make([]string, 0, len(stages))
	deps := make(map[string][]string, len(stages))
	byName := make(map[string]Stage, len(stages))
	for _, s := range stages {
		if s.Name == "" {
			return nil, errors.New("stage without a name")
		}
		if s.Action == nil {
			return nil, fmt.Errorf("stage %q has no action", s.Name)
		}
		names = append(names, s.Name)
		deps[s.Name] = s.Needs
		byName[s.Name] = s
	}

	order, err := dag.Sort(names, deps)
	if err != nil {
		return nil, err
	}
	return &Graph{stages: byName, order: order}, nil
}

// Order returns stage names so that every stage follows its dependencies.
// Declaration order breaks ties.
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

func (g *Graph) Stage(name string) (Stage, bool) {
	s, ok := g.stages[name]
	return s, ok
}
