package pipeline

import "nodeship/api/model"

// Options are fixed when a run is triggered.
type Options struct {
	Deploy    model.DeployTarget
	WorkDir   string // existing checkout; empty clones the triggering ref
	ReleaseID string // empty generates one
}

// Run is the mutable state of one pipeline execution.
type Run struct {
	ID      string
	Trigger model.Trigger
	Options Options
	Tag     string
	WorkDir string

	images  []model.Image
	cleanup []func()
}

func (r *Run) Images() []model.Image {
	return append([]model.Image(nil), r.images...)
}

// Image returns the published image for the named build target.
func (r *Run) Image(name string) (model.Image, bool) {
	for _, img := range r.images {
		if img.Name == name {
			return img, true
		}
	}
	return model.Image{}, false
}

// Defer registers fn to run when the pipeline finishes, whatever the outcome.
func (r *Run) Defer(fn func()) {
	r.cleanup = append(r.cleanup, fn)
}

func (r *Run) finish() {
	for i := len(r.cleanup) - 1; i >= 0; i-- {
		r.cleanup[i]()
	}
	r.cleanup = nil
}

// Result is the outcome of Pipeline.Run.
type Result struct {
	Release model.Release
	Err     error // the failing stage's *StageError
}

func (r *Result) Succeeded() bool {
	return r.Release.Status == model.ReleaseSucceeded
}

// ShouldTrigger accepts only pushes to the release branch.
func ShouldTrigger(t model.Trigger, releaseBranch string) bool {
	return t.Event == model.EventPush && OnReleaseBranch(t.Ref, releaseBranch)
}

// OnReleaseBranch reports whether ref names the release branch.
func OnReleaseBranch(ref, releaseBranch string) bool {
	return ref == "refs/heads/"+releaseBranch
}
