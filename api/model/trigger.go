package model

import "strings"

const (
	EventPush     = "push"
	EventSchedule = "schedule"
	EventManual   = "manual"
)

// Trigger is the event that instantiates one pipeline run.
type Trigger struct {
	Event      string `json:"event"`
	Ref        string `json:"ref"` // refs/heads/master
	SHA        string `json:"sha,omitempty"`
	Actor      string `json:"actor,omitempty"`
	Repository string `json:"repository,omitempty"` // owner/name
	CloneURL   string `json:"cloneUrl,omitempty"`
}

// Branch returns the branch name for a branch ref, or "" for anything else.
func (t Trigger) Branch() string {
	if strings.HasPrefix(t.Ref, "refs/heads/") {
		return t.Ref[len("refs/heads/"):]
	}
	return ""
}

// ShortSHA returns at most the first 12 characters of the commit SHA.
func (t Trigger) ShortSHA() string {
	return t.SHA[:min(12, len(t.SHA))]
}
