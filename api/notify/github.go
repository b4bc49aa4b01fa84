package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v55/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"nodeship/api/logging"
	"nodeship/api/model"
	"nodeship/api/pipeline"
)

const contextPrefix = "nodeship/"

// GitHubReporter posts one commit status per stage on the triggering commit.
type GitHubReporter struct {
	pipeline.NopObserver

	client    *github.Client
	TargetURL string // release page; "{id}" is replaced with the release ID
	Log       *zap.Logger
}

func NewGitHubReporter(ctx context.Context, token string, log *zap.Logger) *GitHubReporter {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &GitHubReporter{
		client: github.NewClient(oauth2.NewClient(ctx, ts)),
		Log:    logging.OrNop(log),
	}
}

// WithBaseURL points the client at another API endpoint (GitHub Enterprise, tests).
func (g *GitHubReporter) WithBaseURL(base string) (*GitHubReporter, error) {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	g.client.BaseURL = u
	return g, nil
}

func (g *GitHubReporter) Name() string { return "github" }

func (g *GitHubReporter) RunStarted(ctx context.Context, rel *model.Release) error {
	for _, s := range rel.Stages {
		if err := g.post(ctx, rel, s.Stage, "pending", "queued"); err != nil {
			return err
		}
	}
	return nil
}

func (g *GitHubReporter) StageStarted(ctx context.Context, rel *model.Release, stage string) error {
	return g.post(ctx, rel, stage, "pending", "running")
}

func (g *GitHubReporter) StageFinished(ctx context.Context, rel *model.Release, log model.StageLog) error {
	state, desc := statusFor(rel, log)
	return g.post(ctx, rel, log.Stage, state, desc)
}

// statusFor maps a stage outcome to a commit status. A skipped deploy is a
// success: the gate was closed on purpose.
func statusFor(rel *model.Release, log model.StageLog) (string, string) {
	switch log.Status {
	case model.StageSucceeded:
		return "success", fmt.Sprintf("passed in %ds", log.DurationMs/1000)
	case model.StageSkipped:
		return "success", "skipped"
	case model.StageFailed:
		desc := log.Kind + " failure"
		if log.Error != "" {
			desc += ": " + log.Error
		}
		return "failure", desc
	case model.StageBlocked:
		return "error", "blocked by " + rel.FailedStage
	default:
		return "pending", string(log.Status)
	}
}

func (g *GitHubReporter) post(ctx context.Context, rel *model.Release, stage, state, desc string) error {
	owner, repo, ok := strings.Cut(rel.Trigger.Repository, "/")
	if !ok || rel.Trigger.SHA == "" {
		return nil
	}
	// GitHub rejects descriptions over 140 characters.
	if len(desc) > 140 {
		desc = desc[:137] + "..."
	}
	status := &github.RepoStatus{
		State:       github.String(state),
		Description: github.String(desc),
		Context:     github.String(contextPrefix + stage),
	}
	if g.TargetURL != "" {
		status.TargetURL = github.String(strings.ReplaceAll(g.TargetURL, "{id}", rel.ID))
	}
	if _, _, err := g.client.Repositories.CreateStatus(ctx, owner, repo, rel.Trigger.SHA, status); err != nil {
		return fmt.Errorf("create status %s%s: %w", contextPrefix, stage, err)
	}
	logging.OrNop(g.Log).Debug("commit status posted", zap.String("stage", stage), zap.String("state", state))
	return nil
}

// BranchHead resolves the commit at the tip of branch. It matches the
// scheduler's head lookup signature.
func (g *GitHubReporter) BranchHead(ctx context.Context, repository, branch string) (string, error) {
	owner, repo, ok := strings.Cut(repository, "/")
	if !ok {
		return "", fmt.Errorf("repository %q is not owner/name", repository)
	}
	ref, _, err := g.client.Git.GetRef(ctx, owner, repo, "heads/"+branch)
	if err != nil {
		return "", fmt.Errorf("get ref heads/%s: %w", branch, err)
	}
	return ref.GetObject().GetSHA(), nil
}
