package pipeline

import (
	"context"
	"errors"
	"fmt"

	"nodeship/api/image"
	"nodeship/api/model"
	"nodeship/api/secrets"
	"nodeship/api/verify"
)

// Deployer runs the remote deployment for an enabled target.
type Deployer interface {
	Deploy(ctx context.Context, target model.DeployTarget, actor, credential string) (string, error)
}

// Deps are the collaborators of the canonical release chain.
type Deps struct {
	Checkout      *Checkout // nil requires Options.WorkDir
	Verify        *verify.Runner
	Publisher     image.Publisher
	Backend       image.Target
	Proxy         image.Target
	Deployer      Deployer
	Secrets       secrets.Store
	CredentialKey string // secret passed to the deployment script
}

// DefaultStages builds verify, publish-backend-image, publish-proxy-image and
// the gated deploy stage, each depending on the one before.
func DefaultStages(d Deps) []Stage {
	return []Stage{
		{
			Name:   StageVerify,
			Kind:   KindVerification,
			Action: d.verify,
		},
		{
			Name:   StagePublishBackend,
			Needs:  []string{StageVerify},
			Kind:   KindBuild,
			Action: d.publish(d.Backend),
		},
		{
			Name:   StagePublishProxy,
			Needs:  []string{StagePublishBackend},
			Kind:   KindBuild,
			Action: d.publish(d.Proxy),
		},
		{
			Name:   StageDeploy,
			Needs:  []string{StagePublishProxy},
			Kind:   KindRemoteExecution,
			Gate:   DeployEnabled,
			Action: d.deploy,
		},
	}
}

// DeployEnabled is the deploy gate: the target's enablement flag as
// supplied when the run was triggered.
func DeployEnabled(_ context.Context, run *Run) bool {
	return run.Options.Deploy.Enabled
}

func (d Deps) verify(ctx context.Context, run *Run) (Output, error) {
	var out Output
	workDir := run.WorkDir
	if workDir == "" {
		if d.Checkout == nil {
			return out, errors.New("no workspace and no checkout configured")
		}
		dir, commit, cleanup, err := d.Checkout.Clone(ctx, run.Trigger)
		if err != nil {
			return out, fmt.Errorf("checkout: %w", err)
		}
		run.Defer(cleanup)
		workDir = dir
		out.WorkDir = dir
		out.Commit = commit
	}

	if d.Verify == nil {
		return out, errors.New("no verify runner configured")
	}
	report, err := d.Verify.Run(ctx, workDir, run.ID)
	if report != nil {
		out.Log = report.Output()
	}
	return out, err
}

func (d Deps) publish(t image.Target) Action {
	return func(ctx context.Context, run *Run) (Output, error) {
		if d.Publisher == nil {
			return Output{}, errors.New("no image publisher configured")
		}
		img, err := d.Publisher.Publish(ctx, run.WorkDir, t, run.Tag)
		if err != nil {
			return Output{}, err
		}
		return Output{Log: "pushed " + img.Ref(), Images: []model.Image{img}}, nil
	}
}

func (d Deps) deploy(ctx context.Context, run *Run) (Output, error) {
	if d.Deployer == nil {
		return Output{}, errors.New("no deployer configured")
	}
	var credential string
	if d.CredentialKey != "" && d.Secrets != nil {
		v, err := d.Secrets.Get(ctx, d.CredentialKey)
		if err != nil {
			return Output{}, fmt.Errorf("deploy credential: %w", err)
		}
		credential = v
	}
	log, err := d.Deployer.Deploy(ctx, run.Options.Deploy, run.Trigger.Actor, credential)
	return Output{Log: log}, err
}
