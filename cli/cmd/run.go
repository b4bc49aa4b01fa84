package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"nodeship/api/assembly"
	"nodeship/api/model"
	"nodeship/api/notify"
	"nodeship/api/pipeline"
	"nodeship/api/saga"
	"nodeship/cli/style"
)

var (
	runRef          string
	runSHA          string
	runActor        string
	runWorkDir      string
	runDeploy       bool
	runGitHubStatus bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the release pipeline in this process",
	Long: `Run verifies, publishes and (with --deploy) deploys without the API server.
Inside GitHub Actions the trigger is read from GITHUB_REF, GITHUB_SHA,
GITHUB_ACTOR and GITHUB_REPOSITORY. With --workdir the existing checkout is
used instead of cloning.`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringVar(&runRef, "ref", os.Getenv("GITHUB_REF"), "ref being released")
	runCmd.Flags().StringVar(&runSHA, "sha", os.Getenv("GITHUB_SHA"), "commit being released")
	runCmd.Flags().StringVar(&runActor, "actor", os.Getenv("GITHUB_ACTOR"), "who triggered the release")
	runCmd.Flags().StringVar(&runWorkDir, "workdir", "", "use this checkout instead of cloning")
	runCmd.Flags().BoolVar(&runDeploy, "deploy", false, "deploy when the configured target is enabled")
	runCmd.Flags().BoolVar(&runGitHubStatus, "github-status", false, "post commit statuses with NODESHIP_GITHUB_TOKEN")
	rootCmd.AddCommand(runCmd)
}

// stagePrinter reports stage outcomes as they happen.
type stagePrinter struct {
	pipeline.NopObserver
}

func (stagePrinter) Name() string { return "stdout" }

func (stagePrinter) StageStarted(_ context.Context, _ *model.Release, stage string) error {
	fmt.Printf("  %s %s\n", style.Icon("running"), style.Running.Render(stage))
	return nil
}

func (stagePrinter) StageFinished(_ context.Context, _ *model.Release, log model.StageLog) error {
	line := fmt.Sprintf("  %s %s", style.Icon(string(log.Status)), style.For(string(log.Status)).Render(padRight(log.Stage, 24)))
	if log.DurationMs > 0 {
		line += style.DimText.Render((time.Duration(log.DurationMs) * time.Millisecond).Round(time.Millisecond).String())
	}
	fmt.Println(line)
	if log.Status == model.StageFailed && log.Output != "" {
		fmt.Println(style.DimText.Render(log.Output))
	}
	return nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, log, err := localConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if runRef == "" {
		runRef = "refs/heads/" + cfg.ReleaseBranch
	}
	if runActor == "" {
		runActor = os.Getenv("USER")
	}
	repo := os.Getenv("GITHUB_REPOSITORY")
	if repo == "" {
		repo = cfg.Repository
	}
	event := model.EventManual
	if os.Getenv("GITHUB_EVENT_NAME") == "push" {
		event = model.EventPush
	}
	trigger := model.Trigger{Event: event, Ref: runRef, SHA: runSHA, Actor: runActor, Repository: repo}

	events := saga.NewMemoryStore()
	observers := []pipeline.Observer{
		stagePrinter{},
		&pipeline.SagaObserver{Store: events, Source: "nodeship-cli"},
	}
	if runGitHubStatus && cfg.GitHubToken != "" {
		observers = append(observers, notify.NewGitHubReporter(ctx, cfg.GitHubToken, log.Named("github")))
	}

	stack, err := assembly.Build(ctx, cfg, log, observers...)
	if err != nil {
		return err
	}

	target := cfg.DeployTarget()
	target.Enabled = target.Enabled && runDeploy

	fmt.Println(style.Banner.Render("⚡ NODESHIP RUN") + style.Subtitle.Render("  "+trigger.Ref+" "+shortSHA(trigger.SHA)))
	res := stack.Pipeline.Run(ctx, trigger, pipeline.Options{Deploy: target, WorkDir: runWorkDir})

	fmt.Println()
	fmt.Print((&saga.PlainFormatter{}).Format(mustEvents(events, res.Release.ID)))
	if !res.Succeeded() {
		fmt.Println(style.ErrorBox.Render("✗ " + res.Err.Error()))
		return res.Err
	}
	fmt.Println(style.SuccessBox.Render("✓ Release " + res.Release.ImageTag + " succeeded"))
	return nil
}

func mustEvents(s *saga.MemoryStore, id string) []saga.Event {
	events, _ := s.ListBySaga(context.Background(), id)
	return events
}
