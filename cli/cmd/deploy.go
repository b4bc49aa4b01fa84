package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nodeship/api/assembly"
	"nodeship/api/deployer"
	"nodeship/cli/style"
)

var deployActor string

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Run only the remote deployment script against the configured target",
	Long: `Deploy skips verification and publishing and runs the pinned deployment
script on the target host, as the deploy stage would. The target must be
enabled (NODESHIP_DEPLOY_ENABLED and NODESHIP_DEPLOY_HOST).`,
	Args: cobra.NoArgs,
	RunE: deployOnly,
}

func init() {
	deployCmd.Flags().StringVar(&deployActor, "actor", os.Getenv("USER"), "actor passed to the script")
	rootCmd.AddCommand(deployCmd)
}

func deployOnly(cmd *cobra.Command, args []string) error {
	cfg, log, err := localConfig()
	if err != nil {
		return err
	}
	target := cfg.DeployTarget()
	if !target.Enabled {
		return deployer.ErrGateClosed
	}
	store := assembly.Secrets(cfg)
	credential, err := store.Get(cmd.Context(), cfg.DeployCredential)
	if err != nil {
		return fmt.Errorf("deploy credential: %w", err)
	}

	exec := &deployer.Executor{
		Script: deployer.ScriptSource{
			BaseURL: cfg.ScriptBaseURL,
			Ref:     cfg.ScriptRef,
			Path:    cfg.ScriptPath,
			SHA256:  cfg.ScriptSHA256,
		},
		Secrets: store,
		Dialer:  &deployer.SSHDialer{Log: log.Named("ssh")},
		Log:     log.Named("deployer"),
	}
	out, err := exec.Deploy(cmd.Context(), target, deployActor, credential)
	fmt.Print(out)
	if err != nil {
		fmt.Println(style.ErrorBox.Render("✗ " + err.Error()))
		return err
	}
	fmt.Println(style.SuccessBox.Render("✓ Deployed to " + cfg.DeployHost))
	return nil
}
