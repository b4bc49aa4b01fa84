package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"nodeship/api/runtime"
)

var (
	manageService string
	manageImage   string
	manageTimeout time.Duration
)

var manageCmd = &cobra.Command{
	Use:   "manage <command> [args...]",
	Short: "Run a backend management command (migrate, createsuperuser, ...)",
	Example: `  nodeship manage migrate
  nodeship manage generate_blockchain --path /var/lib/blockchain`,
	Args:               cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, log, err := localConfig()
		if err != nil {
			return err
		}
		topo, err := localTopology()
		if err != nil {
			return err
		}
		res, err := runtime.Manage(cmd.Context(), runtime.NewDockerRunner(log.Named("runtime")), topo, manageService, manageImage, args, manageTimeout)
		if res != nil {
			fmt.Print(res.Output)
		}
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			fmt.Fprintf(os.Stderr, "exit status %d\n", res.ExitCode)
			return fmt.Errorf("management command failed")
		}
		return nil
	},
}

func init() {
	manageCmd.Flags().StringVar(&manageService, "service", "node", "service whose image and volumes to use")
	manageCmd.Flags().StringVar(&manageImage, "image", "", "override the service image")
	manageCmd.Flags().DurationVar(&manageTimeout, "timeout", 10*time.Minute, "command timeout")
	manageCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(manageCmd)
}
