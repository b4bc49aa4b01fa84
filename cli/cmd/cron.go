package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"nodeship/cli/style"
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Show or control scheduled releases",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := client.CronState()
		if err != nil {
			return err
		}
		fmt.Printf("  %s %s\n", style.Key.Render("Schedule"), style.Val.Render(s.Schedule))
		if s.Paused {
			fmt.Printf("  %s %s\n", style.Key.Render("State"), style.Warning.Render("paused"))
		} else {
			fmt.Printf("  %s %s\n", style.Key.Render("Next run"), style.Val.Render(s.NextRunAt))
		}
		return nil
	},
}

func cronAction(use, short, done string, fn func() error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := fn(); err != nil {
				return err
			}
			fmt.Println(style.SuccessBox.Render(done))
			return nil
		},
	}
}

func init() {
	cronCmd.AddCommand(
		cronAction("trigger", "Release the branch head now", "Scheduled release triggered", func() error { return client.CronTrigger() }),
		cronAction("pause", "Stop scheduled releases", "Schedule paused", func() error { return client.CronPause() }),
		cronAction("resume", "Resume scheduled releases", "Schedule resumed", func() error { return client.CronResume() }),
		&cobra.Command{
			Use:   "schedule <cron-expr>",
			Short: "Replace the schedule, e.g. \"0 3 * * *\" or \"@daily\"",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := client.CronSchedule(args[0]); err != nil {
					return err
				}
				fmt.Println(style.SuccessBox.Render("Schedule set to " + args[0]))
				return nil
			},
		},
	)
	rootCmd.AddCommand(cronCmd)
}
