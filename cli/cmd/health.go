package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"nodeship/cli/style"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check health of the API's backing services",
	Aliases: []string{"doctor", "h"},
	RunE:    runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

var serviceNames = map[string]string{
	"postgres": "PostgreSQL",
	"s3":       "Report archive",
}

func runHealth(cmd *cobra.Command, args []string) error {
	h, err := client.Health()
	if err != nil {
		fmt.Println(style.ErrorBox.Render("Cannot reach nodeship API at " + apiURL))
		return err
	}

	fmt.Println(style.Banner.Render("⚡ NODESHIP HEALTH"))
	fmt.Println()

	if len(h.Services) == 0 {
		fmt.Println(style.DimText.Render("  No backing services configured (in-memory mode)"))
	}
	for _, s := range h.Services {
		name := serviceNames[s.Name]
		if name == "" {
			name = s.Name
		}
		label := style.Succeeded.Render("up")
		if s.Status != "up" {
			label = style.Failed.Render(s.Status)
			if s.Details != "" {
				label += "  " + style.DimText.Render(s.Details)
			}
		}
		fmt.Printf("  %s  %-16s %s\n", style.Dot(s.Status), style.Bold.Render(name), label)
	}
	fmt.Printf("\n  %s %d\n", style.Key.Render("Watchers"), h.Subscribers)

	if h.Status == "healthy" {
		fmt.Println(style.SuccessBox.Render("All services healthy"))
	} else {
		fmt.Println(style.ErrorBox.Render("Some services are down"))
	}
	return nil
}
