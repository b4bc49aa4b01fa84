package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nodeship/cli/api"
	"nodeship/cli/style"
)

var (
	statusRef    string
	statusFilter string
	statusLimit  int
)

var statusCmd = &cobra.Command{
	Use:     "status [release-id]",
	Short:   "List recent releases or show one release",
	Aliases: []string{"s", "ls", "releases"},
	Args:    cobra.MaximumNArgs(1),
	RunE:    runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusRef, "ref", "", "only releases of this ref")
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "only releases with this status")
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "number of releases")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return showRelease(args[0])
	}
	return listReleases()
}

func listReleases() error {
	list, err := client.ListReleases(api.ReleaseQuery{Ref: statusRef, Status: statusFilter, Limit: statusLimit})
	if err != nil {
		return fmt.Errorf("failed to fetch releases: %w", err)
	}
	if len(list.Releases) == 0 {
		fmt.Println(style.DimText.Render("No releases yet. Push to the release branch or run `nodeship release`."))
		return nil
	}

	fmt.Println(style.Banner.Render("⚡ NODESHIP") + style.Subtitle.Render(fmt.Sprintf("  %d of %d release(s)", len(list.Releases), list.Total)))
	fmt.Println()

	header := fmt.Sprintf("  %-2s  %-10s %-10s %-9s %-14s %-20s %s",
		"", "STATUS", "SHA", "EVENT", "ACTOR", "STARTED", "STAGES")
	fmt.Println(style.TableHeader.Render(header))
	for _, r := range list.Releases {
		printReleaseRow(r)
	}
	fmt.Println()
	return nil
}

func printReleaseRow(r api.Release) {
	fmt.Printf("  %s  %s %s %-9s %-14s %-20s %s\n",
		style.Dot(r.Status),
		style.For(r.Status).Render(padRight(r.Status, 10)),
		style.Commit.Render(padRight(shortSHA(r.Trigger.SHA), 10)),
		r.Trigger.Event,
		padRight(r.Trigger.Actor, 14),
		style.DimText.Render(padRight(r.StartedAt.Local().Format("2006-01-02 15:04"), 20)),
		stageStrip(r.Stages),
	)
}

func showRelease(id string) error {
	r, err := client.GetRelease(id)
	if err != nil {
		return fmt.Errorf("failed to fetch release: %w", err)
	}

	card := style.CardSucceeded
	if r.Status == "failed" {
		card = style.CardFailed
	}

	var b strings.Builder
	b.WriteString(style.Bold.Render(r.ID))
	b.WriteString("  ")
	b.WriteString(style.For(r.Status).Render("● " + r.Status))
	b.WriteString("\n\n")

	kv := func(k, v string) {
		if v == "" {
			return
		}
		b.WriteString(style.Key.Render(k))
		b.WriteString(style.Val.Render(v))
		b.WriteString("\n")
	}
	kv("Ref", r.Trigger.Ref)
	kv("Commit", r.Trigger.SHA)
	kv("Event", r.Trigger.Event)
	kv("Actor", r.Trigger.Actor)
	kv("Tag", r.ImageTag)
	kv("Started", r.StartedAt.Local().Format(time.RFC1123))
	if r.FinishedAt != nil {
		kv("Took", r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String())
	}

	b.WriteString("\n")
	b.WriteString(style.TableHeader.Render("  Stages"))
	b.WriteString("\n")
	for _, s := range r.Stages {
		line := fmt.Sprintf("  %s %s", style.Icon(s.Status), style.For(s.Status).Render(padRight(s.Stage, 24)))
		if s.DurationMs > 0 {
			line += style.DimText.Render(fmt.Sprintf(" %s", (time.Duration(s.DurationMs) * time.Millisecond).Round(time.Millisecond)))
		}
		if s.Error != "" {
			line += "\n      " + style.Failed.Render(s.Kind+": "+s.Error)
		}
		b.WriteString(line + "\n")
	}

	if len(r.Images) > 0 {
		b.WriteString("\n")
		b.WriteString(style.TableHeader.Render("  Images"))
		b.WriteString("\n")
		for _, img := range r.Images {
			b.WriteString(fmt.Sprintf("  %s:%s  %s\n", img.Repository, img.Tag, style.DimText.Render(img.Digest)))
		}
	}

	fmt.Println(card.Render(b.String()))
	return nil
}

func stageStrip(stages []api.StageLog) string {
	statuses := make([]string, len(stages))
	for i, s := range stages {
		statuses[i] = s.Status
	}
	return style.Strip(statuses)
}

func shortSHA(sha string) string {
	if sha == "" {
		return "—"
	}
	return sha[:min(7, len(sha))]
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}
