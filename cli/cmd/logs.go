package cmd

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"nodeship/cli/style"
)

var logsPlain bool

var logsCmd = &cobra.Command{
	Use:   "logs <release-id>",
	Short: "Page through a release's event log and stage output",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().BoolVar(&logsPlain, "plain", false, "print instead of opening the pager")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	content, err := releaseLogContent(args[0])
	if err != nil {
		return err
	}
	if logsPlain {
		fmt.Print(content)
		return nil
	}
	_, err = tea.NewProgram(logsModel{releaseID: args[0], content: content}, tea.WithAltScreen()).Run()
	return err
}

// releaseLogContent joins the event log with each stage's captured output.
func releaseLogContent(id string) (string, error) {
	events, err := client.ReleaseLog(id)
	if err != nil {
		return "", fmt.Errorf("failed to fetch events: %w", err)
	}
	rel, err := client.GetRelease(id)
	if err != nil {
		return "", fmt.Errorf("failed to fetch release: %w", err)
	}

	var b strings.Builder
	b.WriteString(events)
	for _, s := range rel.Stages {
		if s.Output == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(style.TableHeader.Render("── " + s.Stage))
		b.WriteString("\n")
		b.WriteString(strings.TrimRight(s.Output, "\n"))
		b.WriteString("\n")
	}
	return b.String(), nil
}

type logsModel struct {
	releaseID string
	content   string
	viewport  viewport.Model
	ready     bool
}

func (m logsModel) Init() tea.Cmd {
	return nil
}

func (m logsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "G":
			m.viewport.GotoBottom()
			return m, nil
		}

	case tea.WindowSizeMsg:
		headerHeight := 3
		m.viewport = viewport.New(msg.Width, msg.Height-headerHeight)
		m.viewport.SetContent(m.content)
		m.ready = true
		return m, nil
	}

	if m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m logsModel) View() string {
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		style.Banner.Render("⚡ LOGS"),
		"  ",
		style.Bold.Render(m.releaseID),
		"  ",
		style.DimText.Render("q to quit • ↑↓ to scroll • G to end"),
	)
	if !m.ready {
		return header + "\n\n" + style.DimText.Render("Loading...")
	}
	return header + "\n" + m.viewport.View()
}
