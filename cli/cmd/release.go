package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"nodeship/cli/api"
	"nodeship/cli/style"
)

var (
	releaseRef     string
	releaseSHA     string
	releaseNoWatch bool
)

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Start a release and watch its stages",
	Args:  cobra.NoArgs,
	RunE:  runRelease,
}

var watchCmd = &cobra.Command{
	Use:   "watch <release-id>",
	Short: "Watch a running release",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return watch(newReleaseModel(args[0], "", ""))
	},
}

func init() {
	releaseCmd.Flags().StringVar(&releaseRef, "ref", "", "ref to release (default: the release branch)")
	releaseCmd.Flags().StringVar(&releaseSHA, "sha", "", "exact commit to release")
	releaseCmd.Flags().BoolVar(&releaseNoWatch, "no-watch", false, "print the release ID and exit")
	rootCmd.AddCommand(releaseCmd, watchCmd)
}

func runRelease(cmd *cobra.Command, args []string) error {
	if releaseNoWatch {
		id, err := client.TriggerRelease(releaseRef, releaseSHA)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	}
	return watch(newReleaseModel("", releaseRef, releaseSHA))
}

func watch(m releaseModel) error {
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return err
	}
	if rm := final.(releaseModel); rm.failed {
		return fmt.Errorf("release failed")
	}
	return nil
}

// --- Messages ---

type hubEvent struct {
	Type      string          `json:"type"`
	ReleaseID string          `json:"releaseId"`
	Stage     string          `json:"stage"`
	Payload   json.RawMessage `json:"payload"`
}

type stageUpdate struct {
	stage  string
	status string
	err    string
}

type releaseStarted struct {
	id     string
	stages []api.StageLog
	ch     chan tea.Msg
}
type releaseFinished struct{ rel api.Release }
type wsError struct{ err error }

// --- Model ---

type stageState struct {
	name   string
	status string
	err    string
}

var pipelineStages = []string{"verify", "publish-backend-image", "publish-proxy-image", "deploy"}

type releaseModel struct {
	id        string
	ref       string
	sha       string
	spinner   spinner.Model
	stages    []stageState
	status    string // connecting, running, succeeded, failed
	errMsg    string
	failed    bool
	startTime time.Time
	eventCh   chan tea.Msg
}

func newReleaseModel(id, ref, sha string) releaseModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(style.Accent)

	stages := make([]stageState, len(pipelineStages))
	for i, name := range pipelineStages {
		stages[i] = stageState{name: name, status: "pending"}
	}
	return releaseModel{
		id:        id,
		ref:       ref,
		sha:       sha,
		spinner:   s,
		stages:    stages,
		status:    "connecting",
		startTime: time.Now(),
	}
}

func (m releaseModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, connectAndRelease(m.id, m.ref, m.sha))
}

func (m releaseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case releaseStarted:
		m.status = "running"
		m.id = msg.id
		m.eventCh = msg.ch
		for _, s := range msg.stages {
			m.setStage(s.Stage, s.Status, s.Error)
		}
		return m, waitForEvent(m.eventCh)

	case stageUpdate:
		m.setStage(msg.stage, msg.status, msg.err)
		return m, waitForEvent(m.eventCh)

	case releaseFinished:
		for _, s := range msg.rel.Stages {
			m.setStage(s.Stage, s.Status, s.Error)
		}
		m.status = msg.rel.Status
		if msg.rel.Status != "succeeded" {
			m.failed = true
			m.errMsg = msg.rel.Error
		}
		return m, tea.Quit

	case wsError:
		m.status = "failed"
		m.errMsg = msg.err.Error()
		m.failed = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *releaseModel) setStage(name, status, err string) {
	for i := range m.stages {
		if m.stages[i].name == name {
			m.stages[i].status = status
			m.stages[i].err = err
			return
		}
	}
	m.stages = append(m.stages, stageState{name: name, status: status, err: err})
}

func (m releaseModel) View() string {
	var b strings.Builder

	b.WriteString(style.Banner.Render("⚡ NODESHIP RELEASE"))
	b.WriteString("\n")
	if m.id != "" {
		b.WriteString(style.Key.Render("Release"))
		b.WriteString(style.Bold.Render(m.id))
		b.WriteString("\n")
	}
	if m.sha != "" {
		b.WriteString(style.Key.Render("Commit"))
		b.WriteString(style.Commit.Render(shortSHA(m.sha)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	for _, s := range m.stages {
		name := padRight(s.name, 24)
		switch s.status {
		case "running":
			fmt.Fprintf(&b, "  %s %s %s\n", m.spinner.View(), style.Running.Render(name), style.Running.Render("running"))
		case "succeeded":
			fmt.Fprintf(&b, "  %s %s %s\n", style.Icon(s.status), style.Succeeded.Render(name), style.Succeeded.Render("done"))
		case "failed":
			fmt.Fprintf(&b, "  %s %s %s\n", style.Icon(s.status), style.Failed.Render(name), style.Failed.Render(s.err))
		case "skipped":
			fmt.Fprintf(&b, "  %s %s %s\n", style.Icon(s.status), style.Skipped.Render(name), style.Skipped.Render("skipped"))
		case "blocked":
			fmt.Fprintf(&b, "  %s %s %s\n", style.Icon(s.status), style.Blocked.Render(name), style.Blocked.Render("blocked"))
		default:
			fmt.Fprintf(&b, "  %s %s %s\n", style.Icon(s.status), style.DimText.Render(name), style.DimText.Render("waiting"))
		}
	}
	b.WriteString("\n")

	elapsed := time.Since(m.startTime).Round(time.Second)
	switch m.status {
	case "connecting":
		b.WriteString(m.spinner.View() + style.DimText.Render(" Connecting to API..."))
	case "running":
		b.WriteString(m.spinner.View() + style.DimText.Render(fmt.Sprintf(" Pipeline running... (%s)", elapsed)))
	case "succeeded":
		b.WriteString(style.SuccessBox.Render(fmt.Sprintf("✓ Release succeeded in %s", elapsed)))
	default:
		msg := "Release failed"
		if m.errMsg != "" {
			msg += ": " + m.errMsg
		}
		b.WriteString(style.ErrorBox.Render("✗ " + msg))
	}
	b.WriteString("\n")
	return b.String()
}

// --- Commands ---

// connectAndRelease subscribes before triggering so no stage event is missed.
// With an existing id it only subscribes and seeds the stages from the API.
func connectAndRelease(id, ref, sha string) tea.Cmd {
	return func() tea.Msg {
		conn, _, err := websocket.DefaultDialer.Dial(client.WebSocketURL(), client.AuthHeader())
		if err != nil {
			return wsError{err: fmt.Errorf("websocket connect: %w", err)}
		}

		var seed []api.StageLog
		if id == "" {
			id, err = client.TriggerRelease(ref, sha)
			if err != nil {
				conn.Close()
				return wsError{err: err}
			}
		} else {
			rel, err := client.GetRelease(id)
			if err != nil {
				conn.Close()
				return wsError{err: err}
			}
			if rel.Status == "succeeded" || rel.Status == "failed" {
				conn.Close()
				return releaseFinished{rel: *rel}
			}
			seed = rel.Stages
		}

		ch := make(chan tea.Msg, 32)
		go readEvents(conn, id, ch)
		return releaseStarted{id: id, stages: seed, ch: ch}
	}
}

func readEvents(conn *websocket.Conn, id string, ch chan<- tea.Msg) {
	defer conn.Close()
	defer close(ch)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			ch <- wsError{err: fmt.Errorf("websocket read: %w", err)}
			return
		}
		var evt hubEvent
		if err := json.Unmarshal(message, &evt); err != nil || evt.ReleaseID != id {
			continue
		}

		switch evt.Type {
		case "stage.started":
			ch <- stageUpdate{stage: evt.Stage, status: "running"}
		case "stage.finished":
			var log api.StageLog
			if json.Unmarshal(evt.Payload, &log) == nil {
				ch <- stageUpdate{stage: log.Stage, status: log.Status, err: log.Error}
			}
		case "release.finished":
			var rel api.Release
			if err := json.Unmarshal(evt.Payload, &rel); err != nil {
				ch <- wsError{err: err}
				return
			}
			ch <- releaseFinished{rel: rel}
			return
		}
	}
}

func waitForEvent(ch chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return wsError{err: fmt.Errorf("event stream closed")}
		}
		return msg
	}
}
