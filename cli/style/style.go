package style

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Release, stage and endpoint states share one palette so a stage strip reads
// the same as the release it belongs to.
var (
	Accent = lipgloss.Color("#0E7490")
	Cyan   = lipgloss.Color("#22D3EE")
	Dim    = lipgloss.Color("#6B7280")
	White  = lipgloss.Color("#F9FAFB")

	colorSucceeded = lipgloss.Color("#16A34A")
	colorFailed    = lipgloss.Color("#DC2626")
	colorRunning   = lipgloss.Color("#EAB308")
	colorBlocked   = lipgloss.Color("#EA580C")
	colorQueued    = lipgloss.Color("#6366F1")
)

var (
	Banner = lipgloss.NewStyle().
		Bold(true).
		Foreground(Accent).
		MarginBottom(1)

	Subtitle = lipgloss.NewStyle().Foreground(Dim).Italic(true)
	Bold     = lipgloss.NewStyle().Bold(true).Foreground(White)
	DimText  = lipgloss.NewStyle().Foreground(Dim)
	Warning  = lipgloss.NewStyle().Foreground(colorRunning)

	Succeeded = lipgloss.NewStyle().Foreground(colorSucceeded)
	Failed    = lipgloss.NewStyle().Foreground(colorFailed).Bold(true)
	Running   = lipgloss.NewStyle().Foreground(colorRunning).Bold(true)
	Blocked   = lipgloss.NewStyle().Foreground(colorBlocked)
	Queued    = lipgloss.NewStyle().Foreground(colorQueued)
	Skipped   = lipgloss.NewStyle().Foreground(Dim).Italic(true)

	Commit = lipgloss.NewStyle().Foreground(Cyan)

	// Release detail card, bordered in the outcome color.
	Card = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#374151")).
		Padding(0, 2).
		MarginBottom(1)
	CardSucceeded = Card.BorderForeground(colorSucceeded)
	CardFailed    = Card.BorderForeground(colorFailed)

	TableHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(Accent).
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(Dim).
			PaddingRight(2)

	ErrorBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorFailed).
			Foreground(colorFailed).
			Padding(0, 1).
			MarginTop(1)

	SuccessBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSucceeded).
			Foreground(colorSucceeded).
			Padding(0, 1).
			MarginTop(1)

	Key = lipgloss.NewStyle().Foreground(Dim).Width(12)
	Val = lipgloss.NewStyle().Foreground(White)
)

type mark struct {
	icon  string
	style lipgloss.Style
}

// marks covers release and stage statuses, topology service states and the
// endpoint states reported by /api/health.
var marks = map[string]mark{
	"queued":    {"…", Queued},
	"pending":   {"·", DimText},
	"running":   {"▶", Running},
	"succeeded": {"✓", Succeeded},
	"failed":    {"✗", Failed},
	"skipped":   {"↷", Skipped},
	"blocked":   {"■", Blocked},
	"started":   {"✓", Succeeded},
	"stopped":   {"·", DimText},
	"up":        {"✓", Succeeded},
	"down":      {"✗", Failed},
}

func markFor(status string) mark {
	if m, ok := marks[status]; ok {
		return m
	}
	return mark{"·", DimText}
}

// For is the text style of a status.
func For(status string) lipgloss.Style { return markFor(status).style }

// Icon renders the one-cell stage glyph for a status.
func Icon(status string) string {
	m := markFor(status)
	return m.style.Render(m.icon)
}

// Dot renders a status as a colored bullet, used in release lists.
func Dot(status string) string { return markFor(status).style.Render("●") }

// Strip renders stage statuses in pipeline order: ✓ ✓ ✗ ■
func Strip(statuses []string) string {
	icons := make([]string, len(statuses))
	for i, s := range statuses {
		icons[i] = Icon(s)
	}
	return strings.Join(icons, " ")
}
