package dashboard

import "github.com/charmbracelet/lipgloss"

// headerStyle renders the table header row.
var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.AdaptiveColor{Light: "4", Dark: "12"})

// selectedStyle marks the row under the cursor.
var selectedStyle = lipgloss.NewStyle().
	Reverse(true)

// changedStyle marks rows touched by the latest diff until the
// highlight expires.
var changedStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "3", Dark: "11"})

// runningStyle and stoppedStyle color the running indicator.
var (
	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "2", Dark: "10"})
	stoppedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "240", Dark: "245"})
)

// statusLineStyle renders the footer status line.
var statusLineStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "240", Dark: "245"})

// errStyle renders error notes in the status line.
var errStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "1", Dark: "9"})

// runningIndicator returns the colored run-state dot.
func runningIndicator(running bool) string {
	if running {
		return runningStyle.Render("●")
	}
	return stoppedStyle.Render("○")
}
