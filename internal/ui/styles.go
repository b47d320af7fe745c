package ui

import "github.com/charmbracelet/lipgloss"

var (
	accent  = lipgloss.Color("#22d3ee")
	success = lipgloss.Color("#10B981")
	warning = lipgloss.Color("#F59E0B")
	failure = lipgloss.Color("#EF4444")
	muted   = lipgloss.Color("#6B7280")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accent)

	labelStyle = lipgloss.NewStyle().
			Foreground(muted).
			Width(10)

	liveStyle = lipgloss.NewStyle().
			Foreground(success).
			Bold(true)

	idleStyle = lipgloss.NewStyle().
			Foreground(muted)

	warnStyle = lipgloss.NewStyle().
			Foreground(warning)

	errorStyle = lipgloss.NewStyle().
			Foreground(failure).
			Bold(true)

	keyStyle = lipgloss.NewStyle().
			Foreground(accent)

	helpStyle = lipgloss.NewStyle().
			Foreground(muted)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(success).
			Bold(true)
)

// stateStyle colours a connection state.
func stateStyle(state string) lipgloss.Style {
	switch state {
	case "connected", "completed":
		return liveStyle
	case "failed", "closed":
		return errorStyle
	case "disconnected":
		return warnStyle
	default:
		return idleStyle
	}
}
