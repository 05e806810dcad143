package tui

import "github.com/charmbracelet/lipgloss"

const (
	IconCheck     = "✔"
	IconCross     = "✖"
	IconWarning   = "⚠"
	IconHourglass = "⏳"
	IconStop      = "⏹"
	IconPrinter   = "🖶"
	IconLink      = "🔗"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"}).
			Background(lipgloss.AdaptiveColor{Light: "#D0D0D0", Dark: "#303030"}).
			Padding(0, 2)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#0000CC", Dark: "#58A6FF"})

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#505050", Dark: "#A0A0A0"})

	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#006400", Dark: "#4ADE80"})
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#8B6508", Dark: "#FACC15"})
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#8B0000", Dark: "#F87171"})
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#808080", Dark: "#6B7280"})

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#505050", Dark: "#A0A0A0"}).
			MarginTop(1)
)

// stateStyle picks a colour for a printer or tunnel state.
func stateStyle(state string) lipgloss.Style {
	switch state {
	case "ACTIVE", "idle":
		return okStyle
	case "STARTING", "DEGRADED", "printing", "STOPPED":
		return warnStyle
	case "FAILED", "disabled":
		return errorStyle
	default:
		return mutedStyle
	}
}

// stateIcon is the glyph shown in front of a state.
func stateIcon(state string) string {
	switch state {
	case "ACTIVE", "idle", "printing":
		return IconCheck
	case "STARTING":
		return IconHourglass
	case "DEGRADED":
		return IconWarning
	case "STOPPED":
		return IconStop
	case "FAILED", "disabled":
		return IconCross
	default:
		return "-"
	}
}
