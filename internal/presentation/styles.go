package presentation

import "github.com/charmbracelet/lipgloss"

var (
	TextPrimaryColor   = lipgloss.AdaptiveColor{Light: "#333333", Dark: "#CCCCCC"}
	TextMutedColor     = lipgloss.AdaptiveColor{Light: "#888888", Dark: "#696969"}
	StatusSuccessColor = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	StatusWarningColor = lipgloss.AdaptiveColor{Light: "#FECA57", Dark: "#FECA57"}
	StatusErrorColor   = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"}
	AccentColor        = lipgloss.AdaptiveColor{Light: "#1E66F5", Dark: "#89B4FA"}

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(TextPrimaryColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(TextMutedColor)
	successStyle = lipgloss.NewStyle().Foreground(StatusSuccessColor)
	warningStyle = lipgloss.NewStyle().Foreground(StatusWarningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(StatusErrorColor)
	accentStyle  = lipgloss.NewStyle().Foreground(AccentColor)
	labelStyle   = lipgloss.NewStyle().Foreground(TextMutedColor).Width(12)
)

// statusStyle colours a session or record status.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "created", "done":
		return successStyle
	case "error":
		return errorStyle
	case "paused", "creating", "generating":
		return warningStyle
	case "running":
		return accentStyle
	default:
		return mutedStyle
	}
}
