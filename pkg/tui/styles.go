package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorRed     = lipgloss.Color("#FF5555")
	colorYellow  = lipgloss.Color("#F1FA8C")
	colorGreen   = lipgloss.Color("#50FA7B")
	colorCyan    = lipgloss.Color("#8BE9FD")
	colorMagenta = lipgloss.Color("#FF79C6")
	colorWhite   = lipgloss.Color("#F8F8F2")
	colorGray    = lipgloss.Color("#6272A4")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorGray).
			Padding(0, 1)

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	labelStyle  = lipgloss.NewStyle().Foreground(colorGray)
	valueStyle  = lipgloss.NewStyle().Foreground(colorWhite).Bold(true)
	headerStyle = lipgloss.NewStyle().Foreground(colorMagenta).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	critStyle   = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(colorGreen)
	helpStyle   = lipgloss.NewStyle().Foreground(colorGray)
)

// speedStyle colors a download rate against the alert threshold.
func speedStyle(mbps, threshold float64) lipgloss.Style {
	switch {
	case threshold <= 0:
		return valueStyle
	case mbps < threshold:
		return critStyle
	case mbps < threshold*1.1:
		return warnStyle
	default:
		return okStyle
	}
}
