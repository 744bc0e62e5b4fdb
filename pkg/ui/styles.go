// Package ui renders terminal output for the pipeline: the banner with
// its legal notice, stage progress lines, and the interactive manual
// override prompt. All decorated output goes to stderr so stdout stays
// clean for piping.
package ui

import "github.com/charmbracelet/lipgloss"

// Color palette matching common security tool conventions.
var (
	primary   = lipgloss.Color("#00D4AA")
	secondary = lipgloss.Color("#7D56F4")

	successColor = lipgloss.Color("#00D26A")
	warningColor = lipgloss.Color("#FFB800")
	errorColor   = lipgloss.Color("#FF3838")
	mutedColor   = lipgloss.Color("#6B7280")

	severityCritical = lipgloss.Color("#FF0000")
	severityHigh     = lipgloss.Color("#FF6B6B")
	severityMedium   = lipgloss.Color("#FFD93D")
	severityLow      = lipgloss.Color("#6BCB77")
	severityInfo     = lipgloss.Color("#4D96FF")
)

var (
	bannerStyle = lipgloss.NewStyle().
			Foreground(primary).
			Bold(true)

	versionStyle = lipgloss.NewStyle().
			Foreground(secondary).
			Bold(true)

	legalStyle = lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true)

	stageStyle = lipgloss.NewStyle().
			Foreground(primary).
			Bold(true)

	successStyle = lipgloss.NewStyle().Foreground(successColor)
	warnStyle    = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)

	promptStyle = lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true)
)

// SeverityStyle returns the display style for a severity label.
func SeverityStyle(severity string) lipgloss.Style {
	var c lipgloss.Color
	switch severity {
	case "critical":
		c = severityCritical
	case "high":
		c = severityHigh
	case "medium":
		c = severityMedium
	case "low":
		c = severityLow
	default:
		c = severityInfo
	}
	return lipgloss.NewStyle().Foreground(c).Bold(true)
}
