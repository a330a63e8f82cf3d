// Package style provides consistent terminal styling for asgn's CLI
// output, built on Lipgloss.
package style

import "github.com/charmbracelet/lipgloss"

var (
	Bold    = lipgloss.NewStyle().Bold(true)
	Dim     = lipgloss.NewStyle().Faint(true)
	Good    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	Warn    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	Bad     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	Accent  = lipgloss.NewStyle().Foreground(lipgloss.Color("111"))
)

// StatusStyle returns the style conventionally used for a given prompt or
// session status string, falling back to plain text for anything unknown.
func StatusStyle(status string) lipgloss.Style {
	switch status {
	case "completed", "idle":
		return Good
	case "failed", "offline":
		return Bad
	case "assigned", "in_progress", "busy":
		return Warn
	default:
		return Dim
	}
}
