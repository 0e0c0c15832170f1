package cmd

import "github.com/charmbracelet/lipgloss"

// Shared terminal-output styles for the CLI's own plain-text reports
// (doctor's closing summary uses successStyle and warnStyle) — kept separate from the
// richer palette internal/tui defines for the bubbletea dashboard.
var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)
