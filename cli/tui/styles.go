// Package tui provides the Bubble Tea live view for tcplite listen --tui.
//
// The view consumes the same render.PacketView values as the line output,
// so --tui never shows data the plain formats cannot.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/tcplite/cli/render"
)

// Color palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	successColor   = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#3B82F6") // Blue
)

var (
	// TitleStyle for headers and titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	// LabelStyle for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(12)

	ValueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF"))
	SuccessStyle = lipgloss.NewStyle().Foreground(successColor)
	WarningStyle = lipgloss.NewStyle().Foreground(warningColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	MutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)

	// HelpStyle for the key help line.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	// StatBoxStyle for counter boxes.
	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlightColor).
			Padding(0, 2).
			Width(16).
			Align(lipgloss.Center)

	StatLabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Align(lipgloss.Center)

	StatValueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Align(lipgloss.Center)
)

// StateStyle returns the style for a connection state.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case StateConnected:
		return SuccessStyle
	case StateConnecting:
		return WarningStyle
	case StateFailed:
		return ErrorStyle
	default:
		return ValueStyle
	}
}

// EventStyle returns the style for a packet event type.
func EventStyle(event string) lipgloss.Style {
	if c := render.EventColor(event); c != nil {
		return lipgloss.NewStyle().Foreground(c)
	}
	return ValueStyle
}
