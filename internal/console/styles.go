package console

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

const (
	accentColorCode    = "62"  // Blue
	dimColorCode       = "240" // Dark gray
	errorColorCode     = "196" // Red
	highlightColorCode = "86"  // Cyan
	primaryColorCode   = "205" // Pink/purple
	successColorCode   = "42"  // Green
	warningColorCode   = "226" // Yellow
)

// colorsDisabled follows the NO_COLOR convention and dumb terminals.
var colorsDisabled = os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb"

func titleStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(primaryColorCode)).
		MarginBottom(1)
}

func boxStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(accentColorCode)).
		Padding(0, 1)
}

func dimStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(dimColorCode))
}

func selectedStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color(highlightColorCode)).
		Bold(true)
}

func errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color(errorColorCode)).
		Bold(true)
}

func successStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(successColorCode))
}

// stateStyle colours a job state name.
func stateStyle(state string) lipgloss.Style {
	switch state {
	case "Active":
		return lipgloss.NewStyle().Foreground(lipgloss.Color(highlightColorCode))
	case "Paused":
		return lipgloss.NewStyle().Foreground(lipgloss.Color(warningColorCode))
	case "Completed":
		return successStyle()
	case "Error":
		return errorStyle()
	default:
		return dimStyle()
	}
}
