package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
)

const progressBarWidth = 30

func newProgressModel(width int) progress.Model {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = width
	bar.ShowPercentage = false

	if !colorsDisabled {
		bar.EmptyColor = dimColorCode
		bar.FullColor = accentColorCode
	}

	return bar
}

// renderASCIIProgress draws "[=====>    ] 45%" for terminals without colour.
// percent is in [0, 1].
func renderASCIIProgress(percent float64, width int) string {
	percent = min(max(percent, 0), 1)
	filled := int(percent * float64(width))

	var bar strings.Builder

	bar.WriteString("[")

	switch {
	case filled >= width:
		bar.WriteString(strings.Repeat("=", width))
	case percent > 0:
		equals := max(0, filled-1)
		bar.WriteString(strings.Repeat("=", equals))
		bar.WriteString(">")
		bar.WriteString(strings.Repeat(" ", width-equals-1))
	default:
		bar.WriteString(strings.Repeat(" ", width))
	}

	bar.WriteString("]")

	return fmt.Sprintf("%s %3d%%", bar.String(), int(percent*100))
}

func renderProgress(model progress.Model, percent float64) string {
	if colorsDisabled {
		return renderASCIIProgress(percent, model.Width)
	}

	return fmt.Sprintf("%s %3d%%", model.ViewAs(percent), int(percent*100))
}
