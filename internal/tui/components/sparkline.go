package components

import (
	"fmt"

	"nathanbeddoewebdev/vpsd/internal/tui/styles"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/lipgloss"
)

// sparkHeight is the fixed height for all usage sparklines.
const sparkHeight = 4

// Sparkline renders a single-series sparkline with a label header and a
// cur/min/max summary. format renders values in the summary.
func Sparkline(label string, data []float64, width int, format func(float64) string) string {
	if len(data) == 0 {
		return styles.MutedText.Render(label + ": no data")
	}
	if format == nil {
		format = func(v float64) string { return fmt.Sprintf("%.1f", v) }
	}

	plotWidth := max(width, 10)
	sl := sparkline.New(plotWidth, sparkHeight, sparkline.WithStyle(lipgloss.NewStyle().Foreground(styles.Blue)))
	// Only the newest samples fit.
	if len(data) > plotWidth {
		data = data[len(data)-plotWidth:]
	}
	sl.PushAll(data)
	sl.Draw()

	current := data[len(data)-1]
	lo, hi := minMax(data)
	summary := styles.MutedText.Render(
		fmt.Sprintf("  cur: %s  min: %s  max: %s", format(current), format(lo), format(hi)),
	)

	header := styles.Label.Render(label)
	return lipgloss.JoinVertical(lipgloss.Left, header, sl.View(), summary)
}

// minMax returns the minimum and maximum values from a slice.
func minMax(data []float64) (float64, float64) {
	if len(data) == 0 {
		return 0, 0
	}
	lo, hi := data[0], data[0]
	for _, v := range data[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}

// FormatRate renders a per-second rate in decimal units.
func FormatRate(v float64) string {
	switch {
	case v >= 1_000_000_000:
		return fmt.Sprintf("%.1fG/s", v/1_000_000_000)
	case v >= 1_000_000:
		return fmt.Sprintf("%.1fM/s", v/1_000_000)
	case v >= 1_000:
		return fmt.Sprintf("%.1fK/s", v/1_000)
	default:
		return fmt.Sprintf("%.1f/s", v)
	}
}

// FormatPercent renders a percentage.
func FormatPercent(v float64) string { return fmt.Sprintf("%.1f%%", v) }
