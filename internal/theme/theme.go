package theme

import "github.com/charmbracelet/lipgloss"

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite  = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
)

// HeaderStyle is used for the report title.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// NameStyle renders connection names in a fixed-width column.
var NameStyle = lipgloss.NewStyle().
	Bold(true).
	Width(20)

// DetailStyle is used for secondary information such as timings and errors.
var DetailStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// StatusStyle returns a color-coded style for a connection state
// ("up", "down", "checking" or anything else).
func StatusStyle(state string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Width(10)

	switch state {
	case "up":
		return base.Foreground(ColorGreen)
	case "down":
		return base.Foreground(ColorRed)
	case "checking":
		return base.Foreground(ColorYellow)
	default:
		return base.Foreground(ColorGray)
	}
}
