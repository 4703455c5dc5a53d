package lockscreen

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	accentColor = lipgloss.AdaptiveColor{Light: "#0369A1", Dark: "#38BDF8"}
	warnColor   = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	errorColor  = lipgloss.AdaptiveColor{Light: "#BE123C", Dark: "#FB7185"}
	mutedColor  = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
)

func (m Model) viewLocked() string {
	width := m.width
	if width == 0 {
		width = 60
	}
	height := m.height
	if height == 0 {
		height = 20
	}
	maxWidth := width - 8
	if maxWidth < 40 {
		maxWidth = 40
	}
	if maxWidth > 56 {
		maxWidth = 56
	}

	titleStyle := lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	textStyle := lipgloss.NewStyle().Width(maxWidth - 8).Align(lipgloss.Center)
	hintStyle := lipgloss.NewStyle().Foreground(mutedColor).Italic(true)

	parts := []string{
		titleStyle.Render("Screen Locked"),
		"",
		textStyle.Render("Welcome back, " + m.snapshot.Username()),
		"",
		m.input.View(),
	}
	if m.errText != "" {
		parts = append(parts, lipgloss.NewStyle().Foreground(errorColor).Render(m.errText))
	}
	if m.busy {
		parts = append(parts, hintStyle.Render("Checking..."))
	}
	parts = append(parts,
		"",
		lipgloss.NewStyle().Foreground(warnColor).Bold(true).Render("Auto-logout in "+formatRemaining(m.remaining)),
		"",
		hintStyle.Render("enter unlock • ctrl+l logout now"),
	)

	box := lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(accentColor).
		Padding(1, 3).
		Width(maxWidth).
		Align(lipgloss.Center).
		Render(lipgloss.JoinVertical(lipgloss.Center, parts...))

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, box)
}

// formatRemaining renders d as M:SS, rounding partial seconds up so 0:00 only shows at the
// deadline.
func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "0:00"
	}
	totalSecs := int((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%d:%02d", totalSecs/60, totalSecs%60)
}
