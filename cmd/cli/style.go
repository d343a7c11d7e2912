package cli

import "github.com/charmbracelet/lipgloss"

var (
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	headingStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func okLine(label string) string {
	return okStyle.Render("✅ " + label)
}

func failLine(label string, err error) string {
	return failStyle.Render("❌ "+label) + " " + mutedStyle.Render(err.Error())
}
