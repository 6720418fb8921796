package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Styles holds the lipgloss styles used by the interactive model.
type Styles struct {
	Title     lipgloss.Style
	State     lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	System    lipgloss.Style
	Pending   lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Help      lipgloss.Style
}

// DefaultStyles returns the standard palette.
func DefaultStyles() Styles {
	return Styles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		State:     lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		User:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		System:    lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("8")),
		Pending:   lipgloss.NewStyle(),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		Warning:   lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		Help:      lipgloss.NewStyle().Faint(true),
	}
}

// UseColorProfile sets the colour profile for every lipgloss style, for
// example termenv.Ascii when output is redirected.
func UseColorProfile(p termenv.Profile) {
	lipgloss.SetColorProfile(p)
}
