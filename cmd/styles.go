package cmd

import (
	"charm.land/lipgloss/v2"
)

// styles contains the lipgloss styles for the terminal client.
type styles struct {
	Prompt    lipgloss.Style
	Assistant lipgloss.Style
	Status    lipgloss.Style
	Tool      lipgloss.Style
	ToolDone  lipgloss.Style
	Error     lipgloss.Style
	Muted     lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		Prompt:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		Assistant: lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		Status:    lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("240")),
		Tool:      lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		ToolDone:  lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
		Error:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		Muted:     lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
}
