package main

import "github.com/charmbracelet/lipgloss"

// Shared output styling. Kept muted: this runs in scripts as often as
// in a terminal, and lipgloss degrades to plain text without a TTY.
var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(16)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// onOff renders a boolean as a coloured ON/OFF.
func onOff(on bool) string {
	if on {
		return okStyle.Render("ON")
	}
	return dimStyle.Render("off")
}

// row renders a label/value pair for the status layout.
func row(label, value string) string {
	return labelStyle.Render(label) + value
}
