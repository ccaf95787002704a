// Package tui renders indexing progress and run summaries in the terminal
package tui

import "github.com/charmbracelet/lipgloss"

// Styles holds the styles shared by the progress view and summaries
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Bar     lipgloss.Style
	Track   lipgloss.Style
}

// DefaultStyles returns the standard palette
func DefaultStyles() *Styles {
	return &Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Bar:     lipgloss.NewStyle().Foreground(lipgloss.Color("205")),
		Track:   lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
	}
}
