package ux

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/loom/internal/graph"
)

// Styles holds the lipgloss styles used by text views.
type Styles struct {
	Title   lipgloss.Style
	Header  lipgloss.Style
	Label   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Muted   lipgloss.Style
	Accent  lipgloss.Style
}

// NewStyles returns the default palette, or unstyled text when noColor is set.
func NewStyles(noColor bool) Styles {
	if noColor {
		plain := lipgloss.NewStyle()
		return Styles{
			Title:   plain,
			Header:  plain,
			Label:   plain,
			Success: plain,
			Error:   plain,
			Warning: plain,
			Muted:   plain,
			Accent:  plain,
		}
	}
	return Styles{
		Title:   lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true),
		Header:  lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Accent:  lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true),
	}
}

// Status renders a node status with its icon.
func (s Styles) Status(status graph.Status) string {
	switch status {
	case graph.StatusComplete:
		return s.Success.Render("✓ " + string(status))
	case graph.StatusFailed:
		return s.Error.Render("✗ " + string(status))
	case graph.StatusBlocked:
		return s.Warning.Render("⊘ " + string(status))
	case graph.StatusRunning:
		return s.Accent.Render("▶ " + string(status))
	}
	return s.Muted.Render("⟲ " + string(status))
}

// Risk renders a risk level.
func (s Styles) Risk(level graph.RiskLevel) string {
	switch level {
	case graph.RiskCritical, graph.RiskHigh:
		return s.Error.Render(string(level))
	case graph.RiskMedium:
		return s.Warning.Render(string(level))
	}
	return s.Success.Render(string(level))
}
