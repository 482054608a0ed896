package ui

import "github.com/charmbracelet/lipgloss"

var (
	// TitleStyle ANSI 6 (cyan) reads well on light and dark terminals.
	TitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true).MarginBottom(1)

	UsageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))

	// DescStyle ANSI 8 (bright black) keeps descriptions quieter than names.
	DescStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	FlagStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))

	AnswerStyle = lipgloss.NewStyle().PaddingLeft(2)

	WarnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))

	ActionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
)
