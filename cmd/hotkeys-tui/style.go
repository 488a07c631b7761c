package main

import "github.com/charmbracelet/lipgloss"

var (
	accent = lipgloss.Color("#FFFF00")
	muted  = lipgloss.Color("242")
	border = lipgloss.Color("#2121DE")

	defaultStyle = lipgloss.NewStyle()

	titleStyle = defaultStyle.Bold(true).Foreground(accent)

	panelStyle = defaultStyle.
			Border(lipgloss.RoundedBorder()).
			BorderForeground(border).
			PaddingLeft(1).
			PaddingRight(1)

	mutedStyle    = defaultStyle.Foreground(muted)
	bindingStyle  = defaultStyle.Bold(true).Width(18)
	stateStyle    = defaultStyle.Width(10)
	consumedStyle = defaultStyle.Foreground(lipgloss.Color("#00FF00"))
	errorStyle    = defaultStyle.Foreground(lipgloss.Color("#FD0000"))
)
