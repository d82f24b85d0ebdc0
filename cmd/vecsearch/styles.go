package main

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent = lipgloss.Color("#7D56F4")
	colorMuted  = lipgloss.Color("#6C7086")
	colorGood   = lipgloss.Color("#A6E3A1")
	colorWarn   = lipgloss.Color("#F9E2AF")
	colorBad    = lipgloss.Color("#F38BA8")
)

type styles struct {
	title    lipgloss.Style
	section  lipgloss.Style
	label    lipgloss.Style
	dim      lipgloss.Style
	good     lipgloss.Style
	warn     lipgloss.Style
	bad      lipgloss.Style
	distance lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
		section:  lipgloss.NewStyle().Bold(true).Underline(true),
		label:    lipgloss.NewStyle().Foreground(colorMuted),
		dim:      lipgloss.NewStyle().Foreground(colorMuted).Italic(true),
		good:     lipgloss.NewStyle().Foreground(colorGood),
		warn:     lipgloss.NewStyle().Foreground(colorWarn),
		bad:      lipgloss.NewStyle().Foreground(colorBad).Bold(true),
		distance: lipgloss.NewStyle().Foreground(colorAccent),
	}
}
