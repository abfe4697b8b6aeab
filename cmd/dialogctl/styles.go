// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// palette holds the styles the chat loop renders with. Piped output gets the
// plain variant so transcripts stay grep-able.
type palette struct {
	Title     lipgloss.Style
	Assistant lipgloss.Style
	Prompt    lipgloss.Style
	Status    lipgloss.Style
	Warn      lipgloss.Style
	Error     lipgloss.Style
}

// colorEnabled reports whether stdout is an interactive terminal. NO_COLOR
// wins over tty detection, per the convention.
func colorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func newPalette(colored bool) palette {
	if !colored {
		plain := lipgloss.NewStyle()
		return palette{
			Title:     plain,
			Assistant: plain,
			Prompt:    plain,
			Status:    plain,
			Warn:      plain,
			Error:     plain,
		}
	}
	return palette{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2196F3")),
		Assistant: lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A")),
		Prompt:    lipgloss.NewStyle().Bold(true),
		Status:    lipgloss.NewStyle().Faint(true),
		Warn:      lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107")),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935")),
	}
}
