// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Centralized styling for the privia CLI.
//
// Colors are disabled for non-TTY output and respect NO_COLOR and
// FORCE_COLOR (see terminal.go).

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/privia/internal/model"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for banners and headers.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	// LabelStyle is used for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")). // Light gray
			Width(16)

	// ValueStyle is used for regular values.
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")) // Off-white

	// SuccessStyle is used for success messages.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")). // Green
			Bold(true)

	// ErrorStyle is used for error messages.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)

	// WarningStyle is used for warnings.
	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // Yellow/Orange

	// DimStyle is used for secondary information and hints.
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242")) // Dim gray

	// SeparatorStyle is used for visual separators.
	SeparatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // Dark gray

	// CommandStyle is used for command names in help output.
	CommandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")) // Emerald

	// PromptStyle is used for the REPL prompt.
	PromptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)
)

// =============================================================================
// ROLE AND MODE STYLES
// =============================================================================

var (
	userRoleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	assistantRoleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("141")).Bold(true) // Purple
	ragModeStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	chatModeStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
)

// RenderRole renders the speaker label of a message.
func RenderRole(role model.Role) string {
	switch role {
	case model.RoleUser:
		return userRoleStyle.Render("You")
	case model.RoleAssistant:
		return assistantRoleStyle.Render("Assistant")
	default:
		return DimStyle.Render(role.DisplayName())
	}
}

// RenderMode renders the answer mode tag, or "" for no mode.
func RenderMode(mode model.Mode) string {
	switch mode {
	case model.ModeRAG:
		return ragModeStyle.Render("[documents]")
	case model.ModeChat:
		return chatModeStyle.Render("[chat]")
	case model.ModeError:
		return ErrorStyle.Render("[error]")
	case model.ModeNone:
		return ""
	default:
		return DimStyle.Render("[" + string(mode) + "]")
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// RenderSeparator renders a horizontal separator line of the given width.
func RenderSeparator(width int) string {
	if width <= 0 {
		width = 30
	}
	return SeparatorStyle.Render(strings.Repeat("─", width))
}

// RenderLabel renders a label with consistent width.
func RenderLabel(label string) string {
	return LabelStyle.Render(label)
}

// RenderStatus renders a status indicator.
func RenderStatus(ok bool, okText, failText string) string {
	if ok {
		return SuccessStyle.Render(okText)
	}
	return WarningStyle.Render(failText)
}
