// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"slices"
	"strings"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// ParseRole maps a wire role onto a Role. Unknown roles are kept verbatim.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return RoleUser
	case "assistant":
		return RoleAssistant
	case "system":
		return RoleSystem
	default:
		return Role(s)
	}
}

// =============================================================================
// MODE TYPE
// =============================================================================

// Mode records how an assistant message was produced. The backend may send
// values outside the named constants ("stream", "stub"); they are kept as-is.
type Mode string

const (
	ModeNone  Mode = ""
	ModeChat  Mode = "chat"
	ModeRAG   Mode = "rag"
	ModeError Mode = "error"
)

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Sources   []string  `json:"sources,omitempty"`
	Mode      Mode      `json:"mode,omitempty"`
}

// NewUserMessage creates a user message.
func NewUserMessage(content string, at time.Time) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: at}
}

// NewAssistantMessage creates an assistant message. An empty content is the
// placeholder that streaming updates fill in.
func NewAssistantMessage(content string, at time.Time) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: at}
}

// IsAssistant reports whether the message was sent by the assistant.
func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

// IsUser reports whether the message was sent by the user.
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

// WithContent returns a copy of m with the content replaced.
func (m Message) WithContent(content string) Message {
	m.Content = content
	return m
}

// WithMode returns a copy of m with the mode replaced.
func (m Message) WithMode(mode Mode) Message {
	m.Mode = mode
	return m
}

// WithSources returns a copy of m carrying its own copy of sources.
func (m Message) WithSources(sources []string) Message {
	m.Sources = slices.Clone(sources)
	return m
}

// IsWelcome reports whether the message is the assistant greeting that
// seeds a placeholder conversation.
func (m Message) IsWelcome() bool {
	return m.IsAssistant() && strings.Contains(strings.ToLower(m.Content), welcomeMarker)
}
