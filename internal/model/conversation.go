// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"
)

// PlaceholderID is the id of the bootstrap conversation that exists before
// the backend has issued a durable id. It is never sent to the backend.
const PlaceholderID = "1"

// DefaultTitle is the title of a conversation that has no user message yet.
const DefaultTitle = "New conversation"

// WelcomeText seeds the placeholder conversation.
const WelcomeText = "Welcome to Privia. I'm your private workspace assistant. Ask anything " +
	"about your workstreams, documents, or product plans and I'll keep it organized here."

const welcomeMarker = "welcome to privia"

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a chat conversation with its ordered message history.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPlaceholderConversation returns the local bootstrap conversation:
// id PlaceholderID, default title and a single welcome message.
func NewPlaceholderConversation(now time.Time) Conversation {
	return Conversation{
		ID:        PlaceholderID,
		Title:     DefaultTitle,
		Messages:  []Message{NewAssistantMessage(WelcomeText, now)},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsPlaceholder reports whether the conversation still carries the local
// placeholder id.
func (c Conversation) IsPlaceholder() bool {
	return c.ID == PlaceholderID
}

// LastMessage returns the most recent message and whether there was one.
func (c Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// LastUserMessage returns the most recent user message and whether there was one.
func (c Conversation) LastUserMessage() (Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].IsUser() {
			return c.Messages[i], true
		}
	}
	return Message{}, false
}

// UserMessageCount returns the number of user-role messages.
func (c Conversation) UserMessageCount() int {
	n := 0
	for _, m := range c.Messages {
		if m.IsUser() {
			n++
		}
	}
	return n
}

// GetTitle returns the title or the default title when unset.
func (c Conversation) GetTitle() string {
	if strings.TrimSpace(c.Title) == "" {
		return DefaultTitle
	}
	return c.Title
}

// VisibleMessages returns the messages worth displaying: empty assistant
// placeholders and the welcome greeting are hidden.
func (c Conversation) VisibleMessages() []Message {
	visible := make([]Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if m.IsAssistant() && (m.Content == "" || m.IsWelcome()) {
			continue
		}
		visible = append(visible, m)
	}
	return visible
}

// =============================================================================
// CHAT STATE
// =============================================================================

// ChatState is the full client-side conversation state. Conversation ids are
// unique and CurrentConversationID names one of them, except transiently
// while the list is being hydrated.
type ChatState struct {
	Conversations         []Conversation `json:"conversations"`
	CurrentConversationID string         `json:"current_conversation_id"`
}

// InitialState returns the state before any backend hydration.
func InitialState(now time.Time) ChatState {
	welcome := NewPlaceholderConversation(now)
	return ChatState{
		Conversations:         []Conversation{welcome},
		CurrentConversationID: welcome.ID,
	}
}

// Find returns the conversation with the given id.
func (s ChatState) Find(id string) (Conversation, bool) {
	for _, c := range s.Conversations {
		if c.ID == id {
			return c, true
		}
	}
	return Conversation{}, false
}

// Current returns the current conversation, falling back to the first one
// when the pointer does not resolve.
func (s ChatState) Current() (Conversation, bool) {
	if c, ok := s.Find(s.CurrentConversationID); ok {
		return c, true
	}
	if len(s.Conversations) > 0 {
		return s.Conversations[0], true
	}
	return Conversation{}, false
}

// FilterByTitle returns the conversations whose title contains query,
// case-insensitively. An empty query returns every conversation.
func (s ChatState) FilterByTitle(query string) []Conversation {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return s.Conversations
	}
	var out []Conversation
	for _, c := range s.Conversations {
		if strings.Contains(strings.ToLower(c.GetTitle()), q) {
			out = append(out, c)
		}
	}
	return out
}
