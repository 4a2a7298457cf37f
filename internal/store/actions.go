// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"time"

	"github.com/jeranaias/privia/internal/model"
)

// Action is a state transition request understood by Reduce.
type Action interface {
	isAction()
}

// SetConversations replaces the whole conversation list, typically after
// hydration from the backend.
type SetConversations struct {
	Conversations      []model.Conversation
	PreferredCurrentID string
}

// ReplaceConversationID renames a conversation once the backend has issued
// its durable id.
type ReplaceConversationID struct {
	OldID string
	NewID string
}

// SetCurrent moves the current conversation pointer. The id is not checked.
type SetCurrent struct {
	ID string
}

// NewConversation prepends a conversation and selects it.
type NewConversation struct {
	Conversation model.Conversation
}

// DeleteConversation removes a conversation.
type DeleteConversation struct {
	ID string
}

// AddUserMessage appends a user message.
type AddUserMessage struct {
	ConversationID string
	Content        string
	Timestamp      time.Time
}

// AddAssistantMessage appends an assistant message; an empty Content is the
// placeholder streaming updates fill in.
type AddAssistantMessage struct {
	ConversationID string
	Content        string
	Timestamp      time.Time
}

// UpdateAssistantMessage replaces the last message with Update(last) when
// the last message is an assistant message.
type UpdateAssistantMessage struct {
	ConversationID string
	Update         func(model.Message) model.Message
}

// SetSources attaches sources to the last assistant message. A non-empty
// Mode overwrites the message mode.
type SetSources struct {
	ConversationID string
	Sources        []string
	Mode           model.Mode
}

// SetMode overwrites the mode of the last assistant message.
type SetMode struct {
	ConversationID string
	Mode           model.Mode
}

// UpdateTitle overwrites a conversation title.
type UpdateTitle struct {
	ConversationID string
	Title          string
}

func (SetConversations) isAction()       {}
func (ReplaceConversationID) isAction()  {}
func (SetCurrent) isAction()             {}
func (NewConversation) isAction()        {}
func (DeleteConversation) isAction()     {}
func (AddUserMessage) isAction()         {}
func (AddAssistantMessage) isAction()    {}
func (UpdateAssistantMessage) isAction() {}
func (SetSources) isAction()             {}
func (SetMode) isAction()                {}
func (UpdateTitle) isAction()            {}
