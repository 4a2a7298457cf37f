// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"slices"
	"time"

	"github.com/jeranaias/privia/internal/model"
)

// Reduce applies action to state and returns the resulting state. The clock
// value now is used for placeholder creation and UpdatedAt refreshes, which
// keeps Reduce deterministic and replayable.
//
// Message-targeted actions that find no assistant message at the end of the
// conversation return state unchanged: the conversation can be momentarily
// between a user message and its assistant placeholder.
func Reduce(state model.ChatState, action Action, now time.Time) model.ChatState {
	switch a := action.(type) {
	case SetConversations:
		return setConversations(a, now)

	case ReplaceConversationID:
		return replaceConversationID(state, a)

	case SetCurrent:
		return model.ChatState{
			Conversations:         state.Conversations,
			CurrentConversationID: a.ID,
		}

	case NewConversation:
		convs := make([]model.Conversation, 0, len(state.Conversations)+1)
		convs = append(convs, a.Conversation)
		convs = append(convs, state.Conversations...)
		return model.ChatState{Conversations: convs, CurrentConversationID: a.Conversation.ID}

	case DeleteConversation:
		return deleteConversation(state, a, now)

	case AddUserMessage:
		msg := model.NewUserMessage(a.Content, a.Timestamp)
		return updateConversation(state, a.ConversationID, now, func(c model.Conversation) (model.Conversation, bool) {
			c.Messages = appendMessage(c.Messages, msg)
			return c, true
		})

	case AddAssistantMessage:
		msg := model.NewAssistantMessage(a.Content, a.Timestamp)
		return updateConversation(state, a.ConversationID, now, func(c model.Conversation) (model.Conversation, bool) {
			c.Messages = appendMessage(c.Messages, msg)
			return c, true
		})

	case UpdateAssistantMessage:
		if a.Update == nil {
			return state
		}
		return updateLastAssistant(state, a.ConversationID, now, a.Update)

	case SetSources:
		return updateLastAssistant(state, a.ConversationID, now, func(m model.Message) model.Message {
			m = m.WithSources(a.Sources)
			if a.Mode != model.ModeNone {
				m.Mode = a.Mode
			}
			return m
		})

	case SetMode:
		return updateLastAssistant(state, a.ConversationID, now, func(m model.Message) model.Message {
			return m.WithMode(a.Mode)
		})

	case UpdateTitle:
		return updateConversation(state, a.ConversationID, now, func(c model.Conversation) (model.Conversation, bool) {
			c.Title = a.Title
			return c, true
		})
	}

	return state
}

// =============================================================================
// LIST ACTIONS
// =============================================================================

func setConversations(a SetConversations, now time.Time) model.ChatState {
	if len(a.Conversations) == 0 {
		return model.InitialState(now)
	}

	convs := slices.Clone(a.Conversations)
	current := convs[0].ID
	if a.PreferredCurrentID != "" && indexOf(convs, a.PreferredCurrentID) >= 0 {
		current = a.PreferredCurrentID
	}
	return model.ChatState{Conversations: convs, CurrentConversationID: current}
}

func replaceConversationID(state model.ChatState, a ReplaceConversationID) model.ChatState {
	convs := make([]model.Conversation, 0, len(state.Conversations))
	seen := make(map[string]bool, len(state.Conversations))
	for _, c := range state.Conversations {
		if c.ID == a.OldID {
			c.ID = a.NewID
		}
		// First occurrence wins.
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		convs = append(convs, c)
	}

	current := state.CurrentConversationID
	if current == a.OldID {
		current = a.NewID
	}
	return model.ChatState{Conversations: convs, CurrentConversationID: current}
}

func deleteConversation(state model.ChatState, a DeleteConversation, now time.Time) model.ChatState {
	remaining := make([]model.Conversation, 0, len(state.Conversations))
	for _, c := range state.Conversations {
		if c.ID != a.ID {
			remaining = append(remaining, c)
		}
	}
	if len(remaining) == 0 {
		return model.InitialState(now)
	}
	return model.ChatState{Conversations: remaining, CurrentConversationID: remaining[0].ID}
}

// =============================================================================
// CONVERSATION HELPERS
// =============================================================================

// updateConversation rewrites every conversation matching id through fn.
// When fn reports no change the original state is returned untouched.
func updateConversation(state model.ChatState, id string, now time.Time, fn func(model.Conversation) (model.Conversation, bool)) model.ChatState {
	var convs []model.Conversation
	for i, c := range state.Conversations {
		if c.ID != id {
			continue
		}
		updated, changed := fn(c)
		if !changed {
			continue
		}
		updated.UpdatedAt = now
		if convs == nil {
			convs = slices.Clone(state.Conversations)
		}
		convs[i] = updated
	}
	if convs == nil {
		return state
	}
	return model.ChatState{Conversations: convs, CurrentConversationID: state.CurrentConversationID}
}

func updateLastAssistant(state model.ChatState, id string, now time.Time, fn func(model.Message) model.Message) model.ChatState {
	return updateConversation(state, id, now, func(c model.Conversation) (model.Conversation, bool) {
		last, ok := c.LastMessage()
		if !ok || !last.IsAssistant() {
			return c, false
		}
		msgs := slices.Clone(c.Messages)
		msgs[len(msgs)-1] = fn(last)
		c.Messages = msgs
		return c, true
	})
}

// appendMessage returns a new slice; the backing array of msgs is never
// written to because older snapshots may share it.
func appendMessage(msgs []model.Message, msg model.Message) []model.Message {
	out := make([]model.Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, msg)
}

func indexOf(convs []model.Conversation, id string) int {
	return slices.IndexFunc(convs, func(c model.Conversation) bool { return c.ID == id })
}
