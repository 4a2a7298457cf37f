// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the core domain types shared by the store, the
// transports and the chat controller.
//
// # Key Types
//
//   - Message: single message with role, content, timestamp, sources and mode
//   - Conversation: ordered messages plus identity and timestamps
//   - ChatState: the conversation list and the current conversation pointer
//   - Role: message role enumeration (user, assistant, system)
//   - Mode: how an assistant answer was produced (chat, rag, error, ...)
//
// All types are plain values. A Conversation's message slice is never
// modified after it has been published in a ChatState; mutations build new
// slices (see package store).
//
// # Usage
//
//	conv := model.NewPlaceholderConversation(time.Now())
//	if conv.UserMessageCount() == 0 {
//	    // still an empty conversation
//	}
package model
