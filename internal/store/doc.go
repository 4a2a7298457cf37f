// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store holds the conversation state machine.
//
// Reduce is a pure function from (state, action, now) to a new state. It
// never mutates its input: every change copies the slices it touches, so a
// ChatState handed to a subscriber stays valid forever.
//
// Store serialises all mutations through a single Dispatch entry point and
// notifies subscribers in dispatch order. Transports and the chat controller
// call Dispatch from their own goroutines; the mutex is the dispatch queue.
//
// # Usage
//
//	s := store.New()
//	unsubscribe := s.Subscribe(func(st model.ChatState) { render(st) })
//	defer unsubscribe()
//	s.Dispatch(store.AddUserMessage{ConversationID: id, Content: "hi", Timestamp: time.Now()})
package store
