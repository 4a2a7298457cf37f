// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"slices"
	"sync"
	"time"

	"github.com/jeranaias/privia/internal/model"
)

// Listener receives the state produced by each dispatch.
type Listener func(model.ChatState)

type subscription struct {
	id int
	fn Listener
}

// Store owns the current ChatState and serialises every mutation.
type Store struct {
	mu     sync.Mutex
	state  model.ChatState
	now    func() time.Time
	subs   []subscription
	nextID int
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now as the source of action timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithState seeds the store with an existing state instead of the
// placeholder conversation. An empty state is ignored.
func WithState(state model.ChatState) Option {
	return func(s *Store) {
		s.state = state
	}
}

// New creates a store. Without WithState it holds the placeholder
// conversation.
func New(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.state.Conversations) == 0 {
		s.state = model.InitialState(s.now())
	}
	return s
}

// State returns the current snapshot. Snapshots are immutable.
func (s *Store) State() model.ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch reduces action into the current state, notifies listeners in
// dispatch order and returns the new state.
//
// Listeners run while the store is locked; a listener must not call
// Dispatch itself.
func (s *Store) Dispatch(action Action) model.ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = Reduce(s.state, action, s.now())
	for _, sub := range s.subs {
		sub.fn(s.state)
	}
	return s.state
}

// Subscribe registers fn for every future dispatch and returns a function
// that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs = append(s.subs, subscription{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subs = slices.DeleteFunc(s.subs, func(sub subscription) bool { return sub.id == id })
	}
}
