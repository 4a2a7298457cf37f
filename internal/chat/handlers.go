// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/jeranaias/privia/internal/model"
	"github.com/jeranaias/privia/internal/store"
	"github.com/jeranaias/privia/internal/transport"
)

// fullContentSlack is how much longer than the stored text a token must be
// to count as a full replacement rather than a delta.
const fullContentSlack = 50

// Handlers returns the transport callbacks that apply answers to the store.
// They apply to whichever send is in flight when they run.
func (c *Controller) Handlers() transport.Handlers {
	return c.handlersFor(0)
}

// handlersFor returns callbacks bound to send seq. Callbacks of a send that
// was stopped or superseded are dropped. Zero binds to the current send.
func (c *Controller) handlersFor(seq uint64) transport.Handlers {
	return transport.Handlers{
		OnSources: func(sources []string, mode model.Mode) { c.onSources(seq, sources, mode) },
		OnToken:   func(content string, mode model.Mode) { c.onToken(seq, content, mode) },
		OnDone:    func(payload *transport.DonePayload) { c.onDone(seq, payload) },
		OnError:   func(message string) { c.onError(seq, message) },
	}
}

// target resolves the conversation a callback of send seq applies to. ok is
// false once that send is no longer the one in flight.
func (c *Controller) target(seq uint64) (id string, resolved uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq == 0 {
		seq = c.seq
	}
	if seq != c.seq || !c.inFlight || c.closed.Load() {
		return "", seq, false
	}
	return c.activeID, seq, true
}

func (c *Controller) onSources(seq uint64, sources []string, mode model.Mode) {
	id, _, ok := c.target(seq)
	if !ok {
		return
	}
	c.store.Dispatch(store.SetSources{ConversationID: id, Sources: sources, Mode: mode})
}

func (c *Controller) onToken(seq uint64, content string, mode model.Mode) {
	id, _, ok := c.target(seq)
	if !ok {
		c.logger.Debug("dropping late token", zap.Uint64("seq", seq))
		return
	}
	c.store.Dispatch(store.UpdateAssistantMessage{ConversationID: id, Update: mergeToken(content, mode)})
}

func (c *Controller) onError(seq uint64, message string) {
	id, seq, ok := c.target(seq)
	defer c.finish(seq)
	if !ok {
		return
	}
	c.logger.Debug("answer failed", zap.String("conversation_id", id), zap.String("error", message))
	c.store.Dispatch(store.UpdateAssistantMessage{ConversationID: id, Update: func(m model.Message) model.Message {
		m.Content = "Error: " + message
		m.Mode = model.ModeError
		return m
	}})
}

// onDone reconciles the conversation id before applying mode and sources,
// so that readers of the final state see the canonical id.
func (c *Controller) onDone(seq uint64, payload *transport.DonePayload) {
	id, seq, ok := c.target(seq)
	defer c.finish(seq)

	if !ok || payload == nil {
		return
	}

	if payload.ConversationID != "" && payload.ConversationID != id {
		c.store.Dispatch(store.ReplaceConversationID{OldID: id, NewID: payload.ConversationID})
		c.store.Dispatch(store.SetCurrent{ID: payload.ConversationID})
		c.mu.Lock()
		if c.seq == seq {
			c.activeID = payload.ConversationID
		}
		c.mu.Unlock()
		c.logger.Debug("conversation id reconciled",
			zap.String("old", id), zap.String("new", payload.ConversationID))
		id = payload.ConversationID
	}

	switch {
	case len(payload.Sources) > 0:
		c.store.Dispatch(store.SetSources{ConversationID: id, Sources: payload.Sources, Mode: payload.Mode})
	case payload.Mode != model.ModeNone:
		c.store.Dispatch(store.SetMode{ConversationID: id, Mode: payload.Mode})
	}
}

// mergeToken returns the update applying one token callback. The content
// replaces the stored text when the stored text is empty, when the answer
// is retrieval-backed, or when the content is far longer than what is
// stored; otherwise it is a delta and is appended.
func mergeToken(content string, mode model.Mode) func(model.Message) model.Message {
	return func(m model.Message) model.Message {
		full := m.Content == "" ||
			utf8.RuneCountInString(content) > utf8.RuneCountInString(m.Content)+fullContentSlack
		if full || mode == model.ModeRAG {
			m.Content = content
		} else {
			m.Content += content
		}
		if mode != model.ModeNone {
			m.Mode = mode
		}
		return m
	}
}
