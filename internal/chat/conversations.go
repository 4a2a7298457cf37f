// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/privia/internal/api"
	"github.com/jeranaias/privia/internal/model"
	"github.com/jeranaias/privia/internal/store"
)

// =============================================================================
// CONVERSATION MANAGEMENT
// =============================================================================

// NewConversation selects an existing conversation without user messages,
// or creates one on the backend. Concurrent calls collapse into one.
// Backend rate limiting is not an error.
func (c *Controller) NewConversation(ctx context.Context) error {
	c.mu.Lock()
	if c.creating {
		c.mu.Unlock()
		return nil
	}
	c.creating = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.creating = false
		c.mu.Unlock()
	}()

	for _, conv := range c.store.State().Conversations {
		if conv.UserMessageCount() == 0 {
			c.store.Dispatch(store.SetCurrent{ID: conv.ID})
			return nil
		}
	}

	out, err := c.api.CreateConversation(ctx, "")
	if err != nil {
		if errors.Is(err, api.ErrRateLimited) {
			c.logger.Debug("conversation creation rate limited")
			return nil
		}
		c.logger.Warn("conversation creation failed", zap.Error(err))
		return err
	}
	if c.closed.Load() || ctx.Err() != nil {
		return nil
	}

	conv := out.ToModel()
	if _, exists := c.store.State().Find(conv.ID); exists {
		c.store.Dispatch(store.SetCurrent{ID: conv.ID})
		return nil
	}
	c.store.Dispatch(store.NewConversation{Conversation: conv})
	return nil
}

// SelectConversation makes id the current conversation.
func (c *Controller) SelectConversation(id string) error {
	if _, ok := c.store.State().Find(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	c.store.Dispatch(store.SetCurrent{ID: id})
	return nil
}

// DeleteConversation removes id locally at once and on the backend in the
// background. A remote failure is logged and does not restore the
// conversation.
func (c *Controller) DeleteConversation(ctx context.Context, id string) error {
	if _, ok := c.store.State().Find(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	c.store.Dispatch(store.DeleteConversation{ID: id})

	if id == model.PlaceholderID {
		return nil
	}
	c.background(ctx, "delete conversation", func(ctx context.Context) error {
		return c.api.DeleteConversation(ctx, id)
	})
	return nil
}

// =============================================================================
// BOOTSTRAP
// =============================================================================

// Bootstrap replaces the placeholder state with the user's conversations.
// Conversations that fail to load are dropped. When nothing loads, one
// fresh conversation is created. Sends are rejected while it runs.
func (c *Controller) Bootstrap(ctx context.Context) error {
	c.mu.Lock()
	c.hydrating = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.hydrating = false
		c.mu.Unlock()
	}()

	convs, err := c.loadConversations(ctx)
	if err != nil {
		c.logger.Warn("loading conversations failed", zap.Error(err))
		convs = nil
	}

	if len(convs) == 0 {
		fresh, createErr := c.api.CreateConversation(ctx, "")
		if createErr != nil {
			c.logger.Warn("creating initial conversation failed", zap.Error(createErr))
			return errors.Join(err, createErr)
		}
		convs = []model.Conversation{fresh.ToModel()}
	}

	if c.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.store.Dispatch(store.SetConversations{Conversations: convs})
	c.logger.Debug("conversations hydrated", zap.Int("count", len(convs)))
	return nil
}

// loadConversations lists summaries and fetches each conversation in
// parallel, keeping the list order and dropping failed fetches.
func (c *Controller) loadConversations(ctx context.Context) ([]model.Conversation, error) {
	summaries, err := c.api.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, nil
	}

	results := make([]*model.Conversation, len(summaries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, summary := range summaries {
		g.Go(func() error {
			out, err := c.api.GetConversation(gctx, summary.ID)
			if err != nil {
				c.logger.Debug("dropping conversation", zap.String("id", summary.ID), zap.Error(err))
				return nil
			}
			conv := out.ToModel()
			results[i] = &conv
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	convs := make([]model.Conversation, 0, len(results))
	for _, conv := range results {
		if conv != nil {
			convs = append(convs, *conv)
		}
	}
	return convs, nil
}
