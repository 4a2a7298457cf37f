// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// =============================================================================
// AUTH
// =============================================================================

// Login exchanges credentials for a bearer token. The endpoint takes an
// OAuth2 password form, so username is the account email.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	var resp LoginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", form, &resp); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, errors.New("login: response carried no access token")
	}
	return &resp, nil
}

// Signup creates an account. It does not sign in.
func (c *Client) Signup(ctx context.Context, req SignupRequest) error {
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/signup", req, nil); err != nil {
		return fmt.Errorf("signup: %w", err)
	}
	return nil
}

// Me returns the profile of the signed-in user.
func (c *Client) Me(ctx context.Context) (*UserProfile, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	var profile UserProfile
	if err := c.doJSON(ctx, http.MethodGet, "/api/auth/me", nil, &profile); err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return &profile, nil
}

// OAuth exchanges an identity-provider account for a bearer token.
func (c *Client) OAuth(ctx context.Context, req OAuthRequest) (*OAuthResponse, error) {
	var resp OAuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/oauth", req, &resp); err != nil {
		return nil, fmt.Errorf("oauth exchange: %w", err)
	}
	return &resp, nil
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// ListConversations returns the summaries of the user's conversations.
func (c *Client) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	var list []ConversationSummary
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil, &list); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return list, nil
}

// CreateConversation creates a conversation. The backend returns an
// existing empty conversation instead when the caller already has one.
func (c *Client) CreateConversation(ctx context.Context, title string) (*ConversationOut, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	var conv ConversationOut
	if err := c.doJSON(ctx, http.MethodPost, "/api/conversations", titleRequest{Title: title}, &conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &conv, nil
}

// GetConversation fetches a conversation with all of its messages.
func (c *Client) GetConversation(ctx context.Context, id string) (*ConversationOut, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	var conv ConversationOut
	if err := c.doJSON(ctx, http.MethodGet, conversationPath(id), nil, &conv); err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return &conv, nil
}

// UpdateConversationTitle renames a conversation.
func (c *Client) UpdateConversationTitle(ctx context.Context, id, title string) (*ConversationOut, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	var conv ConversationOut
	if err := c.doJSON(ctx, http.MethodPatch, conversationPath(id), titleRequest{Title: title}, &conv); err != nil {
		return nil, fmt.Errorf("update conversation %s: %w", id, err)
	}
	return &conv, nil
}

// DeleteConversation removes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	if err := c.requireToken(); err != nil {
		return err
	}
	if err := c.doJSON(ctx, http.MethodDelete, conversationPath(id), nil, nil); err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return nil
}

// =============================================================================
// QUERY
// =============================================================================

// Query asks a question without streaming.
func (c *Client) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, errors.New("query: empty question")
	}
	var resp QueryResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/query", req, &resp); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return &resp, nil
}

func (c *Client) requireToken() error {
	if c.tokens.Token() == "" {
		return ErrNoToken
	}
	return nil
}
