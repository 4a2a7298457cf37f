// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/privia/internal/model"
)

// =============================================================================
// TIMESTAMPS
// =============================================================================

// timestampLayouts lists the formats the backend is known to emit. Python's
// datetime.isoformat() omits the zone for naive values.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Timestamp decodes RFC 3339 and zone-less ISO 8601 datetimes. Zone-less
// values are taken as UTC.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	s := strings.Trim(string(data), `"`)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(time.RFC3339Nano) + `"`), nil
}

// ParseTimestamp parses any layout the backend emits.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// =============================================================================
// AUTH TYPES
// =============================================================================

// UserProfile is the signed-in user as reported by the backend.
type UserProfile struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Role     string `json:"role,omitempty"`
}

// DisplayName returns the full name, or the email when no name is set.
func (u UserProfile) DisplayName() string {
	if strings.TrimSpace(u.FullName) != "" {
		return u.FullName
	}
	return u.Email
}

// LoginResponse is returned by the login endpoint.
type LoginResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        UserProfile `json:"user"`
}

// SignupRequest creates an account.
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

// OAuthRequest exchanges an identity-provider account for a bearer token.
type OAuthRequest struct {
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"provider_account_id"`
	Email             string `json:"email"`
	FullName          string `json:"full_name,omitempty"`
	AvatarURL         string `json:"avatar_url,omitempty"`
}

// OAuthResponse is returned by the OAuth exchange endpoint.
type OAuthResponse struct {
	AccessToken string      `json:"access_token"`
	User        UserProfile `json:"user"`
}

// =============================================================================
// CONVERSATION TYPES
// =============================================================================

// ConversationSummary is one entry of the conversation list.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    Timestamp `json:"created_at"`
	UpdatedAt    Timestamp `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// MessageOut is a stored message.
type MessageOut struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp Timestamp `json:"timestamp"`
}

// ConversationOut is a full conversation with its messages.
type ConversationOut struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Status    string       `json:"status,omitempty"`
	Messages  []MessageOut `json:"messages"`
	CreatedAt Timestamp    `json:"created_at"`
	UpdatedAt Timestamp    `json:"updated_at"`
}

// ToModel converts the wire conversation into the client model.
func (c ConversationOut) ToModel() model.Conversation {
	msgs := make([]model.Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		msgs = append(msgs, model.Message{
			Role:      model.ParseRole(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp.Time,
		})
	}
	title := c.Title
	if strings.TrimSpace(title) == "" {
		title = model.DefaultTitle
	}
	return model.Conversation{
		ID:        c.ID,
		Title:     title,
		Messages:  msgs,
		CreatedAt: c.CreatedAt.Time,
		UpdatedAt: c.UpdatedAt.Time,
	}
}

type titleRequest struct {
	Title string `json:"title,omitempty"`
}

// =============================================================================
// QUERY TYPES
// =============================================================================

// QueryRequest asks a question, optionally within an existing conversation.
type QueryRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// QueryResponse is the non-streaming answer.
type QueryResponse struct {
	Answer         string     `json:"answer"`
	Sources        []string   `json:"sources,omitempty"`
	Mode           model.Mode `json:"mode,omitempty"`
	ConversationID string     `json:"conversation_id,omitempty"`
}
