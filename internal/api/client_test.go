// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/privia/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL).WithTokenSource(StaticToken("tok")).WithRateLimit(0, 0)
}

// =============================================================================
// HEADER AND AUTH TESTS
// =============================================================================

func TestClient_SetsStandardHeaders(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		w.Write([]byte(`[]`))
	})

	_, err := client.ListConversations(context.Background())
	require.NoError(t, err)
}

func TestClient_Login_IsFormEncoded(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/login", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "ada@example.com", r.PostForm.Get("username"))
		assert.Equal(t, "secret", r.PostForm.Get("password"))
		w.Write([]byte(`{"access_token":"abc","token_type":"bearer","user":{"id":"u1","email":"ada@example.com","full_name":"Ada"}}`))
	})

	resp, err := client.Login(context.Background(), "ada@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.AccessToken)
	assert.Equal(t, "Ada", resp.User.DisplayName())
}

func TestClient_OAuth(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/auth/oauth", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{
			"provider":            "google",
			"provider_account_id": "g-123",
			"email":               "ada@example.com",
		}, body)

		w.Write([]byte(`{"access_token":"oauth-tok","user":{"id":"u1","email":"ada@example.com","full_name":"Ada"}}`))
	})

	resp, err := client.OAuth(context.Background(), OAuthRequest{
		Provider:          "google",
		ProviderAccountID: "g-123",
		Email:             "ada@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "oauth-tok", resp.AccessToken)
	assert.Equal(t, "u1", resp.User.ID)
	assert.Equal(t, "Ada", resp.User.DisplayName())
}

func TestClient_OAuth_SendsOptionalFields(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Ada Lovelace", body["full_name"])
		assert.Equal(t, "https://example.com/a.png", body["avatar_url"])
		w.Write([]byte(`{"access_token":"t","user":{"id":"u1","email":"ada@example.com"}}`))
	})

	resp, err := client.OAuth(context.Background(), OAuthRequest{
		Provider:          "github",
		ProviderAccountID: "42",
		Email:             "ada@example.com",
		FullName:          "Ada Lovelace",
		AvatarURL:         "https://example.com/a.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", resp.User.DisplayName())
}

func TestClient_RequiresTokenForConversationEndpoints(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := New(server.URL)
	_, err := client.ListConversations(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
	assert.Zero(t, calls.Load())
}

// =============================================================================
// ERROR MAPPING TESTS
// =============================================================================

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
		message  string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"detail":"slow down"}`, ErrRateLimited, "slow down"},
		{"unauthorized", http.StatusUnauthorized, `{"detail":"Could not validate credentials"}`, ErrUnauthorized, "Could not validate credentials"},
		{"not found", http.StatusNotFound, `{"detail":"Conversation not found"}`, ErrNotFound, "Conversation not found"},
		{"validation list", http.StatusUnprocessableEntity, `{"detail":[{"loc":["body"],"msg":"bad"}]}`, nil, "Unprocessable Entity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.CreateConversation(context.Background(), "")
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.message, apiErr.Message)
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
		})
	}
}

func TestClient_RetriesIdempotentRequestsOn5xx(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id":"c1","title":"t","messages":[],"created_at":"2025-03-01T10:00:00","updated_at":"2025-03-01T10:00:00"}`))
	})

	conv, err := client.GetConversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_RetriesIdempotentRequestsOn429(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[]`))
	})

	_, err := client.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAPIError_IsRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, (&APIError{Status: tt.status}).IsRetryable(), tt.status)
	}
}

func TestIsRetryable_TransportAndContextErrors(t *testing.T) {
	assert.True(t, isRetryable(errors.New("connection reset by peer")))
	assert.False(t, isRetryable(context.Canceled))
	assert.False(t, isRetryable(context.DeadlineExceeded))
}

func TestClient_DoesNotRetryPost(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Query(context.Background(), QueryRequest{Question: "q"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

// =============================================================================
// ENDPOINT TESTS
// =============================================================================

func TestClient_ConversationRoundTrip(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPatch && r.URL.Path == "/api/conversations/c1":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "Roadmap", body["title"])
			w.Write([]byte(`{"id":"c1","title":"Roadmap","messages":[],"created_at":"2025-03-01T10:00:00Z","updated_at":"2025-03-01T10:00:00Z"}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/api/conversations/c1":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	conv, err := client.UpdateConversationTitle(context.Background(), "c1", "Roadmap")
	require.NoError(t, err)
	assert.Equal(t, "Roadmap", conv.Title)

	require.NoError(t, client.DeleteConversation(context.Background(), "c1"))
}

func TestClient_Query(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"question":"why","conversation_id":"c9"}`, string(body))
		w.Write([]byte(`{"answer":"because","sources":["doc.pdf"],"mode":"rag","conversation_id":"c9"}`))
	})

	resp, err := client.Query(context.Background(), QueryRequest{Question: "why", ConversationID: "c9"})
	require.NoError(t, err)
	assert.Equal(t, "because", resp.Answer)
	assert.Equal(t, []string{"doc.pdf"}, resp.Sources)
	assert.Equal(t, model.ModeRAG, resp.Mode)
}

func TestClient_OpenStream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/stream", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: hi\n\n"))
	})

	resp, err := client.OpenStream(context.Background(), QueryRequest{Question: "q"})
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "data: hi\n\n", string(body))
}

// =============================================================================
// URL AND WIRE TYPE TESTS
// =============================================================================

func TestSocketURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8000/api/ws/chat", New("http://localhost:8000").SocketURL())
	assert.Equal(t, "wss://api.example.com/api/ws/chat", New("https://api.example.com/").SocketURL())
	assert.Equal(t, "wss://ws.example.com/api/ws/chat",
		New("https://api.example.com").WithSocketURL("wss://ws.example.com/").SocketURL())
	assert.Equal(t, "unix:///tmp/sock", DeriveSocketURL("unix:///tmp/sock"))
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for _, in := range []string{
		"2025-03-01T10:00:00Z",
		"2025-03-01T10:00:00",
		"2025-03-01T12:00:00+02:00",
		"2025-03-01 10:00:00",
	} {
		got, err := ParseTimestamp(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s parsed as %s", in, got)
	}

	withFraction, err := ParseTimestamp("2025-03-01T10:00:00.123456")
	require.NoError(t, err)
	assert.Equal(t, 123456000, withFraction.Nanosecond())

	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestConversationOut_ToModel(t *testing.T) {
	var out ConversationOut
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "c1",
		"title": "",
		"status": "active",
		"messages": [
			{"role": "user", "content": "hi", "timestamp": "2025-03-01T10:00:00"},
			{"role": "assistant", "content": "hello", "timestamp": null}
		],
		"created_at": "2025-03-01T10:00:00",
		"updated_at": "2025-03-01T10:05:00"
	}`), &out))

	conv := out.ToModel()
	assert.Equal(t, "c1", conv.ID)
	assert.Equal(t, model.DefaultTitle, conv.Title)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, model.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, model.RoleAssistant, conv.Messages[1].Role)
	assert.True(t, conv.Messages[1].Timestamp.IsZero())
	assert.Equal(t, 5*time.Minute, conv.UpdatedAt.Sub(conv.CreatedAt))
}
