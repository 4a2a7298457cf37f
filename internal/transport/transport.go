// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jeranaias/privia/internal/api"
	"github.com/jeranaias/privia/internal/model"
)

// =============================================================================
// CALLBACKS
// =============================================================================

// DonePayload is the completion record of one answer.
type DonePayload struct {
	ConversationID string     `json:"conversation_id,omitempty"`
	Mode           model.Mode `json:"mode,omitempty"`
	Sources        []string   `json:"sources,omitempty"`
}

// Handlers receives transport events. Nil fields are skipped. Callbacks run
// on transport goroutines and must not block for long.
type Handlers struct {
	OnSources func(sources []string, mode model.Mode)
	OnToken   func(content string, mode model.Mode)
	// OnDone receives nil when the done record could not be parsed.
	OnDone  func(payload *DonePayload)
	OnError func(message string)
}

func (h Handlers) sources(sources []string, mode model.Mode) {
	if h.OnSources != nil {
		h.OnSources(sources, mode)
	}
}

func (h Handlers) token(content string, mode model.Mode) {
	if h.OnToken != nil {
		h.OnToken(content, mode)
	}
}

func (h Handlers) done(payload *DonePayload) {
	if h.OnDone != nil {
		h.OnDone(payload)
	}
}

func (h Handlers) error(message string) {
	if h.OnError != nil {
		h.OnError(message)
	}
}

type handlersKey struct{}

// ContextWithHandlers returns a context whose send reports to h instead of
// the handlers the transport was built with. Binding h to one send keeps
// late events of an older send away from a newer one.
func ContextWithHandlers(ctx context.Context, h Handlers) context.Context {
	return context.WithValue(ctx, handlersKey{}, h)
}

// HandlersFromContext returns the handlers bound to ctx, or fallback.
func HandlersFromContext(ctx context.Context, fallback Handlers) Handlers {
	if h, ok := ctx.Value(handlersKey{}).(Handlers); ok {
		return h
	}
	return fallback
}

// Transport sends a question and reports the answer through Handlers.
type Transport interface {
	// SendMessage starts answering question. An empty conversationID asks
	// the backend to create a conversation.
	SendMessage(ctx context.Context, question, conversationID string)
	// StopGeneration stops reflecting the in-flight answer.
	StopGeneration()
	IsLoading() bool
	IsConnected() bool
}

// =============================================================================
// BACKEND
// =============================================================================

// StreamBackend opens SSE answer streams.
type StreamBackend interface {
	OpenStream(ctx context.Context, q api.QueryRequest) (*http.Response, error)
}

// SocketBackend provides the socket endpoint and the REST fallback.
type SocketBackend interface {
	SocketURL() string
	Token() string
	Query(ctx context.Context, q api.QueryRequest) (*api.QueryResponse, error)
}

var (
	_ StreamBackend = (*api.Client)(nil)
	_ SocketBackend = (*api.Client)(nil)
)

// =============================================================================
// OPTIONS
// =============================================================================

// Defaults of the socket reconnect budget.
const (
	DefaultReconnectAttempts = 3
	DefaultReconnectDelay    = 3 * time.Second
)

type options struct {
	logger   *zap.Logger
	attempts int
	delay    time.Duration
	dialer   *websocket.Dialer
	maxLine  int
}

func defaultOptions() options {
	return options{
		logger:   zap.NewNop(),
		attempts: DefaultReconnectAttempts,
		delay:    DefaultReconnectDelay,
		dialer:   websocket.DefaultDialer,
		maxLine:  MaxLineSize,
	}
}

// Option configures a transport.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithReconnect sets the socket retry budget and the delay between attempts.
func WithReconnect(attempts int, delay time.Duration) Option {
	return func(o *options) {
		if attempts > 0 {
			o.attempts = attempts
		}
		if delay >= 0 {
			o.delay = delay
		}
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) {
		if d != nil {
			o.dialer = d
		}
	}
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// parseSources accepts a JSON array. String elements are kept verbatim;
// anything else keeps its JSON text.
func parseSources(raw []byte) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []string{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("sources: %w", err)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if json.Unmarshal(item, &s) == nil {
			out = append(out, s)
			continue
		}
		out = append(out, string(item))
	}
	return out, nil
}
