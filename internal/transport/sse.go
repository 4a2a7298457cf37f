// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jeranaias/privia/internal/api"
)

// SSEClient answers questions over the streaming endpoint.
type SSEClient struct {
	backend  StreamBackend
	handlers Handlers
	opts     options

	loading atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	// gen identifies the most recent request; older requests finishing
	// late must not touch the state of the newer one.
	gen uint64
}

var _ Transport = (*SSEClient)(nil)

// NewSSEClient creates an SSE transport.
func NewSSEClient(backend StreamBackend, h Handlers, opts ...Option) *SSEClient {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.Named("sse")
	return &SSEClient{backend: backend, handlers: h, opts: o}
}

// SendMessage streams the answer to question and returns when the stream
// ends, fails or is stopped.
func (c *SSEClient) SendMessage(ctx context.Context, question, conversationID string) {
	h := HandlersFromContext(ctx, c.handlers)
	c.loading.Store(true)

	reqCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.cancel = cancel
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		if c.gen == gen {
			c.cancel = nil
		}
		c.mu.Unlock()
		c.clearLoading(gen)
	}()

	c.stream(reqCtx, gen, h, api.QueryRequest{Question: question, ConversationID: conversationID})
}

func (c *SSEClient) stream(ctx context.Context, gen uint64, h Handlers, q api.QueryRequest) {
	resp, err := c.backend.OpenStream(ctx, q)
	if err != nil {
		c.fail(ctx, gen, h, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.clearLoading(gen)
		h.error(fmt.Sprintf("HTTP error! status: %d", resp.StatusCode))
		return
	}

	dec := NewDecoder(h, WithLogger(c.opts.logger))
	dec.maxLine = c.opts.maxLine
	dec.onTerminal = func() { c.clearLoading(gen) }

	if _, err := io.Copy(&contextWriter{ctx: ctx, w: dec}, resp.Body); err != nil {
		c.fail(ctx, gen, h, err)
		return
	}
	c.opts.logger.Debug("stream finished", zap.Int("answer_bytes", len(dec.Answer())))
}

// fail reports err unless the request was aborted.
func (c *SSEClient) fail(ctx context.Context, gen uint64, h Handlers, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		c.opts.logger.Debug("stream aborted")
		return
	}
	c.opts.logger.Warn("stream failed", zap.Error(err))
	c.clearLoading(gen)
	h.error(err.Error())
}

func (c *SSEClient) clearLoading(gen uint64) {
	c.mu.Lock()
	current := c.gen == gen
	c.mu.Unlock()
	if current {
		c.loading.Store(false)
	}
}

// StopGeneration aborts the in-flight request. The abort is not reported
// through OnError.
func (c *SSEClient) StopGeneration() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		c.loading.Store(false)
	}
}

// IsLoading reports whether an answer is in flight.
func (c *SSEClient) IsLoading() bool {
	return c.loading.Load()
}

// IsConnected is always true: every request opens its own stream.
func (c *SSEClient) IsConnected() bool {
	return true
}

// contextWriter stops delivering bytes once ctx is done, so nothing
// buffered in the current chunk reaches the handlers after an abort.
type contextWriter struct {
	ctx context.Context
	w   io.Writer
}

func (cw *contextWriter) Write(p []byte) (int, error) {
	if err := cw.ctx.Err(); err != nil {
		return 0, err
	}
	return cw.w.Write(p)
}
