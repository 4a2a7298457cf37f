// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jeranaias/privia/internal/api"
	"github.com/jeranaias/privia/internal/model"
)

// ConnState is the lifecycle state of the socket.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateOpen
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Frame types of the chat socket.
const (
	frameSources = "sources"
	frameToken   = "token"
	frameDone    = "done"
	frameError   = "error"
	frameStop    = "stop"
)

const (
	invalidPayloadMessage = "Invalid websocket payload"
	backendErrorMessage   = "Backend error"
	writeTimeout          = 10 * time.Second
)

// frame is one JSON message received from the socket.
type frame struct {
	Type           string          `json:"type"`
	Content        string          `json:"content"`
	Sources        json.RawMessage `json:"sources"`
	Mode           model.Mode      `json:"mode"`
	ConversationID string          `json:"conversation_id"`
}

type stopFrame struct {
	Type string `json:"type"`
}

// SocketClient answers questions over a WebSocket and falls back to the
// REST query endpoint when no socket is open.
//
// Unexpected closes and failed dials consume a retry budget; reconnects are
// scheduled a fixed delay apart while budget remains. A successful open
// restores the budget. Resume restores it on demand.
type SocketClient struct {
	backend  SocketBackend
	handlers Handlers
	opts     options
	logger   *zap.Logger

	loading atomic.Bool

	// ctx is cancelled by Close and aborts in-flight dials.
	ctx      context.Context
	shutdown context.CancelFunc

	mu       sync.Mutex
	conn     *websocket.Conn
	state    ConnState
	attempts int
	timer    *time.Timer
	closed   bool

	// gen identifies the most recent send. cancel aborts its REST query
	// and current receives its events.
	gen     uint64
	cancel  context.CancelFunc
	current *Handlers

	// writeMu serialises writes; the socket allows one concurrent writer.
	writeMu sync.Mutex

	wg sync.WaitGroup
}

var _ Transport = (*SocketClient)(nil)

// NewSocketClient creates a socket transport. Call Connect to open the
// socket; until then every send takes the REST path.
func NewSocketClient(backend SocketBackend, h Handlers, opts ...Option) *SocketClient {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SocketClient{
		backend:  backend,
		handlers: h,
		opts:     o,
		logger:   o.logger.Named("socket"),
		ctx:      ctx,
		shutdown: cancel,
	}
}

// =============================================================================
// CONNECTION LIFECYCLE
// =============================================================================

// Connect opens the socket in the background. It is a no-op while a socket
// is open or connecting, once the retry budget is spent, and after Close.
func (c *SocketClient) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state != StateDisconnected || c.attempts >= c.opts.attempts {
		return
	}
	c.state = StateConnecting
	c.wg.Add(1)
	go c.dial()
}

// Resume restores the retry budget and connects. It is the hook for the
// application becoming active again.
func (c *SocketClient) Resume() {
	c.mu.Lock()
	c.attempts = 0
	c.stopTimerLocked()
	c.mu.Unlock()
	c.Connect()
}

// Close stops reconnecting and closes the socket. It waits for background
// goroutines to exit.
func (c *SocketClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.wg.Wait()
		return
	}
	c.closed = true
	c.stopTimerLocked()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	c.shutdown()
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
	}
	c.wg.Wait()
}

// State returns the connection state.
func (c *SocketClient) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the retry budget consumed since the last open or Resume.
func (c *SocketClient) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *SocketClient) dial() {
	defer c.wg.Done()

	conn, _, err := c.opts.dialer.DialContext(c.ctx, c.socketURL(), nil)
	if err != nil {
		c.logger.Debug("dial failed", zap.Error(err))
		c.disconnected(nil)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	c.stopTimerLocked()
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Debug("socket open")
	go c.readLoop(conn)
}

// socketURL appends the bearer token to the endpoint.
func (c *SocketClient) socketURL() string {
	base := c.backend.SocketURL()
	token := c.backend.Token()
	if token == "" {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + url.QueryEscape(token)
}

// readLoop delivers frames from conn until it closes. It is bound to conn:
// once conn is no longer the current socket its frames are dropped.
func (c *SocketClient) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Debug("socket closed", zap.Error(err))
			}
			c.disconnected(conn)
			return
		}
		if !c.isCurrent(conn) {
			return
		}
		c.handleFrame(data)
	}
}

func (c *SocketClient) isCurrent(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn && !c.closed
}

// disconnected records the loss of conn (nil for a failed dial) and
// schedules a reconnect while budget remains.
func (c *SocketClient) disconnected(conn *websocket.Conn) {
	c.mu.Lock()
	if conn != nil && c.conn != conn {
		c.mu.Unlock()
		return
	}
	if conn != nil {
		conn.Close()
	}
	c.conn = nil
	c.state = StateDisconnected
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.attempts++
	if c.attempts < c.opts.attempts {
		c.stopTimerLocked()
		c.timer = time.AfterFunc(c.opts.delay, c.Connect)
	} else {
		c.logger.Info("reconnect budget exhausted", zap.Int("attempts", c.attempts))
	}
	c.mu.Unlock()

	// RELIABILITY: An answer in flight on a lost socket would otherwise
	// leave the caller loading forever.
	if conn != nil && c.loading.Swap(false) {
		c.eventHandlers().error("Connection lost")
	}
}

func (c *SocketClient) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// =============================================================================
// FRAMES
// =============================================================================

// eventHandlers returns the handlers of the most recent send.
func (c *SocketClient) eventHandlers() Handlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return *c.current
	}
	return c.handlers
}

func (c *SocketClient) handleFrame(data []byte) {
	h := c.eventHandlers()
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Warn("invalid frame", zap.Error(err))
		c.loading.Store(false)
		h.error(invalidPayloadMessage)
		return
	}

	switch f.Type {
	case frameSources:
		sources, err := parseSources(f.Sources)
		if err != nil {
			c.loading.Store(false)
			h.error(invalidPayloadMessage)
			return
		}
		h.sources(sources, f.Mode)

	case frameToken:
		h.token(f.Content, f.Mode)

	case frameDone:
		sources, _ := parseSources(f.Sources)
		c.loading.Store(false)
		h.done(&DonePayload{ConversationID: f.ConversationID, Mode: f.Mode, Sources: sources})

	case frameError:
		c.loading.Store(false)
		msg := f.Content
		if msg == "" {
			msg = backendErrorMessage
		}
		h.error(msg)

	default:
		c.logger.Debug("ignoring frame", zap.String("type", f.Type))
	}
}

// =============================================================================
// TRANSPORT
// =============================================================================

// SendMessage writes the question to the open socket and returns at once;
// the answer arrives as frames. Without an open socket, or when the write
// fails, it performs one REST query and reports its result before
// returning.
func (c *SocketClient) SendMessage(ctx context.Context, question, conversationID string) {
	h := HandlersFromContext(ctx, c.handlers)
	c.loading.Store(true)
	q := api.QueryRequest{Question: question, ConversationID: conversationID}

	reqCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	c.cancel = cancel
	c.current = &h
	c.mu.Unlock()

	if conn := c.openConn(); conn != nil {
		err := c.writeJSON(conn, q)
		if err == nil {
			return
		}
		c.logger.Warn("socket write failed, using REST", zap.Error(err))
	}

	defer func() {
		cancel()
		c.mu.Lock()
		if c.gen == gen {
			c.cancel = nil
		}
		c.mu.Unlock()
	}()
	c.queryREST(reqCtx, gen, h, q)
}

// queryREST answers q over the query endpoint. A query that was stopped or
// superseded by a newer send reports nothing.
func (c *SocketClient) queryREST(ctx context.Context, gen uint64, h Handlers, q api.QueryRequest) {
	resp, err := c.backend.Query(ctx, q)
	if ctx.Err() != nil || !c.isCurrentGen(gen) {
		c.logger.Debug("query abandoned")
		c.clearLoading(gen)
		return
	}
	if err != nil {
		c.clearLoading(gen)
		if errors.Is(err, context.Canceled) {
			return
		}
		msg := err.Error()
		if msg == "" {
			msg = backendErrorMessage
		}
		h.error(msg)
		return
	}

	sources := resp.Sources
	if sources == nil {
		sources = []string{}
	}
	h.token(resp.Answer, resp.Mode)
	h.sources(sources, resp.Mode)
	c.clearLoading(gen)
	h.done(&DonePayload{ConversationID: resp.ConversationID, Mode: resp.Mode, Sources: sources})
}

func (c *SocketClient) isCurrentGen(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

// clearLoading clears loading unless a newer send owns it.
func (c *SocketClient) clearLoading(gen uint64) {
	if c.isCurrentGen(gen) {
		c.loading.Store(false)
	}
}

// StopGeneration aborts a REST query in flight, clears loading locally and
// asks the backend to stop. The backend may keep generating.
func (c *SocketClient) StopGeneration() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	c.loading.Store(false)
	if conn := c.openConn(); conn != nil {
		if err := c.writeJSON(conn, stopFrame{Type: frameStop}); err != nil {
			c.logger.Debug("stop frame not sent", zap.Error(err))
		}
	}
}

// IsLoading reports whether an answer is in flight.
func (c *SocketClient) IsLoading() bool {
	return c.loading.Load()
}

// IsConnected reports whether the socket is open.
func (c *SocketClient) IsConnected() bool {
	return c.State() == StateOpen
}

func (c *SocketClient) openConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return nil
	}
	return c.conn
}

func (c *SocketClient) writeJSON(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}
