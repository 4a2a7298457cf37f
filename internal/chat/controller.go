// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/privia/internal/api"
	"github.com/jeranaias/privia/internal/model"
	"github.com/jeranaias/privia/internal/store"
	"github.com/jeranaias/privia/internal/transport"
	"github.com/jeranaias/privia/internal/util"
)

// Errors returned when a request is rejected. Rejected requests leave the
// store and the transport untouched.
var (
	ErrEmptyMessage        = errors.New("message is empty")
	ErrBusy                = errors.New("an answer is already in progress")
	ErrHydrating           = errors.New("conversations are still loading")
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrNothingToRegenerate = errors.New("no question to regenerate")
	ErrClosed              = errors.New("controller closed")
)

// Defaults for Controller options.
const (
	DefaultBootstrapConcurrency = 4
	DefaultBackgroundTimeout    = 15 * time.Second
)

// ConversationAPI is the backend surface the Controller needs.
type ConversationAPI interface {
	ListConversations(ctx context.Context) ([]api.ConversationSummary, error)
	GetConversation(ctx context.Context, id string) (*api.ConversationOut, error)
	CreateConversation(ctx context.Context, title string) (*api.ConversationOut, error)
	UpdateConversationTitle(ctx context.Context, id, title string) (*api.ConversationOut, error)
	DeleteConversation(ctx context.Context, id string) error
}

var _ ConversationAPI = (*api.Client)(nil)

// TransportFactory builds the transport that reports to h.
type TransportFactory func(h transport.Handlers) transport.Transport

// Controller orchestrates one chat session.
type Controller struct {
	store     *store.Store
	api       ConversationAPI
	transport transport.Transport

	logger      *zap.Logger
	now         func() time.Time
	titleMax    int
	concurrency int
	bgTimeout   time.Duration

	mu        sync.Mutex
	input     string
	hydrating bool
	creating  bool
	// seq numbers sends; callbacks and completions of an older send are
	// recognised by a stale seq.
	seq      uint64
	inFlight bool
	// activeID is the conversation the in-flight answer belongs to.
	activeID string
	idle     chan struct{}

	closed atomic.Bool
	bg     sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithTitleMaxLength sets the rune length of derived titles.
func WithTitleMaxLength(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.titleMax = n
		}
	}
}

// WithBootstrapConcurrency bounds parallel conversation fetches.
func WithBootstrapConcurrency(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithBackgroundTimeout bounds each background side effect.
func WithBackgroundTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.bgTimeout = d
		}
	}
}

// NewController creates a controller over st. newTransport is called once
// with the controller's handlers.
func NewController(st *store.Store, backend ConversationAPI, newTransport TransportFactory, opts ...Option) *Controller {
	idle := make(chan struct{})
	close(idle)

	c := &Controller{
		store:       st,
		api:         backend,
		logger:      zap.NewNop(),
		now:         time.Now,
		titleMax:    util.TitleMaxRunes,
		concurrency: DefaultBootstrapConcurrency,
		bgTimeout:   DefaultBackgroundTimeout,
		idle:        idle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("chat")
	c.transport = newTransport(c.Handlers())
	return c
}

// =============================================================================
// INPUT AND STATUS
// =============================================================================

// SetInput replaces the pending input text.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = text
}

// Input returns the pending input text.
func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// State returns the current store snapshot.
func (c *Controller) State() model.ChatState {
	return c.store.State()
}

// IsLoading reports whether an answer is in flight.
func (c *Controller) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// IsHydrating reports whether Bootstrap is running.
func (c *Controller) IsHydrating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hydrating
}

// IsConnected reports the transport's connection state.
func (c *Controller) IsConnected() bool {
	return c.transport.IsConnected()
}

// Idle returns a channel closed once no answer is in flight.
func (c *Controller) Idle() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idle
}

// =============================================================================
// SENDING
// =============================================================================

// Send submits text, or the pending input when text is empty. The user
// message and an empty assistant placeholder are added at once; the answer
// is delivered in the background and fills the placeholder. ctx bounds the
// answer, not the call.
func (c *Controller) Send(ctx context.Context, text string) error {
	if c.closed.Load() {
		return ErrClosed
	}

	// Read before locking: store listeners may call back into the
	// controller while the store is locked.
	state := c.store.State()

	c.mu.Lock()
	message := text
	if message == "" {
		message = c.input
	}
	if strings.TrimSpace(message) == "" {
		c.mu.Unlock()
		return ErrEmptyMessage
	}
	if c.inFlight || c.transport.IsLoading() {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.hydrating {
		c.mu.Unlock()
		return ErrHydrating
	}

	convID := state.CurrentConversationID
	firstMessage := true
	if conv, ok := state.Current(); ok {
		convID = conv.ID
		firstMessage = conv.UserMessageCount() == 0
	}

	c.seq++
	seq := c.seq
	c.inFlight = true
	c.activeID = convID
	c.idle = make(chan struct{})
	c.input = ""
	c.mu.Unlock()

	now := c.now()
	c.store.Dispatch(store.AddUserMessage{ConversationID: convID, Content: message, Timestamp: now})

	if firstMessage {
		title := util.DeriveTitle(message, c.titleMax)
		c.store.Dispatch(store.UpdateTitle{ConversationID: convID, Title: title})
		if convID != model.PlaceholderID {
			c.background(ctx, "persist title", func(ctx context.Context) error {
				_, err := c.api.UpdateConversationTitle(ctx, convID, title)
				return err
			})
		}
	}

	c.store.Dispatch(store.AddAssistantMessage{ConversationID: convID, Timestamp: now})

	// The placeholder id is local only; the backend assigns a real one.
	remoteID := convID
	if remoteID == model.PlaceholderID {
		remoteID = ""
	}

	sendCtx := transport.ContextWithHandlers(ctx, c.handlersFor(seq))
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		c.transport.SendMessage(sendCtx, message, remoteID)
		if !c.transport.IsLoading() {
			c.finish(seq)
		}
	}()
	return nil
}

// Regenerate re-sends the last user message of the current conversation.
func (c *Controller) Regenerate(ctx context.Context) error {
	conv, ok := c.store.State().Current()
	if !ok {
		return ErrNothingToRegenerate
	}
	last, ok := conv.LastUserMessage()
	if !ok {
		return ErrNothingToRegenerate
	}
	return c.Send(ctx, last.Content)
}

// StopGeneration stops the in-flight answer. Whatever arrived so far stays.
func (c *Controller) StopGeneration() {
	c.transport.StopGeneration()

	c.mu.Lock()
	seq := c.seq
	c.mu.Unlock()
	c.finish(seq)
}

// Resume asks a reconnecting transport to retry with a fresh budget.
func (c *Controller) Resume() {
	if r, ok := c.transport.(interface{ Resume() }); ok {
		r.Resume()
	}
}

// finish marks send seq complete. Stale completions are ignored.
func (c *Controller) finish(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.seq || !c.inFlight {
		return
	}
	c.inFlight = false
	close(c.idle)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// background runs fn detached from the caller's cancellation, bounded by
// the background timeout. Failures are logged only.
func (c *Controller) background(ctx context.Context, name string, fn func(ctx context.Context) error) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.bgTimeout)
		defer cancel()
		if err := fn(bctx); err != nil {
			c.logger.Warn(name+" failed", zap.Error(err))
		}
	}()
}

// Wait blocks until background work, including an in-flight answer, ends.
func (c *Controller) Wait() {
	c.bg.Wait()
}

// Close stops the in-flight answer, ignores later callbacks and waits for
// background work. Closing a transport that supports it is included.
func (c *Controller) Close() {
	if c.closed.Swap(true) {
		c.bg.Wait()
		return
	}
	c.StopGeneration()
	if closer, ok := c.transport.(interface{ Close() }); ok {
		closer.Close()
	}
	c.bg.Wait()
}
