// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/jeranaias/privia/internal/api"
	"github.com/jeranaias/privia/internal/model"
	"github.com/jeranaias/privia/internal/store"
	"github.com/jeranaias/privia/internal/transport"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// =============================================================================
// FAKE TRANSPORT
// =============================================================================

type sentMessage struct {
	question       string
	conversationID string
}

// fakeTransport runs script synchronously inside SendMessage with the
// handlers bound to that send. With stayLoading set it behaves like an open
// socket: SendMessage returns with loading still set.
type fakeTransport struct {
	h           transport.Handlers
	script      func(h transport.Handlers)
	stayLoading bool

	mu      sync.Mutex
	sends   []sentMessage
	bound   []transport.Handlers
	stops   int
	loading atomic.Bool
}

func (f *fakeTransport) SendMessage(ctx context.Context, question, conversationID string) {
	h := transport.HandlersFromContext(ctx, f.h)
	f.loading.Store(true)
	f.mu.Lock()
	f.sends = append(f.sends, sentMessage{question: question, conversationID: conversationID})
	f.bound = append(f.bound, h)
	script := f.script
	f.mu.Unlock()

	if script != nil {
		script(h)
	}
	if !f.stayLoading {
		f.loading.Store(false)
	}
}

func (f *fakeTransport) StopGeneration() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	f.loading.Store(false)
}

func (f *fakeTransport) IsLoading() bool   { return f.loading.Load() }
func (f *fakeTransport) IsConnected() bool { return true }

// handlersOf returns the handlers bound to the i-th send.
func (f *fakeTransport) handlersOf(i int) transport.Handlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bound[i]
}

func (f *fakeTransport) sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sends...)
}

// =============================================================================
// FAKE BACKEND
// =============================================================================

type fakeAPI struct {
	mu sync.Mutex

	summaries []api.ConversationSummary
	listErr   error
	// listGate, when set, blocks ListConversations until closed.
	listGate chan struct{}

	convs  map[string]*api.ConversationOut
	getErr map[string]error

	created   *api.ConversationOut
	createErr error
	creates   int

	titles    map[string]string
	titleErr  error
	deletes   []string
	deleteErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		convs:  map[string]*api.ConversationOut{},
		getErr: map[string]error{},
		titles: map[string]string{},
	}
}

func (f *fakeAPI) ListConversations(ctx context.Context) ([]api.ConversationSummary, error) {
	if f.listGate != nil {
		select {
		case <-f.listGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summaries, f.listErr
}

func (f *fakeAPI) GetConversation(_ context.Context, id string) (*api.ConversationOut, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.getErr[id]; err != nil {
		return nil, err
	}
	conv, ok := f.convs[id]
	if !ok {
		return nil, &api.APIError{Status: 404}
	}
	return conv, nil
}

func (f *fakeAPI) CreateConversation(context.Context, string) (*api.ConversationOut, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	return f.created, f.createErr
}

func (f *fakeAPI) UpdateConversationTitle(_ context.Context, id, title string) (*api.ConversationOut, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles[id] = title
	return &api.ConversationOut{ID: id, Title: title}, f.titleErr
}

func (f *fakeAPI) DeleteConversation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	return f.deleteErr
}

func (f *fakeAPI) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

// =============================================================================
// FIXTURES
// =============================================================================

func wireConv(id string, userMessages ...string) *api.ConversationOut {
	out := &api.ConversationOut{ID: id, Title: "conv " + id}
	for _, m := range userMessages {
		out.Messages = append(out.Messages,
			api.MessageOut{Role: "user", Content: m},
			api.MessageOut{Role: "assistant", Content: "re: " + m})
	}
	return out
}

func localConv(id string, userMessages ...string) model.Conversation {
	return wireConv(id, userMessages...).ToModel()
}

type harness struct {
	store     *store.Store
	api       *fakeAPI
	transport *fakeTransport
	ctrl      *Controller
}

func newHarness(t *testing.T, initial ...model.Conversation) *harness {
	t.Helper()

	opts := []store.Option{store.WithClock(func() time.Time { return t0 })}
	if len(initial) > 0 {
		opts = append(opts, store.WithState(model.ChatState{
			Conversations:         initial,
			CurrentConversationID: initial[0].ID,
		}))
	}

	h := &harness{
		store:     store.New(opts...),
		api:       newFakeAPI(),
		transport: &fakeTransport{},
	}
	h.ctrl = NewController(h.store, h.api, func(handlers transport.Handlers) transport.Transport {
		h.transport.h = handlers
		return h.transport
	}, WithLogger(zaptest.NewLogger(t)), WithClock(func() time.Time { return t0 }))
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) current(t *testing.T) model.Conversation {
	t.Helper()
	conv, ok := h.store.State().Current()
	if !ok {
		t.Fatal("no current conversation")
	}
	return conv
}

func waitIdle(t *testing.T, ctrl *Controller) {
	t.Helper()
	select {
	case <-ctrl.Idle():
	case <-time.After(5 * time.Second):
		t.Fatal("answer did not finish")
	}
}

func lastMessage(t *testing.T, conv model.Conversation) model.Message {
	t.Helper()
	m, ok := conv.LastMessage()
	if !ok {
		t.Fatalf("conversation %s has no messages", conv.ID)
	}
	return m
}

const (
	waitTimeout = 5 * time.Second
	waitTick    = 5 * time.Millisecond
)
