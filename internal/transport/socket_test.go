// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/privia/internal/api"
	"github.com/jeranaias/privia/internal/model"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// fakeSocketBackend serves the socket URL of a test server and answers
// REST fallbacks from fixed values.
type fakeSocketBackend struct {
	url   string
	token string

	mu      sync.Mutex
	queries []api.QueryRequest
	resp    *api.QueryResponse
	err     error
	// answer, when set, replaces resp and err.
	answer func(ctx context.Context, q api.QueryRequest) (*api.QueryResponse, error)
}

func (f *fakeSocketBackend) SocketURL() string { return f.url }
func (f *fakeSocketBackend) Token() string     { return f.token }

func (f *fakeSocketBackend) Query(ctx context.Context, q api.QueryRequest) (*api.QueryResponse, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	answer, resp, err := f.answer, f.resp, f.err
	f.mu.Unlock()

	if answer != nil {
		return answer(ctx, q)
	}
	return resp, err
}

func (f *fakeSocketBackend) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

// chatServer is a WebSocket endpoint scripted per test. respond receives
// every client message and returns the frames to send back.
type chatServer struct {
	server   *httptest.Server
	received chan map[string]any
	respond  func(msg map[string]any) []string
	tokens   chan string
}

func newChatServer(t *testing.T, respond func(msg map[string]any) []string) *chatServer {
	t.Helper()
	cs := &chatServer{
		received: make(chan map[string]any, 16),
		respond:  respond,
		tokens:   make(chan string, 16),
	}
	upgrader := websocket.Upgrader{}
	cs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.tokens <- r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			cs.received <- msg
			if cs.respond == nil {
				continue
			}
			for _, out := range cs.respond(msg) {
				if out == "" {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, []byte(out)); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(cs.server.Close)
	return cs
}

func (cs *chatServer) wsURL() string {
	return "ws" + strings.TrimPrefix(cs.server.URL, "http") + "/api/ws/chat"
}

func newConnectedClient(t *testing.T, cs *chatServer, h Handlers, opts ...Option) (*SocketClient, *fakeSocketBackend) {
	t.Helper()
	backend := &fakeSocketBackend{url: cs.wsURL(), token: "tok"}
	client := NewSocketClient(backend, h, opts...)
	t.Cleanup(client.Close)

	client.Connect()
	require.Eventually(t, client.IsConnected, waitFor, tick)
	return client, backend
}

func waitFinished(t *testing.T, rec *recorder) {
	t.Helper()
	select {
	case <-rec.finished:
	case <-time.After(waitFor):
		t.Fatal("no done or error callback")
	}
}

// =============================================================================
// FRAME TESTS
// =============================================================================

func TestSocketClient_DeliversFrames(t *testing.T) {
	cs := newChatServer(t, func(msg map[string]any) []string {
		return []string{
			`{"type":"sources","sources":["a.pdf"],"mode":"rag"}`,
			`{"type":"token","content":"Hel","mode":"stream"}`,
			`{"type":"token","content":"Hello","mode":"stream"}`,
			`{"type":"mystery"}`,
			`{"type":"done","conversation_id":"srv-1","mode":"rag","sources":["a.pdf"]}`,
		}
	})
	rec := newRecorder()
	client, _ := newConnectedClient(t, cs, rec.handlers())
	assert.Equal(t, "tok", <-cs.tokens)

	client.SendMessage(context.Background(), "hi", "c1")

	msg := <-cs.received
	assert.Equal(t, "hi", msg["question"])
	assert.Equal(t, "c1", msg["conversation_id"])

	waitFinished(t, rec)
	calls := rec.snapshot()
	require.Equal(t, []string{"sources", "token", "token", "done"}, rec.kinds())
	assert.Equal(t, []string{"a.pdf"}, calls[0].sources)
	// Socket tokens are authoritative and are not accumulated.
	assert.Equal(t, "Hel", calls[1].content)
	assert.Equal(t, "Hello", calls[2].content)
	assert.Equal(t, model.Mode("stream"), calls[2].mode)
	assert.Equal(t, &DonePayload{ConversationID: "srv-1", Mode: model.ModeRAG, Sources: []string{"a.pdf"}}, calls[3].done)
	assert.False(t, client.IsLoading())
}

func TestSocketClient_ErrorFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"with content", `{"type":"error","content":"quota exceeded"}`, "quota exceeded"},
		{"without content", `{"type":"error"}`, "Backend error"},
		{"invalid json", `not json`, "Invalid websocket payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := newChatServer(t, func(map[string]any) []string { return []string{tt.frame} })
			rec := newRecorder()
			client, _ := newConnectedClient(t, cs, rec.handlers())

			client.SendMessage(context.Background(), "q", "")
			waitFinished(t, rec)

			assert.Equal(t, []call{{kind: "error", content: tt.want}}, rec.snapshot())
			assert.False(t, client.IsLoading())
		})
	}
}

func TestSocketClient_OmitsTokenWhenSignedOut(t *testing.T) {
	cs := newChatServer(t, nil)
	backend := &fakeSocketBackend{url: cs.wsURL()}
	client := NewSocketClient(backend, Handlers{})
	t.Cleanup(client.Close)

	client.Connect()
	require.Eventually(t, client.IsConnected, waitFor, tick)
	assert.Equal(t, "", <-cs.tokens)
}

func TestSocketURL_AppendsToken(t *testing.T) {
	c := NewSocketClient(&fakeSocketBackend{url: "ws://h/api/ws/chat", token: "a b"}, Handlers{})
	assert.Equal(t, "ws://h/api/ws/chat?token=a+b", c.socketURL())

	c = NewSocketClient(&fakeSocketBackend{url: "ws://h/api/ws/chat?v=2", token: "t"}, Handlers{})
	assert.Equal(t, "ws://h/api/ws/chat?v=2&token=t", c.socketURL())
}

// =============================================================================
// STOP TESTS
// =============================================================================

func TestSocketClient_StopSendsStopFrame(t *testing.T) {
	cs := newChatServer(t, nil)
	client, _ := newConnectedClient(t, cs, Handlers{})

	client.SendMessage(context.Background(), "q", "")
	<-cs.received
	require.True(t, client.IsLoading())

	client.StopGeneration()
	assert.False(t, client.IsLoading())

	select {
	case msg := <-cs.received:
		assert.Equal(t, map[string]any{"type": "stop"}, msg)
	case <-time.After(waitFor):
		t.Fatal("stop frame not received")
	}
}

func TestSocketClient_StopWhileDisconnected(t *testing.T) {
	client := NewSocketClient(&fakeSocketBackend{}, Handlers{})
	client.StopGeneration()
	assert.False(t, client.IsLoading())
}

// =============================================================================
// REST FALLBACK TESTS
// =============================================================================

func TestSocketClient_RESTFallbackOrder(t *testing.T) {
	backend := &fakeSocketBackend{resp: &api.QueryResponse{
		Answer:         "42",
		Sources:        []string{"guide.md"},
		Mode:           model.ModeRAG,
		ConversationID: "srv-2",
	}}

	var client *SocketClient
	var loadingAtDone bool
	rec := newRecorder()
	h := rec.handlers()
	onDone := h.OnDone
	h.OnDone = func(p *DonePayload) {
		loadingAtDone = client.IsLoading()
		onDone(p)
	}
	client = NewSocketClient(backend, h)

	client.SendMessage(context.Background(), "meaning?", "c9")

	require.Equal(t, []string{"token", "sources", "done"}, rec.kinds())
	calls := rec.snapshot()
	assert.Equal(t, call{kind: "token", content: "42", mode: model.ModeRAG}, calls[0])
	assert.Equal(t, []string{"guide.md"}, calls[1].sources)
	assert.Equal(t, &DonePayload{ConversationID: "srv-2", Mode: model.ModeRAG, Sources: []string{"guide.md"}}, calls[2].done)
	assert.False(t, loadingAtDone)
	assert.False(t, client.IsLoading())
	assert.Equal(t, []api.QueryRequest{{Question: "meaning?", ConversationID: "c9"}}, backend.queries)
}

func TestSocketClient_RESTFallbackMissingSources(t *testing.T) {
	backend := &fakeSocketBackend{resp: &api.QueryResponse{Answer: "x"}}
	rec := newRecorder()
	client := NewSocketClient(backend, rec.handlers())

	client.SendMessage(context.Background(), "q", "")

	calls := rec.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, []string{}, calls[1].sources)
}

func TestSocketClient_RESTFallbackFailure(t *testing.T) {
	backend := &fakeSocketBackend{err: errors.New("query: api error (HTTP 500)")}
	rec := newRecorder()
	client := NewSocketClient(backend, rec.handlers())

	client.SendMessage(context.Background(), "q", "")

	assert.Equal(t, []call{{kind: "error", content: "query: api error (HTTP 500)"}}, rec.snapshot())
	assert.False(t, client.IsLoading())
}

func TestSocketClient_StopAbandonsRESTQuery(t *testing.T) {
	firstCancelled := make(chan struct{})
	firstReturn := make(chan struct{})
	secondReturn := make(chan struct{})
	backend := &fakeSocketBackend{answer: func(ctx context.Context, q api.QueryRequest) (*api.QueryResponse, error) {
		if q.Question == "first" {
			<-ctx.Done()
			close(firstCancelled)
			// A backend that ignores cancellation still answers late.
			<-firstReturn
			return &api.QueryResponse{Answer: "answer to first", Mode: model.ModeChat}, nil
		}
		<-secondReturn
		return &api.QueryResponse{Answer: "answer to second", Mode: model.ModeChat}, nil
	}}
	rec := newRecorder()
	client := NewSocketClient(backend, rec.handlers())
	t.Cleanup(client.Close)

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		client.SendMessage(context.Background(), "first", "")
	}()
	require.Eventually(t, func() bool { return backend.queryCount() == 1 }, waitFor, tick)

	client.StopGeneration()
	select {
	case <-firstCancelled:
	case <-time.After(waitFor):
		t.Fatal("stop did not cancel the query")
	}
	assert.False(t, client.IsLoading())

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		client.SendMessage(context.Background(), "second", "")
	}()
	require.Eventually(t, func() bool { return backend.queryCount() == 2 }, waitFor, tick)

	// The stopped query returns while the second is in flight.
	close(firstReturn)
	<-firstDone
	assert.Empty(t, rec.snapshot())
	assert.True(t, client.IsLoading())

	close(secondReturn)
	<-secondDone

	require.Equal(t, []string{"token", "sources", "done"}, rec.kinds())
	assert.Equal(t, "answer to second", rec.snapshot()[0].content)
	assert.False(t, client.IsLoading())
}

func TestSocketClient_ContextHandlersReceiveEvents(t *testing.T) {
	backend := &fakeSocketBackend{resp: &api.QueryResponse{Answer: "bound", Mode: model.ModeChat}}
	fallback := newRecorder()
	bound := newRecorder()
	client := NewSocketClient(backend, fallback.handlers())

	client.SendMessage(ContextWithHandlers(context.Background(), bound.handlers()), "q", "")

	assert.Empty(t, fallback.snapshot())
	assert.Equal(t, []string{"token", "sources", "done"}, bound.kinds())
}

// =============================================================================
// RECONNECT TESTS
// =============================================================================

func TestSocketClient_ReconnectBudget(t *testing.T) {
	var dials atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(server.Close)

	backend := &fakeSocketBackend{url: "ws" + strings.TrimPrefix(server.URL, "http")}
	client := NewSocketClient(backend, Handlers{}, WithReconnect(3, 20*time.Millisecond))
	t.Cleanup(client.Close)

	client.Connect()
	require.Eventually(t, func() bool { return client.Attempts() == 3 }, waitFor, tick)

	// No automatic attempt follows once the budget is spent.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(3), dials.Load())
	assert.Equal(t, StateDisconnected, client.State())

	client.Connect()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(3), dials.Load(), "Connect is a no-op with the budget spent")

	client.Resume()
	require.Eventually(t, func() bool { return dials.Load() >= 4 }, waitFor, tick)
}

func TestSocketClient_ReconnectsAfterUnexpectedClose(t *testing.T) {
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if conns.Add(1) == 1 {
			return // drop the first connection immediately
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	backend := &fakeSocketBackend{url: "ws" + strings.TrimPrefix(server.URL, "http")}
	client := NewSocketClient(backend, Handlers{}, WithReconnect(3, 20*time.Millisecond))
	t.Cleanup(client.Close)

	client.Connect()
	require.Eventually(t, func() bool { return conns.Load() == 2 && client.IsConnected() }, waitFor, tick)
	assert.Equal(t, 0, client.Attempts(), "a successful open restores the budget")
}

func TestSocketClient_ConnectionLostWhileLoading(t *testing.T) {
	cs := newChatServer(t, func(map[string]any) []string {
		return []string{""} // close without answering
	})
	rec := newRecorder()
	client, _ := newConnectedClient(t, cs, rec.handlers(), WithReconnect(1, time.Hour))

	client.SendMessage(context.Background(), "q", "")
	waitFinished(t, rec)

	assert.Equal(t, []call{{kind: "error", content: "Connection lost"}}, rec.snapshot())
	assert.False(t, client.IsLoading())
	assert.Equal(t, StateDisconnected, client.State())
}

func TestSocketClient_SendFallsBackWhenDisconnected(t *testing.T) {
	cs := newChatServer(t, nil)
	rec := newRecorder()
	client, backend := newConnectedClient(t, cs, rec.handlers())
	backend.resp = &api.QueryResponse{Answer: "via rest"}

	client.Close()
	client.SendMessage(context.Background(), "q", "")

	assert.Equal(t, 1, backend.queryCount())
	assert.Equal(t, []string{"token", "sources", "done"}, rec.kinds())
}

// =============================================================================
// OWNERSHIP TESTS
// =============================================================================

func TestSocketClient_SupersededSocketIsIgnored(t *testing.T) {
	cs := newChatServer(t, func(map[string]any) []string {
		return []string{`{"type":"token","content":"stale"}`}
	})
	rec := newRecorder()
	client := NewSocketClient(&fakeSocketBackend{url: cs.wsURL()}, rec.handlers())
	t.Cleanup(client.Close)

	// A connection the client does not consider current.
	stale, _, err := websocket.DefaultDialer.Dial(cs.wsURL(), nil)
	require.NoError(t, err)
	defer stale.Close()

	client.wg.Add(1)
	done := make(chan struct{})
	go func() {
		client.readLoop(stale)
		close(done)
	}()

	require.NoError(t, stale.WriteJSON(map[string]string{"question": "q"}))
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("read loop did not stop")
	}

	assert.Empty(t, rec.snapshot())
	assert.Equal(t, 0, client.Attempts())
}

func TestSocketClient_CloseStopsReconnecting(t *testing.T) {
	var dials atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(server.Close)

	backend := &fakeSocketBackend{url: "ws" + strings.TrimPrefix(server.URL, "http")}
	client := NewSocketClient(backend, Handlers{}, WithReconnect(3, 50*time.Millisecond))

	client.Connect()
	require.Eventually(t, func() bool { return dials.Load() >= 1 }, waitFor, tick)
	client.Close()
	seen := dials.Load()

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, seen, dials.Load())

	client.Connect()
	client.Resume()
	assert.Equal(t, StateDisconnected, client.State())
	client.Close()
}
