// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jeranaias/privia/internal/api"
	"github.com/jeranaias/privia/internal/config"
	"github.com/jeranaias/privia/internal/session"
)

const (
	testEmail    = "ana@example.com"
	testPassword = "hunter2"
	testToken    = "tok-1"
)

var testUser = api.UserProfile{ID: "u1", Email: testEmail, FullName: "Ana Lima"}

// =============================================================================
// FAKE BACKEND
// =============================================================================

type fakeBackend struct {
	mu       sync.Mutex
	convs    map[string]*api.ConversationOut
	order    []string
	nextID   int
	titles   map[string]string
	streamed []api.QueryRequest
	queried  []api.QueryRequest
	signups  []api.SignupRequest
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	b := &fakeBackend{convs: map[string]*api.ConversationOut{}, titles: map[string]string{}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", b.login)
	mux.HandleFunc("POST /api/auth/signup", b.signup)
	mux.HandleFunc("GET /api/auth/me", b.authed(b.me))
	mux.HandleFunc("GET /api/conversations", b.authed(b.list))
	mux.HandleFunc("POST /api/conversations", b.authed(b.create))
	mux.HandleFunc("GET /api/conversations/{id}", b.authed(b.get))
	mux.HandleFunc("PATCH /api/conversations/{id}", b.authed(b.rename))
	mux.HandleFunc("DELETE /api/conversations/{id}", b.authed(b.remove))
	mux.HandleFunc("POST /api/stream", b.authed(b.stream))
	mux.HandleFunc("POST /api/query", b.authed(b.query))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return b, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (b *fakeBackend) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
			return
		}
		next(w, r)
	}
}

func (b *fakeBackend) login(w http.ResponseWriter, r *http.Request) {
	if r.FormValue("username") != testEmail || r.FormValue("password") != testPassword {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect email or password"})
		return
	}
	writeJSON(w, http.StatusOK, api.LoginResponse{AccessToken: testToken, TokenType: "bearer", User: testUser})
}

func (b *fakeBackend) signup(w http.ResponseWriter, r *http.Request) {
	var req api.SignupRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	b.mu.Lock()
	b.signups = append(b.signups, req)
	b.mu.Unlock()
	writeJSON(w, http.StatusCreated, testUser)
}

func (b *fakeBackend) me(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, testUser)
}

func (b *fakeBackend) list(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []api.ConversationSummary{}
	for _, id := range b.order {
		out = append(out, api.ConversationSummary{ID: id, Title: b.convs[id].Title})
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *fakeBackend) create(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	conv := &api.ConversationOut{ID: fmt.Sprintf("c%d", b.nextID)}
	b.convs[conv.ID] = conv
	b.order = append([]string{conv.ID}, b.order...)
	writeJSON(w, http.StatusCreated, conv)
}

func (b *fakeBackend) get(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	conv, ok := b.convs[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Conversation not found"})
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (b *fakeBackend) rename(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	b.mu.Lock()
	defer b.mu.Unlock()
	id := r.PathValue("id")
	b.titles[id] = body.Title
	writeJSON(w, http.StatusOK, api.ConversationOut{ID: id, Title: body.Title})
}

func (b *fakeBackend) remove(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := r.PathValue("id")
	delete(b.convs, id)
	kept := b.order[:0]
	for _, o := range b.order {
		if o != id {
			kept = append(kept, o)
		}
	}
	b.order = kept
	w.WriteHeader(http.StatusNoContent)
}

func (b *fakeBackend) stream(w http.ResponseWriter, r *http.Request) {
	var req api.QueryRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	b.mu.Lock()
	b.streamed = append(b.streamed, req)
	b.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	fmt.Fprint(w, "data: Hello\n\n")
	fmt.Fprint(w, "data:  world\n\n")
	fmt.Fprint(w, "event: sources\ndata: [\"handbook.pdf\"]\n\n")
	fmt.Fprintf(w, "event: done\ndata: {\"conversation_id\":%q,\"mode\":\"rag\",\"sources\":[\"handbook.pdf\"]}\n\n", req.ConversationID)
}

func (b *fakeBackend) query(w http.ResponseWriter, r *http.Request) {
	var req api.QueryRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	b.mu.Lock()
	b.queried = append(b.queried, req)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, api.QueryResponse{
		Answer:         "From the REST path",
		Mode:           "chat",
		ConversationID: req.ConversationID,
	})
}

func (b *fakeBackend) title(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.titles[id]
}

// =============================================================================
// APP FIXTURE
// =============================================================================

// syncBuffer is written by transport goroutines and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func newTestApp(t *testing.T, srv *httptest.Server, input string) (*App, *syncBuffer) {
	t.Helper()

	sess, err := session.Open(filepath.Join(t.TempDir(), session.DirName, session.FileName))
	require.NoError(t, err)

	cfg := config.Default()
	cfg.API.BaseURL = srv.URL
	cfg.Chat.ReconnectDelayMs = 50

	app := NewApp(cfg, zaptest.NewLogger(t), sess)
	out := &syncBuffer{}
	app.In = strings.NewReader(input)
	app.Out = out
	app.Err = out
	app.Lines = NewPlainReader(strings.NewReader(input), out)
	return app, out
}
