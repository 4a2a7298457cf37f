// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/privia/internal/api"
)

// =============================================================================
// AUTH TESTS
// =============================================================================

func TestLogin_StoresCredentials(t *testing.T) {
	_, srv := newFakeBackend(t)
	app, _ := newTestApp(t, srv, "")

	profile, err := app.Login(context.Background(), " "+testEmail+" ", testPassword)
	require.NoError(t, err)
	assert.Equal(t, "Ana Lima", profile.DisplayName())

	assert.Equal(t, testToken, app.Session.Token())
	stored, ok := app.Session.Profile()
	require.True(t, ok)
	assert.Equal(t, testUser, stored)
}

func TestLogin_WrongPassword(t *testing.T) {
	_, srv := newFakeBackend(t)
	app, _ := newTestApp(t, srv, "")

	_, err := app.Login(context.Background(), testEmail, "nope")
	require.EqualError(t, err, "invalid email or password")
	assert.False(t, app.Session.SignedIn())
}

func TestLogin_RequiresBothFields(t *testing.T) {
	_, srv := newFakeBackend(t)
	app, _ := newTestApp(t, srv, "")

	_, err := app.Login(context.Background(), "", testPassword)
	assert.Error(t, err)
}

func TestSignup_SignsIn(t *testing.T) {
	b, srv := newFakeBackend(t)
	app, _ := newTestApp(t, srv, "")

	_, err := app.Signup(context.Background(), api.SignupRequest{Email: testEmail, Password: testPassword, FullName: "Ana Lima"})
	require.NoError(t, err)

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Len(t, b.signups, 1)
	assert.Equal(t, "Ana Lima", b.signups[0].FullName)
	assert.Equal(t, testToken, app.Session.Token())
}

func TestWhoami(t *testing.T) {
	_, srv := newFakeBackend(t)
	app, out := newTestApp(t, srv, "")

	_, err := app.Whoami(context.Background())
	assert.ErrorIs(t, err, ErrNotSignedIn)

	require.NoError(t, app.Session.Save(testToken, nil))
	profile, err := app.Whoami(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testEmail, profile.Email)

	stored, ok := app.Session.Profile()
	require.True(t, ok)
	assert.Equal(t, "u1", stored.ID)

	app.PrintProfile(profile)
	assert.Contains(t, out.String(), "Ana Lima")
}

func TestWhoami_ExpiredTokenSignsOut(t *testing.T) {
	_, srv := newFakeBackend(t)
	app, _ := newTestApp(t, srv, "")
	require.NoError(t, app.Session.Save("stale", nil))

	_, err := app.Whoami(context.Background())
	assert.ErrorIs(t, err, ErrNotSignedIn)
	assert.False(t, app.Session.SignedIn())
}

func TestLogout(t *testing.T) {
	_, srv := newFakeBackend(t)
	app, _ := newTestApp(t, srv, "")
	require.NoError(t, app.Session.Save(testToken, &testUser))

	require.NoError(t, app.Logout())
	assert.False(t, app.Session.SignedIn())
}

func TestPrompts_ReadPipedInput(t *testing.T) {
	_, srv := newFakeBackend(t)
	app, _ := newTestApp(t, srv, "  ana@example.com \nsecret\n")

	email, err := app.PromptLine("Email: ")
	require.NoError(t, err)
	assert.Equal(t, testEmail, email)

	password, err := app.PromptPassword("Password: ")
	require.NoError(t, err)
	assert.Equal(t, "secret", password)
}

// =============================================================================
// CHAT TESTS
// =============================================================================

func TestRunChat_RequiresSignIn(t *testing.T) {
	_, srv := newFakeBackend(t)
	app, _ := newTestApp(t, srv, "/quit\n")

	assert.ErrorIs(t, app.RunChat(context.Background()), ErrNotSignedIn)
}

func TestRunChat_StreamsAnswer(t *testing.T) {
	b, srv := newFakeBackend(t)
	app, out := newTestApp(t, srv, "hello there\n/status\n/quit\n")
	require.NoError(t, app.Session.Save(testToken, &testUser))

	require.NoError(t, app.RunChat(context.Background()))

	text := out.String()
	assert.Contains(t, text, "Signed in as:")
	assert.Contains(t, text, "Ana Lima")
	assert.Contains(t, text, "Hello world")
	assert.Contains(t, text, "handbook.pdf")
	assert.Contains(t, text, "Session Status")
	assert.Contains(t, text, "Goodbye!")

	// The empty backend got one fresh conversation at startup; the first
	// question titled it and was streamed against it.
	assert.Equal(t, "hello there", b.title("c1"))
	b.mu.Lock()
	defer b.mu.Unlock()
	require.Len(t, b.streamed, 1)
	assert.Equal(t, "hello there", b.streamed[0].Question)
	assert.Equal(t, "c1", b.streamed[0].ConversationID)
}

func TestRunChat_ConversationCommands(t *testing.T) {
	b, srv := newFakeBackend(t)
	input := "first question\n/new\n/list\n/switch 2\n/history\n/delete 1\n/bogus\n/q\n"
	app, out := newTestApp(t, srv, input)
	require.NoError(t, app.Session.Save(testToken, &testUser))

	require.NoError(t, app.RunChat(context.Background()))

	text := out.String()
	assert.Contains(t, text, "first question")
	assert.Contains(t, text, "[Deleted]")
	assert.Contains(t, text, "unknown command: /bogus")

	// c2 was created by /new and deleted from the list position 1.
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Contains(t, b.convs, "c1")
	assert.NotContains(t, b.convs, "c2")
}

func TestRunChat_SwitchToSocketFallsBackToREST(t *testing.T) {
	b, srv := newFakeBackend(t)
	app, out := newTestApp(t, srv, "/transport\n/transport grpc\n/transport ws\nvia socket\n/q\n")
	require.NoError(t, app.Session.Save(testToken, &testUser))

	require.NoError(t, app.RunChat(context.Background()))

	text := out.String()
	assert.Contains(t, text, `unknown transport "grpc"`)
	assert.Contains(t, text, "now using ws")
	assert.Contains(t, text, "From the REST path")

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Len(t, b.queried, 1)
	assert.Equal(t, "via socket", b.queried[0].Question)
	assert.Empty(t, b.streamed)
}

func TestRunChat_CancelledContextEndsAtNextPrompt(t *testing.T) {
	_, srv := newFakeBackend(t)
	app, out := newTestApp(t, srv, "ignored\n")
	require.NoError(t, app.Session.Save(testToken, &testUser))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, app.RunChat(ctx))
	assert.Contains(t, out.String(), "Goodbye!")
}

func TestRunChat_ExportWritesTranscript(t *testing.T) {
	_, srv := newFakeBackend(t)
	app, out := newTestApp(t, srv, "hello there\n/export\n/export pdf\n/q\n")
	app.ExportDir = t.TempDir()
	require.NoError(t, app.Session.Save(testToken, &testUser))

	require.NoError(t, app.RunChat(context.Background()))

	text := out.String()
	assert.Contains(t, text, "[Exported]")
	assert.Contains(t, text, "unsupported export format: pdf")

	files, err := filepath.Glob(filepath.Join(app.ExportDir, "conversation_hello_there_*.md"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "# hello there")
	assert.Contains(t, string(data), "Hello world")
	assert.Contains(t, string(data), "handbook.pdf")
}
