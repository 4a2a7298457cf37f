// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/jeranaias/privia/internal/api"
	"github.com/jeranaias/privia/internal/chat"
	"github.com/jeranaias/privia/internal/config"
	"github.com/jeranaias/privia/internal/session"
	"github.com/jeranaias/privia/internal/store"
	"github.com/jeranaias/privia/internal/transport"
)

// ErrNotSignedIn is returned by commands that need stored credentials.
var ErrNotSignedIn = errors.New("not signed in; run `privia login` first")

// App wires configuration, credentials and the backend client for the
// commands.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Session *session.Manager
	Client  *api.Client

	In  io.Reader
	Out io.Writer
	Err io.Writer

	// Lines overrides the chat input reader. Nil picks one for stdin.
	Lines LineReader

	// ExportDir is where /export writes transcripts.
	ExportDir string

	prompts *PlainReader
}

// NewApp builds the backend client from cfg. The client reads its token
// from sess on every request.
func NewApp(cfg *config.Config, logger *zap.Logger, sess *session.Manager) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := api.New(cfg.API.BaseURL).
		WithSocketURL(cfg.SocketURL()).
		WithTokenSource(sess).
		WithTimeout(cfg.Timeout()).
		WithRateLimit(cfg.API.RequestsPerSecond, cfg.API.Burst).
		WithMaxRetries(cfg.API.MaxRetries).
		WithLogger(logger)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Session: sess,
		Client:  client,
		In:      os.Stdin,
		Out:     os.Stdout,
		Err:     os.Stderr,
	}
}

// NewController builds a chat controller over st using the named
// transport. A socket transport starts connecting at once.
func (a *App) NewController(st *store.Store, transportName string) (*chat.Controller, error) {
	var factory chat.TransportFactory
	switch transportName {
	case config.TransportSSE:
		factory = func(h transport.Handlers) transport.Transport {
			return transport.NewSSEClient(a.Client, h, transport.WithLogger(a.Logger))
		}
	case config.TransportWebSocket:
		factory = func(h transport.Handlers) transport.Transport {
			sc := transport.NewSocketClient(a.Client, h,
				transport.WithLogger(a.Logger),
				transport.WithReconnect(a.Config.Chat.ReconnectAttempts, a.Config.ReconnectDelay()))
			sc.Connect()
			return sc
		}
	default:
		return nil, fmt.Errorf("unknown transport %q", transportName)
	}

	return chat.NewController(st, a.Client, factory,
		chat.WithLogger(a.Logger),
		chat.WithTitleMaxLength(a.Config.Chat.TitleMaxLength),
		chat.WithBootstrapConcurrency(a.Config.Chat.BootstrapConcurrency),
	), nil
}

// =============================================================================
// CHAT
// =============================================================================

// RunChat runs the interactive chat until the user quits. Ctrl+C stops the
// answer in progress. Signing out from another terminal ends the session
// at the next prompt.
func (a *App) RunChat(ctx context.Context) error {
	if !a.Session.SignedIn() {
		return ErrNotSignedIn
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Session.Watch(ctx, func(c session.Credentials) {
		if !c.SignedIn() {
			fmt.Fprintf(a.Err, "\n%s signed out in another terminal\n", WarningStyle.Render("[Warning]"))
			cancel()
		}
	}); err != nil {
		a.Logger.Warn("credentials watch unavailable", zap.Error(err))
	}

	user := ""
	if profile, ok := a.Session.Profile(); ok {
		user = profile.DisplayName()
	}

	repl, err := NewREPL(REPLConfig{
		Store:         store.New(),
		NewController: a.NewController,
		Transport:     a.Config.Chat.Transport,
		Input:         a.lineReader(),
		Output:        a.Out,
		User:          user,
		Width:         GetTerminalWidth(),
		Logger:        a.Logger,
		ExportDir:     a.ExportDir,
	})
	if err != nil {
		return err
	}
	defer repl.Close()
	a.Logger.Debug("chat started", zap.String("session_id", repl.SessionID()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigChan:
				if sig == syscall.SIGTERM {
					cancel()
					return
				}
				if repl.Interrupt() {
					fmt.Fprintln(a.Err, "\n"+WarningStyle.Render("[Stopped]"))
				}
			}
		}
	}()

	return repl.Run(ctx)
}

func (a *App) lineReader() LineReader {
	if a.Lines != nil {
		return a.Lines
	}
	historyFile := ""
	if dir, err := config.ConfigDir(); err == nil {
		historyFile = filepath.Join(dir, "chat_history")
	}
	return NewLineReader(historyFile)
}
