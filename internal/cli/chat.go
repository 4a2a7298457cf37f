// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat REPL for the privia CLI.
//
// Command: chat
// Short:   Start an interactive chat session
//
// Interactive Commands (during chat):
//   /help, /h              Show available commands
//   /new, /n               Start (or reuse) an empty conversation
//   /list, /l [query]      List conversations, optionally filtered by title
//   /switch, /s <n|id>     Switch conversation
//   /delete, /d [n|id]     Delete a conversation (default: current)
//   /history               Show the current conversation
//   /export [md|json]      Save the current conversation to a file
//   /regenerate, /r        Ask the last question again
//   /reconnect             Retry the socket connection
//   /transport [sse|ws]    Show or switch the streaming transport
//   /status                Show session status
//   /quit, /q              Exit chat
//   Ctrl+C                 Stop the current answer
//   Ctrl+D                 Exit chat

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/privia/internal/chat"
	"github.com/jeranaias/privia/internal/config"
	"github.com/jeranaias/privia/internal/export"
	"github.com/jeranaias/privia/internal/model"
	"github.com/jeranaias/privia/internal/store"
)

// ControllerFactory builds a chat controller over the shared store for the
// named transport.
type ControllerFactory func(st *store.Store, transportName string) (*chat.Controller, error)

// REPLConfig configures a REPL.
type REPLConfig struct {
	Store         *store.Store
	NewController ControllerFactory
	Transport     string
	Input         LineReader
	Output        io.Writer
	User          string
	Width         int
	Logger        *zap.Logger

	// ExportDir is where /export writes files. Empty means the working
	// directory.
	ExportDir string
}

// REPL is an interactive chat session over one store.
type REPL struct {
	store         *store.Store
	newController ControllerFactory
	in            LineReader
	out           io.Writer
	user          string
	width         int
	sessionID     string
	logger        *zap.Logger
	renderer      *streamRenderer
	exportDir     string

	mu            sync.Mutex
	ctrl          *chat.Controller
	transportName string

	// listed is the last /list output, so /switch 2 means what was shown.
	listed []model.Conversation
}

// NewREPL creates a REPL and its first controller.
func NewREPL(cfg REPLConfig) (*REPL, error) {
	if cfg.Store == nil {
		cfg.Store = store.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Transport == "" {
		cfg.Transport = config.TransportSSE
	}
	if cfg.Width <= 0 {
		cfg.Width = DefaultTerminalWidth
	}

	ctrl, err := cfg.NewController(cfg.Store, cfg.Transport)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	return &REPL{
		store:         cfg.Store,
		newController: cfg.NewController,
		in:            cfg.Input,
		out:           cfg.Output,
		user:          cfg.User,
		width:         cfg.Width,
		sessionID:     sessionID,
		logger:        cfg.Logger.Named("repl").With(zap.String("session_id", sessionID)),
		renderer:      newStreamRenderer(cfg.Output),
		exportDir:     cfg.ExportDir,
		ctrl:          ctrl,
		transportName: cfg.Transport,
	}, nil
}

// SessionID identifies this REPL run in logs.
func (r *REPL) SessionID() string {
	return r.sessionID
}

func (r *REPL) controller() *chat.Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctrl
}

// Interrupt stops the answer in progress. It reports whether there was
// one.
func (r *REPL) Interrupt() bool {
	ctrl := r.controller()
	if !ctrl.IsLoading() {
		return false
	}
	ctrl.StopGeneration()
	return true
}

// Close shuts the controller down and releases the input.
func (r *REPL) Close() error {
	r.controller().Close()
	return r.in.Close()
}

// =============================================================================
// MAIN LOOP
// =============================================================================

// Run loads the user's conversations and reads input until the user quits,
// input ends, or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	unsubscribe := r.store.Subscribe(r.renderer.observe)
	defer unsubscribe()

	r.printWelcome()
	r.bootstrap(ctx)
	if conv, ok := r.store.State().Current(); ok {
		renderConversation(r.out, conv, r.width)
	}

	for {
		line, err := r.in.ReadLine(r.prompt())
		if errors.Is(err, io.EOF) || errors.Is(err, ErrInterrupted) {
			fmt.Fprintln(r.out)
			r.printGoodbye()
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if ctx.Err() != nil {
			r.printGoodbye()
			return nil
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			keepGoing, err := r.handleSlashCommand(ctx, input)
			if err != nil {
				r.printError(err)
			}
			if !keepGoing {
				r.printGoodbye()
				return nil
			}
			continue
		}

		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			r.printGoodbye()
			return nil
		}

		r.ask(ctx, func(ctrl *chat.Controller) error {
			return ctrl.Send(ctx, input)
		})
	}
}

func (r *REPL) bootstrap(ctx context.Context) {
	fmt.Fprintln(r.out, DimStyle.Render("Loading conversations..."))
	if err := r.controller().Bootstrap(ctx); err != nil {
		r.logger.Warn("bootstrap failed", zap.Error(err))
		fmt.Fprintf(r.out, "%s could not load conversations: %v\n", WarningStyle.Render("[Warning]"), err)
	}
	fmt.Fprintln(r.out)
}

// ask submits a question and streams the answer until it completes.
func (r *REPL) ask(ctx context.Context, submit func(*chat.Controller) error) {
	ctrl := r.controller()

	r.renderer.begin("\n" + RenderRole(model.RoleAssistant))
	if err := submit(ctrl); err != nil {
		r.renderer.cancel()
		r.printError(err)
		return
	}

	select {
	case <-ctrl.Idle():
	case <-ctx.Done():
		ctrl.StopGeneration()
	}
	r.renderer.end(r.store.State())
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand runs one slash command. It returns false to exit.
func (r *REPL) handleSlashCommand(ctx context.Context, input string) (bool, error) {
	parts := strings.Fields(input)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "/help", "/h", "/?", "/":
		r.printHelp()

	case "/quit", "/q", "/exit":
		return false, nil

	case "/new", "/n":
		if err := r.controller().NewConversation(ctx); err != nil {
			return true, fmt.Errorf("new conversation: %w", err)
		}
		r.printCurrent()

	case "/list", "/l":
		state := r.store.State()
		convs := state.FilterByTitle(strings.Join(args, " "))
		r.listed = convs
		fmt.Fprintln(r.out)
		renderConversationList(r.out, convs, state.CurrentConversationID, r.width)
		fmt.Fprintln(r.out)

	case "/switch", "/s":
		if len(args) == 0 {
			return true, errors.New("usage: /switch <number|id>")
		}
		if err := r.controller().SelectConversation(r.resolveConversation(args[0])); err != nil {
			return true, err
		}
		r.printCurrent()

	case "/delete", "/d":
		id := r.store.State().CurrentConversationID
		if len(args) > 0 {
			id = r.resolveConversation(args[0])
		}
		if err := r.controller().DeleteConversation(ctx, id); err != nil {
			return true, err
		}
		r.listed = nil
		fmt.Fprintln(r.out, SuccessStyle.Render("[Deleted]"))
		r.printCurrent()

	case "/history":
		r.printCurrent()

	case "/export", "/e":
		return true, r.exportCurrent(args)

	case "/regenerate", "/r":
		r.ask(ctx, func(ctrl *chat.Controller) error {
			return ctrl.Regenerate(ctx)
		})

	case "/reconnect":
		r.controller().Resume()
		fmt.Fprintln(r.out, DimStyle.Render("[Reconnecting]"))

	case "/transport":
		return true, r.switchTransport(args)

	case "/status":
		r.printStatus()

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
	return true, nil
}

// resolveConversation maps a list number to an id. Anything else is taken
// as an id.
func (r *REPL) resolveConversation(arg string) string {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return arg
	}
	list := r.listed
	if len(list) == 0 {
		list = r.store.State().Conversations
	}
	if n >= 1 && n <= len(list) {
		return list[n-1].ID
	}
	return arg
}

func (r *REPL) exportCurrent(args []string) error {
	conv, ok := r.store.State().Current()
	if !ok {
		return chat.ErrUnknownConversation
	}
	format := "md"
	if len(args) > 0 {
		format = args[0]
	}

	opts := export.DefaultOptions()
	if r.exportDir != "" {
		opts.OutputDir = r.exportDir
	}
	path, err := export.ExportConversation(conv, format, opts)
	if err != nil {
		return err
	}
	r.logger.Debug("conversation exported", zap.String("conversation_id", conv.ID), zap.String("path", path))
	fmt.Fprintf(r.out, "%s %s\n", SuccessStyle.Render("[Exported]"), path)
	return nil
}

func (r *REPL) switchTransport(args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Transport:"), ValueStyle.Render(r.transport()))
		return nil
	}

	name := strings.ToLower(args[0])
	if name != config.TransportSSE && name != config.TransportWebSocket {
		return fmt.Errorf("unknown transport %q, must be one of: sse, ws", args[0])
	}
	if name == r.transport() {
		return nil
	}

	old := r.controller()
	if old.IsLoading() {
		return chat.ErrBusy
	}
	next, err := r.newController(r.store, name)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.ctrl = next
	r.transportName = name
	r.mu.Unlock()
	old.Close()

	r.logger.Info("transport switched", zap.String("transport", name))
	fmt.Fprintf(r.out, "%s now using %s\n", SuccessStyle.Render("[OK]"), name)
	return nil
}

func (r *REPL) transport() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transportName
}

// =============================================================================
// DISPLAY FUNCTIONS
// =============================================================================

func (r *REPL) prompt() string {
	title := model.DefaultTitle
	if conv, ok := r.store.State().Current(); ok {
		title = conv.GetTitle()
	}
	return PromptStyle.Render(TruncateColumns(title, 24) + " > ")
}

func (r *REPL) printWelcome() {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, TitleStyle.Render("privia chat"))
	fmt.Fprintln(r.out, RenderSeparator(30))
	if r.user != "" {
		fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Signed in as:"), ValueStyle.Render(r.user))
	}
	fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Transport:"), ValueStyle.Render(r.transport()))
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, DimStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Fprintln(r.out)
}

func (r *REPL) printCurrent() {
	if conv, ok := r.store.State().Current(); ok {
		fmt.Fprintln(r.out)
		renderConversation(r.out, conv, r.width)
	}
}

func (r *REPL) printHelp() {
	commands := []struct {
		cmd  string
		desc string
	}{
		{"/new, /n", "Start a new conversation"},
		{"/list, /l [query]", "List conversations"},
		{"/switch, /s <n|id>", "Switch conversation"},
		{"/delete, /d [n|id]", "Delete a conversation"},
		{"/history", "Show the current conversation"},
		{"/export, /e [md|json]", "Save the conversation to a file"},
		{"/regenerate, /r", "Ask the last question again"},
		{"/reconnect", "Retry the socket connection"},
		{"/transport [sse|ws]", "Show or switch transport"},
		{"/status", "Show session status"},
		{"/quit, /q", "Exit chat"},
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, TitleStyle.Render("Available Commands"))
	fmt.Fprintln(r.out, RenderSeparator(20))
	for _, c := range commands {
		fmt.Fprintf(r.out, "  %s  %s\n", CommandStyle.Render(fmt.Sprintf("%-20s", c.cmd)), DimStyle.Render(c.desc))
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, DimStyle.Render("Tip: Ctrl+C stops the current answer, Ctrl+D exits"))
	fmt.Fprintln(r.out)
}

func (r *REPL) printStatus() {
	state := r.store.State()
	ctrl := r.controller()

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, TitleStyle.Render("Session Status"))
	fmt.Fprintln(r.out, RenderSeparator(20))
	if r.user != "" {
		fmt.Fprintf(r.out, "%s %s\n", RenderLabel("User:"), ValueStyle.Render(r.user))
	}
	fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Transport:"), ValueStyle.Render(r.transport()))
	fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Connection:"), RenderStatus(ctrl.IsConnected(), "connected", "disconnected"))
	if conv, ok := state.Current(); ok {
		fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Conversation:"), ValueStyle.Render(TruncateColumns(conv.GetTitle(), 40)))
		fmt.Fprintf(r.out, "%s %d\n", RenderLabel("Questions:"), conv.UserMessageCount())
	}
	fmt.Fprintf(r.out, "%s %d\n", RenderLabel("Conversations:"), len(state.Conversations))
	fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Session:"), DimStyle.Render(r.sessionID))
	fmt.Fprintln(r.out)
}

func (r *REPL) printError(err error) {
	fmt.Fprintf(r.out, "%s %v\n", ErrorStyle.Render("[Error]"), err)
}

func (r *REPL) printGoodbye() {
	fmt.Fprintln(r.out, DimStyle.Render("Goodbye!"))
}
