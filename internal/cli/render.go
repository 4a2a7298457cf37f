// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jeranaias/privia/internal/model"
)

// =============================================================================
// STREAM RENDERER
// =============================================================================

// streamRenderer prints the answer of the current conversation as it
// grows. It is a store listener, so observe runs on transport goroutines.
type streamRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	active  bool
	header  string
	printed string
}

func newStreamRenderer(out io.Writer) *streamRenderer {
	return &streamRenderer{out: out}
}

// begin starts following the next answer. header is printed before the
// first output.
func (r *streamRenderer) begin(header string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = true
	r.header = header
	r.printed = ""
}

func (r *streamRenderer) flushHeaderLocked() {
	if r.header != "" {
		fmt.Fprintln(r.out, r.header)
		r.header = ""
	}
}

// cancel stops following without printing a footer.
func (r *streamRenderer) cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
}

// observe prints whatever the answer gained since the last call. Content
// that no longer extends what was printed is reprinted on a fresh line.
func (r *streamRenderer) observe(state model.ChatState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}

	msg, ok := currentAnswer(state)
	if !ok || msg.Mode == model.ModeError || msg.Content == r.printed {
		return
	}
	r.flushHeaderLocked()
	if strings.HasPrefix(msg.Content, r.printed) {
		fmt.Fprint(r.out, msg.Content[len(r.printed):])
	} else {
		fmt.Fprint(r.out, "\n"+msg.Content)
	}
	r.printed = msg.Content
}

// end prints the answer footer: the error, or the mode and sources.
func (r *streamRenderer) end(state model.ChatState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.active = false
	r.flushHeaderLocked()

	msg, ok := currentAnswer(state)
	if !ok {
		fmt.Fprintln(r.out)
		return
	}
	if msg.Mode == model.ModeError {
		if r.printed != "" {
			fmt.Fprintln(r.out)
		}
		fmt.Fprintln(r.out, ErrorStyle.Render(msg.Content))
		fmt.Fprintln(r.out)
		return
	}

	fmt.Fprintln(r.out)
	renderSources(r.out, msg)
	fmt.Fprintln(r.out)
}

func currentAnswer(state model.ChatState) (model.Message, bool) {
	conv, ok := state.Current()
	if !ok {
		return model.Message{}, false
	}
	msg, ok := conv.LastMessage()
	if !ok || !msg.IsAssistant() {
		return model.Message{}, false
	}
	return msg, true
}

func renderSources(w io.Writer, msg model.Message) {
	tag := RenderMode(msg.Mode)
	if len(msg.Sources) == 0 {
		if tag != "" {
			fmt.Fprintln(w, tag)
		}
		return
	}
	fmt.Fprintf(w, "%s %s\n", tag, DimStyle.Render("Sources:"))
	for i, src := range msg.Sources {
		fmt.Fprintf(w, "  %s %s\n", DimStyle.Render(fmt.Sprintf("[%d]", i+1)), src)
	}
}

// =============================================================================
// LISTINGS
// =============================================================================

// renderConversationList prints one numbered line per conversation, the
// current one marked. Titles are cut to fit width columns.
func renderConversationList(w io.Writer, convs []model.Conversation, currentID string, width int) {
	if len(convs) == 0 {
		fmt.Fprintln(w, DimStyle.Render("[No conversations]"))
		return
	}

	titleWidth := width - 24
	if titleWidth < 16 {
		titleWidth = 16
	}
	for i, conv := range convs {
		marker := " "
		if conv.ID == currentID {
			marker = SuccessStyle.Render("*")
		}
		title := PadColumns(TruncateColumns(conv.GetTitle(), titleWidth), titleWidth)
		fmt.Fprintf(w, "%3d. %s %s %s\n", i+1, marker, ValueStyle.Render(title),
			DimStyle.Render(fmt.Sprintf("%d msgs", conv.UserMessageCount())))
	}
}

// renderConversation prints the visible messages of conv.
func renderConversation(w io.Writer, conv model.Conversation, width int) {
	fmt.Fprintf(w, "%s %s\n", TitleStyle.Render(conv.GetTitle()), DimStyle.Render("("+conv.ID+")"))
	fmt.Fprintln(w, RenderSeparator(min(width-4, 60)))

	msgs := conv.VisibleMessages()
	if len(msgs) == 0 {
		fmt.Fprintln(w, DimStyle.Render("[No messages yet]"))
		fmt.Fprintln(w)
		return
	}
	for _, msg := range msgs {
		fmt.Fprintf(w, "%s\n", RenderRole(msg.Role))
		if msg.Mode == model.ModeError {
			fmt.Fprintln(w, ErrorStyle.Render(msg.Content))
		} else {
			fmt.Fprintln(w, WrapText(msg.Content, width))
		}
		if msg.IsAssistant() {
			renderSources(w, msg)
		}
		fmt.Fprintln(w)
	}
}
