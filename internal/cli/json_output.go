// json_output.go - JSON output for the one-shot commands.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jeranaias/privia/internal/api"
)

// JSONResponse is the envelope every command prints in --json mode.
type JSONResponse struct {
	// Success indicates whether the command completed successfully
	Success bool `json:"success"`

	// Data contains the command-specific response data
	Data interface{} `json:"data"`

	// Error contains the error message if Success is false, null otherwise
	Error *string `json:"error"`

	// Timestamp is the RFC 3339 time the response was generated
	Timestamp string `json:"timestamp"`

	// Command is the command that was executed
	Command string `json:"command,omitempty"`
}

// NewJSONResponse creates a new successful JSON response.
func NewJSONResponse(command string, data interface{}) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a new error JSON response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	errStr := err.Error()
	return &JSONResponse{
		Success:   false,
		Error:     &errStr,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Write encodes the response as indented JSON.
func (r *JSONResponse) Write(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// OutputJSON runs handler and prints its result. In JSON mode the result
// or error is wrapped in a JSONResponse; otherwise human renders it.
// The handler's error is returned either way.
func OutputJSON(w io.Writer, jsonMode bool, command string, handler func() (interface{}, error), human func(interface{})) error {
	data, err := handler()
	if !jsonMode {
		if err == nil && human != nil {
			human(data)
		}
		return err
	}

	resp := NewJSONResponse(command, data)
	if err != nil {
		resp = NewJSONErrorResponse(command, err)
	}
	if writeErr := resp.Write(w); writeErr != nil && err == nil {
		return writeErr
	}
	return err
}

// =============================================================================
// COMMAND-SPECIFIC DATA
// =============================================================================

// ConversationsData is the payload of the conversations command.
type ConversationsData struct {
	Count         int                       `json:"count"`
	Conversations []api.ConversationSummary `json:"conversations"`
}

// Conversations lists the signed-in user's conversations, newest first.
func (a *App) Conversations(ctx context.Context) (*ConversationsData, error) {
	if !a.Session.SignedIn() {
		return nil, ErrNotSignedIn
	}
	list, err := a.Client.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	if list == nil {
		list = []api.ConversationSummary{}
	}
	return &ConversationsData{Count: len(list), Conversations: list}, nil
}

// PrintConversations writes one line per conversation.
func (a *App) PrintConversations(data *ConversationsData) {
	if data.Count == 0 {
		fmt.Fprintln(a.Out, DimStyle.Render("No conversations yet."))
		return
	}
	width := GetTerminalWidth()
	titleWidth := max(width-50, 20)
	for i, conv := range data.Conversations {
		title := conv.Title
		if title == "" {
			title = "Untitled"
		}
		updated := ""
		if !conv.UpdatedAt.IsZero() {
			updated = conv.UpdatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(a.Out, "%3d. %s %s %s\n", i+1,
			ValueStyle.Render(PadColumns(TruncateColumns(title, titleWidth), titleWidth)),
			DimStyle.Render(fmt.Sprintf("%3d msgs", conv.MessageCount)),
			DimStyle.Render(updated))
	}
}
