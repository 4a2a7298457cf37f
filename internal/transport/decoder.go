// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/privia/internal/model"
)

// STREAMING: Incremental SSE decoding, independent of chunk boundaries.

// MaxLineSize bounds a single buffered SSE line.
// SECURITY: Prevents memory exhaustion from a stream without newlines.
const MaxLineSize = 1 << 20

// Event names of the answer stream. Records without an event are tokens.
const (
	eventSources = "sources"
	eventDone    = "done"
	eventError   = "error"

	doneSentinel = "[DONE]"
)

// ErrLineTooLong is returned when a line exceeds MaxLineSize.
var ErrLineTooLong = errors.New("sse line exceeds maximum size")

// Decoder turns an answer stream into Handlers calls. It is an io.Writer:
// bytes may arrive in chunks of any size and are processed line by line.
//
// Token payloads accumulate across records; every token callback carries
// the full answer so far. A partial line left at the end of the stream is
// discarded.
type Decoder struct {
	handlers Handlers
	logger   *zap.Logger
	maxLine  int

	buf    []byte
	event  string
	answer strings.Builder

	// onTerminal runs before done and error records are delivered.
	onTerminal func()
}

// NewDecoder creates a decoder that reports to h.
func NewDecoder(h Handlers, opts ...Option) *Decoder {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Decoder{handlers: h, logger: o.logger, maxLine: o.maxLine}
}

// Write implements io.Writer.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)

	start := 0
	for {
		i := bytes.IndexByte(d.buf[start:], '\n')
		if i < 0 {
			break
		}
		d.processLine(d.buf[start : start+i])
		start += i + 1
	}
	d.buf = append(d.buf[:0], d.buf[start:]...)

	if len(d.buf) > d.maxLine {
		d.buf = nil
		return len(p), ErrLineTooLong
	}
	return len(p), nil
}

// Answer returns the accumulated token text.
func (d *Decoder) Answer() string {
	return d.answer.String()
}

func (d *Decoder) processLine(line []byte) {
	line = bytes.TrimSuffix(line, []byte("\r"))

	switch {
	case len(bytes.TrimSpace(line)) == 0:
		d.event = ""
	case bytes.HasPrefix(line, []byte("event: ")):
		d.event = string(bytes.TrimSpace(line[len("event: "):]))
	case bytes.HasPrefix(line, []byte("data: ")):
		d.dispatch(string(line[len("data: "):]))
	}
	// Other fields (id:, retry:, comments) are ignored.
}

func (d *Decoder) dispatch(data string) {
	switch d.event {
	case eventSources:
		sources, err := parseSources([]byte(data))
		if err != nil {
			d.logger.Warn("dropping malformed sources record", zap.Error(err))
			return
		}
		d.handlers.sources(sources, model.ModeRAG)

	case eventDone:
		d.terminal()
		var payload DonePayload
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			d.logger.Debug("unparseable done record", zap.Error(err))
			d.handlers.done(nil)
			return
		}
		d.handlers.done(&payload)

	case eventError:
		d.terminal()
		d.handlers.error(errorMessage(data))

	default:
		if data == "" || data == doneSentinel {
			return
		}
		d.answer.WriteString(data)
		d.handlers.token(d.answer.String(), model.ModeRAG)
	}
}

func (d *Decoder) terminal() {
	if d.onTerminal != nil {
		d.onTerminal()
	}
}

// errorMessage extracts the message of an error record: the "error" field
// of a JSON object, or the raw text when the payload is not JSON.
func errorMessage(data string) string {
	if !json.Valid([]byte(data)) {
		return data
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil || payload.Error == "" {
		return "Unknown error"
	}
	return payload.Error
}
