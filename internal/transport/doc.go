// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport delivers assistant answers from the backend as a
// stream of callbacks.
//
// Two interchangeable implementations share the Transport interface:
//
//   - SSEClient posts to the streaming endpoint and decodes the
//     text/event-stream body incrementally.
//   - SocketClient keeps a WebSocket open with a bounded reconnect budget
//     and falls back to the REST query endpoint when no socket is open.
//
// Neither implementation returns errors from SendMessage or
// StopGeneration. Every failure is reported through Handlers.OnError, so
// callers have a single failure channel regardless of transport.
package transport
