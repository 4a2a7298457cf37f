// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the HTTP client for the privia workspace backend.
//
// It covers authentication (login, signup, profile, OAuth exchange),
// conversation CRUD and the non-streaming query endpoint, and it hands the
// streaming transports the URLs and pre-authenticated requests they need.
//
// # Key Types
//
//   - Client: rate-limited REST client with bearer authentication
//   - APIError: non-2xx response, matched with errors.Is against
//     ErrRateLimited, ErrUnauthorized and ErrNotFound
//   - ConversationOut, ConversationSummary, QueryResponse: wire types
//
// # Usage
//
//	client := api.New("http://localhost:8000").WithTokenSource(creds)
//	convs, err := client.ListConversations(ctx)
//	if errors.Is(err, api.ErrUnauthorized) {
//	    // prompt for login
//	}
//
// # Security
//
// The Authorization header is never logged. Response bodies are read
// through a size limit.
package api
