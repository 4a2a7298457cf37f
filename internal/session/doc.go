// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session persists the signed-in user's credentials.
//
// The bearer token and user profile live together in one JSON file,
// ~/.privia/credentials.json by default, written atomically with mode
// 0600. Signing out removes the file, so token and profile always appear
// and disappear together.
//
// A Manager is an api.TokenSource, so API clients read the current token on
// every request and observe sign-in and sign-out without being rebuilt.
// Watch reports changes made by other processes, such as `privia logout`
// run in a second terminal.
//
// Usage:
//
//	mgr, err := session.Open(session.DefaultPath())
//	if err != nil {
//		return err
//	}
//	client := api.New(baseURL).WithTokenSource(mgr)
package session
