// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the privia terminal client: the interactive chat
// REPL and the sign-in commands.
//
// App wires configuration, stored credentials and the backend client.
// REPL drives a chat.Controller from typed input, streaming each answer to
// the terminal as it arrives. Line editing and history use liner when stdin
// is a terminal; piped input is read line by line.
package cli
