// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the privia packages.
//
// # Key Functions
//
// String Utilities:
//   - DeriveTitle: conversation title from a first user message
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	title := util.DeriveTitle(firstMessage, util.TitleMaxRunes)
//	err := util.AtomicWriteFile(path, data, 0600)
package util
