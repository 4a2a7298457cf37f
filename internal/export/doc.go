// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes conversations to files.
//
// Two formats are supported:
//
//   - Markdown: a readable transcript with YAML frontmatter, the answer
//     mode and the cited sources under each reply
//   - JSON: the visible messages with their metadata
//
// Usage:
//
//	path, err := export.ExportConversation(conv, "md", export.DefaultOptions())
//
// Files are created with 0600 permissions since transcripts may quote
// internal documents.
package export
