// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat binds a transport to the conversation store.
//
// The Controller turns user intents (send, stop, regenerate, new, select and
// delete conversation) into store actions and backend calls, and turns
// transport callbacks into updates of the assistant message being answered.
// Local changes are applied optimistically; side effects such as title
// persistence and remote deletes run in the background and are only
// logged when they fail.
package chat
