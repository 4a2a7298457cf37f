// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// UNICODE: Rune-aware truncation preserves multi-byte characters.

// TitleMaxRunes is the number of characters kept from the first user message
// when deriving a conversation title.
const TitleMaxRunes = 40

// TitleMarker is appended to a derived title that was cut short.
const TitleMarker = "…"

// DeriveTitle builds a conversation title from the first user message.
// A message within maxRunes is returned byte for byte. A longer one is cut
// at maxRunes, backing off to the start of a combining sequence the cut
// would split.
func DeriveTitle(message string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = TitleMaxRunes
	}
	if utf8.RuneCountInString(message) <= maxRunes {
		return message
	}

	cut := runeOffset(message, maxRunes)
	if norm.NFC.FirstBoundaryInString(message[cut:]) != 0 {
		if b := norm.NFC.LastBoundary([]byte(message[:cut])); b > 0 && b < cut {
			cut = b
		}
	}
	return message[:cut] + TitleMarker
}

// runeOffset returns the byte offset of the n-th rune of s.
func runeOffset(s string, n int) int {
	for i := range s {
		if n == 0 {
			return i
		}
		n--
	}
	return len(s)
}
