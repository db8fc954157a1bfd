// Package utils provides shared utilities for text, math, and logging.
package utils

// TruncateRunes returns s truncated to at most maxRunes characters, with an
// ellipsis appended when truncated. Rune-based, so truncation never splits a
// multi-byte code point. maxRunes <= 0 returns s unchanged.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == maxRunes {
			return s[:i] + "..."
		}
		count++
	}
	return s
}
