// Package chunker splits document text into overlapping character spans.
package chunker

import (
	"errors"
	"strings"
)

// ErrInvalidConfig is returned when the requested size/overlap combination could
// not terminate: overlap must be smaller than the span size.
var ErrInvalidConfig = errors.New("chunker: overlap must be >= 0 and < max size")

// Chunker splits text into spans of at most maxSize characters, each span
// starting overlap characters before the previous one ended. Splitting is
// rune-based so a span boundary never lands inside a multi-byte code point.
type Chunker struct {
	maxSize int
	overlap int
}

// New returns a Chunker, or ErrInvalidConfig if maxSize <= 0, overlap < 0,
// or overlap >= maxSize (which would loop forever).
func New(maxSize, overlap int) (*Chunker, error) {
	if maxSize <= 0 || overlap < 0 || overlap >= maxSize {
		return nil, ErrInvalidConfig
	}
	return &Chunker{maxSize: maxSize, overlap: overlap}, nil
}

// MaxSize returns the configured span size in characters.
func (c *Chunker) MaxSize() int { return c.maxSize }

// Overlap returns the configured overlap in characters.
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the ordered spans of text. Whitespace-only input yields nil;
// callers that require every document to be retrievable substitute a
// placeholder chunk. Text no longer than maxSize comes back as a single
// trimmed span. Split is pure: same input, same output.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)
	if n <= c.maxSize {
		return []string{text}
	}
	var spans []string
	start := 0
	for start < n {
		end := start + c.maxSize
		if end > n {
			end = n
		}
		spans = append(spans, string(runes[start:end]))
		if end >= n {
			break
		}
		start = end - c.overlap
	}
	return spans
}
