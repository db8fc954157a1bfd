package chunker

import (
	"strings"
	"testing"
)

func TestNew_invalidConfig(t *testing.T) {
	cases := []struct{ size, overlap int }{
		{0, 0},
		{-1, 0},
		{100, -1},
		{100, 100},
		{100, 150},
	}
	for _, c := range cases {
		if _, err := New(c.size, c.overlap); err == nil {
			t.Errorf("New(%d, %d): expected error", c.size, c.overlap)
		}
	}
}

func TestSplit_empty(t *testing.T) {
	c, err := New(800, 200)
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Split(""); got != nil {
		t.Errorf("empty: got %v", got)
	}
	if got := c.Split("   \n\t  "); got != nil {
		t.Errorf("whitespace: got %v", got)
	}
}

func TestSplit_short(t *testing.T) {
	c, _ := New(800, 200)
	spans := c.Split("  hello world  ")
	if len(spans) != 1 || spans[0] != "hello world" {
		t.Errorf("got %v", spans)
	}
}

func TestSplit_overlap(t *testing.T) {
	c, _ := New(800, 200)
	text := strings.Repeat("a", 2500)
	spans := c.Split(text)
	// 0..800, 600..1400, 1200..2000, 1800..2500
	if len(spans) != 4 {
		t.Fatalf("got %d spans, want 4", len(spans))
	}
	for i, s := range spans[:3] {
		if len(s) != 800 {
			t.Errorf("span %d: len %d, want 800", i, len(s))
		}
	}
	if len(spans[3]) != 700 {
		t.Errorf("last span: len %d, want 700", len(spans[3]))
	}
}

func TestSplit_coversWholeText(t *testing.T) {
	c, _ := New(10, 3)
	text := "abcdefghijklmnopqrstuvwxyz"
	spans := c.Split(text)
	// Each span starts overlap chars before the previous one ended.
	pos := 0
	for i, s := range spans {
		if !strings.HasPrefix(text[pos:], s[:1]) {
			t.Fatalf("span %d does not start at expected offset %d", i, pos)
		}
		if text[pos:pos+len(s)] != s {
			t.Fatalf("span %d = %q, want %q", i, s, text[pos:pos+len(s)])
		}
		pos += len(s) - c.Overlap()
	}
	last := spans[len(spans)-1]
	if !strings.HasSuffix(text, last) {
		t.Errorf("last span %q is not a suffix of the text", last)
	}
}

func TestSplit_multibyte(t *testing.T) {
	c, _ := New(4, 1)
	spans := c.Split("日本語のテキストです")
	joined := strings.Join(spans, "")
	for _, s := range spans {
		if len([]rune(s)) > 4 {
			t.Errorf("span %q exceeds 4 runes", s)
		}
	}
	if !strings.Contains(joined, "日本語") {
		t.Errorf("spans lost content: %v", spans)
	}
	for _, s := range spans {
		if !strings.Contains("日本語のテキストです", s) {
			t.Errorf("span %q is not a substring of the input", s)
		}
	}
}

func TestSplit_deterministic(t *testing.T) {
	c, _ := New(50, 10)
	text := strings.Repeat("the quick brown fox ", 30)
	a := c.Split(text)
	b := c.Split(text)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("span %d differs", i)
		}
	}
}
