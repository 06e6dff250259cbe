package script

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTailShort(t *testing.T) {
	if got := tail("  boom\n"); got != "boom" {
		t.Errorf("tail = %q, want %q", got, "boom")
	}
}

func TestTailRuneBoundary(t *testing.T) {
	// Each "é" is two bytes, so the cut offset lands inside a rune.
	s := strings.Repeat("é", maxStderrTail) + "x"
	got := tail(s)
	if !utf8.ValidString(got) {
		t.Fatalf("tail split a rune: % x", got[:4])
	}
	if len(got) != maxStderrTail-1 {
		t.Errorf("len(tail) = %d, want %d", len(got), maxStderrTail-1)
	}
	if !strings.HasSuffix(s, got) {
		t.Error("tail is not a suffix of its input")
	}
}
