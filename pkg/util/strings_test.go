package util

import "testing"

func TestParseIntDefault(t *testing.T) {
	if got := ParseIntDefault("42", 1); got != 42 {
		t.Fatalf("unexpected %d", got)
	}
	if got := ParseIntDefault("", 7); got != 7 {
		t.Fatalf("expected default, got %d", got)
	}
	if got := ParseIntDefault("4x", 7); got != 7 {
		t.Fatalf("expected default on junk, got %d", got)
	}
}

func TestParseBoolDefault(t *testing.T) {
	if !ParseBoolDefault("true", false) {
		t.Fatalf("expected true")
	}
	if !ParseBoolDefault("maybe", true) {
		t.Fatalf("expected default on junk")
	}
}

func TestSplitCSV(t *testing.T) {
	got := SplitCSV(" a, b,,c ,")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected %q", got)
	}
	if SplitCSV("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}
