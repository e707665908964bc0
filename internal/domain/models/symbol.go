package models

import (
	"fmt"
	"strings"
)

// Symbol is a single game outcome in [0,9].
type Symbol int

// NoSymbol marks a gap in an outcome log (missing or non-numeric row).
const NoSymbol Symbol = -1

const (
	MinSymbol   Symbol = 0
	MaxSymbol   Symbol = 9
	NumSymbols         = 10
	smallCutoff Symbol = 4
)

// Valid reports whether s lies in the closed alphabet.
func (s Symbol) Valid() bool { return s >= MinSymbol && s <= MaxSymbol }

// Category returns the SMALL/BIG bucket of s.
func (s Symbol) Category() Category { return CategoryOf(s) }

// Category is the binary bucket of a Symbol.
type Category string

const (
	Small Category = "SMALL"
	Big   Category = "BIG"
)

var categoryTable = [NumSymbols]Category{Small, Small, Small, Small, Small, Big, Big, Big, Big, Big}

// CategoryOf maps 0-4 to SMALL and 5-9 to BIG. Out-of-range symbols map to "".
func CategoryOf(s Symbol) Category {
	if !s.Valid() {
		return ""
	}
	return categoryTable[s]
}

// ParseSymbol parses a single digit character/string.
func ParseSymbol(raw string) (Symbol, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) != 1 || raw[0] < '0' || raw[0] > '9' {
		return NoSymbol, fmt.Errorf("%w: %q", ErrInvalidSymbol, raw)
	}
	return Symbol(raw[0] - '0'), nil
}

// ParseDigits parses a string of digit characters, e.g. "35125".
func ParseDigits(raw string) ([]Symbol, error) {
	raw = strings.TrimSpace(raw)
	out := make([]Symbol, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("%w: non-digit %q at position %d", ErrInvalidSymbol, c, i)
		}
		out = append(out, Symbol(c-'0'))
	}
	return out, nil
}

// FormatDigits renders symbols as a digit string, gaps rendered as '?'.
func FormatDigits(xs []Symbol) string {
	var b strings.Builder
	b.Grow(len(xs))
	for _, s := range xs {
		if s.Valid() {
			b.WriteByte(byte('0' + s))
		} else {
			b.WriteByte('?')
		}
	}
	return b.String()
}
