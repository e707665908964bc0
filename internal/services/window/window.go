package window

import (
	"fmt"

	"DigitCast/internal/domain/models"
)

// State is the live last-K outcomes of one session, oldest first.
type State struct {
	k    int
	buf  models.Window
	init bool
}

func New(k int) *State { return &State{k: k} }

func (s *State) Size() int { return s.k }

func (s *State) Initialized() bool { return s.init }

// Initialize installs a seed of exactly K symbols. The state is unchanged on error.
func (s *State) Initialize(seed []models.Symbol) error {
	if err := ValidateSeed(seed, s.k); err != nil {
		return err
	}
	s.buf = make(models.Window, s.k)
	copy(s.buf, seed)
	s.init = true
	return nil
}

// Next returns the window that Advance(sym) would produce, without mutating.
func (s *State) Next(sym models.Symbol) (models.Window, error) {
	if !s.init {
		return nil, models.ErrNotInitialized
	}
	if !sym.Valid() {
		return nil, fmt.Errorf("%w: %d", models.ErrInvalidSymbol, sym)
	}
	next := make(models.Window, s.k)
	copy(next, s.buf[1:])
	next[s.k-1] = sym
	return next, nil
}

// Advance drops the oldest symbol, appends sym and returns a copy of the new window.
func (s *State) Advance(sym models.Symbol) (models.Window, error) {
	next, err := s.Next(sym)
	if err != nil {
		return nil, err
	}
	s.buf = next
	return s.buf.Clone(), nil
}

// Current returns a copy of the window, nil before initialization.
func (s *State) Current() models.Window {
	if !s.init {
		return nil
	}
	return s.buf.Clone()
}

// Reset forgets the window.
func (s *State) Reset() {
	s.buf = nil
	s.init = false
}

// ValidateSeed checks length K and the alphabet.
func ValidateSeed(seed []models.Symbol, k int) error {
	if len(seed) != k {
		return fmt.Errorf("%w: got %d symbols, want %d", models.ErrInvalidSeed, len(seed), k)
	}
	for i, sym := range seed {
		if !sym.Valid() {
			return fmt.Errorf("%w: symbol %d at position %d", models.ErrInvalidSeed, sym, i)
		}
	}
	return nil
}

// ParseSeed parses a digit string such as "35125" into a K-length seed.
func ParseSeed(raw string, k int) ([]models.Symbol, error) {
	seed, err := models.ParseDigits(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidSeed, err)
	}
	if err := ValidateSeed(seed, k); err != nil {
		return nil, err
	}
	return seed, nil
}
