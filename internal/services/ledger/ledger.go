package ledger

import (
	"fmt"
	"time"

	"DigitCast/internal/domain/models"
)

// DefaultCapacity of the history buffer.
const DefaultCapacity = 10

// Ledger scores predictions against observed outcomes and keeps streak statistics.
type Ledger struct {
	capacity int
	now      func() time.Time

	turn          int
	totalWins     int
	totalLosses   int
	currentStreak int
	currentType   models.Outcome
	maxWinStreak  int
	maxLossStreak int

	// history is a ring; head points at the most recent entry.
	history []models.LedgerEntry
	head    int
	size    int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a ledger with the given history capacity. Non-positive capacity uses DefaultCapacity.
func New(capacity int, opts ...Option) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Ledger{capacity: capacity, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	l.history = make([]models.LedgerEntry, capacity)
	return l
}

func (l *Ledger) Capacity() int { return l.capacity }

// Record scores observed against the category that was predicted for it.
func (l *Ledger) Record(observed models.Symbol, predicted models.Category) (models.LedgerEntry, error) {
	if !observed.Valid() {
		return models.LedgerEntry{}, fmt.Errorf("%w: %d", models.ErrInvalidSymbol, observed)
	}
	if predicted != models.Small && predicted != models.Big {
		return models.LedgerEntry{}, fmt.Errorf("%w: predicted category %q", models.ErrInvalidState, predicted)
	}

	cat := observed.Category()
	outcome := models.Loss
	if cat == predicted {
		outcome = models.Win
	}

	l.turn++
	if outcome == models.Win {
		l.totalWins++
	} else {
		l.totalLosses++
	}
	if outcome == l.currentType {
		l.currentStreak++
	} else {
		l.currentType = outcome
		l.currentStreak = 1
	}
	if outcome == models.Win && l.currentStreak > l.maxWinStreak {
		l.maxWinStreak = l.currentStreak
	}
	if outcome == models.Loss && l.currentStreak > l.maxLossStreak {
		l.maxLossStreak = l.currentStreak
	}

	entry := models.LedgerEntry{
		Turn:              l.turn,
		Observed:          observed,
		ObservedCategory:  cat,
		PredictedCategory: predicted,
		Outcome:           outcome,
		StreakLength:      l.currentStreak,
		StreakType:        l.currentType,
		RecordedAt:        l.now().UTC(),
	}
	l.push(entry)
	return entry, nil
}

func (l *Ledger) push(e models.LedgerEntry) {
	l.head = (l.head + 1) % l.capacity
	l.history[l.head] = e
	if l.size < l.capacity {
		l.size++
	}
}

// History returns the buffered entries, most recent first.
func (l *Ledger) History() []models.LedgerEntry {
	out := make([]models.LedgerEntry, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.history[(l.head-i+l.capacity)%l.capacity]
	}
	return out
}

// Snapshot copies the aggregate and the history.
func (l *Ledger) Snapshot() models.LedgerSnapshot {
	return models.LedgerSnapshot{
		TotalWins:     l.totalWins,
		TotalLosses:   l.totalLosses,
		CurrentStreak: l.currentStreak,
		CurrentType:   l.currentType,
		MaxWinStreak:  l.maxWinStreak,
		MaxLossStreak: l.maxLossStreak,
		Capacity:      l.capacity,
		History:       l.History(),
	}
}

// Reset clears all counters and history.
func (l *Ledger) Reset() {
	*l = Ledger{
		capacity: l.capacity,
		now:      l.now,
		history:  make([]models.LedgerEntry, l.capacity),
	}
}
