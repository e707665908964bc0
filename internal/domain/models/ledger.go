package models

import "time"

// Outcome of scoring a prediction against the observed symbol.
type Outcome string

const (
	Win  Outcome = "WIN"
	Loss Outcome = "LOSS"
)

// LedgerEntry is one scored turn.
type LedgerEntry struct {
	Turn              int       `json:"turn" db:"turn"`
	Observed          Symbol    `json:"observed" db:"observed"`
	ObservedCategory  Category  `json:"observed_category" db:"observed_category"`
	PredictedCategory Category  `json:"predicted_category" db:"predicted_category"`
	Outcome           Outcome   `json:"outcome" db:"outcome"`
	StreakLength      int       `json:"streak_length" db:"streak_length"`
	StreakType        Outcome   `json:"streak_type" db:"streak_type"`
	RecordedAt        time.Time `json:"recorded_at" db:"recorded_at"`
}

// LedgerSnapshot is the aggregate plus the bounded history, most recent first.
type LedgerSnapshot struct {
	TotalWins     int           `json:"total_wins"`
	TotalLosses   int           `json:"total_losses"`
	CurrentStreak int           `json:"current_streak"`
	CurrentType   Outcome       `json:"current_type,omitempty"`
	MaxWinStreak  int           `json:"max_win_streak"`
	MaxLossStreak int           `json:"max_loss_streak"`
	Capacity      int           `json:"capacity"`
	History       []LedgerEntry `json:"history"`
}

// Turns is the number of scored observations.
func (s LedgerSnapshot) Turns() int { return s.TotalWins + s.TotalLosses }

// WinRate returns wins/turns, 0 when nothing has been scored.
func (s LedgerSnapshot) WinRate() float64 {
	if s.Turns() == 0 {
		return 0
	}
	return float64(s.TotalWins) / float64(s.Turns())
}
