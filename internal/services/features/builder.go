package features

import (
	"fmt"

	"DigitCast/internal/domain/models"
)

// Build slides a K-wide window over the log with stride 1 and returns one row per
// position that has K valid predecessors and a valid label, oldest window first.
// Rows touching a gap (models.NoSymbol) are dropped silently.
func Build(log []models.Symbol, k int) ([]models.FeatureRow, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: window size %d", models.ErrFeatureArity, k)
	}
	if len(log) <= k {
		return nil, fmt.Errorf("%w: log has %d entries, need at least %d", models.ErrInsufficientData, len(log), k+1)
	}

	rows := make([]models.FeatureRow, 0, len(log)-k)
	// run counts consecutive valid symbols ending at i-1
	run := 0
	for i := 0; i < len(log); i++ {
		if run >= k && log[i].Valid() {
			w := make(models.Window, k)
			copy(w, log[i-k:i])
			rows = append(rows, models.FeatureRow{Window: w, Next: log[i]})
		}
		if log[i].Valid() {
			run++
		} else {
			run = 0
		}
	}
	return rows, nil
}

// Validate checks that every row has arity k and in-range symbols.
func Validate(rows []models.FeatureRow, k int) error {
	if len(rows) == 0 {
		return models.ErrEmptyTable
	}
	for i, r := range rows {
		if len(r.Window) != k {
			return fmt.Errorf("%w: row %d has %d features, want %d", models.ErrFeatureArity, i, len(r.Window), k)
		}
		if !r.Next.Valid() {
			return fmt.Errorf("%w: row %d label %d", models.ErrInvalidSymbol, i, r.Next)
		}
		for _, s := range r.Window {
			if !s.Valid() {
				return fmt.Errorf("%w: row %d feature %d", models.ErrInvalidSymbol, i, s)
			}
		}
	}
	return nil
}

// LabelCounts tallies labels per symbol.
func LabelCounts(rows []models.FeatureRow) [models.NumSymbols]int {
	var out [models.NumSymbols]int
	for _, r := range rows {
		if r.Next.Valid() {
			out[r.Next]++
		}
	}
	return out
}
