package ledger

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"DigitCast/internal/domain/models"
)

// CSVHeader is the column order of the history export.
var CSVHeader = []string{
	"turn", "observed", "observed_category", "predicted_category",
	"outcome", "streak_length", "streak_type", "recorded_at",
}

// WriteCSV renders entries in the given order, one row per entry.
func WriteCSV(w io.Writer, entries []models.LedgerEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range entries {
		row := []string{
			strconv.Itoa(e.Turn),
			strconv.Itoa(int(e.Observed)),
			string(e.ObservedCategory),
			string(e.PredictedCategory),
			string(e.Outcome),
			strconv.Itoa(e.StreakLength),
			string(e.StreakType),
			e.RecordedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", e.Turn, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses an export produced by WriteCSV.
func ReadCSV(r io.Reader) ([]models.LedgerEntry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(CSVHeader)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: missing header", models.ErrSchema)
	}
	for i, col := range CSVHeader {
		if records[0][i] != col {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", models.ErrSchema, i, records[0][i], col)
		}
	}
	out := make([]models.LedgerEntry, 0, len(records)-1)
	for n, rec := range records[1:] {
		e, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", n+1, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func parseRow(rec []string) (models.LedgerEntry, error) {
	turn, err := strconv.Atoi(rec[0])
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("%w: turn %q", models.ErrSchema, rec[0])
	}
	observed, err := models.ParseSymbol(rec[1])
	if err != nil {
		return models.LedgerEntry{}, err
	}
	streak, err := strconv.Atoi(rec[5])
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("%w: streak_length %q", models.ErrSchema, rec[5])
	}
	at, err := time.Parse(time.RFC3339Nano, rec[7])
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("%w: recorded_at %q", models.ErrSchema, rec[7])
	}
	return models.LedgerEntry{
		Turn:              turn,
		Observed:          observed,
		ObservedCategory:  models.Category(rec[2]),
		PredictedCategory: models.Category(rec[3]),
		Outcome:           models.Outcome(rec[4]),
		StreakLength:      streak,
		StreakType:        models.Outcome(rec[6]),
		RecordedAt:        at,
	}, nil
}

// WriteJSON renders the full snapshot.
func WriteJSON(w io.Writer, snap models.LedgerSnapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}
