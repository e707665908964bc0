package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"DigitCast/internal/domain/models"
	domrepo "DigitCast/internal/domain/repository"
	applogger "DigitCast/pkg/logger"
)

// ledgerRow mirrors the ledger_entries table.
type ledgerRow struct {
	SessionID         string    `db:"session_id"`
	Turn              uint32    `db:"turn"`
	Observed          uint8     `db:"observed"`
	ObservedCategory  string    `db:"observed_category"`
	PredictedCategory string    `db:"predicted_category"`
	Outcome           string    `db:"outcome"`
	StreakLength      uint32    `db:"streak_length"`
	StreakType        string    `db:"streak_type"`
	RecordedAt        time.Time `db:"recorded_at"`
}

func toLedgerRow(sessionID string, e models.LedgerEntry) ledgerRow {
	return ledgerRow{
		SessionID:         sessionID,
		Turn:              uint32(e.Turn),
		Observed:          uint8(e.Observed),
		ObservedCategory:  string(e.ObservedCategory),
		PredictedCategory: string(e.PredictedCategory),
		Outcome:           string(e.Outcome),
		StreakLength:      uint32(e.StreakLength),
		StreakType:        string(e.StreakType),
		RecordedAt:        e.RecordedAt,
	}
}

func (r ledgerRow) entry() models.LedgerEntry {
	return models.LedgerEntry{
		Turn:              int(r.Turn),
		Observed:          models.Symbol(r.Observed),
		ObservedCategory:  models.Category(r.ObservedCategory),
		PredictedCategory: models.Category(r.PredictedCategory),
		Outcome:           models.Outcome(r.Outcome),
		StreakLength:      int(r.StreakLength),
		StreakType:        models.Outcome(r.StreakType),
		RecordedAt:        r.RecordedAt,
	}
}

// CHHistoryStore implements HistoryStore backed by ClickHouse.
type CHHistoryStore struct {
	db    *sqlx.DB
	table string
	l     *applogger.Logger
}

func NewCHHistoryStore(db *sqlx.DB, table string) *CHHistoryStore {
	return &CHHistoryStore{db: db, table: table}
}

// SetLogger injects a structured logger.
func (s *CHHistoryStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHHistoryStore) insertQuery() string {
	return fmt.Sprintf(`INSERT INTO %s (session_id, turn, observed, observed_category, predicted_category, outcome, streak_length, streak_type, recorded_at)
        VALUES (:session_id, :turn, :observed, :observed_category, :predicted_category, :outcome, :streak_length, :streak_type, :recorded_at)`, s.table)
}

func (s *CHHistoryStore) selectQuery() string {
	return fmt.Sprintf(`SELECT session_id, turn, observed, observed_category, predicted_category, outcome, streak_length, streak_type, recorded_at
        FROM %s
        WHERE session_id = ?
        ORDER BY turn DESC
        LIMIT ?`, s.table)
}

func (s *CHHistoryStore) SaveEntry(ctx context.Context, sessionID string, e models.LedgerEntry) error {
	if _, err := s.db.NamedExecContext(ctx, s.insertQuery(), toLedgerRow(sessionID, e)); err != nil {
		if s.l != nil {
			s.l.Error("clickhouse save_entry error",
				applogger.String("table", s.table),
				applogger.String("session_id", sessionID),
				applogger.Int("turn", e.Turn),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("save ledger entry: %w", err)
	}
	return nil
}

// Entries returns the most recent limit entries, most recent first.
func (s *CHHistoryStore) Entries(ctx context.Context, sessionID string, limit int) ([]models.LedgerEntry, error) {
	start := time.Now()
	var rows []ledgerRow
	if err := s.db.SelectContext(ctx, &rows, s.selectQuery(), sessionID, limit); err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	out := make([]models.LedgerEntry, len(rows))
	for i, r := range rows {
		out[i] = r.entry()
	}
	if s.l != nil {
		s.l.Debug("clickhouse entries ok",
			applogger.String("session_id", sessionID),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func (s *CHHistoryStore) Close() error {
	return nil // pool is owned by pkg/clickhouse.Client
}

// CHOutcomeLog loads the outcome log from ClickHouse, ordered by sequence.
type CHOutcomeLog struct {
	db    *sqlx.DB
	table string
}

func NewCHOutcomeLog(db *sqlx.DB, table string) *CHOutcomeLog {
	return &CHOutcomeLog{db: db, table: table}
}

func (s *CHOutcomeLog) LoadLog(ctx context.Context) ([]models.Symbol, error) {
	var raw []int8
	q := fmt.Sprintf("SELECT symbol FROM %s ORDER BY seq ASC", s.table)
	if err := s.db.SelectContext(ctx, &raw, q); err != nil {
		return nil, fmt.Errorf("load outcomes: %w", err)
	}
	out := make([]models.Symbol, len(raw))
	for i, v := range raw {
		sym := models.Symbol(v)
		if !sym.Valid() {
			sym = models.NoSymbol
		}
		out[i] = sym
	}
	return out, nil
}

var (
	_ domrepo.HistoryStore     = (*CHHistoryStore)(nil)
	_ domrepo.OutcomeLogSource = (*CHOutcomeLog)(nil)
)
