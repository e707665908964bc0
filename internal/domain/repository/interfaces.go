package repository

import (
	"context"
	"time"

	"DigitCast/internal/domain/models"
)

// OutcomeLogSource loads a historical outcome log, oldest first.
// Unparseable rows are returned as models.NoSymbol.
type OutcomeLogSource interface {
	LoadLog(ctx context.Context) ([]models.Symbol, error)
}

// HistoryStore persists scored turns for export.
type HistoryStore interface {
	SaveEntry(ctx context.Context, sessionID string, e models.LedgerEntry) error
	Entries(ctx context.Context, sessionID string, limit int) ([]models.LedgerEntry, error)
	Close() error
}

// TurnPublisher emits committed turns to downstream consumers.
type TurnPublisher interface {
	PublishTurn(ctx context.Context, ev models.TurnEvent) error
	Close() error
}

// SnapshotStore keeps the latest view of each session.
type SnapshotStore interface {
	Save(ctx context.Context, v models.SessionView, ttl time.Duration) error
	Load(ctx context.Context, sessionID string) (models.SessionView, error)
	Delete(ctx context.Context, sessionID string) error
}

type Metrics interface {
	RecordPrediction(backend string, c models.Category)
	RecordOutcome(o models.Outcome)
	RecordTraining(backend string, rows int, seconds float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	SetActiveSessions(n int)
}
