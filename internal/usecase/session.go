package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"DigitCast/internal/domain/models"
	domrepo "DigitCast/internal/domain/repository"
	domsvc "DigitCast/internal/domain/service"
	"DigitCast/internal/services/features"
	"DigitCast/internal/services/ledger"
	"DigitCast/internal/services/model"
	"DigitCast/internal/services/pattern"
	"DigitCast/internal/services/window"
	applogger "DigitCast/pkg/logger"
)

// Session is one isolated game instance: Model, Window and Ledger.
// Operations on a Session are serialised; a failed operation leaves it unchanged.
type Session struct {
	mu sync.Mutex

	id        string
	k         int
	state     models.SessionState
	predictor *model.Predictor
	win       *window.State
	ledger    *ledger.Ledger
	index     *pattern.Index

	prediction *models.Prediction
	match      *models.Match
	updatedAt  time.Time

	metrics domrepo.Metrics
	log     *applogger.Logger
}

// NewSession creates an UNTRAINED session.
func NewSession(id string, trainer domsvc.Trainer, k, capacity int, metrics domrepo.Metrics, log *applogger.Logger) *Session {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if log == nil {
		log = applogger.NewNop()
	}
	return &Session{
		id:        id,
		k:         k,
		state:     models.StateUntrained,
		predictor: model.NewPredictor(trainer, k),
		win:       window.New(k),
		ledger:    ledger.New(capacity),
		updatedAt: time.Now().UTC(),
		metrics:   metrics,
		log:       log,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Train builds feature rows from log and installs a new Model.
// Accepted in every state: from UNTRAINED it moves to AWAITING_SEED; in
// PREDICTING the Window and Ledger are kept and the prediction is refreshed.
func (s *Session) Train(ctx context.Context, log []models.Symbol) (models.SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	rows, err := features.Build(log, s.k)
	if err != nil {
		s.metrics.RecordError("train_features")
		return models.SessionView{}, fmt.Errorf("build features: %w", err)
	}
	fitted, err := s.predictor.Fit(ctx, rows)
	if err != nil {
		s.metrics.RecordError("train_fit")
		return models.SessionView{}, err
	}
	idx := pattern.NewIndex(log, s.k)

	var next *models.Prediction
	var match *models.Match
	if s.state == models.StatePredicting {
		cur := s.win.Current()
		p, err := fitted.Prediction(ctx, cur)
		if err != nil {
			s.metrics.RecordError("train_predict")
			return models.SessionView{}, fmt.Errorf("predict after retrain: %w", err)
		}
		next = &p
		match = idx.Find(cur)
	}

	s.predictor.Install(fitted)
	s.index = idx
	switch s.state {
	case models.StateUntrained:
		s.state = models.StateAwaitingSeed
	case models.StatePredicting:
		s.prediction = next
		s.match = match
		s.metrics.RecordPrediction(s.predictor.Backend(), next.Category)
	}
	s.touch()

	elapsed := time.Since(start)
	s.metrics.RecordTraining(s.predictor.Backend(), len(rows), elapsed.Seconds())
	s.log.Info("session trained",
		applogger.String("session_id", s.id),
		applogger.String("state", string(s.state)),
		applogger.String("backend", s.predictor.Backend()),
		applogger.Int("log_length", len(log)),
		applogger.Int("rows", len(rows)),
		applogger.Duration("took_ms", elapsed),
	)
	return s.viewLocked(), nil
}

// Initialize installs the seed window and issues the first prediction.
func (s *Session) Initialize(ctx context.Context, seed []models.Symbol) (models.SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != models.StateAwaitingSeed {
		return models.SessionView{}, fmt.Errorf("%w: seed in %s", models.ErrInvalidState, s.state)
	}
	if err := window.ValidateSeed(seed, s.k); err != nil {
		return models.SessionView{}, err
	}
	w := models.Window(seed).Clone()
	p, err := s.predictor.Prediction(ctx, w)
	if err != nil {
		s.metrics.RecordError("seed_predict")
		return models.SessionView{}, fmt.Errorf("first prediction: %w", err)
	}

	if err := s.win.Initialize(w); err != nil {
		return models.SessionView{}, err
	}
	s.prediction = &p
	s.match = s.index.Find(w)
	s.state = models.StatePredicting
	s.touch()
	s.metrics.RecordPrediction(s.predictor.Backend(), p.Category)

	s.log.Info("session seeded",
		applogger.String("session_id", s.id),
		applogger.String("window", w.String()),
		applogger.String("predicted", string(p.Category)),
		applogger.Float64("confidence", p.Confidence),
	)
	return s.viewLocked(), nil
}

// Observe scores the live prediction against sym, then slides the Window
// and issues the next prediction.
func (s *Session) Observe(ctx context.Context, sym models.Symbol) (models.SessionView, models.TurnEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != models.StatePredicting {
		return models.SessionView{}, models.TurnEvent{}, fmt.Errorf("%w: observe in %s", models.ErrInvalidState, s.state)
	}
	start := time.Now()
	nextWin, err := s.win.Next(sym)
	if err != nil {
		return models.SessionView{}, models.TurnEvent{}, err
	}
	next, err := s.predictor.Prediction(ctx, nextWin)
	if err != nil {
		s.metrics.RecordError("observe_predict")
		return models.SessionView{}, models.TurnEvent{}, fmt.Errorf("next prediction: %w", err)
	}

	// The entry must be scored against the prediction live at observation time.
	entry, err := s.ledger.Record(sym, s.prediction.Category)
	if err != nil {
		return models.SessionView{}, models.TurnEvent{}, err
	}
	if _, err := s.win.Advance(sym); err != nil {
		return models.SessionView{}, models.TurnEvent{}, err
	}
	s.prediction = &next
	s.match = s.index.Find(nextWin)
	s.touch()

	s.metrics.RecordOutcome(entry.Outcome)
	s.metrics.RecordPrediction(s.predictor.Backend(), next.Category)
	s.metrics.RecordLatency("observe", time.Since(start).Seconds())
	s.log.Info("outcome observed",
		applogger.String("session_id", s.id),
		applogger.Int("turn", entry.Turn),
		applogger.Int("observed", int(sym)),
		applogger.String("outcome", string(entry.Outcome)),
		applogger.Int("streak", entry.StreakLength),
		applogger.String("next", string(next.Category)),
	)
	return s.viewLocked(), models.TurnEvent{SessionID: s.id, Entry: entry, Next: next}, nil
}

// Reset discards Model, Window and Ledger. Accepted in every state.
func (s *Session) Reset() models.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.predictor.Discard()
	s.win.Reset()
	s.ledger.Reset()
	s.index = nil
	s.prediction = nil
	s.match = nil
	s.state = models.StateUntrained
	s.touch()
	s.log.Info("session reset", applogger.String("session_id", s.id))
	return s.viewLocked()
}

// View returns the current read model.
func (s *Session) View() models.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// History returns the bounded ledger history, most recent first.
func (s *Session) History() []models.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.History()
}

func (s *Session) touch() { s.updatedAt = time.Now().UTC() }

func (s *Session) viewLocked() models.SessionView {
	v := models.SessionView{
		ID:            s.id,
		State:         s.state,
		WindowSize:    s.k,
		Backend:       s.predictor.Backend(),
		TrainingRows:  s.predictor.TrainingRows(),
		Window:        s.win.Current(),
		Corroboration: models.CorroborationNone,
		Ledger:        s.ledger.Snapshot(),
		UpdatedAt:     s.updatedAt,
	}
	if s.index != nil {
		v.LogLength = s.index.Len()
	}
	if s.prediction != nil {
		p := *s.prediction
		v.Prediction = &p
		v.Corroboration = models.Corroborate(s.match, p.Category)
	}
	if s.match != nil {
		m := *s.match
		v.Match = &m
	}
	return v
}

type nopMetrics struct{}

func (nopMetrics) RecordPrediction(string, models.Category) {}
func (nopMetrics) RecordOutcome(models.Outcome) {}
func (nopMetrics) RecordTraining(string, int, float64) {}
func (nopMetrics) RecordError(string) {}
func (nopMetrics) RecordLatency(string, float64) {}
func (nopMetrics) SetActiveSessions(int) {}
