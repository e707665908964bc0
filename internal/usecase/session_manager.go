package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"DigitCast/internal/domain/models"
	domrepo "DigitCast/internal/domain/repository"
	domsvc "DigitCast/internal/domain/service"
	"DigitCast/internal/services/window"
	applogger "DigitCast/pkg/logger"
)

// ManagerConfig bounds the manager and sets per-session defaults.
type ManagerConfig struct {
	MaxSessions int
	WindowSize  int
	Capacity    int
	SnapshotTTL time.Duration
	SinkTimeout time.Duration
}

// ManagerOption configures SessionManager.
type ManagerOption func(*SessionManager)

// WithLogSource sets the log used when train is called without an explicit log.
func WithLogSource(src domrepo.OutcomeLogSource) ManagerOption {
	return func(m *SessionManager) { m.logSource = src }
}

// WithHistoryStore persists every scored turn.
func WithHistoryStore(st domrepo.HistoryStore) ManagerOption {
	return func(m *SessionManager) { m.history = st }
}

// WithTurnPublisher emits every scored turn.
func WithTurnPublisher(p domrepo.TurnPublisher) ManagerOption {
	return func(m *SessionManager) { m.publisher = p }
}

// WithSnapshotStore caches the latest view of each session.
func WithSnapshotStore(st domrepo.SnapshotStore) ManagerOption {
	return func(m *SessionManager) { m.snapshots = st }
}

// WithHub sets the in-process fan-out.
func WithHub(h *Hub) ManagerOption {
	return func(m *SessionManager) { m.hub = h }
}

// WithIDGenerator overrides uuid session ids.
func WithIDGenerator(f func() string) ManagerOption {
	return func(m *SessionManager) {
		if f != nil {
			m.newID = f
		}
	}
}

// SessionManager owns independent sessions keyed by id.
type SessionManager struct {
	cfg     ManagerConfig
	trainer domsvc.Trainer
	metrics domrepo.Metrics
	log     *applogger.Logger

	logSource domrepo.OutcomeLogSource
	history   domrepo.HistoryStore
	publisher domrepo.TurnPublisher
	snapshots domrepo.SnapshotStore
	hub       *Hub
	newID     func() string

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionManager(cfg ManagerConfig, trainer domsvc.Trainer, metrics domrepo.Metrics, log *applogger.Logger, opts ...ManagerOption) *SessionManager {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 5
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 2 * time.Second
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if log == nil {
		log = applogger.NewNop()
	}
	m := &SessionManager{
		cfg:      cfg,
		trainer:  trainer,
		metrics:  metrics,
		log:      log,
		hub:      NewHub(0),
		newID:    uuid.NewString,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Hub returns the fan-out used for stream subscribers.
func (m *SessionManager) Hub() *Hub { return m.hub }

// Create opens a new UNTRAINED session. Zero fields in req use the configured defaults.
func (m *SessionManager) Create(ctx context.Context, req models.CreateSessionRequest) (models.SessionView, error) {
	k := req.WindowSize
	if k <= 0 {
		k = m.cfg.WindowSize
	}
	capacity := req.Capacity
	if capacity <= 0 {
		capacity = m.cfg.Capacity
	}

	m.mu.Lock()
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return models.SessionView{}, fmt.Errorf("%w: %d", models.ErrTooManySessions, m.cfg.MaxSessions)
	}
	id := m.newID()
	s := NewSession(id, m.trainer, k, capacity, m.metrics, m.log)
	m.sessions[id] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetActiveSessions(n)
	m.log.Info("session created", applogger.String("session_id", id), applogger.Int("window", k), applogger.Int("capacity", capacity))
	v := s.View()
	m.notify(ctx, v)
	return v, nil
}

// Get returns a live session.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	return s, nil
}

// View returns the live view, or the last cached snapshot when the session is not live.
func (m *SessionManager) View(ctx context.Context, id string) (models.SessionView, error) {
	s, err := m.Get(id)
	if err == nil {
		return s.View(), nil
	}
	if m.snapshots == nil {
		return models.SessionView{}, err
	}
	v, lerr := m.snapshots.Load(ctx, id)
	if lerr != nil {
		return models.SessionView{}, err
	}
	return v, nil
}

// List returns live sessions ordered by id.
func (m *SessionManager) List() []models.SessionSummary {
	m.mu.RLock()
	out := make([]models.SessionSummary, 0, len(m.sessions))
	for _, s := range m.sessions {
		v := s.View()
		out = append(out, models.SessionSummary{ID: v.ID, State: v.State, UpdatedAt: v.UpdatedAt})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Delete drops a session, its stream subscribers and its cached snapshot.
func (m *SessionManager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.sessions[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetActiveSessions(n)
	m.hub.CloseSession(id)
	if m.snapshots != nil {
		sctx, cancel := context.WithTimeout(ctx, m.cfg.SinkTimeout)
		defer cancel()
		if err := m.snapshots.Delete(sctx, id); err != nil {
			m.sinkFailed("snapshot_delete", id, err)
		}
	}
	m.log.Info("session deleted", applogger.String("session_id", id))
	return nil
}

// Train trains the session on log, or on the configured log source when log is empty.
func (m *SessionManager) Train(ctx context.Context, id string, log []models.Symbol) (models.SessionView, error) {
	s, err := m.Get(id)
	if err != nil {
		return models.SessionView{}, err
	}
	if len(log) == 0 {
		if m.logSource == nil {
			return models.SessionView{}, fmt.Errorf("%w: no log supplied and no log source configured", models.ErrInsufficientData)
		}
		log, err = m.logSource.LoadLog(ctx)
		if err != nil {
			m.metrics.RecordError("log_source")
			return models.SessionView{}, fmt.Errorf("load log: %w", err)
		}
	}
	v, err := s.Train(ctx, log)
	if err != nil {
		m.log.Warn("train failed", applogger.String("session_id", id), applogger.Error(err))
		return models.SessionView{}, err
	}
	m.notify(ctx, v)
	return v, nil
}

// Seed parses a digit string and initializes the session window.
func (m *SessionManager) Seed(ctx context.Context, id, raw string) (models.SessionView, error) {
	s, err := m.Get(id)
	if err != nil {
		return models.SessionView{}, err
	}
	seed, err := window.ParseSeed(raw, s.k)
	if err != nil {
		return models.SessionView{}, err
	}
	v, err := s.Initialize(ctx, seed)
	if err != nil {
		m.log.Warn("seed rejected", applogger.String("session_id", id), applogger.Error(err))
		return models.SessionView{}, err
	}
	m.notify(ctx, v)
	return v, nil
}

// Observe records one observed outcome and fans the committed turn out to the sinks.
func (m *SessionManager) Observe(ctx context.Context, id string, sym models.Symbol) (models.SessionView, error) {
	s, err := m.Get(id)
	if err != nil {
		return models.SessionView{}, err
	}
	v, ev, err := s.Observe(ctx, sym)
	if err != nil {
		m.log.Warn("observe rejected", applogger.String("session_id", id), applogger.Error(err))
		return models.SessionView{}, err
	}
	m.emitTurn(ctx, ev)
	m.notify(ctx, v)
	return v, nil
}

// Reset returns the session to UNTRAINED.
func (m *SessionManager) Reset(ctx context.Context, id string) (models.SessionView, error) {
	s, err := m.Get(id)
	if err != nil {
		return models.SessionView{}, err
	}
	v := s.Reset()
	m.notify(ctx, v)
	return v, nil
}

// History returns the session ledger history, most recent first. When the
// session is no longer live the history store is consulted.
func (m *SessionManager) History(ctx context.Context, id string) ([]models.LedgerEntry, error) {
	s, err := m.Get(id)
	if err == nil {
		return s.History(), nil
	}
	if m.history == nil || !errors.Is(err, models.ErrSessionNotFound) {
		return nil, err
	}
	limit := m.cfg.Capacity
	if limit <= 0 {
		limit = 10
	}
	entries, herr := m.history.Entries(ctx, id, limit)
	if herr != nil {
		return nil, fmt.Errorf("load history: %w", herr)
	}
	if len(entries) == 0 {
		return nil, err
	}
	return entries, nil
}

// Close releases sinks.
func (m *SessionManager) Close() error {
	var errs []error
	if m.publisher != nil {
		errs = append(errs, m.publisher.Close())
	}
	if m.history != nil {
		errs = append(errs, m.history.Close())
	}
	return errors.Join(errs...)
}

func (m *SessionManager) emitTurn(ctx context.Context, ev models.TurnEvent) {
	if m.publisher == nil && m.history == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.SinkTimeout)
	defer cancel()
	if m.publisher != nil {
		if err := m.publisher.PublishTurn(sctx, ev); err != nil {
			m.sinkFailed("turn_publish", ev.SessionID, err)
		}
	}
	if m.history != nil {
		if err := m.history.SaveEntry(sctx, ev.SessionID, ev.Entry); err != nil {
			m.sinkFailed("history_save", ev.SessionID, err)
		}
	}
}

func (m *SessionManager) notify(ctx context.Context, v models.SessionView) {
	if dropped := m.hub.Publish(v); dropped > 0 {
		m.metrics.RecordError("stream_dropped")
	}
	if m.snapshots == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.SinkTimeout)
	defer cancel()
	if err := m.snapshots.Save(sctx, v, m.cfg.SnapshotTTL); err != nil {
		m.sinkFailed("snapshot_save", v.ID, err)
	}
}

func (m *SessionManager) sinkFailed(kind, id string, err error) {
	m.metrics.RecordError(kind)
	m.log.Error("sink failed", applogger.String("sink", kind), applogger.String("session_id", id), applogger.Error(err))
}
