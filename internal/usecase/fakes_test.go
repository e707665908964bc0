package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"DigitCast/internal/domain/models"
	domsvc "DigitCast/internal/domain/service"
)

// constTrainer trains a model that always puts all mass on sym.
type constTrainer struct {
	sym  models.Symbol
	fail error
}

func (t *constTrainer) Name() string { return "const" }

func (t *constTrainer) Train(_ context.Context, rows []models.FeatureRow) (domsvc.Model, error) {
	if t.fail != nil {
		return nil, t.fail
	}
	return constModel{k: len(rows[0].Window), sym: t.sym}, nil
}

type constModel struct {
	k   int
	sym models.Symbol
}

func (m constModel) WindowSize() int { return m.k }

func (m constModel) Distribution(context.Context, models.Window) (models.Distribution, error) {
	var d models.Distribution
	d[m.sym] = 1
	return d, nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	outcomes map[models.Outcome]int
	errs     map[string]int
	active   int
	trained  int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{outcomes: map[models.Outcome]int{}, errs: map[string]int{}}
}

func (f *fakeMetrics) RecordPrediction(string, models.Category) {}
func (f *fakeMetrics) RecordOutcome(o models.Outcome) {
	f.mu.Lock()
	f.outcomes[o]++
	f.mu.Unlock()
}
func (f *fakeMetrics) RecordTraining(string, int, float64) {
	f.mu.Lock()
	f.trained++
	f.mu.Unlock()
}
func (f *fakeMetrics) RecordError(kind string) {
	f.mu.Lock()
	f.errs[kind]++
	f.mu.Unlock()
}
func (f *fakeMetrics) RecordLatency(string, float64) {}
func (f *fakeMetrics) SetActiveSessions(n int) {
	f.mu.Lock()
	f.active = n
	f.mu.Unlock()
}

type fakeLogSource struct {
	log []models.Symbol
	err error
}

func (f fakeLogSource) LoadLog(context.Context) ([]models.Symbol, error) { return f.log, f.err }

type fakeHistory struct {
	mu      sync.Mutex
	entries map[string][]models.LedgerEntry
	fail    bool
	closed  bool
}

func (f *fakeHistory) SaveEntry(_ context.Context, id string, e models.LedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("clickhouse down")
	}
	if f.entries == nil {
		f.entries = map[string][]models.LedgerEntry{}
	}
	f.entries[id] = append([]models.LedgerEntry{e}, f.entries[id]...)
	return nil
}

func (f *fakeHistory) Entries(_ context.Context, id string, limit int) ([]models.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	es := f.entries[id]
	if len(es) > limit {
		es = es[:limit]
	}
	return es, nil
}

func (f *fakeHistory) Close() error { f.closed = true; return nil }

type fakePublisher struct {
	mu     sync.Mutex
	events []models.TurnEvent
}

func (f *fakePublisher) PublishTurn(_ context.Context, ev models.TurnEvent) error {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeSnapshots struct {
	mu    sync.Mutex
	views map[string]models.SessionView
}

func (f *fakeSnapshots) Save(_ context.Context, v models.SessionView, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.views == nil {
		f.views = map[string]models.SessionView{}
	}
	f.views[v.ID] = v
	return nil
}

func (f *fakeSnapshots) Load(_ context.Context, id string) (models.SessionView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.views[id]
	if !ok {
		return models.SessionView{}, models.ErrSessionNotFound
	}
	return v, nil
}

func (f *fakeSnapshots) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	delete(f.views, id)
	f.mu.Unlock()
	return nil
}
