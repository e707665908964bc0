package model

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"DigitCast/internal/domain/models"
	domsvc "DigitCast/internal/domain/service"
	"DigitCast/internal/services/features"
)

const (
	BackendGBDT      = "gbdt"
	BackendFrequency = "frequency"
	BackendRemote    = "remote"
)

type trained struct {
	model     domsvc.Model
	rows      int
	trainedAt time.Time
}

// Predictor owns the current Model for one session. Train swaps in a fully built
// Model; readers observe either the old or the new Model, never a mix.
type Predictor struct {
	trainer domsvc.Trainer
	k       int
	current atomic.Pointer[trained]
}

func NewPredictor(trainer domsvc.Trainer, windowSize int) *Predictor {
	return &Predictor{trainer: trainer, k: windowSize}
}

// Backend returns the trainer name.
func (p *Predictor) Backend() string { return p.trainer.Name() }

func (p *Predictor) WindowSize() int { return p.k }

// Fitted is a trained Model that has not been installed yet.
type Fitted struct {
	t *trained
	k int
}

// Prediction evaluates the candidate Model on w.
func (f Fitted) Prediction(ctx context.Context, w models.Window) (models.Prediction, error) {
	if f.t == nil {
		return models.Prediction{}, models.ErrNotTrained
	}
	if err := checkWindow(w, f.k); err != nil {
		return models.Prediction{}, err
	}
	d, err := f.t.model.Distribution(ctx, w)
	if err != nil {
		return models.Prediction{}, err
	}
	return models.NewPrediction(w, d), nil
}

// Fit trains a candidate Model over rows without touching the installed one.
func (p *Predictor) Fit(ctx context.Context, rows []models.FeatureRow) (Fitted, error) {
	if err := features.Validate(rows, p.k); err != nil {
		return Fitted{}, fmt.Errorf("train %s: %w", p.trainer.Name(), err)
	}
	m, err := p.trainer.Train(ctx, rows)
	if err != nil {
		return Fitted{}, fmt.Errorf("train %s: %w", p.trainer.Name(), err)
	}
	if m.WindowSize() != p.k {
		return Fitted{}, fmt.Errorf("train %s: %w: model window %d, want %d", p.trainer.Name(), models.ErrFeatureArity, m.WindowSize(), p.k)
	}
	return Fitted{t: &trained{model: m, rows: len(rows), trainedAt: time.Now()}, k: p.k}, nil
}

// Install swaps f in as the current Model. A zero Fitted is ignored.
func (p *Predictor) Install(f Fitted) {
	if f.t != nil {
		p.current.Store(f.t)
	}
}

// Train fits a new Model over rows and replaces the current one on success.
// On failure the previous Model stays in place.
func (p *Predictor) Train(ctx context.Context, rows []models.FeatureRow) error {
	f, err := p.Fit(ctx, rows)
	if err != nil {
		return err
	}
	p.Install(f)
	return nil
}

// Trained reports whether a Model is installed.
func (p *Predictor) Trained() bool { return p.current.Load() != nil }

// TrainingRows returns the row count of the installed Model, 0 if untrained.
func (p *Predictor) TrainingRows() int {
	if t := p.current.Load(); t != nil {
		return t.rows
	}
	return 0
}

// Discard drops the installed Model.
func (p *Predictor) Discard() { p.current.Store(nil) }

// PredictDistribution returns the per-symbol probabilities for w.
func (p *Predictor) PredictDistribution(ctx context.Context, w models.Window) (models.Distribution, error) {
	t := p.current.Load()
	if t == nil {
		return models.Distribution{}, models.ErrNotTrained
	}
	if err := checkWindow(w, p.k); err != nil {
		return models.Distribution{}, err
	}
	return t.model.Distribution(ctx, w)
}

// Predict returns the most probable symbol for w.
func (p *Predictor) Predict(ctx context.Context, w models.Window) (models.Symbol, error) {
	d, err := p.PredictDistribution(ctx, w)
	if err != nil {
		return models.NoSymbol, err
	}
	return d.Argmax(), nil
}

// Prediction builds the full Prediction (symbol, category, category-mass confidence).
func (p *Predictor) Prediction(ctx context.Context, w models.Window) (models.Prediction, error) {
	d, err := p.PredictDistribution(ctx, w)
	if err != nil {
		return models.Prediction{}, err
	}
	return models.NewPrediction(w, d), nil
}

func checkWindow(w models.Window, k int) error {
	if len(w) != k {
		return fmt.Errorf("%w: window has %d symbols, want %d", models.ErrFeatureArity, len(w), k)
	}
	for _, s := range w {
		if !s.Valid() {
			return fmt.Errorf("%w: %d", models.ErrInvalidSymbol, s)
		}
	}
	return nil
}
