package service

import (
	"context"

	"DigitCast/internal/domain/models"
)

// Model is a trained, immutable classifier over the 10-symbol alphabet.
type Model interface {
	// Distribution returns a probability simplex over all symbols for w.
	Distribution(ctx context.Context, w models.Window) (models.Distribution, error)
	WindowSize() int
}

// Trainer fits a new Model from feature rows. Trainers never mutate an existing Model.
type Trainer interface {
	Name() string
	Train(ctx context.Context, rows []models.FeatureRow) (Model, error)
}
