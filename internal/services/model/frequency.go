package model

import (
	"context"
	"fmt"

	"DigitCast/internal/domain/models"
	domsvc "DigitCast/internal/domain/service"
	"DigitCast/internal/services/features"
)

// FrequencyTrainer builds a back-off K-gram table: the next-symbol counts after the
// longest window suffix seen in training, smoothed additively.
type FrequencyTrainer struct {
	alpha float64
}

func NewFrequencyTrainer(alpha float64) *FrequencyTrainer {
	if alpha < 0 {
		alpha = 0
	}
	return &FrequencyTrainer{alpha: alpha}
}

func (t *FrequencyTrainer) Name() string { return BackendFrequency }

func (t *FrequencyTrainer) Train(_ context.Context, rows []models.FeatureRow) (domsvc.Model, error) {
	if len(rows) == 0 {
		return nil, models.ErrEmptyTable
	}
	k := len(rows[0].Window)
	if err := features.Validate(rows, k); err != nil {
		return nil, err
	}
	m := &frequencyModel{
		k:      k,
		alpha:  t.alpha,
		global: features.LabelCounts(rows),
		tables: make([]map[string]*[models.NumSymbols]int, k+1),
	}
	for l := 1; l <= k; l++ {
		m.tables[l] = make(map[string]*[models.NumSymbols]int)
	}
	for _, r := range rows {
		for l := 1; l <= k; l++ {
			key := models.FormatDigits(r.Window[k-l:])
			c, ok := m.tables[l][key]
			if !ok {
				c = new([models.NumSymbols]int)
				m.tables[l][key] = c
			}
			c[r.Next]++
		}
	}
	return m, nil
}

type frequencyModel struct {
	k      int
	alpha  float64
	global [models.NumSymbols]int
	tables []map[string]*[models.NumSymbols]int
}

func (m *frequencyModel) WindowSize() int { return m.k }

func (m *frequencyModel) Distribution(_ context.Context, w models.Window) (models.Distribution, error) {
	if err := checkWindow(w, m.k); err != nil {
		return models.Distribution{}, err
	}
	counts := m.global
	for l := m.k; l >= 1; l-- {
		if c, ok := m.tables[l][models.FormatDigits(w[m.k-l:])]; ok {
			counts = *c
			break
		}
	}
	var d models.Distribution
	var total float64
	for s := range counts {
		d[s] = float64(counts[s]) + m.alpha
		total += d[s]
	}
	if total == 0 {
		return d, fmt.Errorf("frequency model: %w", models.ErrEmptyTable)
	}
	for s := range d {
		d[s] /= total
	}
	return d, nil
}
