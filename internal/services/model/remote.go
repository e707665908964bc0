package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"DigitCast/internal/domain/models"
	domsvc "DigitCast/internal/domain/service"
	xhttp "DigitCast/pkg/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// RemoteConfig points at an external classifier service speaking JSON.
type RemoteConfig struct {
	BaseURL         string
	Timeout         time.Duration
	MaxRetries      uint64
	BreakerFailures uint32
	BreakerOpenFor  time.Duration
}

// RemoteTrainer delegates fitting and inference to an HTTP classifier service:
//
//	POST /train         {window_size, rows:[{window,next}]} -> {model_id}
//	POST /predict_proba {model_id, window}                  -> {probabilities:[10]}
type RemoteTrainer struct {
	cfg     RemoteConfig
	client  *xhttp.Client
	breaker *gobreaker.CircuitBreaker
}

func NewRemoteTrainer(cfg RemoteConfig) (*RemoteTrainer, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote model: base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenFor <= 0 {
		cfg.BreakerOpenFor = 30 * time.Second
	}
	failures := cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "remote-model",
		Timeout: cfg.BreakerOpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !retryable(err)
		},
	})
	return &RemoteTrainer{
		cfg:     cfg,
		client:  xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout), xhttp.WithUserAgent("digitcast-remote-model")),
		breaker: cb,
	}, nil
}

func (t *RemoteTrainer) Name() string { return BackendRemote }

type remoteTrainReq struct {
	WindowSize int                 `json:"window_size"`
	Rows       []models.FeatureRow `json:"rows"`
}

type remoteTrainResp struct {
	ModelID string `json:"model_id"`
}

type remotePredictReq struct {
	ModelID string        `json:"model_id"`
	Window  models.Window `json:"window"`
}

type remotePredictResp struct {
	Probabilities []float64 `json:"probabilities"`
}

func (t *RemoteTrainer) Train(ctx context.Context, rows []models.FeatureRow) (domsvc.Model, error) {
	if len(rows) == 0 {
		return nil, models.ErrEmptyTable
	}
	k := len(rows[0].Window)
	var resp remoteTrainResp
	if err := t.post(ctx, "/train", remoteTrainReq{WindowSize: k, Rows: rows}, &resp); err != nil {
		return nil, fmt.Errorf("remote train: %w", err)
	}
	if resp.ModelID == "" {
		return nil, fmt.Errorf("remote train: empty model id")
	}
	return &remoteModel{trainer: t, id: resp.ModelID, k: k}, nil
}

// post runs one JSON call through the breaker with bounded exponential retries.
func (t *RemoteTrainer) post(ctx context.Context, path string, payload, dest interface{}) error {
	op := func() error {
		_, err := t.breaker.Execute(func() (interface{}, error) {
			return nil, t.client.SendAndParse(ctx, &xhttp.RequestOptions{
				Method:  xhttp.MethodPost,
				URL:     t.cfg.BaseURL + path,
				Headers: map[string]string{"Content-Type": "application/json"},
				Body:    payload,
			}, dest)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), t.cfg.MaxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}

// retryable is false for client errors the service will keep rejecting.
func retryable(err error) bool {
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

type remoteModel struct {
	trainer *RemoteTrainer
	id      string
	k       int
}

func (m *remoteModel) WindowSize() int { return m.k }

func (m *remoteModel) Distribution(ctx context.Context, w models.Window) (models.Distribution, error) {
	if err := checkWindow(w, m.k); err != nil {
		return models.Distribution{}, err
	}
	var resp remotePredictResp
	if err := m.trainer.post(ctx, "/predict_proba", remotePredictReq{ModelID: m.id, Window: w}, &resp); err != nil {
		return models.Distribution{}, fmt.Errorf("remote predict: %w", err)
	}
	return normalize(resp.Probabilities)
}

func normalize(ps []float64) (models.Distribution, error) {
	var d models.Distribution
	if len(ps) != models.NumSymbols {
		return d, fmt.Errorf("remote predict: expected %d probabilities, got %d", models.NumSymbols, len(ps))
	}
	var sum float64
	for i, p := range ps {
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return d, fmt.Errorf("remote predict: invalid probability %v for symbol %d", p, i)
		}
		d[i] = p
		sum += p
	}
	if sum == 0 {
		return d, fmt.Errorf("remote predict: zero probability mass")
	}
	for i := range d {
		d[i] /= sum
	}
	return d, nil
}
