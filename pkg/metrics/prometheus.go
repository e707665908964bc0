package metrics

import (
	"DigitCast/internal/domain/models"
	domrepo "DigitCast/internal/domain/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	predictions    *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
	trainings      *prometheus.CounterVec
	trainingRows   *prometheus.GaugeVec
	trainingTime   *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	activeSessions prometheus.Gauge
}

var _ domrepo.Metrics = (*Recorder)(nil)

// New creates a recorder registered on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digitcast_predictions_total",
				Help: "Total number of predictions issued",
			},
			[]string{"backend", "category"},
		),
		outcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digitcast_outcomes_total",
				Help: "Scored observations by outcome",
			},
			[]string{"outcome"},
		),
		trainings: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digitcast_trainings_total",
				Help: "Completed model trainings",
			},
			[]string{"backend"},
		),
		trainingRows: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "digitcast_training_rows",
				Help: "Feature rows used by the last training",
			},
			[]string{"backend"},
		),
		trainingTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "digitcast_training_duration_seconds",
				Help:    "Duration of model trainings in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"backend"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digitcast_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "digitcast_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "digitcast_active_sessions",
			Help: "Number of live sessions",
		}),
	}
}

// RecordPrediction counts an issued prediction.
func (r *Recorder) RecordPrediction(backend string, c models.Category) {
	r.predictions.WithLabelValues(backend, string(c)).Inc()
}

// RecordOutcome counts a WIN or LOSS.
func (r *Recorder) RecordOutcome(o models.Outcome) {
	r.outcomes.WithLabelValues(string(o)).Inc()
}

// RecordTraining records a completed training.
func (r *Recorder) RecordTraining(backend string, rows int, seconds float64) {
	r.trainings.WithLabelValues(backend).Inc()
	r.trainingRows.WithLabelValues(backend).Set(float64(rows))
	r.trainingTime.WithLabelValues(backend).Observe(seconds)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// SetActiveSessions sets the live session gauge.
func (r *Recorder) SetActiveSessions(n int) {
	r.activeSessions.Set(float64(n))
}
