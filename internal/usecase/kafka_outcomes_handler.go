package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"DigitCast/internal/domain/models"
	domrepo "DigitCast/internal/domain/repository"
	pkgkafka "DigitCast/pkg/kafka"
)

// KafkaOutcomesHandler feeds observed outcomes from Kafka into sessions.
type KafkaOutcomesHandler struct {
	topic    string
	sessions *SessionManager
	metrics  domrepo.Metrics
	validate *validator.Validate
}

func NewKafkaOutcomesHandler(topic string, sessions *SessionManager, metrics domrepo.Metrics) *KafkaOutcomesHandler {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &KafkaOutcomesHandler{topic: topic, sessions: sessions, metrics: metrics, validate: validator.New()}
}

func (h *KafkaOutcomesHandler) Topic() string { return h.topic }

// incoming message schema: {session_id, symbol}
func (h *KafkaOutcomesHandler) Handle(ctx context.Context, b []byte) error {
	var m models.OutcomeMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(fmt.Errorf("decode outcome: %w", err))
	}
	if err := h.validate.StructCtx(ctx, &m); err != nil {
		h.metrics.RecordError("consumer_validate")
		return pkgkafka.Permanent(fmt.Errorf("validate outcome: %w", err))
	}

	start := time.Now()
	_, err := h.sessions.Observe(ctx, m.SessionID, models.Symbol(*m.Symbol))
	h.metrics.RecordLatency("consumer_observe", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_observe")
		if isClientError(err) {
			return pkgkafka.Permanent(err)
		}
		return err
	}
	return nil
}

// isClientError reports domain errors that a redelivery cannot fix.
func isClientError(err error) bool {
	for _, target := range []error{
		models.ErrSessionNotFound,
		models.ErrInvalidState,
		models.ErrInvalidSymbol,
		models.ErrNotInitialized,
		models.ErrNotTrained,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var _ pkgkafka.MessageHandler = (*KafkaOutcomesHandler)(nil)
