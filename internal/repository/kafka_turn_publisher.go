package repository

import (
	"context"

	"DigitCast/internal/domain/models"
	domrepo "DigitCast/internal/domain/repository"
	pkgkafka "DigitCast/pkg/kafka"
)

// KafkaTurnPublisher implements TurnPublisher for Kafka, keyed by session id
// so turns of one session stay ordered within a partition.
type KafkaTurnPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaTurnPublisher(producer *pkgkafka.Producer, topic string) *KafkaTurnPublisher {
	return &KafkaTurnPublisher{producer: producer, topic: topic}
}

func (p *KafkaTurnPublisher) PublishTurn(ctx context.Context, ev models.TurnEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(ev.SessionID), ev)
}

func (p *KafkaTurnPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var _ domrepo.TurnPublisher = (*KafkaTurnPublisher)(nil)
