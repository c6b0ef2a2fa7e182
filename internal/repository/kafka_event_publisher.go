package repository

import (
	"context"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	pkgkafka "FinScan/pkg/kafka"
	applogger "FinScan/pkg/logger"
)

// KafkaEventPublisher publishes aggregation events keyed by symbol.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) PublishAggregation(ctx context.Context, ev models.AggregationEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(ev.Symbol), ev)
}

// PublishMessage lets the log collector ship aggregated entries through
// the same producer.
func (p *KafkaEventPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var (
	_ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)
	_ applogger.Publisher    = (*KafkaEventPublisher)(nil)
)
