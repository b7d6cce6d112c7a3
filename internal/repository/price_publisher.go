package repository

import (
	"context"
	"time"

	"PriceSheet/internal/domain/models"
	drepo "PriceSheet/internal/domain/repository"
	pkgkafka "PriceSheet/pkg/kafka"
)

type batchPublisher interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// PriceEvent is the Kafka payload for one resolved price.
type PriceEvent struct {
	Ticker    string    `json:"ticker"`
	Price     float64   `json:"price"`
	Source    string    `json:"source"`
	Forced    bool      `json:"forced"`
	FetchedAt time.Time `json:"fetched_at"`
}

// KafkaPricePublisher emits one keyed message per resolved price so
// consumers can compact by ticker.
type KafkaPricePublisher struct {
	producer batchPublisher
	topic    string
	source   string
}

// NewKafkaPricePublisher creates a publisher that tags events with source.
func NewKafkaPricePublisher(producer batchPublisher, topic, source string) drepo.PricePublisher {
	return &KafkaPricePublisher{producer: producer, topic: topic, source: source}
}

func (p *KafkaPricePublisher) PublishCycle(ctx context.Context, report *models.CycleReport) error {
	if report == nil || len(report.Prices) == 0 {
		return nil
	}
	snaps := report.Snapshots(p.source)
	msgs := make([]pkgkafka.Message, len(snaps))
	for i, s := range snaps {
		msgs[i] = pkgkafka.Message{
			Key: []byte(s.Ticker),
			Value: PriceEvent{
				Ticker:    s.Ticker.String(),
				Price:     s.Price,
				Source:    s.Source,
				Forced:    report.Forced,
				FetchedAt: s.FetchedAt,
			},
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaPricePublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
