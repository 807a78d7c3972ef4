// Package events publishes executed transactions to a message broker for
// downstream consumers (statements, analytics, audit). Publishing happens
// after the saga commits and never fails a trade.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tradesim/ledger-engine/internal/model"
)

// Publisher emits transaction events.
type Publisher interface {
	PublishTransaction(ctx context.Context, txn *model.Transaction) error
	Close() error
}

// KafkaPublisher writes transaction events to a Kafka topic, keyed by user
// so each user's events stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           5 * time.Second,
	}
	return &KafkaPublisher{writer: writer, topic: topic}
}

func (p *KafkaPublisher) PublishTransaction(ctx context.Context, txn *model.Transaction) error {
	data, err := json.Marshal(txn)
	if err != nil {
		return fmt.Errorf("marshal transaction %s: %w", txn.ID, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(txn.UserID),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("publish transaction %s: %w", txn.ID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher discards all events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishTransaction(context.Context, *model.Transaction) error { return nil }
func (NopPublisher) Close() error                                                 { return nil }
