package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"finchart-app/pkg/logging"

	"github.com/IBM/sarama"
)

const (
	TopicSubscriptionSynced     = "billing.subscription.synced"
	TopicSubscriptionSyncFailed = "billing.subscription.sync-failed"
)

// SyncEvent is the message published after a webhook projection. Failed
// projections land on the sync-failed topic so a consumer can replay or
// alert on them; the provider's own redelivery remains the first recovery
// path.
type SyncEvent struct {
	EventID              string    `json:"event_id"`
	EventType            string    `json:"event_type"`
	UserID               string    `json:"user_id,omitempty"`
	StripeSubscriptionID string    `json:"stripe_subscription_id,omitempty"`
	Status               string    `json:"status,omitempty"`
	Error                string    `json:"error,omitempty"`
	Timestamp            time.Time `json:"timestamp"`
}

// EventProducer publishes subscription sync events.
type EventProducer interface {
	PublishSynced(ctx context.Context, ev SyncEvent) error
	PublishSyncFailed(ctx context.Context, ev SyncEvent) error
	Close() error
}

type eventProducer struct {
	producer sarama.SyncProducer
}

func NewEventProducer(brokers []string) (EventProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &eventProducer{producer: p}, nil
}

func (p *eventProducer) PublishSynced(ctx context.Context, ev SyncEvent) error {
	return p.publish(ctx, TopicSubscriptionSynced, ev)
}

func (p *eventProducer) PublishSyncFailed(ctx context.Context, ev SyncEvent) error {
	return p.publish(ctx, TopicSubscriptionSyncFailed, ev)
}

func (p *eventProducer) publish(_ context.Context, topic string, ev SyncEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal sync event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(ev.EventID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("event_type"),
				Value: []byte(ev.EventType),
			},
		},
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		return fmt.Errorf("publish sync event: %w", err)
	}

	logging.Infof("published %s to %s: partition=%d offset=%d", ev.EventType, topic, partition, offset)
	return nil
}

func (p *eventProducer) Close() error {
	return p.producer.Close()
}

// NewNopProducer is used when KAFKA_BROKERS is not configured.
func NewNopProducer() EventProducer {
	return nopProducer{}
}

type nopProducer struct{}

func (nopProducer) PublishSynced(context.Context, SyncEvent) error     { return nil }
func (nopProducer) PublishSyncFailed(context.Context, SyncEvent) error { return nil }
func (nopProducer) Close() error                                       { return nil }
