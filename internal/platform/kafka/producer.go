package kafka

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"custodia/internal/platform/config"
)

// Producer publishes canonical document events to a Kafka topic so external
// consumers can audit the protection pipeline. Returns nil when no brokers are
// configured (the mirror is optional).
type Producer struct {
	client *kgo.Client
	topic  string
}

// New builds a producer and ensures the topic exists. Topic creation failures
// on "already exists" are ignored.
func New(ctx context.Context, cfg config.Kafka) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	if _, err := admin.CreateTopic(ctx, 1, 1, nil, cfg.Topic); err != nil {
		// Topic may already exist; producing will surface real broker issues.
		_ = err
	}

	return &Producer{client: client, topic: cfg.Topic}, nil
}

// Publish sends one event record keyed by entity ID so per-document ordering
// is preserved within a partition.
func (p *Producer) Publish(ctx context.Context, entityID string, payload []byte) error {
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(entityID),
		Value: payload,
	}
	return p.client.ProduceSync(ctx, record).FirstErr()
}

// Close flushes buffered records and releases the client.
func (p *Producer) Close() {
	p.client.Close()
}
