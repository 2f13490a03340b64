// Package kafka mirrors audit entries onto a Kafka topic for downstream
// consumers (SIEM, archival). It is a secondary sink; the primary store remains
// the system of record.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"labtrail/internal/audit"
)

// producer is the subset of *kgo.Client the publisher needs.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

type Publisher struct {
	client producer
	topic  string
}

// New wraps an existing client.
func New(client *kgo.Client, topic string) *Publisher {
	return &Publisher{client: client, topic: topic}
}

// NewClient dials the brokers with settings suited to a low-volume, ordered audit stream.
func NewClient(brokers []string, topic string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// Append publishes the entry keyed by actor so one actor's entries stay ordered.
func (p *Publisher) Append(ctx context.Context, entry audit.Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(entry.ActorID.String()),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(entry.Action)},
			{Key: "resource_type", Value: []byte(entry.ResourceType)},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("publish audit entry: %w", err)
	}
	return nil
}
