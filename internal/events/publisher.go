// Package events publishes lifecycle changes of shipments and AWBs so that
// downstream consumers (tracking dashboards, audit) can follow the pipeline.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	skafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// StatusChanged is emitted after a lifecycle transition was stored.
type StatusChanged struct {
	Event  string    `json:"event"`
	Entity string    `json:"entity"`
	ID     string    `json:"id"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	At     time.Time `json:"at"`
}

// Writer is the subset of kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// Message is one keyed event of a batch.
type Message struct {
	Key   string
	Value any
}

// Publisher is what the rest of the code publishes through.
type Publisher interface {
	Publish(ctx context.Context, key string, value any) error
	// PublishBatch sends every message in a single write.
	PublishBatch(ctx context.Context, msgs []Message) error
	Close() error
}

type KafkaPublisher struct {
	writer Writer
	log    *zap.Logger
}

// NewKafkaPublisher writes to topic on the given brokers.
func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	w := &skafka.Writer{
		Addr:                   skafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &skafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaPublisherWithWriter(w, log)
}

// NewKafkaPublisherWithWriter allows injecting a test writer.
func NewKafkaPublisherWithWriter(w Writer, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, value any) error {
	return p.PublishBatch(ctx, []Message{{Key: key, Value: value}})
}

func (p *KafkaPublisher) PublishBatch(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]skafka.Message, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m.Value)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", m.Key, err)
		}
		out = append(out, skafka.Message{Key: []byte(m.Key), Value: b})
	}
	if err := p.writer.WriteMessages(ctx, out...); err != nil {
		p.log.Warn("kafka write failed", zap.Int("messages", len(out)), zap.Error(err))
		return err
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error      { return nil }
func (Nop) PublishBatch(context.Context, []Message) error { return nil }
func (Nop) Close() error                                  { return nil }
