// Package ingest writes order events and driver location samples to Kafka.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/example/order-engine/internal/models"
	"github.com/example/order-engine/internal/observability"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer is the outbox for bus events (as an events.Tap) and the sink for
// location samples consumed by cmd/consumer. Messages are keyed by order or
// driver id so per-key ordering survives partitioning.
type Producer struct {
	w              messageWriter
	eventsTopic    string
	locationsTopic string
	timeout        time.Duration
	logger         *slog.Logger
}

func NewProducer(brokers []string, eventsTopic, locationsTopic string, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.Hash{},
		// Forward is called on the publish path and must not wait for brokers.
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
	}
	w.Completion = func(msgs []kafka.Message, err error) {
		if err != nil {
			observability.OutboxErrors.Add(float64(len(msgs)))
			logger.Warn("kafka_async_write_failed", "messages", len(msgs), "error", err)
		}
	}
	return newProducerWithWriter(w, eventsTopic, locationsTopic, logger)
}

func newProducerWithWriter(w messageWriter, eventsTopic, locationsTopic string, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		w:              w,
		eventsTopic:    eventsTopic,
		locationsTopic: locationsTopic,
		timeout:        2 * time.Second,
		logger:         logger,
	}
}

// Forward mirrors a published event to the events topic. Failures are logged
// and counted; the bus never sees them.
func (p *Producer) Forward(e models.Event) {
	if p.eventsTopic == "" {
		return
	}
	b, err := json.Marshal(e)
	if err != nil {
		observability.OutboxErrors.Inc()
		p.logger.Warn("event_encode_failed", "order_id", e.OrderID, "type", e.Type, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.publish(ctx, p.eventsTopic, e.OrderID, b); err != nil {
		observability.OutboxErrors.Inc()
		p.logger.Warn("event_forward_failed", "order_id", e.OrderID, "type", e.Type, "error", err)
	}
}

// PublishLocation writes an accepted sample to the locations topic.
func (p *Producer) PublishLocation(ctx context.Context, s models.LocationSample) error {
	if p.locationsTopic == "" {
		return nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode location")
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.publish(ctx, p.locationsTopic, s.DriverID, b)
}

func (p *Producer) publish(ctx context.Context, topic, key string, value []byte) error {
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}); err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

func (p *Producer) Close() error {
	if p.w == nil {
		return nil
	}
	return p.w.Close()
}
