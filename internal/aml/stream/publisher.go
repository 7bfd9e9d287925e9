package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/napsa-zm/erm-platform/internal/aml"
	"github.com/napsa-zm/erm-platform/internal/config"
)

// KafkaPublisher writes alerts to the alert topic and mirrors processed
// events to the event topic.
type KafkaPublisher struct {
	alerts *kafka.Writer
	events *kafka.Writer
	logger *zap.Logger
}

// NewKafkaPublisher creates a publisher for the configured brokers.
func NewKafkaPublisher(cfg config.KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
			Async:        false,
		}
	}
	return &KafkaPublisher{
		alerts: newWriter(cfg.AlertTopic),
		events: newWriter(cfg.EventTopic),
		logger: logger,
	}
}

// PublishAlert serialises the alert as JSON keyed by customer so a
// customer's alerts stay ordered within a partition.
func (p *KafkaPublisher) PublishAlert(ctx context.Context, alert *aml.TransactionAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	key := alert.ID.String()
	if alert.CustomerID != nil {
		key = alert.CustomerID.String()
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "scenario", Value: []byte(alert.Scenario)},
			{Key: "severity", Value: []byte(alert.Severity)},
		},
	}
	if err := p.alerts.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write alert message: %w", err)
	}
	return nil
}

// PublishEvent serialises a processed event to the event topic, keyed by
// customer for per-partition ordering.
func (p *KafkaPublisher) PublishEvent(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	key := event.ID.String()
	if event.CustomerID != uuid.Nil {
		key = event.CustomerID.String()
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := p.events.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event message: %w", err)
	}
	return nil
}

// Close flushes and closes both writers.
func (p *KafkaPublisher) Close() error {
	alertErr := p.alerts.Close()
	if err := p.events.Close(); err != nil {
		return err
	}
	return alertErr
}
