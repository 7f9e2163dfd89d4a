// Package events publishes evaluation outcomes to an event sink.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/windfall/pronunciation_service/internal/client"
	"github.com/windfall/pronunciation_service/internal/metrics"
)

// EvaluationCompleted is emitted once per evaluation attempt.
type EvaluationCompleted struct {
	RequestID     string    `json:"request_id"`
	Vendor        string    `json:"vendor"`
	ReferenceText string    `json:"reference_text"`
	Overall       *float64  `json:"overall,omitempty"`
	ErrorCode     string    `json:"error_code,omitempty"`
	DurationMS    int64     `json:"duration_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

// Publisher publishes evaluation events.
type Publisher interface {
	PublishEvaluation(ctx context.Context, event EvaluationCompleted) error
	Close() error
}

// Sink names.
const (
	SinkLog    = "log"
	SinkKafka  = "kafka"
	SinkPubSub = "pubsub"
)

// Config holds event sink configuration.
type Config struct {
	Sink            string
	KafkaBrokers    []string
	KafkaTopic      string
	PubSubProjectID string
	PubSubTopic     string
}

// New builds the publisher for cfg.Sink. A Kafka sink without brokers
// falls back to log-only mode.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (Publisher, error) {
	switch cfg.Sink {
	case SinkKafka:
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log), nil
	case SinkPubSub:
		if cfg.PubSubProjectID == "" {
			return nil, fmt.Errorf("PUBSUB_PROJECT_ID is required for the pubsub event sink")
		}
		ps, err := client.NewPubSubClient(ctx, cfg.PubSubProjectID, cfg.PubSubTopic)
		if err != nil {
			return nil, fmt.Errorf("failed to create pubsub client: %w", err)
		}
		return NewPubSubPublisher(ps, log), nil
	default:
		return NewLogPublisher(log), nil
	}
}

// LogPublisher writes events to the log only.
type LogPublisher struct {
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewLogPublisher creates a log-only publisher.
func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log, metrics: metrics.DefaultMetrics}
}

// PublishEvaluation logs the event at info level.
func (p *LogPublisher) PublishEvaluation(ctx context.Context, event EvaluationCompleted) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.log.Info().RawJSON("event", payload).Msg("Evaluation completed")
	p.metrics.RecordEvent(SinkLog, nil)
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error { return nil }

// messageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by request id.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	enabled bool
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewKafkaPublisher creates a Kafka publisher. Without brokers it runs in
// log-only mode.
func NewKafkaPublisher(brokers []string, topic string, log zerolog.Logger) *KafkaPublisher {
	p := &KafkaPublisher{topic: topic, log: log, metrics: metrics.DefaultMetrics}
	if len(brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	p.enabled = true

	log.Info().
		Strs("brokers", brokers).
		Str("topic", topic).
		Msg("Kafka publisher initialized")
	return p
}

// PublishEvaluation writes the event as JSON keyed by request id. In
// log-only mode it only logs the payload at debug level.
func (p *KafkaPublisher) PublishEvaluation(ctx context.Context, event EvaluationCompleted) error {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error().Err(err).Str("topic", p.topic).Msg("Failed to marshal event")
		return err
	}

	p.log.Debug().
		Str("topic", p.topic).
		Str("key", event.RequestID).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled {
		p.metrics.RecordEvent(SinkKafka, nil)
		return nil
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.RequestID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte("EvaluationCompleted")},
			{Key: "vendor", Value: []byte(event.Vendor)},
		},
	})
	p.metrics.RecordEvent(SinkKafka, err)
	if err != nil {
		p.log.Error().
			Err(err).
			Str("topic", p.topic).
			Str("key", event.RequestID).
			Msg("Failed to write to Kafka")
		return err
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// topicPublisher is the subset of *client.PubSubClient used by PubSubPublisher.
type topicPublisher interface {
	Publish(ctx context.Context, data interface{}, attrs map[string]string) error
	Close() error
}

// PubSubPublisher publishes events to a Google Cloud Pub/Sub topic.
type PubSubPublisher struct {
	client  topicPublisher
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewPubSubPublisher creates a Pub/Sub publisher.
func NewPubSubPublisher(c topicPublisher, log zerolog.Logger) *PubSubPublisher {
	return &PubSubPublisher{client: c, log: log, metrics: metrics.DefaultMetrics}
}

// PublishEvaluation publishes the event and waits for the server ack.
func (p *PubSubPublisher) PublishEvaluation(ctx context.Context, event EvaluationCompleted) error {
	err := p.client.Publish(ctx, event, map[string]string{
		"eventType": "EvaluationCompleted",
		"vendor":    event.Vendor,
	})
	p.metrics.RecordEvent(SinkPubSub, err)
	if err != nil {
		p.log.Error().Err(err).Str("request_id", event.RequestID).Msg("Failed to publish to Pub/Sub")
	}
	return err
}

// Close stops the topic and closes the client.
func (p *PubSubPublisher) Close() error {
	return p.client.Close()
}
