package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shopify/sarama"

	"meteo-platform/pkg/logging"
	"meteo-platform/pkg/metrics"
)

// IngestionEvent reports the outcome of ingesting one source file or remote date
type IngestionEvent struct {
	RunID      string    `json:"run_id"`
	Feed       string    `json:"feed"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	Inserted   int       `json:"inserted"`
	Skipped    int       `json:"skipped"`
	Dropped    int       `json:"dropped"`
	FinishedAt time.Time `json:"finished_at"`
}

// Publisher delivers ingestion events
type Publisher interface {
	Publish(ctx context.Context, event IngestionEvent) error
	Close() error
}

// NopPublisher discards events. It is used when no brokers are configured.
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(context.Context, IngestionEvent) error { return nil }

// Close implements Publisher
func (NopPublisher) Close() error { return nil }

// KafkaPublisher publishes events as JSON to a Kafka topic, keyed by source
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewProducerConfig returns the sarama configuration used for event publishing
func NewProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "meteo-platform"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	return cfg
}

// NewKafkaPublisher connects a synchronous producer to brokers
func NewKafkaPublisher(brokers []string, topic string, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	logger.Info(context.Background(), "[EVENTS_INIT] Kafka publisher ready", logging.Fields{
		"brokers": brokers,
		"topic":   topic,
	})

	return NewKafkaPublisherWithProducer(producer, topic, logger, metricsCollector), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// Publish sends the event and waits for the broker acknowledgement
func (p *KafkaPublisher) Publish(ctx context.Context, event IngestionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		p.metrics.RecordEvent("error")
		return fmt.Errorf("failed to encode ingestion event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.Source),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("run_id"), Value: []byte(event.RunID)},
			{Key: []byte("feed"), Value: []byte(event.Feed)},
		},
		Timestamp: event.FinishedAt,
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.metrics.RecordEvent("error")
		p.logger.Error(ctx, "[EVENTS_PUBLISH] Failed to publish ingestion event", logging.Fields{
			"topic":  p.topic,
			"source": event.Source,
			"run_id": event.RunID,
		}, err)
		return fmt.Errorf("failed to publish ingestion event: %w", err)
	}

	p.metrics.RecordEvent("ok")
	p.logger.Debug(ctx, "[EVENTS_PUBLISH] Ingestion event published", logging.Fields{
		"topic":     p.topic,
		"source":    event.Source,
		"partition": partition,
		"offset":    offset,
	})
	return nil
}

// Close flushes and closes the producer
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
