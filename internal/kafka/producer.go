package kafka

import (
	"context"
	"fmt"
	"math"
	"time"

	"go-retry/internal/observability"
	"go-retry/pkg/models"

	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// ProducerClient defines the interface for Kafka producer operations.
// A nil key publishes a record without a key; headers keep their order.
type ProducerClient interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers models.Headers) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the producer uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer implements ProducerClient with delivery guarantees and retry logic
type Producer struct {
	writer      messageWriter
	logger      logrus.FieldLogger
	metrics     observability.MetricsCollector
	maxRetries  int
	baseBackoff time.Duration
}

type ProducerConfig struct {
	Brokers     []string
	Acks        int // -1 for all, 0 for none, 1 for leader
	Retries     int
	Idempotent  bool
	MaxRetries  int
	BaseBackoff time.Duration
	Metrics     observability.MetricsCollector
	Logger      logrus.FieldLogger
}

func NewProducer(cfg ProducerConfig) *Producer {
	// Configure writer with delivery guarantees
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequiredAcks(cfg.Acks),
		MaxAttempts:            cfg.Retries,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: false,
		Async:                  false,
	}

	if cfg.Idempotent {
		writer.RequiredAcks = kafka.RequireAll
		writer.MaxAttempts = 10
	}

	return newProducer(writer, cfg)
}

func newProducer(w messageWriter, cfg ProducerConfig) *Producer {
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewInMemoryMetrics()
	}
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &Producer{
		writer:      w,
		logger:      observability.OrDefault(cfg.Logger),
		metrics:     cfg.Metrics,
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
	}
}

// Publish sends a message to Kafka, retrying with exponential backoff
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers models.Headers) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Time:  time.Now(),
	}
	if len(headers) > 0 {
		msg.Headers = make([]kafka.Header, 0, len(headers))
		for _, h := range headers {
			msg.Headers = append(msg.Headers, kafka.Header{Key: h.Key, Value: []byte(h.Value)})
		}
	}

	log := p.logger.WithFields(logrus.Fields{"topic": topic, "key": string(key)})

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Min(
				float64(p.baseBackoff)*math.Pow(2, float64(attempt-1)),
				float64(5*time.Second),
			))
			log.WithFields(logrus.Fields{"attempt": attempt, "backoff": backoff}).Info("Retrying message publish")

			select {
			case <-ctx.Done():
				p.metrics.IncPublishFailed()
				return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
			case <-time.After(backoff):
			}
		}

		err := p.writer.WriteMessages(ctx, msg)
		if err == nil {
			p.metrics.IncPublished()
			log.WithField("attempt", attempt+1).Debug("Message published")
			return nil
		}

		lastErr = err
		log.WithError(err).WithField("attempt", attempt+1).Warn("Failed to publish message")
	}

	p.metrics.IncPublishFailed()
	return fmt.Errorf("publish to %s failed after %d attempts: %w", topic, p.maxRetries+1, lastErr)
}

// Close gracefully shuts down the producer
func (p *Producer) Close() error {
	p.logger.Info("Closing producer")
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close producer: %w", err)
	}
	return nil
}
