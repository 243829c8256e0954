package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-retry/internal/observability"
	"go-retry/pkg/models"

	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// MessageHandler processes consumed messages. A returned error leaves the
// message uncommitted.
type MessageHandler func(ctx context.Context, msg *models.Message) error

// ConsumerClient defines the interface for Kafka consumer operations
type ConsumerClient interface {
	Start(ctx context.Context, handler MessageHandler) error
	Close() error
}

// messageReader is the part of *kafka.Reader the consumer uses
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer implements ConsumerClient with a worker pool and manual commits
type Consumer struct {
	reader       messageReader
	logger       logrus.FieldLogger
	metrics      observability.MetricsCollector
	workers      int
	fetchBackoff time.Duration
	wg           sync.WaitGroup
}

type ConsumerConfig struct {
	Brokers       []string
	Topics        []string
	GroupID       string
	Workers       int
	FetchMinBytes int
	FetchMaxBytes int
	Metrics       observability.MetricsCollector
	Logger        logrus.FieldLogger
}

func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.FetchMinBytes == 0 {
		cfg.FetchMinBytes = 1
	}
	if cfg.FetchMaxBytes == 0 {
		cfg.FetchMaxBytes = 10 << 20
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    cfg.Topics,
		MinBytes:       cfg.FetchMinBytes,
		MaxBytes:       cfg.FetchMaxBytes,
		CommitInterval: 0, // Manual commits
		StartOffset:    kafka.FirstOffset,
	})

	return newConsumer(reader, cfg)
}

func newConsumer(r messageReader, cfg ConsumerConfig) *Consumer {
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewInMemoryMetrics()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	return &Consumer{
		reader:       r,
		logger:       observability.OrDefault(cfg.Logger),
		metrics:      cfg.Metrics,
		workers:      cfg.Workers,
		fetchBackoff: time.Second,
	}
}

// Start consumes until ctx is cancelled, then waits for in-flight messages
func (c *Consumer) Start(ctx context.Context, handler MessageHandler) error {
	c.logger.WithField("workers", c.workers).Info("Starting consumer")

	msgChan := make(chan kafka.Message, c.workers*2)

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, msgChan, handler)
	}

	c.wg.Add(1)
	go c.fetcher(ctx, msgChan)

	c.wg.Wait()
	return nil
}

// fetcher reads messages from Kafka and sends to worker pool
func (c *Consumer) fetcher(ctx context.Context, msgChan chan<- kafka.Message) {
	defer c.wg.Done()
	defer close(msgChan)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("Fetcher stopping")
				return
			}
			c.logger.WithError(err).Error("Failed to fetch message")
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.fetchBackoff):
			}
			continue
		}

		c.metrics.IncReceived()

		select {
		case msgChan <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// worker drains the channel until the fetcher closes it, so messages already
// fetched are still handled during shutdown.
func (c *Consumer) worker(ctx context.Context, id int, msgChan <-chan kafka.Message, handler MessageHandler) {
	defer c.wg.Done()
	c.logger.WithField("worker_id", id).Debug("Worker started")

	for msg := range msgChan {
		c.processMessage(ctx, msg, handler, id)
	}
}

// processMessage runs the handler and commits only when it succeeds. A
// fetched message is finished even when ctx is already cancelled.
func (c *Consumer) processMessage(ctx context.Context, kafkaMsg kafka.Message, handler MessageHandler, workerID int) {
	ctx = context.WithoutCancel(ctx)
	msg := toInternalMessage(kafkaMsg)

	log := c.logger.WithFields(logrus.Fields{
		"topic":     kafkaMsg.Topic,
		"partition": kafkaMsg.Partition,
		"offset":    kafkaMsg.Offset,
		"key":       msg.KeyString(),
		"worker_id": workerID,
	})
	log.Debug("Message received")

	if err := safeHandle(ctx, handler, msg); err != nil {
		c.metrics.IncFailed()
		log.WithError(err).Error("Message processing failed, leaving uncommitted")
		return
	}

	c.metrics.IncProcessed()
	if err := c.reader.CommitMessages(ctx, kafkaMsg); err != nil {
		log.WithError(err).Error("Failed to commit message")
	}
}

// safeHandle turns a handler panic into an error
func safeHandle(ctx context.Context, handler MessageHandler, msg *models.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}

// toInternalMessage converts a Kafka message, keeping header order and a nil key
func toInternalMessage(kafkaMsg kafka.Message) *models.Message {
	var headers models.Headers
	if len(kafkaMsg.Headers) > 0 {
		headers = make(models.Headers, 0, len(kafkaMsg.Headers))
		for _, h := range kafkaMsg.Headers {
			headers = append(headers, models.Header{Key: h.Key, Value: string(h.Value)})
		}
	}

	return &models.Message{
		Topic:     kafkaMsg.Topic,
		Key:       kafkaMsg.Key,
		Value:     kafkaMsg.Value,
		Headers:   headers,
		Partition: kafkaMsg.Partition,
		Offset:    kafkaMsg.Offset,
		Timestamp: kafkaMsg.Time,
	}
}

// Close gracefully shuts down the consumer
func (c *Consumer) Close() error {
	c.logger.Info("Closing consumer")
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close consumer: %w", err)
	}
	return nil
}
