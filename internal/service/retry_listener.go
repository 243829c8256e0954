// Package service binds the Kafka consumer to the retry pipeline.
package service

import (
	"context"
	"fmt"

	"go-retry/internal/observability"
	"go-retry/pkg/models"

	"github.com/sirupsen/logrus"
)

// Processor classifies one message that landed on a retry topic
type Processor interface {
	Process(ctx context.Context, msg *models.Message) error
}

// RetryListener consumes the common retry topics and hands every message to
// the retry orchestrator. A returned error leaves the offset uncommitted so
// the broker redelivers the message.
type RetryListener struct {
	processor Processor
	logger    logrus.FieldLogger
}

func NewRetryListener(p Processor, logger logrus.FieldLogger) *RetryListener {
	return &RetryListener{
		processor: p,
		logger:    observability.OrDefault(logger),
	}
}

// Handle matches kafka.MessageHandler
func (l *RetryListener) Handle(ctx context.Context, msg *models.Message) error {
	log := l.logger.WithFields(logrus.Fields{
		"topic":     msg.Topic,
		"key":       msg.KeyString(),
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})
	log.Debug("Retry message received")

	if err := l.processor.Process(ctx, msg); err != nil {
		log.WithError(err).Warn("Retry message not processed, leaving it for redelivery")
		return fmt.Errorf("process %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	}
	return nil
}
