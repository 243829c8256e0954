// Package retry decides what happens to a failed message and moves it
// through the delay queue back to its original topic.
package retry

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go-retry/internal/deadletter"
	"go-retry/internal/delaystore"
	"go-retry/internal/envelope"
	"go-retry/internal/kafka"
	"go-retry/internal/observability"
	"go-retry/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Config struct {
	BaseDelay     time.Duration
	MaxRetryCount int
	// MaxDelay caps a single backoff. Zero leaves it uncapped.
	MaxDelay         time.Duration
	OperationTimeout time.Duration
	// Actor is written as createdBy on dead-letter records.
	Actor string
}

// Orchestrator classifies failed messages and redelivers due envelopes.
// It is safe for concurrent use.
type Orchestrator struct {
	delay       delaystore.Store
	deadLetters deadletter.Store
	producer    kafka.ProducerClient
	cfg         Config
	logger      logrus.FieldLogger
	metrics     observability.MetricsCollector
	now         func() time.Time
	newID       func() string
	encode      func(envelope.Envelope) (string, error)
}

type Option func(*Orchestrator)

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Orchestrator) { o.logger = observability.OrDefault(l) }
}

func WithMetrics(m observability.MetricsCollector) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator replaces the UUID envelope id source
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

func NewOrchestrator(delay delaystore.Store, deadLetters deadletter.Store, producer kafka.ProducerClient, cfg Config, opts ...Option) *Orchestrator {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 10 * time.Second
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 10 * time.Second
	}
	if cfg.Actor == "" {
		cfg.Actor = "retryworker"
	}
	o := &Orchestrator{
		delay:       delay,
		deadLetters: deadLetters,
		producer:    producer,
		cfg:         cfg,
		logger:      observability.GetLogger(),
		metrics:     observability.NopMetrics{},
		now:         time.Now,
		newID:       uuid.NewString,
		encode:      envelope.Encode,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process routes one message from a retry topic. Exactly one of the delay
// queue or the dead-letter store receives it. Store failures are returned so
// the caller can leave the message uncommitted.
func (o *Orchestrator) Process(ctx context.Context, msg *models.Message) error {
	log := o.logger.WithFields(logrus.Fields{"topic": msg.Topic, "key": msg.KeyString()})

	originalTopic, ok := msg.Headers.Get(models.HeaderOriginalTopic)
	if !ok || strings.TrimSpace(originalTopic) == "" {
		log.Warn("Missing original topic header")
		return o.deadLetter(ctx, msg, msg.Topic, deadletter.ReasonMissingOriginalTopic, deadletter.ReasonMissingOriginalTopic)
	}
	log = log.WithField("original_topic", originalTopic)

	o.logHopLatency(log, msg.Headers)

	count := o.retryCount(log, msg.Headers)
	log = log.WithField("retry_count", count)
	if count >= o.cfg.MaxRetryCount {
		log.Info("Max retry count reached")
		return o.deadLetter(ctx, msg, originalTopic, deadletter.ReasonMaxRetryExceeded, deadletter.ReasonMaxRetryExceeded)
	}

	now := o.now()
	delay := o.Backoff(count)
	due := now.Add(delay)

	env := envelope.Envelope{
		ID:            o.newID(),
		Key:           msg.KeyString(),
		Value:         envelope.DecodePayload(msg.Value),
		OriginalTopic: originalTopic,
		Headers:       msg.Headers.Without(models.HeaderRetryCount),
		RetryCount:    count,
		EnqueuedAt:    now.UnixMilli(),
	}
	member, err := o.encode(env)
	if err != nil {
		log.WithError(err).Error("Envelope encoding failed")
		reason := fmt.Sprintf("%s: %v", deadletter.ReasonEncodingFailed, err)
		return o.deadLetter(ctx, msg, originalTopic, reason, deadletter.ReasonEncodingFailed)
	}

	opCtx, cancel := context.WithTimeout(ctx, o.cfg.OperationTimeout)
	defer cancel()
	if err := o.delay.Add(opCtx, member, due.UnixMilli()); err != nil {
		return fmt.Errorf("schedule retry for %s: %w", originalTopic, err)
	}

	o.metrics.IncRetryScheduled()
	log.WithFields(logrus.Fields{
		"id":       env.ID,
		"score":    due.UnixMilli(),
		"delay_ms": delay.Milliseconds(),
	}).Info("Retry scheduled")
	return nil
}

// Resend publishes env to its original topic as the next attempt. This is the
// only place the retry count grows.
func (o *Orchestrator) Resend(ctx context.Context, env envelope.Envelope) error {
	msg := env.NextAttempt()
	log := o.logger.WithFields(logrus.Fields{
		"id":          env.ID,
		"topic":       msg.Topic,
		"key":         env.Key,
		"retry_count": env.RetryCount + 1,
	})

	opCtx, cancel := context.WithTimeout(ctx, o.cfg.OperationTimeout)
	defer cancel()
	if err := o.producer.Publish(opCtx, msg.Topic, msg.Key, msg.Value, msg.Headers); err != nil {
		o.metrics.IncResendFailed()
		log.WithError(err).Error("Resend failed")
		return fmt.Errorf("resend %s to %s: %w", env.ID, msg.Topic, err)
	}

	o.metrics.IncResent()
	log.Info("Resent to original topic")
	return nil
}

// Requeue puts env back into the delay queue unchanged, one base delay from now
func (o *Orchestrator) Requeue(ctx context.Context, env envelope.Envelope) error {
	member, err := o.encode(env)
	if err != nil {
		return fmt.Errorf("requeue %s: %w", env.ID, err)
	}
	due := o.now().Add(o.cfg.BaseDelay)

	opCtx, cancel := context.WithTimeout(ctx, o.cfg.OperationTimeout)
	defer cancel()
	if err := o.delay.Add(opCtx, member, due.UnixMilli()); err != nil {
		return fmt.Errorf("requeue %s: %w", env.ID, err)
	}

	o.metrics.IncRequeued()
	o.logger.WithFields(logrus.Fields{"id": env.ID, "score": due.UnixMilli()}).Warn("Envelope requeued after failed resend")
	return nil
}

// Backoff returns BaseDelay * 2^count, saturating instead of overflowing and
// clamped to MaxDelay when one is set.
func (o *Orchestrator) Backoff(count int) time.Duration {
	if count < 0 {
		count = 0
	}
	base := o.cfg.BaseDelay
	var d time.Duration
	if count >= 63 || base > time.Duration(math.MaxInt64>>uint(count)) {
		d = time.Duration(math.MaxInt64)
	} else {
		d = base << uint(count)
	}
	if o.cfg.MaxDelay > 0 && d > o.cfg.MaxDelay {
		d = o.cfg.MaxDelay
	}
	return d
}

func (o *Orchestrator) retryCount(log logrus.FieldLogger, headers models.Headers) int {
	raw, ok := headers.Get(models.HeaderRetryCount)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		log.WithField("value", raw).Warn("Invalid retry count header, using 0")
		return 0
	}
	return n
}

func (o *Orchestrator) logHopLatency(log logrus.FieldLogger, headers models.Headers) {
	raw, ok := headers.Get(models.HeaderForwardedAt)
	if !ok {
		return
	}
	at, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		log.WithField("value", raw).Debug("Invalid forwarded-at header")
		return
	}
	log.WithField("hop_latency_ms", o.now().UnixMilli()-at).Debug("Forwarded message received")
}

// deadLetter persists msg. metricReason is the bounded label used for metrics.
func (o *Orchestrator) deadLetter(ctx context.Context, msg *models.Message, topic, reason, metricReason string) error {
	rec := &deadletter.Record{
		Topic:         topic,
		FailureReason: reason,
		CreatedBy:     o.cfg.Actor,
	}
	rec.Payload, rec.PayloadEncoding = deadletter.EncodePayload(msg.Value)
	if msg.Key != nil {
		key := string(msg.Key)
		rec.MessageKey = &key
	}

	opCtx, cancel := context.WithTimeout(ctx, o.cfg.OperationTimeout)
	defer cancel()
	if err := o.deadLetters.Save(opCtx, rec); err != nil {
		return fmt.Errorf("save dead letter for %s: %w", topic, err)
	}

	o.metrics.IncSentToDLQ(metricReason)
	o.logger.WithFields(logrus.Fields{
		"id":     rec.ID,
		"topic":  topic,
		"key":    msg.KeyString(),
		"reason": reason,
	}).Warn("Message dead-lettered")
	return nil
}
