package retry

import (
	"context"
	"sync/atomic"
	"time"

	"go-retry/internal/delaystore"
	"go-retry/internal/envelope"
	"go-retry/internal/observability"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Resender redelivers claimed envelopes
type Resender interface {
	Resend(ctx context.Context, env envelope.Envelope) error
	Requeue(ctx context.Context, env envelope.Envelope) error
}

type SchedulerConfig struct {
	Interval  time.Duration
	BatchSize int
	Workers   int
	// RequeueOnPublishFailure puts an envelope whose resend failed back into
	// the delay queue instead of dropping it.
	RequeueOnPublishFailure bool
	OperationTimeout        time.Duration
}

// TickResult summarizes one poll of the delay queue
type TickResult struct {
	Claimed      int
	DecodeFailed int
	Resent       int
	Failed       int
	Requeued     int
}

// Scheduler polls the delay queue and hands due envelopes to a Resender.
// Claims are atomic in the store, so several instances may poll the same
// queue.
type Scheduler struct {
	store    delaystore.Store
	resender Resender
	cfg      SchedulerConfig
	logger   logrus.FieldLogger
	metrics  observability.MetricsCollector
	now      func() time.Time
}

type SchedulerOption func(*Scheduler)

func WithSchedulerLogger(l logrus.FieldLogger) SchedulerOption {
	return func(s *Scheduler) { s.logger = observability.OrDefault(l) }
}

func WithSchedulerMetrics(m observability.MetricsCollector) SchedulerOption {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(store delaystore.Store, resender Resender, cfg SchedulerConfig, opts ...SchedulerOption) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 10 * time.Second
	}
	s := &Scheduler{
		store:    store,
		resender: resender,
		cfg:      cfg,
		logger:   observability.GetLogger(),
		metrics:  observability.NopMetrics{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run polls every Interval until ctx is cancelled. Ticks never overlap and no
// claim starts after cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"interval_ms": s.cfg.Interval.Milliseconds(),
		"batch_size":  s.cfg.BatchSize,
		"workers":     s.cfg.Workers,
	}).Info("Delay scheduler started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Delay scheduler stopped")
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			_, _ = s.Tick(ctx)
		}
	}
}

// Tick claims one batch of due envelopes and resends them with at most
// Workers in flight. Envelopes already claimed are resent even if ctx is
// cancelled meanwhile, since the claim removed them from the store.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult

	claimCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	members, err := s.store.Claim(claimCtx, s.now().UnixMilli(), s.cfg.BatchSize)
	cancel()
	if err != nil {
		s.logger.WithError(err).Error("Failed to claim due envelopes")
		return res, err
	}
	if len(members) == 0 {
		return res, nil
	}
	res.Claimed = len(members)
	s.metrics.AddClaimed(len(members))

	workCtx := context.WithoutCancel(ctx)
	var resent, failed, requeued atomic.Int64

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, member := range members {
		env, err := envelope.Decode(member)
		if err != nil {
			res.DecodeFailed++
			s.metrics.IncDecodeFailed()
			s.logger.WithError(err).WithField("member", member).Error("Skipping undecodable delay queue entry")
			continue
		}

		g.Go(func() error {
			if err := s.resender.Resend(workCtx, env); err != nil {
				failed.Add(1)
				if s.cfg.RequeueOnPublishFailure {
					if rqErr := s.resender.Requeue(workCtx, env); rqErr != nil {
						s.logger.WithError(rqErr).WithField("id", env.ID).Error("Requeue failed, envelope lost")
					} else {
						requeued.Add(1)
					}
				}
				return nil
			}
			resent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res.Resent = int(resent.Load())
	res.Failed = int(failed.Load())
	res.Requeued = int(requeued.Load())

	s.logger.WithFields(logrus.Fields{
		"claimed":       res.Claimed,
		"resent":        res.Resent,
		"failed":        res.Failed,
		"decode_failed": res.DecodeFailed,
		"requeued":      res.Requeued,
	}).Info("Delay queue batch processed")
	return res, nil
}
