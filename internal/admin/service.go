// Package admin implements the operator actions on the dead-letter store and
// the delay queue, and exposes them over HTTP.
package admin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go-retry/internal/deadletter"
	"go-retry/internal/delaystore"
	"go-retry/internal/envelope"
	"go-retry/internal/kafka"
	"go-retry/internal/observability"
	"go-retry/pkg/models"

	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidRange        = errors.New("startId must not be greater than endId")
	ErrResendInProgress    = errors.New("a resend of this range is already in progress")
	ErrPurgeTargetRequired = errors.New("either key or all must be given")
)

// purgePageSize is how many delay queue members one purge scan reads at a time
const purgePageSize = 100

type Config struct {
	MaxPageSize int
	// Operator is written as updatedBy when a resend changes a record.
	Operator         string
	LockTTL          time.Duration
	OperationTimeout time.Duration
}

// ResendSummary counts the outcome of a range resend
type ResendSummary struct {
	Matched int `json:"matched"`
	Resent  int `json:"resent"`
	Failed  int `json:"failed"`
}

type Service struct {
	deadLetters deadletter.Store
	delay       delaystore.Store
	producer    kafka.ProducerClient
	locker      Locker
	cfg         Config
	logger      logrus.FieldLogger
}

func NewService(deadLetters deadletter.Store, delay delaystore.Store, producer kafka.ProducerClient, locker Locker, cfg Config, logger logrus.FieldLogger) *Service {
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 30
	}
	if cfg.Operator == "" {
		cfg.Operator = "admin"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 10 * time.Second
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	return &Service{
		deadLetters: deadLetters,
		delay:       delay,
		producer:    producer,
		locker:      locker,
		cfg:         cfg,
		logger:      observability.OrDefault(logger),
	}
}

// ResendRange republishes every FAILED record with id in [startID, endID] to
// its topic as a fresh first attempt. Each record is handled on its own: a
// failed publish leaves that record FAILED and the loop continues.
func (s *Service) ResendRange(ctx context.Context, startID, endID int64) (ResendSummary, error) {
	var sum ResendSummary
	if startID > endID {
		return sum, ErrInvalidRange
	}

	release, ok, err := s.locker.TryLock(ctx, fmt.Sprintf("resend:%d:%d", startID, endID), s.cfg.LockTTL)
	if err != nil {
		return sum, err
	}
	if !ok {
		return sum, ErrResendInProgress
	}
	defer release()

	records, err := s.deadLetters.FindByIDRangeAndStatus(ctx, startID, endID, deadletter.StatusFailed)
	if err != nil {
		return sum, fmt.Errorf("load dead letters %d..%d: %w", startID, endID, err)
	}
	sum.Matched = len(records)

	for _, rec := range records {
		log := s.logger.WithFields(logrus.Fields{"id": rec.ID, "topic": rec.Topic})
		if err := s.resendRecord(ctx, rec); err != nil {
			sum.Failed++
			log.WithError(err).Error("Failed to resend dead letter")
			continue
		}
		sum.Resent++
		log.Info("Resent dead letter")
	}

	s.logger.WithFields(logrus.Fields{
		"start_id": startID,
		"end_id":   endID,
		"matched":  sum.Matched,
		"resent":   sum.Resent,
		"failed":   sum.Failed,
	}).Info("Range resend finished")
	return sum, nil
}

func (s *Service) resendRecord(ctx context.Context, rec deadletter.Record) error {
	value, err := rec.PayloadBytes()
	if err != nil {
		return err
	}
	var key []byte
	if rec.MessageKey != nil {
		key = []byte(*rec.MessageKey)
	}
	headers := models.Headers{
		{Key: models.HeaderRetryCount, Value: "0"},
		{Key: models.HeaderOriginalTopic, Value: rec.Topic},
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()
	if err := s.producer.Publish(pubCtx, rec.Topic, key, value, headers); err != nil {
		return err
	}

	updCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()
	if err := s.deadLetters.UpdateStatus(updCtx, rec.ID, deadletter.StatusRetrying, s.cfg.Operator); err != nil {
		return fmt.Errorf("published but status not updated: %w", err)
	}
	return nil
}

// NormalizeQuery clamps the page size to [1, MaxPageSize] and turns a
// non-positive page into the first page. The page is capped so its row
// offset fits in an int.
func (s *Service) NormalizeQuery(q deadletter.Query) deadletter.Query {
	if q.PageSize <= 0 || q.PageSize > s.cfg.MaxPageSize {
		q.PageSize = s.cfg.MaxPageSize
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if maxPage := math.MaxInt / q.PageSize; q.Page > maxPage {
		q.Page = maxPage
	}
	return q
}

// FindMessages returns one page of dead letters, newest first
func (s *Service) FindMessages(ctx context.Context, q deadletter.Query) (deadletter.Page, error) {
	q = s.NormalizeQuery(q)
	page, err := s.deadLetters.FindMessages(ctx, q)
	if err != nil {
		return deadletter.Page{}, fmt.Errorf("find dead letters: %w", err)
	}
	return page, nil
}

// PurgeRetryQueue removes delay queue entries. all clears the whole queue and
// wins over key. Otherwise entries whose envelope key equals key are removed.
func (s *Service) PurgeRetryQueue(ctx context.Context, key string, all bool) (int64, error) {
	if all {
		n, err := s.delay.Len(ctx)
		if err != nil {
			return 0, fmt.Errorf("purge retry queue: %w", err)
		}
		if err := s.delay.Clear(ctx); err != nil {
			return 0, fmt.Errorf("purge retry queue: %w", err)
		}
		s.logger.WithField("deleted", n).Info("Deleted every entry in the retry queue")
		return n, nil
	}
	if key == "" {
		return 0, ErrPurgeTargetRequired
	}

	// The scheduler may claim entries while a pass runs, which shifts ranks
	// under the scan and can hide a match. Passes repeat until one removes nothing.
	var deleted int64
	for {
		n, err := s.purgePass(ctx, key)
		deleted += n
		if err != nil {
			return deleted, fmt.Errorf("purge retry queue: %w", err)
		}
		if n == 0 {
			break
		}
	}

	s.logger.WithFields(logrus.Fields{"key": key, "deleted": deleted}).Info("Deleted retry queue entries by key")
	return deleted, nil
}

// purgePass scans the delay queue once from the lowest score and removes the
// entries whose envelope key equals key.
func (s *Service) purgePass(ctx context.Context, key string) (int64, error) {
	var deleted, offset int64
	for {
		page, err := s.delay.Range(ctx, offset, purgePageSize)
		if err != nil {
			return deleted, err
		}
		if len(page) == 0 {
			return deleted, nil
		}

		var matches []string
		for _, member := range page {
			env, err := envelope.Decode(member)
			if err != nil {
				continue
			}
			if env.Key == key {
				matches = append(matches, member)
			}
		}

		if len(matches) > 0 {
			n, err := s.delay.Remove(ctx, matches...)
			if err != nil {
				return deleted, err
			}
			deleted += n
		}
		// Removed members shift later ones down, so only the kept ones advance the scan.
		offset += int64(len(page) - len(matches))
	}
}
