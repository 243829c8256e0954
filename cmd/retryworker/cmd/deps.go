package cmd

import (
	"context"
	"fmt"

	"go-retry/internal/admin"
	"go-retry/internal/config"
	"go-retry/internal/deadletter"
	"go-retry/internal/delaystore"
	"go-retry/internal/kafka"
	"go-retry/internal/observability"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// deps are the connections shared by serve and the admin commands
type deps struct {
	cfg         *config.Config
	logger      logrus.FieldLogger
	redis       *redis.Client
	delay       *delaystore.RedisStore
	deadLetters deadletter.Store
	postgres    *deadletter.PostgresStore
	producer    *kafka.Producer
}

func openDeps(ctx context.Context, c *config.Config, metrics observability.MetricsCollector) (*deps, error) {
	logger := observability.GetLogger()
	d := &deps{cfg: c, logger: logger}

	d.redis = redis.NewClient(&redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
	d.delay = delaystore.NewRedisStore(d.redis, c.Retry.QueueKey)
	pingCtx, cancel := context.WithTimeout(ctx, c.OperationTimeout)
	defer cancel()
	if err := d.delay.Ping(pingCtx); err != nil {
		d.Close()
		return nil, fmt.Errorf("connect redis %s: %w", c.Redis.Addr, err)
	}

	if c.Database.URL == "" {
		logger.Warn("DATABASE_URL not set, dead letters are kept in memory only")
		d.deadLetters = deadletter.NewMemoryStore()
	} else {
		pg, err := deadletter.NewPostgresStore(ctx, c.Database.URL)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.postgres = pg
		if err := pg.Migrate(ctx); err != nil {
			d.Close()
			return nil, err
		}
		d.deadLetters = pg
	}

	d.producer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:    c.Kafka.Brokers,
		Acks:       c.Producer.Acks,
		Retries:    c.Producer.Retries,
		Idempotent: c.Producer.Idempotent,
		Metrics:    metrics,
		Logger:     logger,
	})

	logger.WithFields(logrus.Fields{
		"brokers":   c.Kafka.Brokers,
		"redis":     c.Redis.Addr,
		"queue_key": d.delay.Key(),
		"postgres":  d.postgres != nil,
	}).Info("Connections ready")
	return d, nil
}

func (d *deps) adminService() *admin.Service {
	return admin.NewService(d.deadLetters, d.delay, d.producer,
		admin.NewRedisLocker(d.redis, d.cfg.Service+":admin:lock:"),
		admin.Config{
			MaxPageSize:      d.cfg.Admin.MaxPageSize,
			Operator:         d.cfg.Admin.Operator,
			OperationTimeout: d.cfg.OperationTimeout,
		}, d.logger)
}

func (d *deps) healthChecks(broker *kafka.BrokerClient) map[string]admin.HealthCheck {
	checks := map[string]admin.HealthCheck{
		"kafka": broker.HealthCheck,
		"redis": d.delay.Ping,
	}
	if d.postgres != nil {
		checks["postgres"] = d.postgres.Ping
	}
	return checks
}

func (d *deps) Close() {
	if d.producer != nil {
		if err := d.producer.Close(); err != nil {
			d.logger.WithError(err).Warn("Failed to close producer")
		}
	}
	if d.postgres != nil {
		d.postgres.Close()
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.logger.WithError(err).Warn("Failed to close redis client")
		}
	}
}
