package kafka

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go-retry/internal/observability"

	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// dialFunc opens a broker connection and reads its partitions
type dialFunc func(ctx context.Context, broker string) error

// BrokerClient checks broker reachability for the health endpoint and the
// background watchdog
type BrokerClient struct {
	brokers     []string
	logger      logrus.FieldLogger
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	dial        dialFunc
}

func NewBrokerClient(brokers []string, maxRetries int, logger logrus.FieldLogger) *BrokerClient {
	return &BrokerClient{
		brokers:     brokers,
		logger:      observability.OrDefault(logger),
		maxRetries:  maxRetries,
		baseBackoff: 1 * time.Second,
		maxBackoff:  30 * time.Second,
		dial:        dialBroker,
	}
}

func dialBroker(ctx context.Context, broker string) error {
	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		return fmt.Errorf("connect to broker %s: %w", broker, err)
	}
	defer conn.Close()

	if _, err := conn.ReadPartitions(); err != nil {
		return fmt.Errorf("read partitions from %s: %w", broker, err)
	}
	return nil
}

// HealthCheck succeeds when any configured broker answers a metadata request
func (c *BrokerClient) HealthCheck(ctx context.Context) error {
	if len(c.brokers) == 0 {
		return errors.New("no brokers configured")
	}
	var errs []error
	for _, b := range c.brokers {
		err := c.dial(ctx, b)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// HealthCheckLoop runs health checks periodically. After a failed check it
// probes with backoff and calls onReconnect once a broker answers again.
func (c *BrokerClient) HealthCheckLoop(ctx context.Context, interval time.Duration, onReconnect func() error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Health check loop stopped")
			return
		case <-ticker.C:
			if err := c.HealthCheck(ctx); err != nil {
				c.logger.WithError(err).Warn("Broker health check failed")
				if err := c.reconnectWithBackoff(ctx, onReconnect); err != nil && ctx.Err() == nil {
					c.logger.WithError(err).Error("Broker still unreachable")
				}
			}
		}
	}
}

func (c *BrokerClient) reconnectWithBackoff(ctx context.Context, onReconnect func() error) error {
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		backoff := time.Duration(math.Min(
			float64(c.baseBackoff)*math.Pow(2, float64(attempt)),
			float64(c.maxBackoff),
		))

		c.logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"backoff": backoff,
		}).Info("Waiting for broker")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		if err := c.HealthCheck(ctx); err != nil {
			c.logger.WithError(err).Warn("Broker probe failed")
			continue
		}

		if onReconnect != nil {
			if err := onReconnect(); err != nil {
				c.logger.WithError(err).Warn("Reconnect callback failed")
				continue
			}
		}

		c.logger.Info("Broker reachable again")
		return nil
	}

	return fmt.Errorf("broker unreachable after %d attempts", c.maxRetries)
}

func (c *BrokerClient) Brokers() []string {
	return c.brokers
}
