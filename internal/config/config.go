package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Service   string
	Kafka     KafkaConfig
	Logging   LoggingConfig
	Consumer  ConsumerConfig
	Producer  ProducerConfig
	Redis     RedisConfig
	Retry     RetryConfig
	Scheduler SchedulerConfig
	Database  DatabaseConfig
	Admin     AdminConfig

	// OperationTimeout bounds every store and publish call
	OperationTimeout time.Duration
}

type KafkaConfig struct {
	Brokers []string
}

type LoggingConfig struct {
	Level string
}

type ConsumerConfig struct {
	Topics        []string
	GroupID       string
	Workers       int
	FetchMinBytes int
	FetchMaxBytes int
}

type ProducerConfig struct {
	Acks       int
	Retries    int
	Idempotent bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RetryConfig struct {
	QueueKey                string
	BaseDelay               time.Duration
	MaxRetryCount           int
	MaxDelay                time.Duration // 0 means uncapped
	RequeueOnPublishFailure bool
}

type SchedulerConfig struct {
	Interval  time.Duration
	BatchSize int
	Workers   int
}

type DatabaseConfig struct {
	URL string // empty selects the in-memory dead-letter store
}

type AdminConfig struct {
	Addr        string
	MaxPageSize int
	Operator    string
}

// Load reads an optional .env file, then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(), nil
}

// FromEnv builds the configuration from environment variables only
func FromEnv() *Config {
	return &Config{
		Service: getEnv("SERVICE_NAME", "retryworker"),
		Kafka: KafkaConfig{
			Brokers: parseList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Consumer: ConsumerConfig{
			Topics:        parseList(getEnv("KAFKA_RETRY_TOPICS", "common-retry-topic")),
			GroupID:       getEnv("KAFKA_CONSUMER_GROUP_ID", "retry-worker-group"),
			Workers:       getEnvInt("KAFKA_CONSUMER_WORKERS", 3),
			FetchMinBytes: getEnvInt("KAFKA_CONSUMER_FETCH_MIN_BYTES", 1),
			FetchMaxBytes: getEnvInt("KAFKA_CONSUMER_FETCH_MAX_BYTES", 10485760),
		},
		Producer: ProducerConfig{
			Acks:       parseAcks(getEnv("KAFKA_PRODUCER_ACKS", "all")),
			Retries:    getEnvInt("KAFKA_PRODUCER_RETRIES", 3),
			Idempotent: getEnvBool("KAFKA_PRODUCER_IDEMPOTENT", false),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Retry: RetryConfig{
			QueueKey:                getEnv("RETRY_QUEUE_KEY", "platform:retry:queue"),
			BaseDelay:               getEnvMillis("RETRY_DELAY_MS", 10000),
			MaxRetryCount:           getEnvInt("RETRY_MAX_COUNT", 3),
			MaxDelay:                getEnvMillis("RETRY_MAX_DELAY_MS", 0),
			RequeueOnPublishFailure: getEnvBool("RETRY_REQUEUE_ON_PUBLISH_FAILURE", false),
		},
		Scheduler: SchedulerConfig{
			Interval:  getEnvMillis("SCHEDULER_INTERVAL_MS", 1000),
			BatchSize: getEnvInt("SCHEDULER_BATCH_SIZE", 50),
			Workers:   getEnvInt("SCHEDULER_WORKERS", 4),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Admin: AdminConfig{
			Addr:        getEnv("ADMIN_ADDR", ":8080"),
			MaxPageSize: getEnvInt("ADMIN_MAX_PAGE_SIZE", 30),
			Operator:    getEnv("ADMIN_OPERATOR", "admin"),
		},
		OperationTimeout: getEnvMillis("OPERATION_TIMEOUT_MS", 10000),
	}
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS must list at least one broker"))
	}
	if len(c.Consumer.Topics) == 0 {
		errs = append(errs, errors.New("KAFKA_RETRY_TOPICS must list at least one topic"))
	}
	if c.Retry.BaseDelay <= 0 {
		errs = append(errs, errors.New("RETRY_DELAY_MS must be positive"))
	}
	if c.Retry.MaxRetryCount < 0 {
		errs = append(errs, errors.New("RETRY_MAX_COUNT must not be negative"))
	}
	if c.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("RETRY_MAX_DELAY_MS must not be negative"))
	}
	if c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHEDULER_INTERVAL_MS must be positive"))
	}
	if c.Scheduler.BatchSize <= 0 {
		errs = append(errs, errors.New("SCHEDULER_BATCH_SIZE must be positive"))
	}
	if c.Scheduler.Workers <= 0 {
		errs = append(errs, errors.New("SCHEDULER_WORKERS must be positive"))
	}
	if c.Admin.MaxPageSize <= 0 {
		errs = append(errs, errors.New("ADMIN_MAX_PAGE_SIZE must be positive"))
	}
	if c.OperationTimeout <= 0 {
		errs = append(errs, errors.New("OPERATION_TIMEOUT_MS must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultMillis int64) time.Duration {
	return time.Duration(getEnvInt64(key, defaultMillis)) * time.Millisecond
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func parseList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseAcks(acks string) int {
	switch strings.ToLower(acks) {
	case "all", "-1":
		return -1
	case "0":
		return 0
	case "1":
		return 1
	default:
		return -1 // default to all
	}
}
