package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go-retry/internal/observability"
	"go-retry/pkg/models"

	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWriter fails the first failN writes and records the rest
type fakeWriter struct {
	mu      sync.Mutex
	failN   int
	calls   int
	written []kafka.Message
	closed  bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.calls <= w.failN {
		return errors.New("leader not available")
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func testProducer(w messageWriter, metrics observability.MetricsCollector, maxRetries int) *Producer {
	logger, _ := test.NewNullLogger()
	return newProducer(w, ProducerConfig{
		MaxRetries:  maxRetries,
		BaseBackoff: time.Millisecond,
		Metrics:     metrics,
		Logger:      logger,
	})
}

func TestProducer_PublishSuccess(t *testing.T) {
	w := &fakeWriter{}
	metrics := observability.NewInMemoryMetrics()
	producer := testProducer(w, metrics, 3)

	headers := models.Headers{
		{Key: models.HeaderOriginalTopic, Value: "orders"},
		{Key: "trace", Value: "a"},
		{Key: models.HeaderRetryCount, Value: "1"},
	}
	err := producer.Publish(context.Background(), "orders", []byte("k1"), []byte(`{"a":1}`), headers)
	require.NoError(t, err)

	require.Len(t, w.written, 1)
	msg := w.written[0]
	assert.Equal(t, "orders", msg.Topic)
	assert.Equal(t, []byte("k1"), msg.Key)
	assert.Equal(t, []byte(`{"a":1}`), msg.Value)
	require.Len(t, msg.Headers, 3)
	assert.Equal(t, models.HeaderOriginalTopic, msg.Headers[0].Key)
	assert.Equal(t, "trace", msg.Headers[1].Key)
	assert.Equal(t, "1", string(msg.Headers[2].Value))
	assert.Equal(t, int64(1), metrics.GetPublished())
}

func TestProducer_PublishNilKey(t *testing.T) {
	w := &fakeWriter{}
	producer := testProducer(w, nil, 0)

	require.NoError(t, producer.Publish(context.Background(), "orders", nil, []byte("v"), nil))
	require.Len(t, w.written, 1)
	assert.Nil(t, w.written[0].Key)
	assert.Empty(t, w.written[0].Headers)
}

func TestProducer_PublishWithRetries(t *testing.T) {
	w := &fakeWriter{failN: 2}
	metrics := observability.NewInMemoryMetrics()
	producer := testProducer(w, metrics, 3)

	err := producer.Publish(context.Background(), "orders", []byte("k"), []byte("v"), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, w.calls)
	assert.Equal(t, int64(1), metrics.GetPublished())
	assert.Zero(t, metrics.GetPublishFailed())
}

func TestProducer_PublishExceedsMaxRetries(t *testing.T) {
	w := &fakeWriter{failN: 100}
	metrics := observability.NewInMemoryMetrics()
	producer := testProducer(w, metrics, 2)

	err := producer.Publish(context.Background(), "orders", []byte("k"), []byte("v"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, w.calls)
	assert.Equal(t, int64(1), metrics.GetPublishFailed())
}

func TestProducer_ContextCancellation(t *testing.T) {
	w := &fakeWriter{failN: 100}
	metrics := observability.NewInMemoryMetrics()
	producer := newProducer(w, ProducerConfig{MaxRetries: 5, BaseBackoff: time.Hour, Metrics: metrics})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := producer.Publish(ctx, "orders", []byte("k"), []byte("v"), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, w.calls)
	assert.Equal(t, int64(1), metrics.GetPublishFailed())
}

func TestProducer_IdempotentConfiguration(t *testing.T) {
	producer := NewProducer(ProducerConfig{
		Brokers:    []string{"localhost:9092"},
		Acks:       1,
		Retries:    3,
		Idempotent: true,
	})
	defer producer.Close()

	writer, ok := producer.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, kafka.RequireAll, writer.RequiredAcks)
	assert.Equal(t, 10, writer.MaxAttempts)
}

func TestProducer_Close(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, testProducer(w, nil, 0).Close())
	assert.True(t, w.closed)
}

func TestMockProducer_Behavior(t *testing.T) {
	mock := NewMockProducer()

	headers := models.Headers{{Key: "h1", Value: "v1"}}
	err := mock.Publish(context.Background(), "test-topic", []byte("key1"), []byte("value1"), headers)
	require.NoError(t, err)
	headers[0].Value = "mutated"

	messages := mock.GetPublishedMessages()
	require.Len(t, messages, 1)
	assert.Equal(t, "test-topic", messages[0].Topic)
	assert.Equal(t, []byte("key1"), messages[0].Key)
	assert.Equal(t, []byte("value1"), messages[0].Value)
	v, _ := messages[0].Headers.Get("h1")
	assert.Equal(t, "v1", v, "recorded headers are a copy")
}

func TestMockProducer_SimulateFailures(t *testing.T) {
	mock := NewMockProducer()
	mock.FailCount = 2

	ctx := context.Background()
	assert.Error(t, mock.Publish(ctx, "t", nil, []byte("v"), nil))
	assert.Error(t, mock.Publish(ctx, "t", nil, []byte("v"), nil))
	assert.NoError(t, mock.Publish(ctx, "t", nil, []byte("v"), nil))
	assert.Len(t, mock.GetPublishedMessages(), 1)

	mock.Reset()
	assert.Empty(t, mock.GetPublishedMessages())
}

func TestMockProducer_CustomPublishFunc(t *testing.T) {
	mock := NewMockProducer()

	callCount := 0
	mock.PublishFunc = func(ctx context.Context, topic string, key, value []byte, headers models.Headers) error {
		callCount++
		if callCount < 3 {
			return fmt.Errorf("temporary error")
		}
		return nil
	}

	ctx := context.Background()
	assert.Error(t, mock.Publish(ctx, "t", nil, []byte("v"), nil))
	assert.Error(t, mock.Publish(ctx, "t", nil, []byte("v"), nil))
	assert.NoError(t, mock.Publish(ctx, "t", nil, []byte("v"), nil))
	assert.Equal(t, 3, callCount)
	assert.Len(t, mock.GetPublishedMessages(), 1)
}
