package retry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go-retry/internal/deadletter"
	"go-retry/internal/delaystore"
	"go-retry/internal/envelope"
	"go-retry/internal/kafka"
	"go-retry/internal/observability"
	"go-retry/pkg/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addEnvelope(t *testing.T, store delaystore.Store, id string, score int64) envelope.Envelope {
	t.Helper()
	env := envelope.Envelope{
		ID:            id,
		Key:           "key-" + id,
		Value:         envelope.RawPayload("payload-" + id),
		OriginalTopic: "orders",
		RetryCount:    1,
	}
	member, err := envelope.Encode(env)
	require.NoError(t, err)
	require.NoError(t, store.Add(context.Background(), member, score))
	return env
}

func newTestScheduler(store delaystore.Store, r Resender, cfg SchedulerConfig, metrics observability.MetricsCollector) *Scheduler {
	logger, _ := test.NewNullLogger()
	return NewScheduler(store, r, cfg,
		WithSchedulerLogger(logger),
		WithSchedulerMetrics(metrics),
		WithSchedulerClock(func() time.Time { return fixedNow }),
	)
}

func TestTick_EmptyQueueIsNoop(t *testing.T) {
	h := newHarness(t, defaultConfig())
	s := newTestScheduler(h.delay, h.orch, SchedulerConfig{}, h.metrics)

	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickResult{}, res)
	assert.Empty(t, h.producer.GetPublishedMessages())
}

func TestTick_ResendsOnlyDueEnvelopes(t *testing.T) {
	h := newHarness(t, defaultConfig())
	now := fixedNow.UnixMilli()
	addEnvelope(t, h.delay, "a", now-1000)
	addEnvelope(t, h.delay, "b", now)
	addEnvelope(t, h.delay, "c", now+1)

	s := newTestScheduler(h.delay, h.orch, SchedulerConfig{}, h.metrics)
	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickResult{Claimed: 2, Resent: 2}, res)

	published := h.producer.GetPublishedMessages()
	require.Len(t, published, 2)
	keys := []string{string(published[0].Key), string(published[1].Key)}
	assert.ElementsMatch(t, []string{"key-a", "key-b"}, keys)
	for _, p := range published {
		count, _ := p.Headers.Get(models.HeaderRetryCount)
		assert.Equal(t, "2", count)
	}

	assert.Len(t, h.delay.Members(), 1, "future entry stays queued")
	assert.Equal(t, int64(2), h.metrics.Claimed.Load())
}

func TestTick_RespectsBatchSize(t *testing.T) {
	h := newHarness(t, defaultConfig())
	for i := 0; i < 7; i++ {
		addEnvelope(t, h.delay, fmt.Sprint(i), fixedNow.UnixMilli()-int64(i))
	}

	s := newTestScheduler(h.delay, h.orch, SchedulerConfig{BatchSize: 5}, h.metrics)
	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Claimed)
	assert.Len(t, h.delay.Members(), 2)
}

func TestTick_SkipsUndecodableMembers(t *testing.T) {
	h := newHarness(t, defaultConfig())
	require.NoError(t, h.delay.Add(context.Background(), "not-json", fixedNow.UnixMilli()))
	require.NoError(t, h.delay.Add(context.Background(), `{"id":"x","key":"k","value":{"type":"raw","value":"v"}}`, fixedNow.UnixMilli()))
	addEnvelope(t, h.delay, "ok", fixedNow.UnixMilli())

	s := newTestScheduler(h.delay, h.orch, SchedulerConfig{}, h.metrics)
	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickResult{Claimed: 3, DecodeFailed: 2, Resent: 1}, res)
	assert.Equal(t, int64(2), h.metrics.DecodeFailed.Load())
	assert.Empty(t, h.delay.Members(), "bad entries are dropped, not retried forever")
}

func TestTick_PublishFailureDropsByDefault(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.producer.FailCount = 100
	addEnvelope(t, h.delay, "a", fixedNow.UnixMilli())

	s := newTestScheduler(h.delay, h.orch, SchedulerConfig{}, h.metrics)
	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickResult{Claimed: 1, Failed: 1}, res)
	assert.Empty(t, h.delay.Members())
}

func TestTick_PublishFailureRequeuesWhenEnabled(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.producer.FailCount = 100
	env := addEnvelope(t, h.delay, "a", fixedNow.UnixMilli())

	s := newTestScheduler(h.delay, h.orch, SchedulerConfig{RequeueOnPublishFailure: true}, h.metrics)
	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickResult{Claimed: 1, Failed: 1, Requeued: 1}, res)

	got, score := h.onlyEnvelope(t)
	assert.Equal(t, env, got, "requeued unchanged, same retry count")
	assert.Equal(t, fixedNow.Add(10*time.Second).UnixMilli(), score)
}

func TestTick_ClaimErrorIsReturned(t *testing.T) {
	h := newHarness(t, defaultConfig())
	claimErr := errors.New("READONLY You can't write against a read only replica")
	store := &failingDelayStore{Store: h.delay, claimErr: claimErr}

	s := newTestScheduler(store, h.orch, SchedulerConfig{}, h.metrics)
	_, err := s.Tick(context.Background())
	assert.ErrorIs(t, err, claimErr)
}

// concurrencyProbe records the highest number of concurrent Resend calls
type concurrencyProbe struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	resent   atomic.Int32
}

func (p *concurrencyProbe) Resend(context.Context, envelope.Envelope) error {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	p.resent.Add(1)
	return nil
}

func (p *concurrencyProbe) Requeue(context.Context, envelope.Envelope) error { return nil }

func TestTick_BoundsConcurrentResends(t *testing.T) {
	store := delaystore.NewMemoryStore()
	for i := 0; i < 20; i++ {
		addEnvelope(t, store, fmt.Sprint(i), fixedNow.UnixMilli())
	}
	probe := &concurrencyProbe{}

	s := newTestScheduler(store, probe, SchedulerConfig{Workers: 3}, nil)
	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, res.Resent)
	assert.Equal(t, int32(20), probe.resent.Load())
	assert.LessOrEqual(t, probe.peak.Load(), int32(3))
}

func TestTick_FinishesClaimedBatchAfterCancel(t *testing.T) {
	h := newHarness(t, defaultConfig())
	addEnvelope(t, h.delay, "a", fixedNow.UnixMilli())

	ctx, cancel := context.WithCancel(context.Background())
	h.producer.PublishFunc = func(context.Context, string, []byte, []byte, models.Headers) error {
		cancel()
		return nil
	}

	s := newTestScheduler(h.delay, h.orch, SchedulerConfig{}, h.metrics)
	res, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resent)
}

func TestRun_PollsUntilCancelled(t *testing.T) {
	h := newHarness(t, defaultConfig())
	addEnvelope(t, h.delay, "a", fixedNow.UnixMilli())

	s := newTestScheduler(h.delay, h.orch, SchedulerConfig{Interval: 5 * time.Millisecond}, h.metrics)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(h.producer.GetPublishedMessages()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}

	addEnvelope(t, h.delay, "b", fixedNow.UnixMilli())
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.delay.Members(), 1, "no claim after cancellation")
}

// Several schedulers polling one Redis queue resend every due envelope
// exactly once.
func TestSchedulers_ConcurrentClaimsAreExclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := delaystore.NewRedisStore(client, "test:retry:queue")

	const due = 120
	for i := 0; i < due; i++ {
		addEnvelope(t, store, fmt.Sprintf("%03d", i), fixedNow.UnixMilli()-int64(i))
	}
	addEnvelope(t, store, "future", fixedNow.UnixMilli()+60_000)

	producer := kafka.NewMockProducer()
	orch := NewOrchestrator(store, deadletter.NewMemoryStore(), producer, defaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		s := newTestScheduler(store, orch, SchedulerConfig{BatchSize: 7, Workers: 2}, nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				res, err := s.Tick(context.Background())
				if !assert.NoError(t, err) || res.Claimed == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	published := producer.GetPublishedMessages()
	keys := make([]string, 0, len(published))
	for _, p := range published {
		keys = append(keys, string(p.Key))
	}
	sort.Strings(keys)

	expected := make([]string, 0, due)
	for i := 0; i < due; i++ {
		expected = append(expected, fmt.Sprintf("key-%03d", i))
	}
	assert.Equal(t, expected, keys)

	n, err := store.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
