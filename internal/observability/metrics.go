package observability

import (
	"sync/atomic"
)

// MetricsCollector provides hooks for metrics collection across the retry
// pipeline. Implementations must be safe for concurrent use.
type MetricsCollector interface {
	// producer
	IncPublished()
	IncPublishFailed()

	// consumer
	IncReceived()
	IncProcessed()
	IncFailed()

	// orchestrator
	IncRetryScheduled()
	IncSentToDLQ(reason string)

	// scheduler
	AddClaimed(n int)
	IncDecodeFailed()
	IncResent()
	IncResendFailed()
	IncRequeued()
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) IncPublished() {}
func (NopMetrics) IncPublishFailed() {}
func (NopMetrics) IncReceived() {}
func (NopMetrics) IncProcessed() {}
func (NopMetrics) IncFailed() {}
func (NopMetrics) IncRetryScheduled() {}
func (NopMetrics) IncSentToDLQ(string) {}
func (NopMetrics) AddClaimed(int) {}
func (NopMetrics) IncDecodeFailed() {}
func (NopMetrics) IncResent() {}
func (NopMetrics) IncResendFailed() {}
func (NopMetrics) IncRequeued() {}

// InMemoryMetrics is a simple in-memory implementation for testing/demo
type InMemoryMetrics struct {
	Published      atomic.Int64
	PublishFailed  atomic.Int64
	Received       atomic.Int64
	Processed      atomic.Int64
	Failed         atomic.Int64
	RetryScheduled atomic.Int64
	SentToDLQ      atomic.Int64
	Claimed        atomic.Int64
	DecodeFailed   atomic.Int64
	Resent         atomic.Int64
	ResendFailed   atomic.Int64
	Requeued       atomic.Int64
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{}
}

func (m *InMemoryMetrics) IncPublished() { m.Published.Add(1) }
func (m *InMemoryMetrics) IncPublishFailed() { m.PublishFailed.Add(1) }
func (m *InMemoryMetrics) IncReceived() { m.Received.Add(1) }
func (m *InMemoryMetrics) IncProcessed() { m.Processed.Add(1) }
func (m *InMemoryMetrics) IncFailed() { m.Failed.Add(1) }
func (m *InMemoryMetrics) IncRetryScheduled() { m.RetryScheduled.Add(1) }
func (m *InMemoryMetrics) IncDecodeFailed() { m.DecodeFailed.Add(1) }
func (m *InMemoryMetrics) IncResent() { m.Resent.Add(1) }
func (m *InMemoryMetrics) IncResendFailed() { m.ResendFailed.Add(1) }
func (m *InMemoryMetrics) IncRequeued() { m.Requeued.Add(1) }

func (m *InMemoryMetrics) IncSentToDLQ(string) {
	m.SentToDLQ.Add(1)
}

func (m *InMemoryMetrics) AddClaimed(n int) {
	m.Claimed.Add(int64(n))
}

func (m *InMemoryMetrics) GetPublished() int64 {
	return m.Published.Load()
}

func (m *InMemoryMetrics) GetPublishFailed() int64 {
	return m.PublishFailed.Load()
}

func (m *InMemoryMetrics) GetReceived() int64 {
	return m.Received.Load()
}

func (m *InMemoryMetrics) GetProcessed() int64 {
	return m.Processed.Load()
}

func (m *InMemoryMetrics) GetFailed() int64 {
	return m.Failed.Load()
}

func (m *InMemoryMetrics) GetRetryScheduled() int64 {
	return m.RetryScheduled.Load()
}

func (m *InMemoryMetrics) GetSentToDLQ() int64 {
	return m.SentToDLQ.Load()
}
