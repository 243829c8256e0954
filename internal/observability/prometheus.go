package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// PrometheusMetrics exports the pipeline counters. Every series carries a
// constant service label.
type PrometheusMetrics struct {
	published      prometheus.Counter
	publishFailed  prometheus.Counter
	received       prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	retryScheduled prometheus.Counter
	deadLettered   *prometheus.CounterVec
	claimed        prometheus.Counter
	decodeFailed   prometheus.Counter
	resent         prometheus.Counter
	resendFailed   prometheus.Counter
	requeued       prometheus.Counter
}

// NewPrometheusMetrics registers the counters with reg. A nil reg uses the
// default registry.
func NewPrometheusMetrics(serviceName string, reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	labels := prometheus.Labels{"service": serviceName}
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace:   "retryworker",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	return &PrometheusMetrics{
		published:      counter("messages_published_total", "Messages written to the broker"),
		publishFailed:  counter("messages_publish_failed_total", "Broker writes that failed after retries"),
		received:       counter("messages_received_total", "Messages fetched from retry topics"),
		processed:      counter("messages_processed_total", "Messages handled and committed"),
		failed:         counter("messages_failed_total", "Messages whose handler returned an error"),
		retryScheduled: counter("retries_scheduled_total", "Envelopes inserted into the delay queue"),
		deadLettered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "retryworker",
			Name:        "dead_letters_total",
			Help:        "Messages persisted to the dead-letter store",
			ConstLabels: labels,
		}, []string{"reason"}),
		claimed:      counter("delay_queue_claimed_total", "Envelopes claimed from the delay queue"),
		decodeFailed: counter("delay_queue_decode_failed_total", "Claimed members that could not be decoded"),
		resent:       counter("resends_total", "Envelopes republished to their original topic"),
		resendFailed: counter("resends_failed_total", "Envelope republishes that failed"),
		requeued:     counter("requeued_total", "Failed republishes put back into the delay queue"),
	}
}

func (m *PrometheusMetrics) IncPublished() { m.published.Inc() }
func (m *PrometheusMetrics) IncPublishFailed() { m.publishFailed.Inc() }
func (m *PrometheusMetrics) IncReceived() { m.received.Inc() }
func (m *PrometheusMetrics) IncProcessed() { m.processed.Inc() }
func (m *PrometheusMetrics) IncFailed() { m.failed.Inc() }
func (m *PrometheusMetrics) IncRetryScheduled() { m.retryScheduled.Inc() }
func (m *PrometheusMetrics) IncDecodeFailed() { m.decodeFailed.Inc() }
func (m *PrometheusMetrics) IncResent() { m.resent.Inc() }
func (m *PrometheusMetrics) IncResendFailed() { m.resendFailed.Inc() }
func (m *PrometheusMetrics) IncRequeued() { m.requeued.Inc() }

func (m *PrometheusMetrics) IncSentToDLQ(reason string) {
	m.deadLettered.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) AddClaimed(n int) {
	if n > 0 {
		m.claimed.Add(float64(n))
	}
}
