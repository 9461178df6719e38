package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Webhook intake results.
const (
	ResultAccepted  = "accepted"
	ResultRejected  = "rejected"
	ResultMalformed = "malformed"
	ResultIgnored   = "ignored"
)

// Forward outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeHTTP    = "http_error"
	OutcomeTimeout = "timeout"
	OutcomeError   = "transport_error"
)

// Metrics holds the relay's Prometheus instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	WebhooksReceived *prometheus.CounterVec
	EntriesForwarded prometheus.Counter
	ForwardsTotal    *prometheus.CounterVec
	ForwardDuration  prometheus.Histogram
	InFlight         prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates the instruments and registers them, along with the Go runtime
// and process collectors, on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		WebhooksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trfbwebhook_webhooks_received_total",
			Help: "Webhook deliveries received from the provider, by result.",
		}, []string{"result"}),
		EntriesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trfbwebhook_entries_forwarded_total",
			Help: "Batch entries turned into envelopes and fanned out.",
		}),
		ForwardsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trfbwebhook_forwards_total",
			Help: "Forward attempts to targets, by outcome.",
		}, []string{"outcome"}),
		ForwardDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trfbwebhook_forward_duration_seconds",
			Help:    "Duration of forward attempts.",
			Buckets: prometheus.DefBuckets,
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trfbwebhook_forwards_in_flight",
			Help: "Outbound forward requests currently in flight.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.WebhooksReceived,
		m.EntriesForwarded,
		m.ForwardsTotal,
		m.ForwardDuration,
		m.InFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) RecordWebhook(result string) {
	if m == nil {
		return
	}
	m.WebhooksReceived.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordEntry() {
	if m == nil {
		return
	}
	m.EntriesForwarded.Inc()
}

func (m *Metrics) RecordForward(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ForwardsTotal.WithLabelValues(outcome).Inc()
	m.ForwardDuration.Observe(d.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns the matching
// decrement.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.InFlight.Inc()
	return m.InFlight.Dec
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
