package gateway

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors. Each gateway carries
// its own registry so tests can run handlers in parallel without
// colliding on the default global registry.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	turns         *prometheus.CounterVec
	turnDuration  prometheus.Histogram
	streamTokens  prometheus.Counter
	tokensTracked *prometheus.CounterVec
}

// NewMetrics creates and registers the gateway collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "braid",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status class.",
		}, []string{"route", "status"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "braid",
			Subsystem: "engine",
			Name:      "chat_turns_total",
			Help:      "Chat turns by terminal status.",
		}, []string{"status"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "braid",
			Subsystem: "engine",
			Name:      "chat_turn_duration_seconds",
			Help:      "Wall time of one chat turn, start to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		streamTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "braid",
			Subsystem: "stream",
			Name:      "tokens_total",
			Help:      "Tokens pushed through the stream coordinator.",
		}),
		tokensTracked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "braid",
			Subsystem: "usage",
			Name:      "tokens_tracked_total",
			Help:      "Tokens recorded by the usage tracker, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.requests, m.turns, m.turnDuration, m.streamTokens, m.tokensTracked)
	return m
}

// RecordRequest counts one handled HTTP request.
func (m *Metrics) RecordRequest(route string, status int) {
	class := "2xx"
	switch {
	case status >= 500:
		class = "5xx"
	case status >= 400:
		class = "4xx"
	case status >= 300:
		class = "3xx"
	}
	m.requests.WithLabelValues(route, class).Inc()
}

// RecordTurn records one finished chat turn.
func (m *Metrics) RecordTurn(status string, duration time.Duration, prompt, completion int64) {
	m.turns.WithLabelValues(status).Inc()
	m.turnDuration.Observe(duration.Seconds())
	m.tokensTracked.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensTracked.WithLabelValues("completion").Add(float64(completion))
}

// RecordStreamToken counts one streamed token.
func (m *Metrics) RecordStreamToken() {
	m.streamTokens.Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
