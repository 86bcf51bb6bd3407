// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several servers can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	strategyOutcomes *prometheus.CounterVec
	strategyDuration *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec
	activeFetches    prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	bytesServed      prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		strategyOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deckproxy",
			Name:      "strategy_outcomes_total",
			Help:      "Strategy invocations by operation, strategy and outcome.",
		}, []string{"op", "strategy", "outcome"}),
		strategyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deckproxy",
			Name:      "strategy_duration_seconds",
			Help:      "Time spent inside one strategy.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"op", "strategy"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deckproxy",
			Name:      "cache_lookups_total",
			Help:      "Stream requests by cache result.",
		}, []string{"result"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deckproxy",
			Name:      "fetch_duration_seconds",
			Help:      "Cold fetches from first strategy to publish.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"result"}),
		activeFetches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deckproxy",
			Name:      "active_fetches",
			Help:      "Cold fetches currently running.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deckproxy",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		bytesServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deckproxy",
			Name:      "stream_bytes_served_total",
			Help:      "Audio bytes written to clients.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.strategyOutcomes,
		m.strategyDuration,
		m.cacheLookups,
		m.fetchDuration,
		m.activeFetches,
		m.httpRequests,
		m.bytesServed,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) StrategyOutcome(op, strategy, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.strategyOutcomes.WithLabelValues(op, strategy, outcome).Inc()
	m.strategyDuration.WithLabelValues(op, strategy).Observe(elapsed.Seconds())
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// FetchStarted returns a func that records the fetch duration and result.
func (m *Metrics) FetchStarted() func(err error) {
	if m == nil {
		return func(error) {}
	}
	started := time.Now()
	m.activeFetches.Inc()
	return func(err error) {
		m.activeFetches.Dec()
		result := "success"
		if err != nil {
			result = "failure"
		}
		m.fetchDuration.WithLabelValues(result).Observe(time.Since(started).Seconds())
	}
}

func (m *Metrics) Request(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (m *Metrics) BytesServed(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesServed.Add(float64(n))
}
