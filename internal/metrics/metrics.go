// Package metrics exposes dispatcher outcomes and queue state to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rb3ckers/restdispatch/rest"
)

const namespace = "restdispatch"

// StatsSource is satisfied by *rest.Dispatcher.
type StatsSource interface {
	Stats() rest.Stats
}

// Metrics is a rest.Observer feeding Prometheus instruments.
type Metrics struct {
	requests *prometheus.CounterVec
	attempts *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func New() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests that reached a terminal outcome.",
		}, []string{"method", "outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Physical sends, retries included.",
		}, []string{"method"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from submission to outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), //nolint:gomnd
		}, []string{"method", "outcome"}),
	}
}

func (m *Metrics) Observe(ev rest.Event) {
	method, outcome := ev.Method.String(), ev.Outcome.String()

	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method, outcome).Observe(ev.Latency.Seconds())
	if ev.Attempts > 0 {
		m.attempts.WithLabelValues(method).Add(float64(ev.Attempts))
	}
}

// Register adds the instruments to reg, plus gauges reading the current
// queue state from src when it is not nil.
func (m *Metrics) Register(reg prometheus.Registerer, src StatsSource) error {
	collectors := []prometheus.Collector{m.requests, m.attempts, m.latency}

	if src != nil {
		collectors = append(collectors,
			gauge("queued_requests", "Requests waiting for a worker.", func(s rest.Stats) float64 { return float64(s.Queued) }, src),
			gauge("in_flight_requests", "Requests handed to a worker.", func(s rest.Stats) float64 { return float64(s.InFlight) }, src),
			gauge("workers", "Size of the worker pool.", func(s rest.Stats) float64 { return float64(s.Workers) }, src),
			gauge("rate_tokens", "Tokens left in the rate limit bucket.", func(s rest.Stats) float64 { return s.Tokens }, src),
		)
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func gauge(name, help string, read func(rest.Stats) float64, src StatsSource) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return read(src.Stats()) })
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
