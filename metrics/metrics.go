// Package metrics exposes call counters and latencies of the RPC engines to
// Prometheus. A nil *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mqrpc"

// Side labels which engine observed a call.
type Side string

const (
	Client Side = "client"
	Server Side = "server"
)

// OutcomeOK is the outcome label of a successful call. Failed calls are
// labelled with their error kind.
const OutcomeOK = "ok"

// Collector is a prometheus.Collector for both engines.
type Collector struct {
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	pending      prometheus.Gauge
	stashed      prometheus.Gauge
	inFlight     prometheus.Gauge
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "calls_total",
				Help:      "The number of completed calls by engine side, method and outcome.",
			}, []string{"side", "method", "outcome"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "call_duration_seconds",
				Help:      "The time from publishing a request, or receiving it, to its reply.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			}, []string{"side", "method"},
		),
		pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "client_pending_calls",
				Help:      "The number of client calls awaiting a reply.",
			},
		),
		stashed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "client_stashed_calls",
				Help:      "The number of client calls buffered during the handshake.",
			},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "server_in_flight",
				Help:      "The number of requests a server is currently dispatching.",
			},
		),
	}
}

// ObserveCall records one finished call.
func (c *Collector) ObserveCall(side Side, method, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.calls.WithLabelValues(string(side), method, outcome).Inc()
	c.callDuration.WithLabelValues(string(side), method).Observe(d.Seconds())
}

// SetPending sets the size of a client's correlation table.
func (c *Collector) SetPending(n int) {
	if c == nil {
		return
	}
	c.pending.Set(float64(n))
}

// SetStashed sets the size of a client's handshake buffer.
func (c *Collector) SetStashed(n int) {
	if c == nil {
		return
	}
	c.stashed.Set(float64(n))
}

// AddInFlight adjusts the number of requests a server is dispatching.
func (c *Collector) AddInFlight(delta int) {
	if c == nil {
		return
	}
	c.inFlight.Add(float64(delta))
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.calls.Describe(ch)
	c.callDuration.Describe(ch)
	c.pending.Describe(ch)
	c.stashed.Describe(ch)
	c.inFlight.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.calls.Collect(ch)
	c.callDuration.Collect(ch)
	c.pending.Collect(ch)
	c.stashed.Collect(ch)
	c.inFlight.Collect(ch)
}
