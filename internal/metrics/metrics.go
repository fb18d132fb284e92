// Package metrics exposes Prometheus instrumentation for the deferred
// scheduler.
//
// All Observe methods are safe on a nil *Metrics, so instrumented code does
// not need to check whether metrics are enabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the scheduler's collectors. It implements
// prometheus.Collector so a single MustRegister call registers everything.
type Metrics struct {
	enqueued   prometheus.Counter
	dispatched prometheus.Counter
	discarded  prometheus.Counter
	rearms     prometheus.Counter
	panics     prometheus.Counter
	pending    prometheus.Gauge
	lateness   prometheus.Histogram
}

var _ prometheus.Collector = (*Metrics)(nil)

// New creates the collectors under the given namespace (e.g. "deferq").
func New(namespace string) *Metrics {
	return &Metrics{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_enqueued_total",
			Help:      "Number of deferred entries inserted into the schedule",
		}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_dispatched_total",
			Help:      "Number of deferred entries handed off for execution",
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_discarded_total",
			Help:      "Number of pending entries released without running at shutdown",
		}),
		rearms: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timer_rearms_total",
			Help:      "Number of countdown timers armed for the earliest deadline",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_panics_total",
			Help:      "Number of callbacks that panicked",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entries_pending",
			Help:      "Number of entries waiting for their deadline",
		}),
		lateness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_lateness_seconds",
			Help:      "Delay between an entry's deadline and the flush that dispatched it",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.enqueued.Describe(ch)
	m.dispatched.Describe(ch)
	m.discarded.Describe(ch)
	m.rearms.Describe(ch)
	m.panics.Describe(ch)
	m.pending.Describe(ch)
	m.lateness.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.enqueued.Collect(ch)
	m.dispatched.Collect(ch)
	m.discarded.Collect(ch)
	m.rearms.Collect(ch)
	m.panics.Collect(ch)
	m.pending.Collect(ch)
	m.lateness.Collect(ch)
}

// ObserveEnqueue records an insertion and the resulting schedule length.
func (m *Metrics) ObserveEnqueue(pending int) {
	if m == nil {
		return
	}
	m.enqueued.Inc()
	m.pending.Set(float64(pending))
}

// ObserveDispatch records a dispatched entry, how late the flush was
// relative to its deadline, and the remaining schedule length.
func (m *Metrics) ObserveDispatch(late time.Duration, pending int) {
	if m == nil {
		return
	}
	if late < 0 {
		late = 0
	}
	m.dispatched.Inc()
	m.lateness.Observe(late.Seconds())
	m.pending.Set(float64(pending))
}

// ObserveDiscard records entries released at shutdown.
func (m *Metrics) ObserveDiscard(n int) {
	if m == nil || n == 0 {
		return
	}
	m.discarded.Add(float64(n))
	m.pending.Set(0)
}

// ObserveRearm records a newly armed countdown timer.
func (m *Metrics) ObserveRearm() {
	if m == nil {
		return
	}
	m.rearms.Inc()
}

// ObservePanic records a panicking callback.
func (m *Metrics) ObservePanic() {
	if m == nil {
		return
	}
	m.panics.Inc()
}
