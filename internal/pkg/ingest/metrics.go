package ingest

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the pipeline's Prometheus instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	lines    prometheus.Counter
	parsed   prometheus.Counter
	rejected prometheus.Counter
	oversize prometheus.Counter
	depth    *prometheus.GaugeVec
	duration prometheus.Histogram
	failures *prometheus.CounterVec
}

// NewMetrics creates the pipeline metrics and registers them on reg.
// Instruments already registered by an earlier call are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		lines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wirecat",
			Subsystem: "ingest",
			Name:      "lines_total",
			Help:      "Lines read from the dissector",
		}),
		parsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wirecat",
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Lines parsed into packet records",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wirecat",
			Subsystem: "ingest",
			Name:      "rejected_total",
			Help:      "Lines rejected by the parser",
		}),
		oversize: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wirecat",
			Subsystem: "ingest",
			Name:      "oversize_total",
			Help:      "Lines skipped for exceeding the maximum line length",
		}),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "wirecat",
			Subsystem: "ingest",
			Name:      "channel_depth",
			Help:      "Records queued for each consumer",
		}, []string{"consumer"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wirecat",
			Subsystem: "ingest",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a pipeline run",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wirecat",
			Subsystem: "ingest",
			Name:      "consumer_failures_total",
			Help:      "Consumers that returned an error or panicked",
		}, []string{"consumer"}),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	m.lines = register(reg, m.lines, &err)
	m.parsed = register(reg, m.parsed, &err)
	m.rejected = register(reg, m.rejected, &err)
	m.oversize = register(reg, m.oversize, &err)
	m.depth = register(reg, m.depth, &err)
	m.duration = register(reg, m.duration, &err)
	m.failures = register(reg, m.failures, &err)
	if err != nil {
		return nil, fmt.Errorf("failed to register ingest metrics: %w", err)
	}
	return m, nil
}

// register registers c, returning the existing collector when an identical
// one is already registered. The first other error is stored in *errp.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, errp *error) C {
	if *errp != nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		*errp = err
	}
	return c
}

func (m *Metrics) observeLine() {
	if m != nil {
		m.lines.Inc()
	}
}

func (m *Metrics) observeParsed() {
	if m != nil {
		m.parsed.Inc()
	}
}

func (m *Metrics) observeRejected() {
	if m != nil {
		m.rejected.Inc()
	}
}

func (m *Metrics) observeRun(s Stats) {
	if m == nil {
		return
	}
	m.oversize.Add(float64(s.Oversize))
	m.duration.Observe(s.Duration.Seconds())
}

func (m *Metrics) setDepth(consumer string, n int) {
	if m != nil {
		m.depth.WithLabelValues(consumer).Set(float64(n))
	}
}

func (m *Metrics) observeFailure(consumer string) {
	if m != nil {
		m.failures.WithLabelValues(consumer).Inc()
	}
}
