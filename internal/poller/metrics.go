package poller

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sqlpoll"

// Metrics are the Prometheus collectors of one engine.
type Metrics struct {
	cycles   *prometheus.CounterVec
	rows     prometheus.Counter
	duration prometheus.Histogram
	cursor   prometheus.Gauge
	connects *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Poll cycles by result.",
		}, []string{"result"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_emitted_total",
			Help:      "Rows handed to the sink.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of poll cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
		}),
		cursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cursor_value",
			Help:      "Last committed cursor, as a number or as Unix seconds.",
		}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_attempts_total",
			Help:      "Connection attempts by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(m.cycles, m.rows, m.duration, m.cursor, m.connects)
	}
	return m
}

func (m *Metrics) connectAttempt(ok bool) {
	m.connects.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) cycleDone(ok bool, seconds float64) {
	m.cycles.WithLabelValues(result(ok)).Inc()
	m.duration.Observe(seconds)
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
