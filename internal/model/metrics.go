package model

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	Runs        *prometheus.CounterVec
	RunDuration prometheus.Histogram
	LiveTensors prometheus.Gauge
	Backend     *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doa",
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Counter of inference runs by result.",
		}, []string{"result"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "doa",
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "Bucketed histogram of inference run duration.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms ~ 32s
		}),
		LiveTensors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "doa",
			Subsystem: "engine",
			Name:      "live_tensors",
			Help:      "Number of tensors allocated and not yet released.",
		}),
		Backend: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "doa",
			Subsystem: "engine",
			Name:      "backend_info",
			Help:      "Set to 1 for the runtime the network was built on.",
		}, []string{"runtime"}),
	}
	if reg != nil {
		reg.MustRegister(m.Runs, m.RunDuration, m.LiveTensors, m.Backend)
	}
	return m
}

func (m *Metrics) tensorAcquired() {
	if m != nil {
		m.LiveTensors.Inc()
	}
}

func (m *Metrics) tensorReleased() {
	if m != nil {
		m.LiveTensors.Dec()
	}
}

func (m *Metrics) observeRun(start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}
	m.Runs.WithLabelValues(result).Inc()
	m.RunDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) backendSelected(rt Runtime) {
	if m == nil {
		return
	}
	m.Backend.Reset()
	m.Backend.WithLabelValues(rt.String()).Set(1)
}
