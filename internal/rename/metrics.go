package rename

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	sagaTotal    *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
}

func newMetrics() *metrics {
	return &metrics{
		sagaTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rename_project_saga_total",
				Help: "Total number of project renames by result",
			},
			[]string{"result"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rename_project_step_duration_seconds",
				Help:    "Duration of rename steps and of their compensation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step", "direction"},
		),
	}
}

func (m *metrics) stepTimer(kind StepKind, direction string) func() {
	start := time.Now()
	return func() {
		m.stepDuration.WithLabelValues(kind.String(), direction).Observe(time.Since(start).Seconds())
	}
}

// Describe returns all metric descriptors.
func (r *Renamer) Describe(descs chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(r, descs)
}

// Collect collects all metrics.
func (r *Renamer) Collect(collector chan<- prometheus.Metric) {
	r.metrics.sagaTotal.Collect(collector)
	r.metrics.stepDuration.Collect(collector)
}
