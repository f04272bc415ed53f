package pipeline

import (
	"time"

	"github.com/dunamismax/imagecpr/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	failures      *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagecpr_pipeline_stage_duration_seconds",
			Help:    "Pipeline stage latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"stage"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagecpr_pipeline_failures_total",
			Help: "Total pipeline runs that failed, by error kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.stageDuration, m.failures)
	return m
}

func (m *Metrics) observeStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) observeFailure(err error) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(domain.ErrorKind(err)).Inc()
}
