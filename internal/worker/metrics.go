package worker

import (
	"github.com/dunamismax/imagecpr/internal/pipeline"
	"github.com/dunamismax/imagecpr/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	registry        *prometheus.Registry
	pipeline        *pipeline.Metrics
	jobsTotal       *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobFailures     *prometheus.CounterVec
	jobRetries      prometheus.Counter
	activeJobs      prometheus.Gauge
	webhookFailures prometheus.Counter
	outputBytes     *prometheus.HistogramVec
	pixelsTotal     prometheus.Counter
	bytesSavedTotal prometheus.Counter
	computeMSTotal  prometheus.Counter
}

func newMetrics() *metrics {
	registry := telemetry.NewRegistry()

	m := &metrics{
		registry: registry,
		pipeline: pipeline.NewMetrics(registry),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagecpr_worker_jobs_total",
			Help: "Finished worker jobs by source type, output format and final status.",
		}, []string{"source_type", "target_format", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagecpr_worker_job_duration_seconds",
			Help:    "Wall time of each job attempt, fetch to emit.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"source_type", "status"}),
		jobFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagecpr_worker_job_failures_total",
			Help: "Failed job attempts by error kind and whether the job was given up.",
		}, []string{"kind", "final"}),
		jobRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagecpr_worker_job_retries_total",
			Help: "Job attempts that failed transiently and were sent back to the queue.",
		}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imagecpr_worker_active_jobs",
			Help: "Jobs currently holding a processing slot.",
		}),
		webhookFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagecpr_worker_webhook_failures_total",
			Help: "Webhook deliveries that failed after every attempt.",
		}),
		outputBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagecpr_worker_output_bytes",
			Help:    "Encoded output size by format.",
			Buckets: telemetry.ByteBuckets,
		}, []string{"format"}),
		pixelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagecpr_usage_pixels_processed_total",
			Help: "Output pixels produced across successful jobs.",
		}),
		bytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagecpr_usage_bytes_saved_total",
			Help: "Bytes saved across successful jobs.",
		}),
		computeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagecpr_usage_compute_time_ms_total",
			Help: "Compute time in milliseconds across successful jobs.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.jobFailures,
		m.jobRetries,
		m.activeJobs,
		m.webhookFailures,
		m.outputBytes,
		m.pixelsTotal,
		m.bytesSavedTotal,
		m.computeMSTotal,
	)
	return m
}
