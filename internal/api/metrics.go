package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/imagecpr/internal/domain"
	"github.com/dunamismax/imagecpr/internal/pipeline"
	"github.com/dunamismax/imagecpr/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	registry          *prometheus.Registry
	pipeline          *pipeline.Metrics
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	jobsCreated       *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	processOutcomes   *prometheus.CounterVec
	processBytes      *prometheus.HistogramVec
}

func newMetrics() *metrics {
	registry := telemetry.NewRegistry()

	m := &metrics{
		registry: registry,
		pipeline: pipeline.NewMetrics(registry),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagecpr_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagecpr_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagecpr_api_rate_limit_rejections_total",
			Help: "API requests rejected by rate limiting.",
		}, []string{"route"}),
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagecpr_api_jobs_created_total",
			Help: "Jobs created, by source type and requested output format.",
		}, []string{"source_type", "target_format"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagecpr_queue_jobs_enqueued_total",
			Help: "Jobs handed to the processing queue.",
		}, []string{"queue"}),
		processOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagecpr_api_inline_transforms_total",
			Help: "Synchronous transforms by outcome; failures carry the pipeline error kind.",
		}, []string{"outcome"}),
		processBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagecpr_api_inline_transform_bytes",
			Help:    "Image sizes seen by synchronous transforms.",
			Buckets: telemetry.ByteBuckets,
		}, []string{"direction"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.jobsCreated,
		m.queueEnqueued,
		m.processOutcomes,
		m.processBytes,
	)
	return m
}

// observeTransform records one inline transform. A nil err is a success.
func (m *metrics) observeTransform(inBytes, outBytes int, err error) {
	m.processBytes.WithLabelValues("in").Observe(float64(inBytes))
	if err != nil {
		m.processOutcomes.WithLabelValues(domain.ErrorKind(err)).Inc()
		return
	}
	m.processOutcomes.WithLabelValues("ok").Inc()
	m.processBytes.WithLabelValues("out").Observe(float64(outBytes))
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := strconv.Itoa(recorder.status)
		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// routeLabel collapses job ids so label cardinality stays bounded.
func routeLabel(path string) string {
	switch {
	case path == "/v1/process", path == "/v1/jobs", path == "/healthz", path == "/metrics":
		return path
	case strings.HasPrefix(path, "/v1/jobs/") && strings.HasSuffix(path, "/start"):
		return "/v1/jobs/{id}/start"
	case strings.HasPrefix(path, "/v1/jobs/"):
		return "/v1/jobs/{id}"
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
