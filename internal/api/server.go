package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/imagecpr/internal/pipeline"
	"github.com/dunamismax/imagecpr/internal/queue"
	"github.com/dunamismax/imagecpr/internal/storage"
	"github.com/dunamismax/imagecpr/internal/store"
	"github.com/dunamismax/imagecpr/internal/telemetry"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultPresignTTL     = 15 * time.Minute
	defaultMaxUploadBytes = 32 << 20
	defaultUserIDHeader   = "X-User-ID"
)

type Server struct {
	logger                *zap.Logger
	queueClient           queueEnqueuer
	jobStore              store.JobStore
	storage               objectStorage
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	presignTTL            time.Duration
	maxUploadBytes        int64
	processor             *pipeline.Processor
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueProcessImage(ctx context.Context, payload queue.ProcessImagePayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	StatObject(ctx context.Context, objectKey string) (storage.ObjectInfo, error)
}

// Options wires a Server. Queue and JobStore are required for the job
// endpoints; Storage and RateLimiter may be nil.
type Options struct {
	Logger                *zap.Logger
	Queue                 queueEnqueuer
	JobStore              store.JobStore
	Storage               objectStorage
	RateLimiter           RateLimiter
	RateLimitUserIDHeader string
	PresignTTL            time.Duration
	MaxUploadBytes        int64
	MaxPixels             int
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = defaultPresignTTL
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.Storage == nil {
		opts.Storage = unavailableObjectStorage{}
	}
	if strings.TrimSpace(opts.RateLimitUserIDHeader) == "" {
		opts.RateLimitUserIDHeader = defaultUserIDHeader
	}

	m := newMetrics()
	s := &Server{
		logger:                opts.Logger,
		queueClient:           opts.Queue,
		jobStore:              opts.JobStore,
		storage:               opts.Storage,
		rateLimiter:           opts.RateLimiter,
		rateLimitUserIDHeader: opts.RateLimitUserIDHeader,
		presignTTL:            opts.PresignTTL,
		maxUploadBytes:        opts.MaxUploadBytes,
		processor: pipeline.NewProcessor(
			pipeline.WithLogger(opts.Logger.Named("pipeline")),
			pipeline.WithMetrics(m.pipeline),
			pipeline.WithMaxPixels(opts.MaxPixels),
		),
		metrics: m,
		tracer:  otel.Tracer("imagecpr/api"),
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) StatObject(_ context.Context, _ string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withTracing(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", telemetry.MetricsHandler(s.metrics.registry))
	s.mux.HandleFunc("POST /v1/process", s.handleProcess)
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
