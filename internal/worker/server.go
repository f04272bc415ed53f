package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/imagecpr/internal/config"
	"github.com/dunamismax/imagecpr/internal/domain"
	"github.com/dunamismax/imagecpr/internal/pipeline"
	"github.com/dunamismax/imagecpr/internal/queue"
	"github.com/dunamismax/imagecpr/internal/storage"
	"github.com/dunamismax/imagecpr/internal/store"
	"github.com/dunamismax/imagecpr/internal/telemetry"
	"github.com/dunamismax/imagecpr/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var errNoObjectStorage = errors.New("object storage is not configured")

type WebhookSender interface {
	Send(ctx context.Context, endpoint string, event webhook.Event) error
}

// Dependencies are the collaborators a worker needs besides its queue. Storage
// may be nil, in which case only local_file jobs can run.
type Dependencies struct {
	Storage  pipeline.ObjectStore
	Webhook  WebhookSender
	JobStore store.JobStore
}

type Server struct {
	logger  *zap.Logger
	server  *asynq.Server
	handler *Handler
}

func NewServer(logger *zap.Logger, queueCfg config.QueueConfig, workerCfg config.WorkerConfig, deps Dependencies) *Server {
	handler := NewHandler(logger, workerCfg, deps)

	return &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel:       asynq.InfoLevel,
				RetryDelayFunc: retryDelay,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Warn("task failed",
						zap.String("type", task.Type()),
						zap.Int("retry", retried),
						zap.Int("max_retry", maxRetry),
						zap.Error(err),
					)
				}),
			},
		),
		handler: handler,
	}
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessImage, s.handler.ProcessImage)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return telemetry.MetricsHandler(s.handler.metrics.registry)
}

// Handler executes image:process tasks.
type Handler struct {
	logger        *zap.Logger
	sem           chan struct{}
	localRunner   *pipeline.Runner
	objectRunner  *pipeline.Runner
	webhookClient WebhookSender
	jobStore      store.JobStore
	metrics       *metrics
	tracer        trace.Tracer
}

func NewHandler(logger *zap.Logger, workerCfg config.WorkerConfig, deps Dependencies) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := newMetrics()
	processor := pipeline.NewProcessor(
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithMetrics(m.pipeline),
		pipeline.WithMaxPixels(workerCfg.MaxPixels),
	)

	h := &Handler{
		logger:        logger,
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localRunner:   pipeline.NewLocalRunner(workerCfg.LocalOutputDir, processor),
		webhookClient: deps.Webhook,
		jobStore:      deps.JobStore,
		metrics:       m,
		tracer:        otel.Tracer("imagecpr/worker"),
	}
	if deps.Storage != nil {
		h.objectRunner = pipeline.NewObjectStoreRunner(deps.Storage, workerCfg.OutputPrefix, processor)
	}
	return h
}

func (h *Handler) ProcessImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseProcessImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	if len(payload.Trace) > 0 {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(payload.Trace))
	}
	ctx, span := h.tracer.Start(ctx, "worker.process_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("job.format", string(payload.Config.Format)),
		attribute.String("job.target_format", string(payload.Config.Target())),
	)
	defer span.End()
	defer func() {
		h.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		h.metrics.jobsTotal.WithLabelValues(payload.SourceType, string(payload.Config.Target()), outcome).Inc()
	}()

	h.sem <- struct{}{}
	h.metrics.activeJobs.Inc()
	defer func() {
		<-h.sem
		h.metrics.activeJobs.Dec()
	}()

	logger := h.logger.With(zap.String("job_id", payload.JobID), zap.String("source_type", payload.SourceType))
	logger.Info("processing job", zap.String("object_key", payload.ObjectKey))

	h.updateJobStatus(ctx, logger, payload.JobID, domain.JobStatusProcessing)

	result, err := h.run(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")

		final := permanent(err) || lastAttempt(ctx)
		kind := domain.ErrorKind(err)
		h.metrics.jobFailures.WithLabelValues(kind, strconv.FormatBool(final)).Inc()
		logger.Warn("job failed",
			zap.String("kind", kind),
			zap.Bool("final", final),
			zap.Error(err),
		)
		if !final {
			h.metrics.jobRetries.Inc()
			outcome = domain.JobStatusQueued
			h.updateJobStatus(ctx, logger, payload.JobID, domain.JobStatusQueued)
			return fmt.Errorf("run pipeline: %w", err)
		}

		h.finishJob(ctx, logger, payload.JobID, domain.JobStatusFailed, "", err.Error())
		h.dispatchWebhook(ctx, logger, payload, webhook.Event{
			Type:      webhook.EventJobFailed,
			Status:    domain.JobStatusFailed,
			Error:     err.Error(),
			ErrorKind: kind,
		})
		return fmt.Errorf("run pipeline: %v: %w", err, asynq.SkipRetry)
	}

	output := result.Output
	h.metrics.outputBytes.WithLabelValues(string(output.Format)).Observe(float64(output.Bytes))
	logger.Info("job processed",
		zap.String("output", output.Path),
		zap.Int("bytes", output.Bytes),
		zap.Int("width", output.Width),
		zap.Int("height", output.Height),
	)
	job := h.finishJob(ctx, logger, payload.JobID, domain.JobStatusSucceeded, output.Path, "")
	h.recordUsage(ctx, logger, job.UserID, payload.JobID, result, time.Since(startedAt))

	h.dispatchWebhook(ctx, logger, payload, webhook.Event{
		Type:   webhook.EventJobCompleted,
		Status: domain.JobStatusSucceeded,
		Output: &webhook.EventOutput{
			Key:    output.Path,
			Format: string(output.Format),
			Bytes:  output.Bytes,
			Width:  output.Width,
			Height: output.Height,
		},
	})

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "processed")
	return nil
}

func (h *Handler) run(ctx context.Context, payload queue.ProcessImagePayload) (pipeline.RunResult, error) {
	req := pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		Config:     payload.Config,
	}

	if strings.EqualFold(payload.SourceType, domain.SourceTypeLocalFile) {
		return h.localRunner.Run(ctx, req)
	}
	if h.objectRunner == nil {
		return pipeline.RunResult{}, errNoObjectStorage
	}
	return h.objectRunner.Run(ctx, req)
}

// retryDelay backs off exponentially from 2s, capped at five minutes. Most
// transient failures are storage or Redis blips that clear quickly.
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	const (
		base = 2 * time.Second
		ceil = 5 * time.Minute
	)
	if n > 8 {
		return ceil
	}
	return min(base<<n, ceil)
}

// permanent reports whether err fails the same way on every retry.
func permanent(err error) bool {
	return domain.IsPipelineError(err) ||
		errors.Is(err, errNoObjectStorage) ||
		errors.Is(err, pipeline.ErrUnsupportedSourceType) ||
		errors.Is(err, storage.ErrObjectNotFound) ||
		errors.Is(err, storage.ErrObjectTooLarge)
}

// lastAttempt reports whether asynq will not retry the current task again.
func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func (h *Handler) updateJobStatus(ctx context.Context, logger *zap.Logger, jobID, status string) {
	if h.jobStore == nil {
		return
	}
	if _, err := h.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		logger.Error("job status update failed", zap.String("status", status), zap.Error(err))
	}
}

func (h *Handler) finishJob(ctx context.Context, logger *zap.Logger, jobID, status, outputKey, failure string) domain.Job {
	if h.jobStore == nil {
		return domain.Job{ID: jobID, Status: status}
	}
	job, err := h.jobStore.Finish(ctx, jobID, status, outputKey, failure)
	if err != nil {
		logger.Error("job finish failed", zap.String("status", status), zap.Error(err))
		return domain.Job{ID: jobID, Status: status}
	}
	return job
}

// dispatchWebhook fills the job fields of event from payload and sends it.
// Delivery failures are logged and counted but never fail the job.
func (h *Handler) dispatchWebhook(ctx context.Context, logger *zap.Logger, payload queue.ProcessImagePayload, event webhook.Event) {
	if payload.WebhookURL == "" || h.webhookClient == nil {
		return
	}

	event.JobID = payload.JobID
	event.SourceType = payload.SourceType
	event.ObjectKey = payload.ObjectKey
	event.RequestedAt = payload.RequestedAt
	event.OccurredAt = time.Now().UTC()
	if err := h.webhookClient.Send(ctx, payload.WebhookURL, event); err != nil {
		h.metrics.webhookFailures.Inc()
		logger.Error("webhook delivery failed", zap.String("event", event.Type), zap.Error(err))
	}
}

func (h *Handler) recordUsage(ctx context.Context, logger *zap.Logger, userID, jobID string, result pipeline.RunResult, computeDuration time.Duration) {
	out := result.Output
	usage := domain.NewUsageLog(userID, jobID, out.Format, result.SourceBytes, out.Bytes, out.Width, out.Height, computeDuration)

	if h.jobStore != nil {
		if err := h.jobStore.RecordUsage(ctx, usage); err != nil {
			logger.Error("usage log write failed", zap.Error(err))
			return
		}
	}

	h.metrics.pixelsTotal.Add(float64(usage.PixelsProcessed))
	h.metrics.bytesSavedTotal.Add(float64(usage.BytesSaved))
	h.metrics.computeMSTotal.Add(float64(usage.ComputeTimeMS))
}
