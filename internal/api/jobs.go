package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/imagecpr/internal/domain"
	"github.com/dunamismax/imagecpr/internal/id"
	"github.com/dunamismax/imagecpr/internal/queue"
	"github.com/dunamismax/imagecpr/internal/storage"
	"go.uber.org/zap"
)

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	err := decodeJSON(r, &req)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		// Config problems keep their pipeline status; anything else is a bad request.
		if domain.IsPipelineError(err) {
			writeProcessError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	objectKey := strings.TrimSpace(req.ObjectKey)
	uploadState := "not_required"
	presignedPutURL := ""

	if sourceType == domain.SourceTypeS3Presigned {
		objectKey = storage.SourceKey(jobID)
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			s.logger.Error("generate presigned url failed", zap.String("job_id", jobID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	job := domain.Job{
		ID:         jobID,
		UserID:     strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader)),
		Status:     domain.JobStatusCreated,
		SourceType: sourceType,
		WebhookURL: req.WebhookURL,
		Config:     req.Config,
		ObjectKey:  objectKey,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Error("create job failed", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	s.metrics.jobsCreated.WithLabelValues(job.SourceType, string(job.Config.Target())).Inc()
	s.logger.Info("job created", zap.String("job_id", job.ID), zap.String("source_type", job.SourceType))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
		"upload": map[string]string{
			"object_key":          job.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url": fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusCreated {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is already %s", job.Status))
		return
	}

	if status, err := s.checkSource(r.Context(), job); err != nil {
		writeError(w, status, err.Error())
		return
	}

	payload := queue.ProcessImagePayload{
		JobID:       job.ID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		ObjectKey:   job.ObjectKey,
		Config:      job.Config,
		RequestedAt: time.Now().UTC(),
		Trace:       traceCarrier(r.Context()),
	}

	taskInfo, err := s.queueClient.EnqueueProcessImage(r.Context(), payload)
	if errors.Is(err, queue.ErrAlreadyQueued) {
		writeError(w, http.StatusConflict, "job is already queued")
		return
	}
	if err != nil {
		s.logger.Error("enqueue failed", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Error("update status failed", zap.String("job_id", job.ID), zap.Error(err))
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := r.PathValue("id")
	if !id.Valid(jobID) {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error("fetch job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return domain.Job{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}
	return job, true
}

// checkSource confirms the job's upload is in place before it is queued. It
// returns the response status to use when it is not.
func (s *Server) checkSource(ctx context.Context, job domain.Job) (int, error) {
	if job.SourceType == domain.SourceTypeLocalFile {
		if _, err := os.Stat(job.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return http.StatusConflict, fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return http.StatusInternalServerError, fmt.Errorf("source object check failed: %w", err)
		}
		return 0, nil
	}

	info, err := s.storage.StatObject(ctx, job.ObjectKey)
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusConflict, fmt.Errorf("source object is missing: %s", job.ObjectKey)
	case err != nil:
		return http.StatusBadGateway, fmt.Errorf("source object check failed: %w", err)
	case info.Size == 0:
		return http.StatusConflict, fmt.Errorf("source object is empty: %s", job.ObjectKey)
	case info.Size > s.maxUploadBytes:
		return http.StatusRequestEntityTooLarge, fmt.Errorf("source object is %d bytes, limit is %d", info.Size, s.maxUploadBytes)
	}
	return 0, nil
}
