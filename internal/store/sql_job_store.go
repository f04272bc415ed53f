package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/dunamismax/imagecpr/internal/domain"
)

// dialect captures the differences between the SQL backends. Queries are
// written with $N placeholders, in argument order.
type dialect struct {
	name   string
	schema string
	rebind func(string) string
}

var placeholderRe = regexp.MustCompile(`\$\d+`)

func questionMarks(query string) string {
	return placeholderRe.ReplaceAllString(query, "?")
}

// SQLJobStore persists jobs and usage logs through database/sql.
type SQLJobStore struct {
	db      *sql.DB
	dialect dialect
}

func newSQLJobStore(ctx context.Context, db *sql.DB, d dialect) (*SQLJobStore, error) {
	s := &SQLJobStore{db: db, dialect: d}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLJobStore) q(query string) string {
	if s.dialect.rebind == nil {
		return query
	}
	return s.dialect.rebind(query)
}

func (s *SQLJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.schema); err != nil {
		return fmt.Errorf("ensure %s schema: %w", s.dialect.name, err)
	}
	return nil
}

func (s *SQLJobStore) Close() error {
	return s.db.Close()
}

func (s *SQLJobStore) Create(ctx context.Context, job domain.Job) error {
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		s.q(`INSERT INTO jobs (id, user_id, status, source_type, webhook_url, config, object_key, output_key, failure, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`),
		job.ID,
		job.UserID,
		job.Status,
		job.SourceType,
		job.WebhookURL,
		string(configJSON),
		job.ObjectKey,
		job.OutputKey,
		job.Failure,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *SQLJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		s.q(`SELECT id, user_id, status, source_type, webhook_url, config, object_key, output_key, failure, created_at, updated_at
		 FROM jobs
		 WHERE id = $1`),
		id,
	)

	var (
		job        domain.Job
		configJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&job.SourceType,
		&job.WebhookURL,
		&configJSON,
		&job.ObjectKey,
		&job.OutputKey,
		&job.Failure,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}

	if err := json.Unmarshal(configJSON, &job.Config); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job config: %w", err)
	}

	return job, true, nil
}

func (s *SQLJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	res, err := s.db.ExecContext(
		ctx,
		s.q(`UPDATE jobs
		 SET status = $1, updated_at = $2
		 WHERE id = $3`),
		status,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job status: %w", err)
	}
	return s.afterUpdate(ctx, id, res)
}

func (s *SQLJobStore) Finish(ctx context.Context, id, status, outputKey, failure string) (domain.Job, error) {
	res, err := s.db.ExecContext(
		ctx,
		s.q(`UPDATE jobs
		 SET status = $1, output_key = $2, failure = $3, updated_at = $4
		 WHERE id = $5`),
		status,
		outputKey,
		failure,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("finish job: %w", err)
	}
	return s.afterUpdate(ctx, id, res)
}

func (s *SQLJobStore) afterUpdate(ctx context.Context, id string, res sql.Result) (domain.Job, error) {
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Job{}, ErrJobNotFound
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}

func (s *SQLJobStore) RecordUsage(ctx context.Context, usage domain.UsageLog) error {
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(
		ctx,
		s.q(`INSERT INTO usage_logs (job_id, user_id, output_format, input_bytes, output_bytes, pixels_processed, bytes_saved, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`),
		usage.JobID,
		usage.UserID,
		string(usage.OutputFormat),
		usage.InputBytes,
		usage.OutputBytes,
		usage.PixelsProcessed,
		usage.BytesSaved,
		usage.ComputeTimeMS,
		usage.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func (s *SQLJobStore) Usage(ctx context.Context, jobID string) (domain.UsageLog, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		s.q(`SELECT job_id, user_id, output_format, input_bytes, output_bytes, pixels_processed, bytes_saved, compute_time_ms, created_at
		 FROM usage_logs
		 WHERE job_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`),
		jobID,
	)

	var (
		usage  domain.UsageLog
		format string
	)
	if err := row.Scan(
		&usage.JobID,
		&usage.UserID,
		&format,
		&usage.InputBytes,
		&usage.OutputBytes,
		&usage.PixelsProcessed,
		&usage.BytesSaved,
		&usage.ComputeTimeMS,
		&usage.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UsageLog{}, false, nil
		}
		return domain.UsageLog{}, false, fmt.Errorf("query usage log: %w", err)
	}
	usage.OutputFormat = domain.Format(format)
	return usage, true, nil
}
