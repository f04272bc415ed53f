package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dunamismax/imagecpr/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// Finish moves a job to a terminal status and records where the output
	// went, or why it failed.
	Finish(ctx context.Context, id, status, outputKey, failure string) (domain.Job, error)
	RecordUsage(ctx context.Context, usage domain.UsageLog) error
	Usage(ctx context.Context, jobID string) (domain.UsageLog, bool, error)
	Close() error
}

// Open returns the store for driver: "memory", "postgres" or "sqlite".
func Open(ctx context.Context, driver, dsn string) (JobStore, error) {
	switch driver {
	case "", "memory":
		return NewMemoryJobStore(), nil
	case "postgres":
		return NewPostgresJobStore(ctx, dsn)
	case "sqlite":
		return NewSQLiteJobStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported job store driver %q", driver)
	}
}
