package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// ErrAlreadyQueued is returned when a task for the job is already pending.
var ErrAlreadyQueued = errors.New("job already queued")

const (
	DefaultMaxRetry  = 5
	DefaultTimeout   = 3 * time.Minute
	DefaultRetention = 24 * time.Hour
)

type Options struct {
	Queue    string
	MaxRetry int
	// Timeout bounds one attempt: fetch, transform and emit.
	Timeout time.Duration
	// Retention keeps finished tasks, and with them the job's task ID, so a
	// job cannot be enqueued twice while its result is still fresh.
	Retention time.Duration
}

type Client struct {
	client *asynq.Client
	opts   Options
}

func NewClient(redisOpt asynq.RedisClientOpt, opts Options) *Client {
	if opts.Queue == "" {
		opts.Queue = "default"
	}
	if opts.MaxRetry < 0 {
		opts.MaxRetry = DefaultMaxRetry
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retention < 0 {
		opts.Retention = DefaultRetention
	}
	return &Client{
		client: asynq.NewClient(redisOpt),
		opts:   opts,
	}
}

func (c *Client) Queue() string {
	return c.opts.Queue
}

// EnqueueProcessImage queues one job. The job ID doubles as the task ID.
func (c *Client) EnqueueProcessImage(ctx context.Context, payload ProcessImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewProcessImageTask(payload)
	if err != nil {
		return nil, err
	}

	info, err := c.client.EnqueueContext(ctx, task, c.taskOptions(payload)...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyQueued, payload.JobID)
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue job %s: %w", payload.JobID, err)
	}
	return info, nil
}

func (c *Client) taskOptions(payload ProcessImagePayload) []asynq.Option {
	opts := []asynq.Option{
		asynq.Queue(c.opts.Queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(c.opts.MaxRetry),
		asynq.Timeout(c.opts.Timeout),
	}
	if c.opts.Retention > 0 {
		opts = append(opts, asynq.Retention(c.opts.Retention))
	}
	return opts
}

func (c *Client) Close() error {
	return c.client.Close()
}
