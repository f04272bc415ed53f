// Package webhook notifies job owners when a job reaches a terminal state.
// Deliveries are JSON events signed with HMAC-SHA256 and retried with
// exponential backoff.
package webhook

import "time"

const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// Event is the body of one delivery. ID is stable across retries so
// receivers can drop duplicates.
type Event struct {
	ID          string       `json:"id"`
	Type        string       `json:"type"`
	JobID       string       `json:"job_id"`
	Status      string       `json:"status"`
	SourceType  string       `json:"source_type"`
	ObjectKey   string       `json:"object_key,omitempty"`
	RequestedAt time.Time    `json:"requested_at"`
	OccurredAt  time.Time    `json:"occurred_at"`
	Output      *EventOutput `json:"output,omitempty"`
	Error       string       `json:"error,omitempty"`
	ErrorKind   string       `json:"error_kind,omitempty"`
}

type EventOutput struct {
	Key    string `json:"key"`
	Format string `json:"format"`
	Bytes  int    `json:"bytes"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}
