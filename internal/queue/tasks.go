// Package queue carries image jobs from the API to workers over asynq.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/imagecpr/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeProcessImage = "image:process"

var ErrInvalidPayload = errors.New("invalid process payload")

// ProcessImagePayload is the body of an image:process task. It carries the
// full Config so the worker never reads it back from the job store.
type ProcessImagePayload struct {
	JobID       string        `json:"job_id"`
	SourceType  string        `json:"source_type"`
	WebhookURL  string        `json:"webhook_url,omitempty"`
	ObjectKey   string        `json:"object_key"`
	Config      domain.Config `json:"config"`
	RequestedAt time.Time     `json:"requested_at"`
	// Trace holds W3C trace context headers from the enqueuing request.
	Trace map[string]string `json:"trace,omitempty"`
}

func (p ProcessImagePayload) Validate() error {
	if strings.TrimSpace(p.JobID) == "" {
		return fmt.Errorf("%w: job_id is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.ObjectKey) == "" {
		return fmt.Errorf("%w: object_key is required", ErrInvalidPayload)
	}
	return p.Config.Validate()
}

func NewProcessImageTask(payload ProcessImagePayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process payload: %w", err)
	}
	return asynq.NewTask(TypeProcessImage, body), nil
}

// ParseProcessImagePayload decodes and validates a task body. The source
// type is left to the worker, which knows which sources it can read.
func ParseProcessImagePayload(task *asynq.Task) (ProcessImagePayload, error) {
	var payload ProcessImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessImagePayload{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if err := payload.Validate(); err != nil {
		return ProcessImagePayload{}, err
	}
	return payload, nil
}
