package domain

import (
	"strings"
	"time"
)

const AnonymousUser = "anonymous"

// UsageLog records what one successful job cost.
type UsageLog struct {
	UserID          string
	JobID           string
	OutputFormat    Format
	InputBytes      int64
	OutputBytes     int64
	PixelsProcessed int64
	BytesSaved      int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}

// NewUsageLog derives the billed figures for a finished job. Pixels are
// counted on the output; bytes saved never goes negative and compute time
// is at least one millisecond.
func NewUsageLog(userID, jobID string, format Format, inputBytes, outputBytes, width, height int, compute time.Duration) UsageLog {
	if strings.TrimSpace(userID) == "" {
		userID = AnonymousUser
	}
	return UsageLog{
		UserID:          userID,
		JobID:           jobID,
		OutputFormat:    format,
		InputBytes:      int64(inputBytes),
		OutputBytes:     int64(outputBytes),
		PixelsProcessed: int64(width) * int64(height),
		BytesSaved:      max(int64(inputBytes-outputBytes), 0),
		ComputeTimeMS:   max(compute.Milliseconds(), 1),
		CreatedAt:       time.Now().UTC(),
	}
}
