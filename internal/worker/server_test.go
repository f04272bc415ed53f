package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/imagecpr/internal/config"
	"github.com/dunamismax/imagecpr/internal/domain"
	"github.com/dunamismax/imagecpr/internal/pipeline"
	"github.com/dunamismax/imagecpr/internal/queue"
	"github.com/dunamismax/imagecpr/internal/storage"
	"github.com/dunamismax/imagecpr/internal/store"
	"github.com/dunamismax/imagecpr/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

func TestProcessImage_LocalFileSucceeds(t *testing.T) {
	tmp := t.TempDir()
	input := filepath.Join(tmp, "input.png")
	if err := os.WriteFile(input, testPNG(t, 120, 90), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	jobStore := seededStore(t, "job-ok", "user-1", input)
	hooks := &captureWebhook{}
	h := newTestHandler(filepath.Join(tmp, "out"), jobStore, hooks)

	err := h.ProcessImage(context.Background(), task(t, queue.ProcessImagePayload{
		JobID:      "job-ok",
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  input,
		WebhookURL: "https://hooks.example.com/done",
		Config: domain.Config{
			Format:       domain.FormatPNG,
			Crop:         &domain.Rect{X: 10, Y: 10, Width: 100, Height: 60},
			Size:         &domain.Size{Width: 50, Height: 30},
			OutputFormat: domain.FormatJPEG,
		},
	}))
	if err != nil {
		t.Fatalf("process image: %v", err)
	}

	job, _, _ := jobStore.Get(context.Background(), "job-ok")
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", job.Status)
	}
	if !strings.HasSuffix(job.OutputKey, "output.jpg") {
		t.Fatalf("unexpected output key %q", job.OutputKey)
	}
	if _, err := os.Stat(job.OutputKey); err != nil {
		t.Fatalf("output file missing: %v", err)
	}

	usage, ok, _ := jobStore.Usage(context.Background(), "job-ok")
	if !ok {
		t.Fatal("expected usage log")
	}
	if usage.UserID != "user-1" || usage.PixelsProcessed != 50*30 {
		t.Fatalf("unexpected usage %+v", usage)
	}

	if hooks.events() != "job.completed" {
		t.Fatalf("expected job.completed webhook, got %q", hooks.events())
	}
	if out := hooks.last.Output; out == nil || out.Format != "jpeg" || out.Width != 50 || hooks.last.JobID != "job-ok" {
		t.Fatalf("unexpected completed event %+v", hooks.last)
	}
}

func TestProcessImage_PipelineErrorIsNotRetried(t *testing.T) {
	tmp := t.TempDir()
	input := filepath.Join(tmp, "input.png")
	if err := os.WriteFile(input, testPNG(t, 100, 100), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	jobStore := seededStore(t, "job-bad", "", input)
	hooks := &captureWebhook{}
	h := newTestHandler(filepath.Join(tmp, "out"), jobStore, hooks)

	err := h.ProcessImage(context.Background(), task(t, queue.ProcessImagePayload{
		JobID:      "job-bad",
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  input,
		WebhookURL: "https://hooks.example.com/done",
		Config: domain.Config{
			Format: domain.FormatPNG,
			Crop:   &domain.Rect{X: 90, Y: 90, Width: 20, Height: 20},
		},
	}))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}

	job, _, _ := jobStore.Get(context.Background(), "job-bad")
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if !strings.Contains(job.Failure, "crop out of bounds") {
		t.Fatalf("expected crop failure message, got %q", job.Failure)
	}
	if hooks.events() != "job.failed" {
		t.Fatalf("expected job.failed webhook, got %q", hooks.events())
	}
	if _, ok, _ := jobStore.Usage(context.Background(), "job-bad"); ok {
		t.Fatal("failed jobs must not record usage")
	}
	if got := testutil.ToFloat64(h.metrics.jobFailures.WithLabelValues("crop_out_of_bounds", "true")); got != 1 {
		t.Fatalf("expected one final crop failure, got %v", got)
	}
	if got := testutil.ToFloat64(h.metrics.jobRetries); got != 0 {
		t.Fatalf("pipeline errors must not be retried, got %v retries", got)
	}
}

func TestProcessImage_ObjectStoreJobWithoutStorage(t *testing.T) {
	jobStore := seededStore(t, "job-s3", "", "uploads/job-s3/source")
	h := newTestHandler(t.TempDir(), jobStore, nil)

	err := h.ProcessImage(context.Background(), task(t, queue.ProcessImagePayload{
		JobID:      "job-s3",
		SourceType: domain.SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-s3/source",
		Config:     domain.Config{Format: domain.FormatPNG},
	}))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestProcessImage_InvalidPayload(t *testing.T) {
	h := newTestHandler(t.TempDir(), nil, nil)

	err := h.ProcessImage(context.Background(), asynq.NewTask(queue.TypeProcessImage, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestPermanent(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("decode stage: %w", domain.ErrDecode), true},
		{fmt.Errorf("fetch: %w", storage.ErrObjectNotFound), true},
		{fmt.Errorf("fetch: %w", storage.ErrObjectTooLarge), true},
		{pipeline.ErrUnsupportedSourceType, true},
		{errNoObjectStorage, true},
		{errors.New("connection reset by peer"), false},
	}
	for _, tc := range cases {
		if got := permanent(tc.err); got != tc.want {
			t.Fatalf("permanent(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestRetryDelay(t *testing.T) {
	cases := map[int]time.Duration{
		0:  2 * time.Second,
		1:  4 * time.Second,
		5:  64 * time.Second,
		7:  256 * time.Second,
		8:  5 * time.Minute,
		40: 5 * time.Minute,
	}
	for n, want := range cases {
		if got := retryDelay(n, nil, nil); got != want {
			t.Fatalf("retryDelay(%d) = %s, want %s", n, got, want)
		}
	}
}

func TestRecordUsageClampsNegativeBytesSaved(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	h := newTestHandler(t.TempDir(), jobStore, nil)

	h.recordUsage(context.Background(), zap.NewNop(), "", "job-2", pipeline.RunResult{
		SourceBytes: 100,
		Output:      pipeline.Output{Width: 5, Height: 5, Bytes: 200},
	}, 0)

	usage, ok, _ := jobStore.Usage(context.Background(), "job-2")
	if !ok {
		t.Fatal("expected usage log to be written")
	}
	if usage.UserID != "anonymous" {
		t.Fatalf("expected anonymous user, got %s", usage.UserID)
	}
	if usage.BytesSaved != 0 {
		t.Fatalf("expected bytes_saved=0, got %d", usage.BytesSaved)
	}
	if usage.ComputeTimeMS < 1 {
		t.Fatalf("expected compute_time_ms to be at least 1, got %d", usage.ComputeTimeMS)
	}
}

func newTestHandler(outputDir string, jobStore store.JobStore, hooks WebhookSender) *Handler {
	return NewHandler(zap.NewNop(), config.WorkerConfig{
		MaxActiveJobs:  1,
		LocalOutputDir: outputDir,
	}, Dependencies{JobStore: jobStore, Webhook: hooks})
}

func seededStore(t *testing.T, jobID, userID, objectKey string) *store.MemoryJobStore {
	t.Helper()

	s := store.NewMemoryJobStore()
	now := time.Now().UTC()
	if err := s.Create(context.Background(), domain.Job{
		ID:         jobID,
		UserID:     userID,
		Status:     domain.JobStatusQueued,
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  objectKey,
		Config:     domain.Config{Format: domain.FormatPNG},
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return s
}

func task(t *testing.T, payload queue.ProcessImagePayload) *asynq.Task {
	t.Helper()

	payload.RequestedAt = time.Now().UTC()
	tk, err := queue.NewProcessImageTask(payload)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	return tk
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type captureWebhook struct {
	mu   sync.Mutex
	sent []string
	last webhook.Event
}

func (c *captureWebhook) Send(_ context.Context, _ string, event webhook.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, event.Type)
	c.last = event
	return nil
}

func (c *captureWebhook) events() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.sent, ",")
}
