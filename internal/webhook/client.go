package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/imagecpr/internal/id"
)

const (
	HeaderSignature = "X-Imagecpr-Signature"
	HeaderTimestamp = "X-Imagecpr-Timestamp"
	HeaderEvent     = "X-Imagecpr-Event"
	HeaderDelivery  = "X-Imagecpr-Delivery"
)

// errRejected marks receiver responses that retrying will not change.
var errRejected = errors.New("webhook rejected")

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	httpClient     *http.Client
	signingSecret  string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = time.Second
	}

	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		signingSecret:  cfg.SigningSecret,
		maxAttempts:    max(cfg.MaxAttempts, 1),
		initialBackoff: initialBackoff,
		maxBackoff:     max(cfg.MaxBackoff, initialBackoff),
		now:            time.Now,
	}
}

// Send delivers event to endpoint. An empty endpoint is a no-op. Transport
// errors, 408, 429 and 5xx responses are retried; other statuses are final.
func (c *Client) Send(ctx context.Context, endpoint string, event Event) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}
	if event.ID == "" {
		event.ID = id.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = c.now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}
	timestamp := strconv.FormatInt(c.now().UTC().Unix(), 10)
	signature := Sign(c.signingSecret, timestamp, body)

	backoff := c.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderTimestamp, timestamp)
		req.Header.Set(HeaderSignature, signature)
		req.Header.Set(HeaderEvent, event.Type)
		req.Header.Set(HeaderDelivery, event.ID)

		wait, err := c.do(req)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, errRejected) || attempt == c.maxAttempts {
			break
		}

		if wait <= 0 {
			wait = backoff
			backoff = min(backoff*2, c.maxBackoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(wait, c.maxBackoff)):
		}
	}

	return fmt.Errorf("webhook %s to %s failed: %w", event.Type, endpoint, lastErr)
}

// do performs one attempt. The duration is the receiver's Retry-After hint.
func (c *Client) do(req *http.Request) (time.Duration, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return 0, nil
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return retryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("webhook returned status=%d", code)
	default:
		return 0, fmt.Errorf("%w: status=%d", errRejected, code)
	}
}

// retryAfter parses the delay-seconds form of Retry-After.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
