package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNewRedisTokenBucket_Validation(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	cases := []struct {
		client redis.UniversalClient
		opts   Options
		want   error
	}{
		{nil, Options{Capacity: 10, Window: time.Second}, ErrNoClient},
		{client, Options{Capacity: 0, Window: time.Second}, ErrBadCapacity},
		{client, Options{Capacity: 10}, ErrBadWindow},
	}
	for _, tc := range cases {
		if _, err := NewRedisTokenBucket(tc.client, tc.opts); !errors.Is(err, tc.want) {
			t.Fatalf("NewRedisTokenBucket(%+v) error = %v, want %v", tc.opts, err, tc.want)
		}
	}

	limiter, err := NewRedisTokenBucket(client, Options{Capacity: 120, Window: time.Minute})
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	if limiter.keyPrefix != DefaultKeyPrefix {
		t.Fatalf("unexpected default key prefix %q", limiter.keyPrefix)
	}
	if limiter.refillPerMS != 120.0/60000.0 {
		t.Fatalf("unexpected refill rate %v", limiter.refillPerMS)
	}
	if got := limiter.key("  "); got != DefaultKeyPrefix+":anonymous" {
		t.Fatalf("blank subject key = %q", got)
	}
}

func TestParseDecision(t *testing.T) {
	d, err := parseDecision([]any{int64(0), int64(4), int64(1500)})
	if err != nil {
		t.Fatalf("parseDecision: %v", err)
	}
	if d.Allowed || d.Remaining != 4 || d.RetryAfter != 1500*time.Millisecond {
		t.Fatalf("unexpected decision %+v", d)
	}

	if _, err := parseDecision([]any{int64(1)}); !errors.Is(err, errShortResponse) {
		t.Fatalf("short response error = %v", err)
	}
	if _, err := parseDecision([]any{int64(1), []byte("x"), int64(0)}); err == nil {
		t.Fatal("expected error for unsupported value type")
	}
}

func TestToInt64(t *testing.T) {
	for _, in := range []any{int64(7), 7, float64(7), "7"} {
		got, err := toInt64(in)
		if err != nil || got != 7 {
			t.Fatalf("toInt64(%#v) = %d, %v", in, got, err)
		}
	}
	if _, err := toInt64([]byte("7")); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}
