// Package ratelimit meters API callers with a token bucket held in Redis.
// Requests carry a cost so a large synchronous transform drains more of a
// caller's budget than a job status update.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "imagecpr:ratelimit"
	anonymous        = "anonymous"
)

var (
	ErrNoClient      = errors.New("ratelimit: redis client is required")
	ErrBadCapacity   = errors.New("ratelimit: capacity must be positive")
	ErrBadWindow     = errors.New("ratelimit: window must be positive")
	errShortResponse = errors.New("ratelimit: malformed script response")
)

type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	Cost       int64
	RetryAfter time.Duration
}

type Options struct {
	// Capacity is the bucket size, which is also the largest cost charged.
	Capacity int
	// Window is how long an empty bucket takes to refill completely.
	Window    time.Duration
	KeyPrefix string
}

// RedisTokenBucket is a bucket per subject, refilled continuously and
// evaluated atomically in a Redis script so every API replica shares it.
type RedisTokenBucket struct {
	client      redis.UniversalClient
	capacity    int64
	refillPerMS float64
	ttl         time.Duration
	keyPrefix   string
	now         func() time.Time
}

// takeScript returns {allowed, remaining tokens, retry after ms}.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_per_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now_ms

tokens = math.min(capacity, tokens + math.max(0, now_ms - ts) * refill_per_ms)

local allowed = 0
local wait_ms = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  wait_ms = math.ceil((cost - tokens) / refill_per_ms)
end

redis.call("HSET", key, "tokens", tokens, "ts", now_ms)
redis.call("PEXPIRE", key, ttl_ms)
return {allowed, math.floor(tokens), wait_ms}
`)

func NewRedisTokenBucket(client redis.UniversalClient, opts Options) (*RedisTokenBucket, error) {
	if client == nil {
		return nil, ErrNoClient
	}
	if opts.Capacity <= 0 {
		return nil, ErrBadCapacity
	}
	if opts.Window <= 0 {
		return nil, ErrBadWindow
	}

	prefix := strings.TrimSpace(opts.KeyPrefix)
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	windowMS := max(opts.Window.Milliseconds(), 1)

	return &RedisTokenBucket{
		client:      client,
		capacity:    int64(opts.Capacity),
		refillPerMS: float64(opts.Capacity) / float64(windowMS),
		ttl:         2 * opts.Window,
		keyPrefix:   prefix,
		now:         time.Now,
	}, nil
}

// Allow charges a single token.
func (l *RedisTokenBucket) Allow(ctx context.Context, subject string) (Decision, error) {
	return l.AllowN(ctx, subject, 1)
}

// AllowN charges cost tokens, clamped to [1, capacity] so an oversized
// request waits for a full bucket instead of being refused forever.
func (l *RedisTokenBucket) AllowN(ctx context.Context, subject string, cost int64) (Decision, error) {
	cost = min(max(cost, 1), l.capacity)

	raw, err := takeScript.Run(ctx, l.client,
		[]string{l.key(subject)},
		l.capacity,
		l.refillPerMS,
		l.now().UTC().UnixMilli(),
		cost,
		l.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: run script: %w", err)
	}

	decision, err := parseDecision(raw)
	if err != nil {
		return Decision{}, err
	}
	decision.Limit = l.capacity
	decision.Cost = cost
	return decision, nil
}

func (l *RedisTokenBucket) key(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = anonymous
	}
	return l.keyPrefix + ":" + subject
}

func parseDecision(raw any) (Decision, error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 3 {
		return Decision{}, errShortResponse
	}

	var fields [3]int64
	for i, v := range values {
		n, err := toInt64(v)
		if err != nil {
			return Decision{}, fmt.Errorf("ratelimit: script value %d: %w", i, err)
		}
		fields[i] = n
	}
	return Decision{
		Allowed:    fields[0] == 1,
		Remaining:  fields[1],
		RetryAfter: time.Duration(fields[2]) * time.Millisecond,
	}, nil
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}
