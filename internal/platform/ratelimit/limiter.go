package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fplsage/fpl-sage/internal/platform/logging"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "fpl_sage:ratelimit:"

// Decision is the outcome of a single sliding-window check.
// Active is false when Redis is absent or errored; callers emit no
// rate headers in that case.
type Decision struct {
	Active     bool
	Allowed    bool
	Limit      int
	Remaining  int
	ResetEpoch int64
	RetryAfter int
}

// Limiter enforces a per-client sliding-window request quota over a
// Redis sorted set of request timestamps. Availability wins over strict
// enforcement: a nil client or any Redis error allows the request.
type Limiter struct {
	client   *redis.Client
	capacity int
	window   time.Duration
	logger   *logging.Logger
	now      func() time.Time
}

func NewLimiter(client *redis.Client, capacity int, window time.Duration, logger *logging.Logger) *Limiter {
	if capacity < 1 {
		capacity = 100
	}
	if window <= 0 {
		window = time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Limiter{
		client:   client,
		capacity: capacity,
		window:   window,
		logger:   logger,
		now:      time.Now,
	}
}

func (l *Limiter) Allow(ctx context.Context, clientIP string) Decision {
	if l == nil || l.client == nil {
		return Decision{Allowed: true}
	}
	if clientIP == "" {
		clientIP = "unknown"
	}

	key := keyPrefix + clientIP
	now := l.now()
	windowStart := now.Add(-l.window)

	var (
		countCmd  *redis.IntCmd
		oldestCmd *redis.ZSliceCmd
	)
	_, err := l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "0", formatScore(windowStart))
		countCmd = pipe.ZCard(ctx, key)
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(now.UnixNano()) / float64(time.Second),
			Member: strconv.FormatInt(now.UnixNano(), 10),
		})
		pipe.Expire(ctx, key, l.window)
		oldestCmd = pipe.ZRangeWithScores(ctx, key, 0, 0)
		return nil
	})
	if err != nil {
		l.logger.WarnContext(ctx, "rate limit check failed, allowing request", "client_ip", clientIP, "error", err)
		return Decision{Allowed: true}
	}

	// Count observed after pruning but before this request was added.
	used := int(countCmd.Val())

	reset := now.Add(l.window).Unix()
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		reset = int64(oldest[0].Score) + int64(l.window/time.Second)
	}

	remaining := l.capacity - used - 1
	if remaining < 0 {
		remaining = 0
	}

	decision := Decision{
		Active:     true,
		Allowed:    used < l.capacity,
		Limit:      l.capacity,
		Remaining:  remaining,
		ResetEpoch: reset,
	}
	if !decision.Allowed {
		retryAfter := reset - now.Unix()
		if retryAfter < 1 {
			retryAfter = 1
		}
		decision.RetryAfter = int(retryAfter)
	}

	return decision
}

func formatScore(t time.Time) string {
	return fmt.Sprintf("%.6f", float64(t.UnixNano())/float64(time.Second))
}
