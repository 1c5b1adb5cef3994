package redisclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fplsage/fpl-sage/internal/platform/logging"
	"github.com/redis/go-redis/v9"
)

// New builds a go-redis client from REDIS_URL. An empty URL is not an
// error: the service runs in degraded mode and every Redis-backed
// collaborator fails open. A reachability ping is attempted but a
// failure only logs a warning; the client keeps reconnecting lazily.
func New(ctx context.Context, redisURL string, logger *logging.Logger) (*redis.Client, error) {
	if logger == nil {
		logger = logging.Default()
	}

	redisURL = strings.TrimSpace(redisURL)
	if redisURL == "" {
		logger.Warn("redis disabled, coordination features fail open", "reason", "REDIS_URL empty")
		return nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable at startup, continuing in degraded mode", "addr", opts.Addr, "error", err)
		return client, nil
	}

	logger.Info("redis connected", "addr", opts.Addr, "db", opts.DB)
	return client, nil
}
