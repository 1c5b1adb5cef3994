package cache

import (
	"context"
	"errors"
	"time"

	"github.com/fplsage/fpl-sage/internal/platform/logging"
	"github.com/redis/go-redis/v9"
)

// Store is a keyed byte-artifact cache over Redis. Values are opaque;
// serialization is the caller's concern. Constructed with a nil client
// the store degrades to a permanent miss: Get returns false, Set and
// Delete are no-ops, and no error ever reaches the caller.
type Store struct {
	client *redis.Client
	logger *logging.Logger
}

func NewStore(client *redis.Client, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}

	return &Store{
		client: client,
		logger: logger,
	}
}

func (s *Store) Enabled() bool {
	return s != nil && s.client != nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	if !s.Enabled() || key == "" {
		return nil, false
	}

	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.WarnContext(ctx, "cache get failed, treating as miss", "key", key, "error", err)
		}
		return nil, false
	}

	return raw, true
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if !s.Enabled() || key == "" || len(value) == 0 {
		return
	}

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		s.logger.WarnContext(ctx, "cache set failed", "key", key, "error", err)
	}
}

func (s *Store) Delete(ctx context.Context, key string) {
	if !s.Enabled() || key == "" {
		return
	}

	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.WarnContext(ctx, "cache delete failed", "key", key, "error", err)
	}
}
