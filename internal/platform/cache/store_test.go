package cache

import (
	"context"
	"testing"
	"time"

	"github.com/fplsage/fpl-sage/internal/platform/logging"
)

func TestStoreDegradesWithoutRedis(t *testing.T) {
	s := NewStore(nil, logging.NewNop())
	ctx := context.Background()

	if s.Enabled() {
		t.Fatal("nil-client store must report disabled")
	}

	s.Set(ctx, "k", []byte("v"), time.Minute)
	if _, ok := s.Get(ctx, "k"); ok {
		t.Fatal("expected permanent miss without redis")
	}
	s.Delete(ctx, "k")
}

func TestStoreIgnoresEmptyKeysAndValues(t *testing.T) {
	s := NewStore(nil, logging.NewNop())
	ctx := context.Background()

	s.Set(ctx, "", []byte("v"), time.Minute)
	s.Set(ctx, "k", nil, time.Minute)
	if _, ok := s.Get(ctx, ""); ok {
		t.Fatal("empty key must miss")
	}
}
