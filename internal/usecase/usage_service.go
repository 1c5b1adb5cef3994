package usecase

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fplsage/fpl-sage/internal/platform/logging"
	"github.com/fplsage/fpl-sage/internal/platform/resilience"
)

const (
	usageKeyPrefix   = "fpl_sage:usage:"
	usageTTL         = 14 * 24 * time.Hour
	gameweekMemoTTL  = time.Hour
	defaultUsageCap  = 2
	fallbackResetGap = 7 * 24 * time.Hour
)

// SeasonClock resolves the current gameweek and the next deadline.
// Implemented by the upstream FPL client.
type SeasonClock interface {
	CurrentGameweek(ctx context.Context) (int, *time.Time, error)
}

// UsageStatus is one team's quota position for the current gameweek.
// A zero ResetTime means the reset instant is unknown (degraded mode).
type UsageStatus struct {
	TeamID    int64
	Gameweek  int
	Allowed   bool
	Used      int
	Limit     int
	Remaining int
	ResetTime time.Time
}

// UsageTracker enforces the per-team per-gameweek analysis quota over
// a Redis sorted set of completion timestamps. The current gameweek is
// memoized for an hour; on upstream failure the stale memo is reused.
// Redis absence fails open everywhere: the quota is advisory.
type UsageTracker struct {
	client *redis.Client
	season SeasonClock
	limit  int
	logger *logging.Logger
	flight resilience.SingleFlight

	mu           sync.Mutex
	memoGW       int
	memoDeadline *time.Time
	memoAt       time.Time

	now func() time.Time
}

func NewUsageTracker(client *redis.Client, season SeasonClock, limit int, logger *logging.Logger) *UsageTracker {
	if limit < 1 {
		limit = defaultUsageCap
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &UsageTracker{
		client: client,
		season: season,
		limit:  limit,
		logger: logger,
		now:    time.Now,
	}
}

// CheckLimit reports whether the team may start another analysis this
// gameweek. Unknown gameweek or unreachable Redis both allow.
func (t *UsageTracker) CheckLimit(ctx context.Context, teamID int64) UsageStatus {
	return t.status(ctx, teamID)
}

// GetUsage is CheckLimit's informational twin for the usage endpoint.
func (t *UsageTracker) GetUsage(ctx context.Context, teamID int64) UsageStatus {
	return t.status(ctx, teamID)
}

// RecordAnalysis counts one successful engine completion against the
// team's quota. Callers invoke it only on success: failures, cache
// hits and rejected requests never consume quota.
func (t *UsageTracker) RecordAnalysis(ctx context.Context, teamID int64, gameweek int) {
	if t.client == nil || gameweek <= 0 {
		return
	}

	key := usageKey(teamID, gameweek)
	now := t.now()
	_, err := t.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(now.Unix()),
			Member: strconv.FormatInt(now.UnixNano(), 10),
		})
		pipe.Expire(ctx, key, usageTTL)
		return nil
	})
	if err != nil {
		t.logger.WarnContext(ctx, "usage record failed", "team_id", teamID, "gw", gameweek, "error", err)
	}
}

func (t *UsageTracker) status(ctx context.Context, teamID int64) UsageStatus {
	status := UsageStatus{
		TeamID:    teamID,
		Allowed:   true,
		Limit:     t.limit,
		Remaining: t.limit,
	}

	gw, deadline, ok := t.currentGameweek(ctx)
	if !ok {
		return status
	}
	status.Gameweek = gw
	status.ResetTime = t.resetTime(deadline)

	if t.client == nil {
		return status
	}

	used, err := t.client.ZCard(ctx, usageKey(teamID, gw)).Result()
	if err != nil {
		t.logger.WarnContext(ctx, "usage check failed, allowing", "team_id", teamID, "gw", gw, "error", err)
		return status
	}

	status.Used = int(used)
	status.Allowed = status.Used < t.limit
	status.Remaining = t.limit - status.Used
	if status.Remaining < 0 {
		status.Remaining = 0
	}
	return status
}

func (t *UsageTracker) resetTime(deadline *time.Time) time.Time {
	if deadline != nil && !deadline.IsZero() {
		return deadline.UTC()
	}
	return t.now().UTC().Add(fallbackResetGap)
}

// currentGameweek returns the memoized gameweek, refreshing from the
// season clock when the memo is older than an hour. Concurrent
// refreshes collapse into one upstream call.
func (t *UsageTracker) currentGameweek(ctx context.Context) (int, *time.Time, bool) {
	t.mu.Lock()
	if t.memoGW > 0 && t.now().Sub(t.memoAt) < gameweekMemoTTL {
		gw, deadline := t.memoGW, t.memoDeadline
		t.mu.Unlock()
		return gw, deadline, true
	}
	t.mu.Unlock()

	if t.season == nil {
		return 0, nil, false
	}

	type resolved struct {
		gw       int
		deadline *time.Time
	}
	out, err, _ := t.flight.Do("current-gameweek", func() (any, error) {
		gw, deadline, err := t.season.CurrentGameweek(ctx)
		if err != nil {
			return nil, err
		}
		return resolved{gw: gw, deadline: deadline}, nil
	})
	if err != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.memoGW > 0 {
			t.logger.WarnContext(ctx, "gameweek refresh failed, using stale memo", "gw", t.memoGW, "error", err)
			return t.memoGW, t.memoDeadline, true
		}
		t.logger.WarnContext(ctx, "gameweek unresolved, usage check fails open", "error", err)
		return 0, nil, false
	}

	value, ok := out.(resolved)
	if !ok {
		return 0, nil, false
	}

	t.mu.Lock()
	t.memoGW = value.gw
	t.memoDeadline = value.deadline
	t.memoAt = t.now()
	t.mu.Unlock()
	return value.gw, value.deadline, true
}

func usageKey(teamID int64, gameweek int) string {
	return fmt.Sprintf("%s%d:%d", usageKeyPrefix, teamID, gameweek)
}
