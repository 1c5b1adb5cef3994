package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fplsage/fpl-sage/internal/platform/logging"
)

type fakeSeason struct {
	gw       int
	deadline *time.Time
	err      error
	calls    atomic.Int32
}

func (f *fakeSeason) CurrentGameweek(ctx context.Context) (int, *time.Time, error) {
	f.calls.Add(1)
	if f.err != nil {
		return 0, nil, f.err
	}
	return f.gw, f.deadline, nil
}

func TestCheckLimitFailsOpenWithoutRedis(t *testing.T) {
	deadline := time.Date(2026, 11, 28, 11, 0, 0, 0, time.UTC)
	season := &fakeSeason{gw: 13, deadline: &deadline}
	tracker := NewUsageTracker(nil, season, 2, logging.NewNop())

	status := tracker.CheckLimit(context.Background(), 4521337)
	if !status.Allowed {
		t.Fatal("expected allowed without redis")
	}
	if status.Gameweek != 13 || status.Used != 0 || status.Limit != 2 || status.Remaining != 2 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if !status.ResetTime.Equal(deadline) {
		t.Fatalf("expected reset at deadline, got %v", status.ResetTime)
	}
}

func TestCheckLimitFailsOpenWhenSeasonUnresolved(t *testing.T) {
	season := &fakeSeason{err: errors.New("upstream down")}
	tracker := NewUsageTracker(nil, season, 2, logging.NewNop())

	status := tracker.CheckLimit(context.Background(), 1)
	if !status.Allowed || status.Gameweek != 0 || status.Used != 0 {
		t.Fatalf("expected open fallback, got %+v", status)
	}
	if !status.ResetTime.IsZero() {
		t.Fatalf("expected unknown reset, got %v", status.ResetTime)
	}
}

func TestGameweekMemoAvoidsRepeatResolution(t *testing.T) {
	season := &fakeSeason{gw: 12}
	tracker := NewUsageTracker(nil, season, 2, logging.NewNop())

	base := time.Date(2026, 11, 20, 9, 0, 0, 0, time.UTC)
	now := base
	tracker.now = func() time.Time { return now }

	tracker.CheckLimit(context.Background(), 1)
	tracker.CheckLimit(context.Background(), 1)
	if got := season.calls.Load(); got != 1 {
		t.Fatalf("expected memoized gameweek, got %d resolutions", got)
	}

	// Memo expires after an hour.
	now = base.Add(61 * time.Minute)
	tracker.CheckLimit(context.Background(), 1)
	if got := season.calls.Load(); got != 2 {
		t.Fatalf("expected refresh after memo expiry, got %d resolutions", got)
	}
}

func TestGameweekStaleMemoSurvivesUpstreamFailure(t *testing.T) {
	season := &fakeSeason{gw: 12}
	tracker := NewUsageTracker(nil, season, 2, logging.NewNop())

	base := time.Date(2026, 11, 20, 9, 0, 0, 0, time.UTC)
	now := base
	tracker.now = func() time.Time { return now }

	status := tracker.CheckLimit(context.Background(), 1)
	if status.Gameweek != 12 {
		t.Fatalf("expected gw 12, got %d", status.Gameweek)
	}

	season.err = errors.New("upstream down")
	now = base.Add(2 * time.Hour)

	status = tracker.CheckLimit(context.Background(), 1)
	if status.Gameweek != 12 || !status.Allowed {
		t.Fatalf("expected stale memo reuse, got %+v", status)
	}
}

func TestResetTimeFallsBackToSevenDays(t *testing.T) {
	tracker := NewUsageTracker(nil, &fakeSeason{gw: 38}, 2, logging.NewNop())
	now := time.Date(2027, 5, 20, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }

	status := tracker.GetUsage(context.Background(), 1)
	if !status.ResetTime.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Fatalf("expected now+7d fallback, got %v", status.ResetTime)
	}
}

func TestRecordAnalysisNoopWithoutRedis(t *testing.T) {
	tracker := NewUsageTracker(nil, &fakeSeason{gw: 12}, 2, logging.NewNop())
	tracker.RecordAnalysis(context.Background(), 1, 12)
}
