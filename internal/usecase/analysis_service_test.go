package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sonic "github.com/bytedance/sonic"

	"github.com/fplsage/fpl-sage/internal/domain/analysis"
	"github.com/fplsage/fpl-sage/internal/infrastructure/jobstore"
	"github.com/fplsage/fpl-sage/internal/platform/logging"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]byte)}
}

func (c *mapCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	return raw, ok
}

func (c *mapCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.sets++
}

type stubQuota struct {
	mu      sync.Mutex
	status  UsageStatus
	records []int
}

func (q *stubQuota) CheckLimit(ctx context.Context, teamID int64) UsageStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	status := q.status
	status.TeamID = teamID
	return status
}

func (q *stubQuota) RecordAnalysis(ctx context.Context, teamID int64, gameweek int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = append(q.records, gameweek)
}

func (q *stubQuota) recorded() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int(nil), q.records...)
}

type stubEngine struct {
	out  EngineOutput
	err  error
	gate chan struct{} // when set, Run blocks here before finishing
}

func (e *stubEngine) Run(ctx context.Context, input EngineInput, progress ProgressFunc) (EngineOutput, error) {
	progress(PhaseCollecting, 0.2)
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return EngineOutput{}, ctx.Err()
		}
	}
	progress(PhaseDeciding, 0.8)
	if e.err != nil {
		return EngineOutput{}, e.err
	}
	return e.out, nil
}

func newTestService(t *testing.T, engine Engine, cacheStore ResultCache, quota QuotaChecker) (*AnalysisService, *jobstore.Store) {
	t.Helper()
	jobs := jobstore.NewStore(nil, time.Hour, logging.NewNop())
	if cacheStore == nil {
		cacheStore = newMapCache()
	}
	if quota == nil {
		quota = &stubQuota{status: UsageStatus{Allowed: true, Limit: 2, Remaining: 2, Gameweek: 12}}
	}

	service, err := NewAnalysisService(jobs, cacheStore, quota, engine, nil, AnalysisConfig{Workers: 2}, logging.NewNop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(service.Shutdown)
	return service, jobs
}

func awaitTerminal(t *testing.T, service *AnalysisService, jobID string) analysis.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := service.Get(jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return analysis.Job{}
}

func TestStartRejectsInvalidInput(t *testing.T) {
	service, _ := newTestService(t, &stubEngine{}, nil, nil)

	_, err := service.Start(context.Background(), StartRequest{TeamID: 0})
	if !errors.Is(err, ErrInvalidTeamID) {
		t.Fatalf("expected invalid team id, got %v", err)
	}

	_, err = service.Start(context.Background(), StartRequest{TeamID: 5, Gameweek: 39})
	if !errors.Is(err, ErrInvalidGameweek) {
		t.Fatalf("expected invalid gameweek, got %v", err)
	}
}

func TestStartRejectsWhenQuotaExhausted(t *testing.T) {
	quota := &stubQuota{status: UsageStatus{Allowed: false, Used: 2, Limit: 2, Gameweek: 12}}
	service, _ := newTestService(t, &stubEngine{}, nil, quota)

	outcome, err := service.Start(context.Background(), StartRequest{TeamID: 711511})
	if !errors.Is(err, ErrUsageLimitReached) {
		t.Fatalf("expected usage limit error, got %v", err)
	}
	if outcome.Usage == nil || outcome.Usage.Used != 2 {
		t.Fatalf("expected usage detail on rejection, got %+v", outcome.Usage)
	}
	if outcome.Job != nil {
		t.Fatal("rejected request must not create a job")
	}
}

func TestStartRunsEngineAndCaches(t *testing.T) {
	cacheStore := newMapCache()
	quota := &stubQuota{status: UsageStatus{Allowed: true, Limit: 2, Gameweek: 12}}
	engine := &stubEngine{out: EngineOutput{
		CurrentGW:       12,
		PrimaryDecision: "HOLD",
		Confidence:      "HIGH",
	}}
	service, _ := newTestService(t, engine, cacheStore, quota)

	outcome, err := service.Start(context.Background(), StartRequest{TeamID: 711511})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if outcome.Job == nil || outcome.Job.Status != analysis.StatusQueued {
		t.Fatalf("expected accepted job, got %+v", outcome)
	}

	job := awaitTerminal(t, service, outcome.Job.ID)
	if job.Status != analysis.StatusCompleted {
		t.Fatalf("expected completed, got %s (%+v)", job.Status, job.Error)
	}
	if job.Result == nil || job.Result.PrimaryDecision != "HOLD" {
		t.Fatalf("unexpected result: %+v", job.Result)
	}
	if job.Progress != 1 {
		t.Fatalf("expected progress 1, got %v", job.Progress)
	}

	if got := quota.recorded(); len(got) != 1 || got[0] != 12 {
		t.Fatalf("expected usage recorded for gw 12, got %v", got)
	}

	raw, ok := cacheStore.Get(context.Background(), "fpl_sage:analysis:711511:current")
	if !ok {
		t.Fatal("expected result cached under current key")
	}
	var cached analysis.Result
	if err := sonic.Unmarshal(raw, &cached); err != nil {
		t.Fatalf("cached payload unreadable: %v", err)
	}
	if cached.AnalysisID != job.ID {
		t.Fatalf("cached result for wrong job: %s vs %s", cached.AnalysisID, job.ID)
	}
}

func TestStartReturnsCachedResult(t *testing.T) {
	cacheStore := newMapCache()
	raw, _ := sonic.Marshal(&analysis.Result{AnalysisID: "cached01", TeamID: 711511, PrimaryDecision: "HOLD"})
	cacheStore.Set(context.Background(), "fpl_sage:analysis:711511:current", raw, time.Minute)

	service, _ := newTestService(t, &stubEngine{}, cacheStore, nil)

	outcome, err := service.Start(context.Background(), StartRequest{TeamID: 711511})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if outcome.CachedResult == nil || outcome.CachedResult.AnalysisID != "cached01" {
		t.Fatalf("expected cache hit, got %+v", outcome)
	}
	if outcome.Job != nil {
		t.Fatal("cache hit must not create a job")
	}
}

func TestOverridesBypassCacheBothWays(t *testing.T) {
	cacheStore := newMapCache()
	raw, _ := sonic.Marshal(&analysis.Result{AnalysisID: "cached01"})
	cacheStore.Set(context.Background(), "fpl_sage:analysis:711511:current", raw, time.Minute)
	baseSets := cacheStore.sets

	engine := &stubEngine{out: EngineOutput{CurrentGW: 12, PrimaryDecision: "MAKE_TRANSFER"}}
	service, _ := newTestService(t, engine, cacheStore, nil)

	// Present-but-empty override list still bypasses the cache.
	outcome, err := service.Start(context.Background(), StartRequest{
		TeamID:    711511,
		Overrides: &analysis.Overrides{ManualTransfers: []analysis.ManualTransfer{}},
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if outcome.CachedResult != nil {
		t.Fatal("overridden request must skip cache read")
	}

	job := awaitTerminal(t, service, outcome.Job.ID)
	if job.Status != analysis.StatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}

	cacheStore.mu.Lock()
	sets := cacheStore.sets
	cacheStore.mu.Unlock()
	if sets != baseSets {
		t.Fatal("overridden run must not write the cache")
	}
}

func TestEngineFailureClassification(t *testing.T) {
	cases := []struct {
		err      error
		wantCode string
	}{
		{fmt.Errorf("%w: bootstrap 503", ErrUpstreamUnavailable), "UPSTREAM_UNAVAILABLE"},
		{fmt.Errorf("%w: no current event", ErrSeasonResolutionUnknown), "SEASON_RESOLUTION_UNKNOWN"},
		{errors.New("index out of range"), "ENGINE_EXCEPTION"},
	}

	for _, tc := range cases {
		cacheStore := newMapCache()
		quota := &stubQuota{status: UsageStatus{Allowed: true, Limit: 2, Gameweek: 12}}
		service, _ := newTestService(t, &stubEngine{err: tc.err}, cacheStore, quota)

		outcome, err := service.Start(context.Background(), StartRequest{TeamID: 1})
		if err != nil {
			t.Fatalf("start failed: %v", err)
		}

		job := awaitTerminal(t, service, outcome.Job.ID)
		if job.Status != analysis.StatusFailed {
			t.Fatalf("expected failed, got %s", job.Status)
		}
		if job.Error == nil || job.Error.Code != tc.wantCode {
			t.Fatalf("expected code %s, got %+v", tc.wantCode, job.Error)
		}

		// Failures never consume quota or write the cache.
		if got := quota.recorded(); len(got) != 0 {
			t.Fatalf("usage recorded on failure: %v", got)
		}
		if cacheStore.sets != 0 {
			t.Fatal("cache written on failure")
		}
	}
}

func TestEngineTimeoutFailsJobWithTimeoutCode(t *testing.T) {
	jobs := jobstore.NewStore(nil, time.Hour, logging.NewNop())
	engine := &stubEngine{gate: make(chan struct{})} // never released
	quota := &stubQuota{status: UsageStatus{Allowed: true, Limit: 2, Gameweek: 12}}

	service, err := NewAnalysisService(jobs, newMapCache(), quota, engine, nil,
		AnalysisConfig{Workers: 2, EngineTimeout: 30 * time.Millisecond}, logging.NewNop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(service.Shutdown)

	outcome, err := service.Start(context.Background(), StartRequest{TeamID: 1})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	job := awaitTerminal(t, service, outcome.Job.ID)
	if job.Status != analysis.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.Error == nil || job.Error.Code != "ENGINE_TIMEOUT" {
		t.Fatalf("expected ENGINE_TIMEOUT, got %+v", job.Error)
	}
}

func TestProgressEventsReachSubscribers(t *testing.T) {
	engine := &stubEngine{out: EngineOutput{CurrentGW: 12}, gate: make(chan struct{})}
	service, jobs := newTestService(t, engine, nil, nil)

	outcome, err := service.Start(context.Background(), StartRequest{TeamID: 1})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	sub, ok := jobs.Subscribe(outcome.Job.ID)
	if !ok {
		t.Fatal("subscribe failed")
	}
	defer jobs.Unsubscribe(sub)
	close(engine.gate)

	deadline := time.After(3 * time.Second)
	var sawProgress, sawComplete bool
	for !sawComplete {
		select {
		case event := <-sub.C:
			switch event.Type {
			case analysis.EventProgress:
				if event.Phase == PhaseDeciding {
					sawProgress = true
				}
			case analysis.EventComplete:
				if event.Result == nil {
					t.Fatal("complete frame without result")
				}
				sawComplete = true
			}
		case <-deadline:
			t.Fatal("no terminal event observed")
		}
	}
	if !sawProgress {
		t.Fatal("expected a progress frame before the terminal frame")
	}
}
