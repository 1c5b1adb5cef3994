package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	sonic "github.com/bytedance/sonic"
	"github.com/panjf2000/ants/v2"

	"github.com/fplsage/fpl-sage/internal/domain/analysis"
	"github.com/fplsage/fpl-sage/internal/infrastructure/jobstore"
	"github.com/fplsage/fpl-sage/internal/platform/logging"
)

const (
	analysisCachePrefix = "fpl_sage:analysis:"
	defaultCacheTTL     = 5 * time.Minute
	defaultWorkers      = 16
)

type AnalysisConfig struct {
	CacheTTL time.Duration
	// EngineTimeout caps one engine run; zero means no wall-clock limit.
	EngineTimeout time.Duration
	Workers       int
}

// StartRequest is a validated-enough analysis submission: the service
// performs range validation itself, schema validation happens at the
// HTTP edge.
type StartRequest struct {
	TeamID    int64
	Gameweek  int // 0 means current
	Overrides *analysis.Overrides
}

// Outcome is the synchronous result of Start. Exactly one of
// CachedResult and Job is set on success; Usage carries quota context
// when the request is rejected for exhaustion.
type Outcome struct {
	CachedResult *analysis.Result
	Job          *analysis.Job
	Usage        *UsageStatus
}

// ResultCache stores serialized results. Satisfied by the Redis-backed
// cache store, whose nil-client mode is a permanent miss.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// QuotaChecker guards the per-gameweek analysis quota. Satisfied by
// the usage tracker.
type QuotaChecker interface {
	CheckLimit(ctx context.Context, teamID int64) UsageStatus
	RecordAnalysis(ctx context.Context, teamID int64, gameweek int)
}

// AnalysisService owns the analysis lifecycle: admission (validation,
// quota, cache), job creation, and the background task that drives the
// engine and publishes progress.
type AnalysisService struct {
	jobs          *jobstore.Store
	cache         ResultCache
	usage         QuotaChecker
	engine        Engine
	transformer   *Transformer
	pool          *ants.Pool
	cacheTTL      time.Duration
	engineTimeout time.Duration
	logger        *logging.Logger
}

func NewAnalysisService(
	jobs *jobstore.Store,
	cacheStore ResultCache,
	usage QuotaChecker,
	engine Engine,
	transformer *Transformer,
	cfg AnalysisConfig,
	logger *logging.Logger,
) (*AnalysisService, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if transformer == nil {
		transformer = NewTransformer(logger)
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Workers < 1 {
		cfg.Workers = defaultWorkers
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("create analysis worker pool: %w", err)
	}

	return &AnalysisService{
		jobs:          jobs,
		cache:         cacheStore,
		usage:         usage,
		engine:        engine,
		transformer:   transformer,
		pool:          pool,
		cacheTTL:      cfg.CacheTTL,
		engineTimeout: cfg.EngineTimeout,
		logger:        logger,
	}, nil
}

// Start admits one analysis request. Validation and quota rejections
// happen synchronously and never create a job; a cache hit returns the
// stored result; otherwise a queued job is returned and the engine run
// is scheduled on the worker pool.
func (s *AnalysisService) Start(ctx context.Context, req StartRequest) (Outcome, error) {
	if !analysis.ValidTeamID(req.TeamID) {
		return Outcome{}, fmt.Errorf("%w: team_id %d not in [%d, %d]",
			ErrInvalidTeamID, req.TeamID, analysis.MinTeamID, analysis.MaxTeamID)
	}
	if req.Gameweek != 0 && !analysis.ValidGameweek(req.Gameweek) {
		return Outcome{}, fmt.Errorf("%w: gameweek %d not in [%d, %d]",
			ErrInvalidGameweek, req.Gameweek, analysis.MinGameweek, analysis.MaxGameweek)
	}

	status := s.usage.CheckLimit(ctx, req.TeamID)
	if !status.Allowed {
		return Outcome{Usage: &status}, fmt.Errorf("%w: team %d used %d of %d analyses this gameweek",
			ErrUsageLimitReached, req.TeamID, status.Used, status.Limit)
	}

	key := cacheKey(req.TeamID, req.Gameweek)
	withOverrides := !req.Overrides.Empty()
	if !withOverrides {
		if result, ok := s.cachedResult(ctx, key); ok {
			return Outcome{CachedResult: result}, nil
		}
	}

	job, err := s.jobs.Create(req.TeamID, req.Gameweek, req.Overrides)
	if err != nil {
		return Outcome{}, fmt.Errorf("create analysis job: %w", err)
	}

	task := func() { s.runAnalysis(job.ID, req, key, !withOverrides) }
	if err := s.pool.Submit(task); err != nil {
		// Pool saturated or closed; the accepted job still must run.
		s.logger.WarnContext(ctx, "worker pool submit failed, running inline goroutine", "job_id", job.ID, "error", err)
		go task()
	}

	return Outcome{Job: &job}, nil
}

// Get returns the job snapshot for status polling.
func (s *AnalysisService) Get(jobID string) (analysis.Job, error) {
	job, ok := s.jobs.Get(jobID)
	if !ok {
		return analysis.Job{}, fmt.Errorf("%w: %s", ErrAnalysisNotFound, jobID)
	}
	return job, nil
}

// Shutdown stops accepting background work. In-flight runs finish on
// their own contexts.
func (s *AnalysisService) Shutdown() {
	s.pool.Release()
}

func (s *AnalysisService) cachedResult(ctx context.Context, key string) (*analysis.Result, bool) {
	raw, ok := s.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var result analysis.Result
	if err := sonic.Unmarshal(raw, &result); err != nil {
		s.logger.WarnContext(ctx, "cached result unreadable, treating as miss", "key", key, "error", err)
		return nil, false
	}
	return &result, true
}

// runAnalysis is the background task owning the job between running
// and its terminal state.
func (s *AnalysisService) runAnalysis(jobID string, req StartRequest, key string, writeCache bool) {
	var runCtx context.Context
	var cancel context.CancelFunc
	if s.engineTimeout > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), s.engineTimeout)
	} else {
		runCtx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()
	s.jobs.BindCancel(jobID, cancel)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("engine panicked", "job_id", jobID, "panic", fmt.Sprintf("%v", r))
			s.finishFailed(jobID, "ENGINE_EXCEPTION", fmt.Sprintf("engine panic: %v", r))
		}
	}()

	now := time.Now().UTC()
	s.jobs.Update(jobID, func(j *analysis.Job) {
		j.Status = analysis.StatusRunning
		j.StartedAt = &now
	})

	progress := func(phase string, value float64) {
		updated, _ := s.jobs.Update(jobID, func(j *analysis.Job) {
			if value > j.Progress {
				j.Progress = value
			}
			j.Phase = phase
		})
		s.jobs.Publish(jobID, analysis.Event{
			Type:     analysis.EventProgress,
			Progress: updated.Progress,
			Phase:    phase,
		})
	}

	out, err := s.engine.Run(runCtx, EngineInput{
		TeamID:    req.TeamID,
		Gameweek:  req.Gameweek,
		Overrides: req.Overrides,
	}, progress)
	if err != nil {
		if runCtx.Err() == context.Canceled {
			// Cancelled externally; the cancel path already published.
			return
		}
		code, message := classifyEngineError(runCtx, err)
		s.finishFailed(jobID, code, message)
		return
	}

	result := s.transformer.Transform(jobID, req.TeamID, out)
	s.usage.RecordAnalysis(runCtx, req.TeamID, out.CurrentGW)

	if writeCache {
		if raw, marshalErr := sonic.Marshal(result); marshalErr != nil {
			s.logger.Warn("result serialization for cache failed", "job_id", jobID, "error", marshalErr)
		} else {
			s.cache.Set(runCtx, key, raw, s.cacheTTL)
		}
	}

	s.jobs.Update(jobID, func(j *analysis.Job) {
		j.Status = analysis.StatusCompleted
		j.Progress = 1
		j.Phase = ""
		j.Result = result
	})
	s.jobs.Publish(jobID, analysis.Event{
		Type:   analysis.EventComplete,
		Result: result,
	})
}

func (s *AnalysisService) finishFailed(jobID, code, message string) {
	s.jobs.Update(jobID, func(j *analysis.Job) {
		j.Status = analysis.StatusFailed
		j.Error = &analysis.JobError{Code: code, Message: message}
	})
	s.jobs.Publish(jobID, analysis.Event{
		Type:    analysis.EventError,
		Code:    code,
		Message: message,
	})
}

func classifyEngineError(runCtx context.Context, err error) (string, string) {
	switch {
	case runCtx.Err() == context.DeadlineExceeded, errors.Is(err, ErrEngineTimeout):
		return "ENGINE_TIMEOUT", "analysis exceeded the configured time limit"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "UPSTREAM_UNAVAILABLE", err.Error()
	case errors.Is(err, ErrSeasonResolutionUnknown):
		return "SEASON_RESOLUTION_UNKNOWN", err.Error()
	default:
		return "ENGINE_EXCEPTION", err.Error()
	}
}

func cacheKey(teamID int64, gameweek int) string {
	suffix := "current"
	if gameweek > 0 {
		suffix = strconv.Itoa(gameweek)
	}
	return fmt.Sprintf("%s%d:%s", analysisCachePrefix, teamID, suffix)
}
