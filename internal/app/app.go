package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/fplsage/fpl-sage/external/fplapi"
	"github.com/fplsage/fpl-sage/internal/config"
	"github.com/fplsage/fpl-sage/internal/infrastructure/engine"
	"github.com/fplsage/fpl-sage/internal/infrastructure/jobstore"
	"github.com/fplsage/fpl-sage/internal/interfaces/httpapi"
	"github.com/fplsage/fpl-sage/internal/platform/cache"
	"github.com/fplsage/fpl-sage/internal/platform/logging"
	"github.com/fplsage/fpl-sage/internal/platform/ratelimit"
	"github.com/fplsage/fpl-sage/internal/platform/redisclient"
	"github.com/fplsage/fpl-sage/internal/platform/resilience"
	"github.com/fplsage/fpl-sage/internal/usecase"
)

// App owns the assembled service: the HTTP server plus the background
// pieces that need explicit lifecycle (job reaper, worker pool, Redis).
type App struct {
	Server *http.Server

	logger      *logging.Logger
	redisClient *redis.Client
	jobs        *jobstore.Store
	service     *usecase.AnalysisService
	stopReaper  context.CancelFunc
}

func New(ctx context.Context, cfg config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Default()
	}

	redisClient, err := redisclient.New(ctx, cfg.RedisURL, logger)
	if err != nil {
		return nil, fmt.Errorf("build redis client: %w", err)
	}

	fplClient := fplapi.NewClient(fplapi.ClientConfig{
		BaseURL:    cfg.FPLBaseURL,
		Timeout:    cfg.FPLTimeout,
		MaxRetries: cfg.FPLMaxRetries,
		Logger:     logger,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Enabled:          cfg.FPLCircuitEnabled,
			FailureThreshold: cfg.FPLCircuitFailureCount,
			OpenTimeout:      cfg.FPLCircuitOpenTimeout,
			HalfOpenMaxReq:   cfg.FPLCircuitHalfOpenMaxReq,
		},
	})

	jobs := jobstore.NewStore(nil, cfg.JobRetention, logger)
	resultCache := cache.NewStore(redisClient, logger)
	usage := usecase.NewUsageTracker(redisClient, fplClient, cfg.UsageLimitPerGW, logger)
	baseline := engine.NewBaseline(fplClient, logger)

	service, err := usecase.NewAnalysisService(jobs, resultCache, usage, baseline, nil, usecase.AnalysisConfig{
		CacheTTL:      cfg.CacheTTL,
		EngineTimeout: cfg.EngineTimeout,
		Workers:       cfg.AnalysisWorkers,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build analysis service: %w", err)
	}

	limiter := ratelimit.NewLimiter(redisClient, cfg.RateLimitRequests, cfg.RateLimitWindow, logger)
	streamer := httpapi.NewStreamer(jobs, logger)
	handler := httpapi.NewHandler(service, usage, streamer, logger)
	router := httpapi.NewRouter(handler, limiter, logger, cfg.CORSAllowedOrigins)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if server.Addr == "" {
		return nil, fmt.Errorf("http server addr cannot be empty")
	}

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	go jobs.Run(reaperCtx)

	return &App{
		Server:      server,
		logger:      logger,
		redisClient: redisClient,
		jobs:        jobs,
		service:     service,
		stopReaper:  stopReaper,
	}, nil
}

// Shutdown stops the HTTP server, then the background workers, then
// Redis. Safe to call once after the server has stopped accepting.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Server.Shutdown(ctx)

	a.stopReaper()
	if cancelled := a.jobs.CancelActive(); cancelled > 0 {
		a.logger.Info("cancelled in-flight analyses on shutdown", "count", cancelled)
	}
	a.service.Shutdown()

	if a.redisClient != nil {
		if closeErr := a.redisClient.Close(); closeErr != nil {
			a.logger.Warn("redis close failed", "error", closeErr)
		}
	}

	return err
}
