package httpapi

import (
	"net/http"

	"github.com/fplsage/fpl-sage/internal/platform/logging"
	"github.com/fplsage/fpl-sage/internal/platform/ratelimit"
)

func NewRouter(
	handler *Handler,
	limiter *ratelimit.Limiter,
	logger *logging.Logger,
	corsAllowedOrigins []string,
) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}

	mux := http.NewServeMux()
	registerRoutes(mux, handler, limiter)

	return RequestTracing(RequestLogging(logger, CORS(corsAllowedOrigins, recoverPanic(logger, mux))))
}

func registerRoutes(mux *http.ServeMux, handler *Handler, limiter *ratelimit.Limiter) {
	// Submission is the only rate-limited surface; reads stay cheap.
	mux.Handle("POST /api/v1/analyze", RateLimit(limiter, http.HandlerFunc(handler.PostAnalyze)))
	mux.HandleFunc("GET /api/v1/analyze/{id}", handler.GetAnalysis)
	mux.HandleFunc("GET /api/v1/analyze/{id}/stream", handler.StreamAnalysis)
	mux.HandleFunc("GET /api/v1/usage/{team_id}", handler.GetUsage)
	mux.HandleFunc("GET /api/v1/health", handler.Health)
	mux.HandleFunc("GET /health", handler.Health)
}

func recoverPanic(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := startSpan(r.Context(), "httpapi.recoverPanic")
		defer span.End()

		defer func() {
			if rec := recover(); rec != nil {
				logger.ErrorContext(ctx, "panic recovered", "panic", rec)
				writeInternalError(ctx, w)
			}
		}()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
