package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"

	"github.com/fplsage/fpl-sage/internal/domain/analysis"
	"github.com/fplsage/fpl-sage/internal/platform/logging"
	"github.com/fplsage/fpl-sage/internal/usecase"
)

// UsageReader serves the usage endpoint. Satisfied by the usage tracker.
type UsageReader interface {
	GetUsage(ctx context.Context, teamID int64) usecase.UsageStatus
}

type Handler struct {
	analysisService *usecase.AnalysisService
	usageService    UsageReader
	streamer        *Streamer
	logger          *logging.Logger
	validator       *validator.Validate
}

func NewHandler(
	analysisService *usecase.AnalysisService,
	usageService UsageReader,
	streamer *Streamer,
	logger *logging.Logger,
) *Handler {
	if logger == nil {
		logger = logging.Default()
	}

	return &Handler{
		analysisService: analysisService,
		usageService:    usageService,
		streamer:        streamer,
		logger:          logger,
		validator:       validator.New(),
	}
}

func (h *Handler) validateRequest(ctx context.Context, payload any) error {
	ctx, span := startSpan(ctx, "httpapi.Handler.validateRequest")
	defer span.End()
	_ = ctx

	if err := h.validator.StructCtx(ctx, payload); err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrValidation, err)
	}
	return nil
}

type analysisRequest struct {
	TeamID          int64                     `json:"team_id"`
	Gameweek        *int                      `json:"gameweek,omitempty"`
	AvailableChips  []analysis.ChipName       `json:"available_chips,omitempty" validate:"omitempty,dive,oneof=wildcard free_hit bench_boost triple_captain"`
	FreeTransfers   *int                      `json:"free_transfers,omitempty" validate:"omitempty,gte=0,lte=15"`
	RiskPosture     string                    `json:"risk_posture,omitempty" validate:"omitempty,oneof=conservative balanced aggressive"`
	ManualTransfers []analysis.ManualTransfer `json:"manual_transfers,omitempty" validate:"omitempty,dive"`
	InjuryOverrides []analysis.InjuryOverride `json:"injury_overrides,omitempty" validate:"omitempty,dive"`
	Thresholds      map[string]float64        `json:"thresholds,omitempty"`
}

// overrides collapses the request's optional override fields. A field
// that was present but empty still counts as an override.
func (req *analysisRequest) overrides() *analysis.Overrides {
	out := &analysis.Overrides{
		AvailableChips:  req.AvailableChips,
		FreeTransfers:   req.FreeTransfers,
		RiskPosture:     analysis.RiskPosture(req.RiskPosture),
		ManualTransfers: req.ManualTransfers,
		InjuryOverrides: req.InjuryOverrides,
		Thresholds:      req.Thresholds,
	}
	if out.Empty() {
		return nil
	}
	return out
}

type analyzeAcceptedResponse struct {
	AnalysisID string `json:"analysis_id"`
	Status     string `json:"status"`
}

type analyzeCachedResponse struct {
	AnalysisID string           `json:"analysis_id"`
	Cached     bool             `json:"cached"`
	Result     *analysis.Result `json:"result"`
}

type analysisStatusResponse struct {
	AnalysisID string             `json:"analysis_id"`
	Status     string             `json:"status"`
	Phase      string             `json:"phase,omitempty"`
	Progress   float64            `json:"progress"`
	Result     *analysis.Result   `json:"result,omitempty"`
	Error      *analysis.JobError `json:"error,omitempty"`
}

type usageResponse struct {
	TeamID    int64 `json:"team_id"`
	Gameweek  int   `json:"gameweek"`
	Used      int   `json:"used"`
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetTime int64 `json:"reset_time"`
}

type usageDetail struct {
	Used      int   `json:"used"`
	Limit     int   `json:"limit"`
	ResetTime int64 `json:"reset_time"`
}

func (h *Handler) PostAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.PostAnalyze")
	defer span.End()

	var req analysisRequest
	decoder := jsoniter.NewDecoder(r.Body)
	if err := decoder.Decode(&req); err != nil {
		writeError(ctx, w, fmt.Errorf("%w: malformed request body: %v", usecase.ErrValidation, err))
		return
	}
	if err := h.validateRequest(ctx, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	gameweek := 0
	if req.Gameweek != nil {
		gameweek = *req.Gameweek
	}

	outcome, err := h.analysisService.Start(ctx, usecase.StartRequest{
		TeamID:    req.TeamID,
		Gameweek:  gameweek,
		Overrides: req.overrides(),
	})
	if err != nil {
		if errors.Is(err, usecase.ErrUsageLimitReached) && outcome.Usage != nil {
			writeErrorDetail(ctx, w, err, usageDetail{
				Used:      outcome.Usage.Used,
				Limit:     outcome.Usage.Limit,
				ResetTime: resetEpoch(outcome.Usage.ResetTime),
			})
			return
		}
		writeError(ctx, w, err)
		return
	}

	if outcome.CachedResult != nil {
		writeJSON(ctx, w, http.StatusOK, analyzeCachedResponse{
			AnalysisID: outcome.CachedResult.AnalysisID,
			Cached:     true,
			Result:     outcome.CachedResult,
		})
		return
	}

	writeJSON(ctx, w, http.StatusAccepted, analyzeAcceptedResponse{
		AnalysisID: outcome.Job.ID,
		Status:     string(outcome.Job.Status),
	})
}

func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.GetAnalysis")
	defer span.End()

	job, err := h.analysisService.Get(r.PathValue("id"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, analysisStatusResponse{
		AnalysisID: job.ID,
		Status:     string(job.Status),
		Phase:      job.Phase,
		Progress:   job.Progress,
		Result:     job.Result,
		Error:      job.Error,
	})
}

func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.GetUsage")
	defer span.End()

	teamID, err := strconv.ParseInt(r.PathValue("team_id"), 10, 64)
	if err != nil || !analysis.ValidTeamID(teamID) {
		writeError(ctx, w, fmt.Errorf("%w: team_id must be an integer in [%d, %d]",
			usecase.ErrInvalidTeamID, analysis.MinTeamID, analysis.MaxTeamID))
		return
	}

	status := h.usageService.GetUsage(ctx, teamID)
	writeJSON(ctx, w, http.StatusOK, usageResponse{
		TeamID:    teamID,
		Gameweek:  status.Gameweek,
		Used:      status.Used,
		Limit:     status.Limit,
		Remaining: status.Remaining,
		ResetTime: resetEpoch(status.ResetTime),
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) StreamAnalysis(w http.ResponseWriter, r *http.Request) {
	h.streamer.Serve(w, r, r.PathValue("id"))
}

// resetEpoch renders a quota reset instant as Unix seconds, 0 when the
// reset time is unknown (degraded mode).
func resetEpoch(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
