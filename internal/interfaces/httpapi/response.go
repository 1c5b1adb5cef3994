package httpapi

import (
	"context"
	"errors"
	"net/http"

	sonic "github.com/bytedance/sonic"

	"github.com/fplsage/fpl-sage/internal/usecase"
)

// errorEnvelope is the wire error contract. Code is stable and
// machine-branchable; Error is prose; Detail carries structured
// context such as quota fields.
type errorEnvelope struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Detail any    `json:"detail,omitempty"`
}

type mappedError struct {
	HTTPStatus int
	Code       string
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	ctx, span := startSpan(ctx, "httpapi.writeJSON")
	defer span.End()
	_ = ctx

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = sonic.ConfigDefault.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	writeErrorDetail(ctx, w, err, nil)
}

func writeErrorDetail(ctx context.Context, w http.ResponseWriter, err error, detail any) {
	ctx, span := startSpan(ctx, "httpapi.writeError")
	defer span.End()

	mapped := mapError(err)
	writeJSON(ctx, w, mapped.HTTPStatus, errorEnvelope{
		Error:  err.Error(),
		Code:   mapped.Code,
		Detail: detail,
	})
}

func writeErrorCode(ctx context.Context, w http.ResponseWriter, status int, code, message string, detail any) {
	writeJSON(ctx, w, status, errorEnvelope{
		Error:  message,
		Code:   code,
		Detail: detail,
	})
}

func writeInternalError(ctx context.Context, w http.ResponseWriter) {
	writeErrorCode(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
}

func mapError(err error) mappedError {
	switch {
	case errors.Is(err, usecase.ErrInvalidTeamID):
		return mappedError{HTTPStatus: http.StatusBadRequest, Code: "INVALID_TEAM_ID"}
	case errors.Is(err, usecase.ErrInvalidGameweek):
		return mappedError{HTTPStatus: http.StatusBadRequest, Code: "INVALID_GAMEWEEK"}
	case errors.Is(err, usecase.ErrValidation):
		return mappedError{HTTPStatus: http.StatusBadRequest, Code: "VALIDATION_ERROR"}
	case errors.Is(err, usecase.ErrUsageLimitReached):
		return mappedError{HTTPStatus: http.StatusForbidden, Code: "USAGE_LIMIT_REACHED"}
	case errors.Is(err, usecase.ErrAnalysisNotFound):
		return mappedError{HTTPStatus: http.StatusNotFound, Code: "ANALYSIS_NOT_FOUND"}
	case errors.Is(err, usecase.ErrRateLimited):
		return mappedError{HTTPStatus: http.StatusTooManyRequests, Code: "RATE_LIMITED"}
	case errors.Is(err, usecase.ErrUpstreamUnavailable):
		return mappedError{HTTPStatus: http.StatusServiceUnavailable, Code: "UPSTREAM_UNAVAILABLE"}
	default:
		return mappedError{HTTPStatus: http.StatusInternalServerError, Code: "INTERNAL_ERROR"}
	}
}
