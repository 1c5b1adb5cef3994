package usecase

import "errors"

var (
	ErrInvalidTeamID           = errors.New("invalid team id")
	ErrInvalidGameweek         = errors.New("invalid gameweek")
	ErrValidation              = errors.New("validation failed")
	ErrRateLimited             = errors.New("rate limited")
	ErrUsageLimitReached       = errors.New("usage limit reached")
	ErrAnalysisNotFound        = errors.New("analysis not found")
	ErrUpstreamUnavailable     = errors.New("upstream unavailable")
	ErrSeasonResolutionUnknown = errors.New("season resolution unknown")
	ErrEngineTimeout           = errors.New("engine timeout")
)
