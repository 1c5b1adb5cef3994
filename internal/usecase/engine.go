package usecase

import (
	"context"
	"time"

	"github.com/fplsage/fpl-sage/internal/domain/analysis"
)

// Engine run phases, in execution order.
const (
	PhaseCollecting = "collecting"
	PhaseProjecting = "projecting"
	PhaseDeciding   = "deciding"
)

// ProgressFunc reports engine progress. Implementations must be cheap
// and non-blocking; the engine calls them from its own goroutine.
type ProgressFunc func(phase string, progress float64)

type EngineInput struct {
	TeamID    int64
	Gameweek  int // 0 means current
	Overrides *analysis.Overrides
}

// CaptainCandidate is one ranked captaincy option. Order matters: the
// first candidate becomes captain, the second vice.
type CaptainCandidate struct {
	Name         string
	Team         string
	Position     string
	ExpectedPts  float64
	OwnershipPct string
	Rationale    string
}

// TransferLeg is one side of a recommended transfer pair.
type TransferLeg struct {
	PlayerName  string
	Position    string
	Team        string
	Price       string
	ExpectedPts string
	Reason      string
}

// TransferPair is the engine's native transfer shape: who goes out,
// who comes in, and why.
type TransferPair struct {
	Out      TransferLeg
	In       TransferLeg
	InReason string
	Priority string
}

// EngineOutput is the raw decision produced by an engine run. Transfer
// advice arrives in exactly one of two variants: pair form
// (TransferPairs) or the legacy flat form (LegacyTransfers) with the
// action already assigned.
type EngineOutput struct {
	CurrentGW       int
	PrimaryDecision string
	Confidence      string
	Captains        []CaptainCandidate
	TransferPairs   []TransferPair
	LegacyTransfers []analysis.TransferRecommendation
	ChipStrategy    *analysis.ChipStrategy
	StartingXI      []string
	Bench           []string
	ProjectedXI     []string
	ProjectedBench  []string
	Weaknesses      []string
	NextDeadline    *time.Time
}

// Engine produces a squad decision for one team and gameweek. Run may
// block for the whole analysis; it must honor ctx cancellation at its
// suspension points.
type Engine interface {
	Run(ctx context.Context, input EngineInput, progress ProgressFunc) (EngineOutput, error)
}
