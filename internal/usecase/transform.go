package usecase

import (
	"strconv"
	"strings"
	"time"

	"github.com/fplsage/fpl-sage/internal/domain/analysis"
	"github.com/fplsage/fpl-sage/internal/platform/logging"
)

// Transformer maps raw engine output onto the stable wire Result.
// It is a pure projection: no I/O, no retained state beyond the clock.
type Transformer struct {
	logger *logging.Logger
	now    func() time.Time
}

func NewTransformer(logger *logging.Logger) *Transformer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Transformer{
		logger: logger,
		now:    time.Now,
	}
}

func (t *Transformer) Transform(jobID string, teamID int64, out EngineOutput) *analysis.Result {
	result := &analysis.Result{
		AnalysisID:              jobID,
		TeamID:                  teamID,
		CurrentGW:               out.CurrentGW,
		PrimaryDecision:         out.PrimaryDecision,
		Confidence:              clampConfidence(out.Confidence),
		TransferRecommendations: t.transferRecords(out),
		ChipStrategy:            out.ChipStrategy,
		StartingXI:              out.StartingXI,
		Bench:                   out.Bench,
		ProjectedXI:             out.ProjectedXI,
		ProjectedBench:          out.ProjectedBench,
		Weaknesses:              out.Weaknesses,
		Meta: analysis.ResultMeta{
			RunID:       jobID,
			GeneratedAt: t.now().UTC().Format(time.RFC3339),
		},
	}

	if len(out.Captains) > 0 {
		result.Captain = captainPick(out.Captains[0])
	}
	if len(out.Captains) > 1 {
		result.ViceCaptain = captainPick(out.Captains[1])
	}

	return result
}

// transferRecords flattens the engine's transfer advice. Pair form
// yields an OUT record then an IN record per pair; legacy flat form is
// passed through with only priority normalization.
func (t *Transformer) transferRecords(out EngineOutput) []analysis.TransferRecommendation {
	if len(out.TransferPairs) > 0 && len(out.LegacyTransfers) > 0 {
		t.logger.Warn("engine emitted both pair-form and legacy transfers, using pair form",
			"pairs", len(out.TransferPairs),
			"legacy", len(out.LegacyTransfers),
		)
	}

	if len(out.TransferPairs) > 0 {
		records := make([]analysis.TransferRecommendation, 0, len(out.TransferPairs)*2)
		for _, pair := range out.TransferPairs {
			priority := clampPriority(pair.Priority)
			records = append(records, analysis.TransferRecommendation{
				Action:      "OUT",
				PlayerName:  pair.Out.PlayerName,
				Position:    pair.Out.Position,
				Team:        pair.Out.Team,
				Price:       pair.Out.Price,
				Priority:    priority,
				Reason:      pair.Out.Reason,
				ExpectedPts: pair.Out.ExpectedPts,
			})
			records = append(records, analysis.TransferRecommendation{
				Action:      "IN",
				PlayerName:  pair.In.PlayerName,
				Position:    pair.In.Position,
				Team:        pair.In.Team,
				Price:       pair.In.Price,
				Priority:    priority,
				Reason:      pair.InReason,
				ExpectedPts: pair.In.ExpectedPts,
			})
		}
		return records
	}

	records := make([]analysis.TransferRecommendation, 0, len(out.LegacyTransfers))
	for _, record := range out.LegacyTransfers {
		record.Priority = clampPriority(record.Priority)
		records = append(records, record)
	}
	return records
}

func captainPick(candidate CaptainCandidate) *analysis.CaptainPick {
	return &analysis.CaptainPick{
		Name:         candidate.Name,
		Team:         candidate.Team,
		Position:     candidate.Position,
		ExpectedPts:  strconv.FormatFloat(candidate.ExpectedPts, 'f', 1, 64),
		OwnershipPct: candidate.OwnershipPct,
		Rationale:    candidate.Rationale,
	}
}

func clampConfidence(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "HIGH":
		return "HIGH"
	case "MED", "MEDIUM":
		return "MED"
	case "LOW":
		return "LOW"
	default:
		return "MED"
	}
}

func clampPriority(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "URGENT":
		return "URGENT"
	case "HIGH":
		return "HIGH"
	case "MEDIUM":
		return "MEDIUM"
	case "LOW":
		return "LOW"
	case "NORMAL":
		return "NORMAL"
	default:
		return "NORMAL"
	}
}
