package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fplsage/fpl-sage/external/fplapi"
	"github.com/fplsage/fpl-sage/internal/domain/analysis"
	"github.com/fplsage/fpl-sage/internal/platform/logging"
	"github.com/fplsage/fpl-sage/internal/usecase"
)

// Collector supplies the upstream inputs for one run. Satisfied by the
// FPL API client.
type Collector interface {
	CollectTeamData(ctx context.Context, teamID int64, gameweek int) (*fplapi.TeamBundle, error)
}

// Baseline is a heuristic decision engine built directly on upstream
// projections (ep_next / form). It exists to make the service complete
// end to end; a stronger engine only needs to satisfy usecase.Engine.
type Baseline struct {
	collector Collector
	logger    *logging.Logger
}

func NewBaseline(collector Collector, logger *logging.Logger) *Baseline {
	if logger == nil {
		logger = logging.Default()
	}
	return &Baseline{
		collector: collector,
		logger:    logger,
	}
}

type projection struct {
	player      fplapi.Player
	expectedPts float64
	ownership   string
	available   bool
	doubtful    bool
	clubShort   string
	position    string
}

func (e *Baseline) Run(ctx context.Context, input usecase.EngineInput, progress usecase.ProgressFunc) (usecase.EngineOutput, error) {
	progress(usecase.PhaseCollecting, 0.05)

	bundle, err := e.collector.CollectTeamData(ctx, input.TeamID, input.Gameweek)
	if err != nil {
		return usecase.EngineOutput{}, err
	}
	progress(usecase.PhaseCollecting, 0.35)

	if err := ctx.Err(); err != nil {
		return usecase.EngineOutput{}, err
	}

	progress(usecase.PhaseProjecting, 0.4)
	projections := e.project(bundle, input.Overrides)
	progress(usecase.PhaseProjecting, 0.7)

	if err := ctx.Err(); err != nil {
		return usecase.EngineOutput{}, err
	}

	progress(usecase.PhaseDeciding, 0.75)
	out := e.decide(bundle, projections, input.Overrides)
	progress(usecase.PhaseDeciding, 0.95)

	return out, nil
}

// project computes expected points per player and applies caller
// injury overrides on top of upstream availability flags.
func (e *Baseline) project(bundle *fplapi.TeamBundle, overrides *analysis.Overrides) map[int]projection {
	clubs := make(map[int]fplapi.Club, len(bundle.Bootstrap.Teams))
	for _, club := range bundle.Bootstrap.Teams {
		clubs[club.ID] = club
	}

	out := make(map[int]projection, len(bundle.Bootstrap.Elements))
	for _, player := range bundle.Bootstrap.Elements {
		expected := parseFloat(player.EPNext)
		if expected == 0 {
			expected = parseFloat(player.Form)
		}

		proj := projection{
			player:      player,
			expectedPts: expected,
			ownership:   player.SelectedByPercent,
			available:   player.Status == "a",
			doubtful:    player.Status == "d",
			clubShort:   clubs[player.Team].ShortName,
			position:    positionName(player.ElementType),
		}
		if player.ChanceOfPlayingNextRound != nil && *player.ChanceOfPlayingNextRound < 50 {
			proj.doubtful = true
		}
		out[player.ID] = proj
	}

	if overrides != nil {
		for _, override := range overrides.InjuryOverrides {
			id, ok := findByName(bundle.Bootstrap.Elements, override.Player)
			if !ok {
				e.logger.Warn("injury override target not found", "player", override.Player)
				continue
			}
			proj := out[id]
			switch override.Status {
			case analysis.InjuryFit:
				proj.available = true
				proj.doubtful = false
			case analysis.InjuryDoubtful:
				proj.doubtful = true
			case analysis.InjuryOut:
				proj.available = false
				proj.doubtful = false
				proj.expectedPts = 0
			}
			out[id] = proj
		}
	}

	return out
}

func (e *Baseline) decide(bundle *fplapi.TeamBundle, projections map[int]projection, overrides *analysis.Overrides) usecase.EngineOutput {
	out := usecase.EngineOutput{
		CurrentGW:       bundle.CurrentGW,
		PrimaryDecision: "HOLD",
		Confidence:      "MED",
		NextDeadline:    fplapi.NextDeadline(bundle.Bootstrap, deadlineAnchor(bundle)),
	}

	squad := squadElementIDs(bundle.Picks)
	squad = applyManualTransfers(squad, bundle.Bootstrap.Elements, overrides, e.logger)
	if len(squad) == 0 {
		out.Weaknesses = append(out.Weaknesses, "current squad unavailable upstream; recommendations are league-wide")
		squad = topSquadFallback(projections)
	}

	starters, bench := splitSquad(bundle.Picks, squad)

	out.StartingXI = names(starters, projections)
	out.Bench = names(bench, projections)
	out.Captains = captainCandidates(starters, projections)

	pairs := transferPairs(squad, projections, overrides, riskThreshold(overrides))
	out.TransferPairs = pairs
	if len(pairs) > 0 {
		out.PrimaryDecision = "MAKE_TRANSFER"
	}

	if len(out.Captains) > 0 && out.Captains[0].ExpectedPts >= 6 {
		out.Confidence = "HIGH"
	}

	for _, proj := range projectionsOf(squad, projections) {
		if !proj.available && proj.player.News != "" {
			out.Weaknesses = append(out.Weaknesses, fmt.Sprintf("%s: %s", proj.player.WebName, proj.player.News))
		}
	}

	out.ChipStrategy = chipAdvice(bench, projections, overrides, bundle.CurrentGW)
	return out
}

func riskThreshold(overrides *analysis.Overrides) float64 {
	posture := analysis.RiskBalanced
	if overrides != nil && overrides.RiskPosture != "" {
		posture = overrides.RiskPosture
	}
	switch posture {
	case analysis.RiskConservative:
		return 2.0
	case analysis.RiskAggressive:
		return 0.5
	default:
		return 1.0
	}
}

// transferPairs recommends replacements for unavailable or doubtful
// squad members, best upgrade first, capped at the free transfer count.
func transferPairs(squad []int, projections map[int]projection, overrides *analysis.Overrides, minGain float64) []usecase.TransferPair {
	budgetMoves := 1
	if overrides != nil && overrides.FreeTransfers != nil && *overrides.FreeTransfers >= 0 {
		budgetMoves = *overrides.FreeTransfers
	}
	if budgetMoves == 0 {
		return nil
	}

	inSquad := make(map[int]struct{}, len(squad))
	for _, id := range squad {
		inSquad[id] = struct{}{}
	}

	type candidate struct {
		pair usecase.TransferPair
		gain float64
	}
	candidates := make([]candidate, 0, 4)

	for _, id := range squad {
		proj, ok := projections[id]
		if !ok || (proj.available && !proj.doubtful) {
			continue
		}

		replacement, found := bestReplacement(proj, inSquad, projections)
		if !found {
			continue
		}
		gain := replacement.expectedPts - proj.expectedPts
		if gain < minGain {
			continue
		}

		priority := "HIGH"
		reason := fmt.Sprintf("flagged doubtful (%s)", orDefault(proj.player.News, "fitness doubt"))
		if !proj.available {
			priority = "URGENT"
			reason = fmt.Sprintf("unavailable (%s)", orDefault(proj.player.News, "not in squad contention"))
		}

		candidates = append(candidates, candidate{
			gain: gain,
			pair: usecase.TransferPair{
				Out: usecase.TransferLeg{
					PlayerName:  proj.player.WebName,
					Position:    proj.position,
					Team:        proj.clubShort,
					Price:       price(proj.player.NowCost),
					ExpectedPts: formatPts(proj.expectedPts),
					Reason:      reason,
				},
				In: usecase.TransferLeg{
					PlayerName:  replacement.player.WebName,
					Position:    replacement.position,
					Team:        replacement.clubShort,
					Price:       price(replacement.player.NowCost),
					ExpectedPts: formatPts(replacement.expectedPts),
				},
				InReason: fmt.Sprintf("best available %s within budget, projected %s pts", replacement.position, formatPts(replacement.expectedPts)),
				Priority: priority,
			},
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].gain > candidates[j].gain })
	if len(candidates) > budgetMoves {
		candidates = candidates[:budgetMoves]
	}

	pairs := make([]usecase.TransferPair, 0, len(candidates))
	for _, c := range candidates {
		pairs = append(pairs, c.pair)
	}
	return pairs
}

func bestReplacement(outgoing projection, inSquad map[int]struct{}, projections map[int]projection) (projection, bool) {
	var best projection
	found := false
	for id, proj := range projections {
		if _, taken := inSquad[id]; taken {
			continue
		}
		if proj.position != outgoing.position || !proj.available || proj.doubtful {
			continue
		}
		if proj.player.NowCost > outgoing.player.NowCost {
			continue
		}
		if !found || proj.expectedPts > best.expectedPts {
			best = proj
			found = true
		}
	}
	return best, found
}

func captainCandidates(starters []int, projections map[int]projection) []usecase.CaptainCandidate {
	ranked := projectionsOf(starters, projections)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].expectedPts > ranked[j].expectedPts })

	limit := 3
	if len(ranked) < limit {
		limit = len(ranked)
	}

	out := make([]usecase.CaptainCandidate, 0, limit)
	for _, proj := range ranked[:limit] {
		if !proj.available {
			continue
		}
		out = append(out, usecase.CaptainCandidate{
			Name:         proj.player.WebName,
			Team:         proj.clubShort,
			Position:     proj.position,
			ExpectedPts:  proj.expectedPts,
			OwnershipPct: proj.ownership,
			Rationale:    fmt.Sprintf("highest projection in the starting eleven (%s pts)", formatPts(proj.expectedPts)),
		})
	}
	return out
}

// chipAdvice suggests bench boost when the caller holds the chip and
// the bench projects strongly; everything else stays in hand.
func chipAdvice(bench []int, projections map[int]projection, overrides *analysis.Overrides, gw int) *analysis.ChipStrategy {
	if overrides == nil || !hasChip(overrides.AvailableChips, analysis.ChipBenchBoost) {
		return nil
	}

	total := 0.0
	for _, proj := range projectionsOf(bench, projections) {
		total += proj.expectedPts
	}
	if total < 12 {
		return &analysis.ChipStrategy{
			Decision:  "HOLD_BENCH_BOOST",
			Rationale: fmt.Sprintf("bench projects only %s pts, below the play threshold", formatPts(total)),
			Timing:    "wait for a double gameweek",
		}
	}
	return &analysis.ChipStrategy{
		Decision:  "PLAY_BENCH_BOOST",
		Rationale: fmt.Sprintf("bench projects %s pts this gameweek", formatPts(total)),
		Timing:    "this gameweek",
		BestGW:    gw,
	}
}

func hasChip(chips []analysis.ChipName, want analysis.ChipName) bool {
	for _, chip := range chips {
		if chip == want {
			return true
		}
	}
	return false
}

func squadElementIDs(picks *fplapi.EntryPicks) []int {
	if picks == nil {
		return nil
	}
	out := make([]int, 0, len(picks.Picks))
	for _, pick := range picks.Picks {
		out = append(out, pick.Element)
	}
	return out
}

// applyManualTransfers rewrites the squad with moves the manager has
// already committed upstream. Unresolvable names are logged and kept.
func applyManualTransfers(squad []int, elements []fplapi.Player, overrides *analysis.Overrides, logger *logging.Logger) []int {
	if overrides == nil || len(overrides.ManualTransfers) == 0 || len(squad) == 0 {
		return squad
	}

	out := append([]int(nil), squad...)
	for _, move := range overrides.ManualTransfers {
		outID, outOK := findByName(elements, move.PlayerOut)
		inID, inOK := findByName(elements, move.PlayerIn)
		if !outOK || !inOK {
			logger.Warn("manual transfer target not found", "player_out", move.PlayerOut, "player_in", move.PlayerIn)
			continue
		}
		for i, id := range out {
			if id == outID {
				out[i] = inID
				break
			}
		}
	}
	return out
}

func splitSquad(picks *fplapi.EntryPicks, squad []int) ([]int, []int) {
	if picks == nil || len(picks.Picks) != len(squad) {
		if len(squad) > 11 {
			return squad[:11], squad[11:]
		}
		return squad, nil
	}

	starters := make([]int, 0, 11)
	bench := make([]int, 0, 4)
	for i, pick := range picks.Picks {
		if pick.Position <= 11 {
			starters = append(starters, squad[i])
		} else {
			bench = append(bench, squad[i])
		}
	}
	return starters, bench
}

// topSquadFallback builds a notional squad from the global projection
// table when the manager's picks are unavailable.
func topSquadFallback(projections map[int]projection) []int {
	ranked := make([]projection, 0, len(projections))
	for _, proj := range projections {
		if proj.available {
			ranked = append(ranked, proj)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].expectedPts > ranked[j].expectedPts })

	limit := 15
	if len(ranked) < limit {
		limit = len(ranked)
	}
	out := make([]int, 0, limit)
	for _, proj := range ranked[:limit] {
		out = append(out, proj.player.ID)
	}
	return out
}

func projectionsOf(ids []int, projections map[int]projection) []projection {
	out := make([]projection, 0, len(ids))
	for _, id := range ids {
		if proj, ok := projections[id]; ok {
			out = append(out, proj)
		}
	}
	return out
}

func names(ids []int, projections map[int]projection) []string {
	out := make([]string, 0, len(ids))
	for _, proj := range projectionsOf(ids, projections) {
		out = append(out, proj.player.WebName)
	}
	return out
}

func findByName(elements []fplapi.Player, name string) (int, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return 0, false
	}
	for _, player := range elements {
		if strings.ToLower(player.WebName) == needle {
			return player.ID, true
		}
		full := strings.ToLower(strings.TrimSpace(player.FirstName + " " + player.SecondName))
		if full == needle {
			return player.ID, true
		}
	}
	return 0, false
}

// deadlineAnchor is the instant after which the "next" deadline is
// searched: the current gameweek's own deadline when known, else now.
func deadlineAnchor(bundle *fplapi.TeamBundle) time.Time {
	for _, event := range bundle.Bootstrap.Events {
		if event.ID == bundle.CurrentGW {
			if deadline := event.Deadline(); !deadline.IsZero() {
				return deadline
			}
		}
	}
	return time.Now().UTC()
}

func positionName(elementType int) string {
	switch elementType {
	case 1:
		return "GK"
	case 2:
		return "DEF"
	case 3:
		return "MID"
	case 4:
		return "FWD"
	default:
		return "UNK"
	}
}

func price(nowCost int) string {
	return strconv.FormatFloat(float64(nowCost)/10, 'f', 1, 64)
}

func formatPts(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func parseFloat(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return v
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
