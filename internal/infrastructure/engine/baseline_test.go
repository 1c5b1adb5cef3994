package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/fplsage/fpl-sage/external/fplapi"
	"github.com/fplsage/fpl-sage/internal/domain/analysis"
	"github.com/fplsage/fpl-sage/internal/platform/logging"
	"github.com/fplsage/fpl-sage/internal/usecase"
)

type fakeCollector struct {
	bundle *fplapi.TeamBundle
	err    error
}

func (f *fakeCollector) CollectTeamData(ctx context.Context, teamID int64, gameweek int) (*fplapi.TeamBundle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bundle, nil
}

func testBundle() *fplapi.TeamBundle {
	return &fplapi.TeamBundle{
		CurrentGW: 12,
		TargetGW:  12,
		Bootstrap: &fplapi.Bootstrap{
			Events: []fplapi.GameweekEvent{
				{ID: 12, IsCurrent: true, DeadlineTime: "2026-11-21T11:00:00Z"},
				{ID: 13, IsNext: true, DeadlineTime: "2026-11-28T11:00:00Z"},
			},
			Teams: []fplapi.Club{
				{ID: 1, Name: "Arsenal", ShortName: "ARS"},
				{ID: 2, Name: "Liverpool", ShortName: "LIV"},
			},
			Elements: []fplapi.Player{
				{ID: 1, WebName: "Raya", Team: 1, ElementType: 1, NowCost: 55, Status: "a", EPNext: "4.5", SelectedByPercent: "20.1"},
				{ID: 2, WebName: "Saliba", Team: 1, ElementType: 2, NowCost: 60, Status: "a", EPNext: "4.0"},
				{ID: 3, WebName: "Saka", Team: 1, ElementType: 3, NowCost: 102, Status: "a", EPNext: "7.2", SelectedByPercent: "55.0"},
				{ID: 4, WebName: "Salah", Team: 2, ElementType: 3, NowCost: 131, Status: "a", EPNext: "8.4", SelectedByPercent: "61.2"},
				{ID: 5, WebName: "Darwin", Team: 2, ElementType: 4, NowCost: 72, Status: "i", EPNext: "1.1", News: "knee injury"},
				{ID: 6, WebName: "Isak", Team: 2, ElementType: 4, NowCost: 70, Status: "a", EPNext: "6.3"},
				{ID: 7, WebName: "Watkins", Team: 1, ElementType: 4, NowCost: 88, Status: "a", EPNext: "5.5"},
			},
		},
		Picks: &fplapi.EntryPicks{
			Picks: []fplapi.Pick{
				{Element: 1, Position: 1},
				{Element: 2, Position: 2},
				{Element: 3, Position: 3},
				{Element: 4, Position: 4},
				{Element: 5, Position: 5},
				{Element: 7, Position: 12},
			},
		},
		Fetches: map[string]fplapi.FetchStatus{"bootstrap": fplapi.FetchOK},
	}
}

func TestRunRecommendsReplacementForInjuredPlayer(t *testing.T) {
	baseline := NewBaseline(&fakeCollector{bundle: testBundle()}, logging.NewNop())

	var phases []string
	out, err := baseline.Run(context.Background(), usecase.EngineInput{TeamID: 99}, func(phase string, _ float64) {
		if len(phases) == 0 || phases[len(phases)-1] != phase {
			phases = append(phases, phase)
		}
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	want := []string{usecase.PhaseCollecting, usecase.PhaseProjecting, usecase.PhaseDeciding}
	if len(phases) != len(want) {
		t.Fatalf("unexpected phases %v", phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("phase %d = %s, want %s", i, phases[i], want[i])
		}
	}

	if out.PrimaryDecision != "MAKE_TRANSFER" {
		t.Fatalf("expected MAKE_TRANSFER, got %s", out.PrimaryDecision)
	}
	if len(out.TransferPairs) != 1 {
		t.Fatalf("expected one pair, got %+v", out.TransferPairs)
	}
	pair := out.TransferPairs[0]
	if pair.Out.PlayerName != "Darwin" || pair.In.PlayerName != "Isak" {
		t.Fatalf("unexpected pair %+v", pair)
	}
	if pair.Priority != "URGENT" {
		t.Fatalf("injured player should be URGENT, got %s", pair.Priority)
	}

	if len(out.Captains) == 0 || out.Captains[0].Name != "Salah" {
		t.Fatalf("expected Salah as top captain, got %+v", out.Captains)
	}
	if out.Confidence != "HIGH" {
		t.Fatalf("expected HIGH confidence, got %s", out.Confidence)
	}
	if out.NextDeadline == nil {
		t.Fatal("expected next deadline")
	}

	foundNews := false
	for _, weakness := range out.Weaknesses {
		if weakness == "Darwin: knee injury" {
			foundNews = true
		}
	}
	if !foundNews {
		t.Fatalf("expected injury weakness, got %v", out.Weaknesses)
	}
}

func TestRunHonorsOverrides(t *testing.T) {
	baseline := NewBaseline(&fakeCollector{bundle: testBundle()}, logging.NewNop())

	zero := 0
	out, err := baseline.Run(context.Background(), usecase.EngineInput{
		TeamID: 99,
		Overrides: &analysis.Overrides{
			FreeTransfers:  &zero,
			AvailableChips: []analysis.ChipName{analysis.ChipBenchBoost},
			InjuryOverrides: []analysis.InjuryOverride{
				{Player: "Darwin", Status: analysis.InjuryFit, Chance: 100},
			},
		},
	}, func(string, float64) {})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(out.TransferPairs) != 0 || out.PrimaryDecision != "HOLD" {
		t.Fatalf("zero free transfers must suppress moves: %+v", out)
	}
	if out.ChipStrategy == nil || out.ChipStrategy.Decision != "HOLD_BENCH_BOOST" {
		t.Fatalf("expected bench boost hold advice, got %+v", out.ChipStrategy)
	}
}

func TestRunManualTransferRewritesSquad(t *testing.T) {
	baseline := NewBaseline(&fakeCollector{bundle: testBundle()}, logging.NewNop())

	out, err := baseline.Run(context.Background(), usecase.EngineInput{
		TeamID: 99,
		Overrides: &analysis.Overrides{
			ManualTransfers: []analysis.ManualTransfer{{PlayerOut: "Darwin", PlayerIn: "Isak"}},
		},
	}, func(string, float64) {})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	for _, name := range out.StartingXI {
		if name == "Darwin" {
			t.Fatalf("manual transfer not applied: %v", out.StartingXI)
		}
	}
	if out.PrimaryDecision != "HOLD" {
		t.Fatalf("healthy squad should hold, got %s with %+v", out.PrimaryDecision, out.TransferPairs)
	}
}

func TestRunPropagatesCollectorFailure(t *testing.T) {
	wantErr := errors.New("bootstrap down")
	baseline := NewBaseline(&fakeCollector{err: wantErr}, logging.NewNop())

	_, err := baseline.Run(context.Background(), usecase.EngineInput{TeamID: 99}, func(string, float64) {})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected collector error, got %v", err)
	}
}
