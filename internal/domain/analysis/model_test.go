package analysis

import "testing"

func TestValidTeamID(t *testing.T) {
	cases := []struct {
		id   int64
		want bool
	}{
		{0, false},
		{1, true},
		{4_521_337, true},
		{20_000_000, true},
		{20_000_001, false},
		{-7, false},
	}
	for _, tc := range cases {
		if got := ValidTeamID(tc.id); got != tc.want {
			t.Fatalf("ValidTeamID(%d) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestValidGameweek(t *testing.T) {
	cases := []struct {
		gw   int
		want bool
	}{
		{0, false},
		{1, true},
		{38, true},
		{39, false},
	}
	for _, tc := range cases {
		if got := ValidGameweek(tc.gw); got != tc.want {
			t.Fatalf("ValidGameweek(%d) = %v, want %v", tc.gw, got, tc.want)
		}
	}
}

func TestOverridesEmpty(t *testing.T) {
	var nilOverrides *Overrides
	if !nilOverrides.Empty() {
		t.Fatal("nil overrides should be empty")
	}
	if !(&Overrides{}).Empty() {
		t.Fatal("zero overrides should be empty")
	}

	// A present-but-empty list is still an override.
	if (&Overrides{ManualTransfers: []ManualTransfer{}}).Empty() {
		t.Fatal("empty manual_transfers list should not count as empty")
	}

	ft := 2
	if (&Overrides{FreeTransfers: &ft}).Empty() {
		t.Fatal("free_transfers override should not count as empty")
	}
	if (&Overrides{RiskPosture: RiskAggressive}).Empty() {
		t.Fatal("risk_posture override should not count as empty")
	}
}

func TestJobStatusTerminal(t *testing.T) {
	for status, want := range map[JobStatus]bool{
		StatusQueued:    false,
		StatusRunning:   false,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	} {
		if got := status.Terminal(); got != want {
			t.Fatalf("Terminal(%s) = %v, want %v", status, got, want)
		}
	}
}
