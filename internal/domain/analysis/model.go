package analysis

import "time"

const (
	MinTeamID = 1
	MaxTeamID = 20_000_000

	MinGameweek = 1
	MaxGameweek = 38
)

// ValidTeamID reports whether id is inside the FPL entry id range.
func ValidTeamID(id int64) bool {
	return id >= MinTeamID && id <= MaxTeamID
}

// ValidGameweek reports whether gw is a real FPL gameweek number.
func ValidGameweek(gw int) bool {
	return gw >= MinGameweek && gw <= MaxGameweek
}

type RiskPosture string

const (
	RiskConservative RiskPosture = "conservative"
	RiskBalanced     RiskPosture = "balanced"
	RiskAggressive   RiskPosture = "aggressive"
)

func ValidRiskPosture(v RiskPosture) bool {
	switch v {
	case RiskConservative, RiskBalanced, RiskAggressive:
		return true
	default:
		return false
	}
}

type ChipName string

const (
	ChipWildcard      ChipName = "wildcard"
	ChipFreeHit       ChipName = "free_hit"
	ChipBenchBoost    ChipName = "bench_boost"
	ChipTripleCaptain ChipName = "triple_captain"
)

func ValidChipName(v ChipName) bool {
	switch v {
	case ChipWildcard, ChipFreeHit, ChipBenchBoost, ChipTripleCaptain:
		return true
	default:
		return false
	}
}

type InjuryStatus string

const (
	InjuryFit      InjuryStatus = "FIT"
	InjuryDoubtful InjuryStatus = "DOUBTFUL"
	InjuryOut      InjuryStatus = "OUT"
)

// ManualTransfer is a squad change the manager has already committed on
// the upstream site but which has not surfaced in the upstream API yet.
// Names are free-form; resolution is the engine's concern.
type ManualTransfer struct {
	PlayerOut string `json:"player_out" validate:"required"`
	PlayerIn  string `json:"player_in" validate:"required"`
}

type InjuryOverride struct {
	Player string       `json:"player" validate:"required"`
	Status InjuryStatus `json:"status" validate:"required,oneof=FIT DOUBTFUL OUT"`
	Chance int          `json:"chance" validate:"gte=0,lte=100"`
}

// Overrides carries caller-injected manual state. Every field is
// optional; the presence of any field, even an empty list, marks the
// request as overridden and suppresses the result cache.
type Overrides struct {
	AvailableChips  []ChipName         `json:"available_chips,omitempty"`
	FreeTransfers   *int               `json:"free_transfers,omitempty"`
	RiskPosture     RiskPosture        `json:"risk_posture,omitempty"`
	ManualTransfers []ManualTransfer   `json:"manual_transfers,omitempty"`
	InjuryOverrides []InjuryOverride   `json:"injury_overrides,omitempty"`
	Thresholds      map[string]float64 `json:"thresholds,omitempty"`
}

// Empty is true only when no override field was supplied at all.
// A present-but-empty list still counts as an override.
func (o *Overrides) Empty() bool {
	if o == nil {
		return true
	}
	return o.AvailableChips == nil &&
		o.FreeTransfers == nil &&
		o.RiskPosture == "" &&
		o.ManualTransfers == nil &&
		o.InjuryOverrides == nil &&
		o.Thresholds == nil
}

type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// JobError is the persisted failure of an analysis run. Code is one of
// the stable wire codes (UPSTREAM_UNAVAILABLE, SEASON_RESOLUTION_UNKNOWN,
// ENGINE_EXCEPTION, ENGINE_TIMEOUT); clients branch on it, not on prose.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Job tracks one analysis run. Between StartedAt and a terminal status
// the owning background task is the only writer; everyone else observes
// read-only snapshots through the store.
type Job struct {
	ID         string     `json:"analysis_id"`
	TeamID     int64      `json:"team_id"`
	Gameweek   int        `json:"gameweek,omitempty"`
	Status     JobStatus  `json:"status"`
	Phase      string     `json:"phase,omitempty"`
	Progress   float64    `json:"progress"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     *Result    `json:"result,omitempty"`
	Error      *JobError  `json:"error,omitempty"`
	Overrides  *Overrides `json:"overrides,omitempty"`
}

type EventType string

const (
	EventProgress  EventType = "progress"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
	EventCancelled EventType = "cancelled"
	EventHeartbeat EventType = "heartbeat"
)

// Event is one frame on a job's progress stream.
type Event struct {
	Type     EventType `json:"type"`
	Progress float64   `json:"progress,omitempty"`
	Phase    string    `json:"phase,omitempty"`
	Result   *Result   `json:"result,omitempty"`
	Code     string    `json:"code,omitempty"`
	Message  string    `json:"message,omitempty"`
}

func (e Event) Terminal() bool {
	switch e.Type {
	case EventComplete, EventError, EventCancelled:
		return true
	default:
		return false
	}
}
