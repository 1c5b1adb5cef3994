package fplapi

import "time"

// Bootstrap is the bootstrap-static payload: the season's gameweek
// calendar plus the full player and club catalogues.
type Bootstrap struct {
	Events   []GameweekEvent `json:"events"`
	Teams    []Club          `json:"teams"`
	Elements []Player        `json:"elements"`
}

type GameweekEvent struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	DeadlineTime string `json:"deadline_time"`
	Finished     bool   `json:"finished"`
	IsPrevious   bool   `json:"is_previous"`
	IsCurrent    bool   `json:"is_current"`
	IsNext       bool   `json:"is_next"`
}

// Deadline parses the event deadline, returning the zero time when the
// upstream value is missing or malformed.
func (e GameweekEvent) Deadline() time.Time {
	if e.DeadlineTime == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, e.DeadlineTime)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

type Club struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	ShortName string `json:"short_name"`
	Strength  int    `json:"strength"`
}

type Player struct {
	ID                       int    `json:"id"`
	WebName                  string `json:"web_name"`
	FirstName                string `json:"first_name"`
	SecondName               string `json:"second_name"`
	Team                     int    `json:"team"`
	ElementType              int    `json:"element_type"`
	NowCost                  int    `json:"now_cost"`
	Status                   string `json:"status"`
	ChanceOfPlayingNextRound *int   `json:"chance_of_playing_next_round"`
	SelectedByPercent        string `json:"selected_by_percent"`
	Form                     string `json:"form"`
	PointsPerGame            string `json:"points_per_game"`
	TotalPoints              int    `json:"total_points"`
	EPNext                   string `json:"ep_next"`
	News                     string `json:"news"`
	Minutes                  int    `json:"minutes"`
	ICTIndex                 string `json:"ict_index"`
	TransfersInEvent         int    `json:"transfers_in_event"`
	TransfersOutEvent        int    `json:"transfers_out_event"`
	CostChangeEvent          int    `json:"cost_change_event"`
	ExpectedGoalInvolvements string `json:"expected_goal_involvements"`
	EPThis                   string `json:"ep_this"`
	DreamteamCount           int    `json:"dreamteam_count"`
	ValueSeason              string `json:"value_season"`
}

type Fixture struct {
	ID                   int    `json:"id"`
	Event                *int   `json:"event"`
	TeamH                int    `json:"team_h"`
	TeamA                int    `json:"team_a"`
	TeamHDifficulty      int    `json:"team_h_difficulty"`
	TeamADifficulty      int    `json:"team_a_difficulty"`
	KickoffTime          string `json:"kickoff_time"`
	Finished             bool   `json:"finished"`
	FinishedProvisional  bool   `json:"finished_provisional"`
	TeamHScore           *int   `json:"team_h_score"`
	TeamAScore           *int   `json:"team_a_score"`
	ProvisionalStartTime bool   `json:"provisional_start_time"`
}

// Entry is the public profile of one manager's team.
type Entry struct {
	ID                   int64  `json:"id"`
	Name                 string `json:"name"`
	PlayerFirstName      string `json:"player_first_name"`
	PlayerLastName       string `json:"player_last_name"`
	SummaryOverallPoints int    `json:"summary_overall_points"`
	SummaryOverallRank   int    `json:"summary_overall_rank"`
	SummaryEventPoints   int    `json:"summary_event_points"`
	CurrentEvent         int    `json:"current_event"`
	LastDeadlineBank     int    `json:"last_deadline_bank"`
	LastDeadlineValue    int    `json:"last_deadline_value"`
}

type EntryHistory struct {
	Current []EntryHistoryRound `json:"current"`
	Chips   []ChipPlay          `json:"chips"`
}

type EntryHistoryRound struct {
	Event          int `json:"event"`
	Points         int `json:"points"`
	TotalPoints    int `json:"total_points"`
	Rank           int `json:"rank"`
	OverallRank    int `json:"overall_rank"`
	Bank           int `json:"bank"`
	Value          int `json:"value"`
	EventTransfers int `json:"event_transfers"`
	PointsOnBench  int `json:"points_on_bench"`
}

type ChipPlay struct {
	Name  string `json:"name"`
	Event int    `json:"event"`
}

// EntryPicks is the manager's squad for one gameweek.
type EntryPicks struct {
	ActiveChip   string           `json:"active_chip"`
	EntryHistory EntryRoundTotals `json:"entry_history"`
	Picks        []Pick           `json:"picks"`
}

type EntryRoundTotals struct {
	Event          int `json:"event"`
	Points         int `json:"points"`
	Bank           int `json:"bank"`
	Value          int `json:"value"`
	EventTransfers int `json:"event_transfers"`
}

type Pick struct {
	Element       int  `json:"element"`
	Position      int  `json:"position"`
	Multiplier    int  `json:"multiplier"`
	IsCaptain     bool `json:"is_captain"`
	IsViceCaptain bool `json:"is_vice_captain"`
}

// EventDetail is the per-gameweek summary payload: average and top
// scores plus the crowd's transfer and captaincy picks.
type EventDetail struct {
	ID                int         `json:"id"`
	AverageEntryScore int         `json:"average_entry_score"`
	HighestScore      *int        `json:"highest_score"`
	MostSelected      *int        `json:"most_selected"`
	MostTransferredIn *int        `json:"most_transferred_in"`
	MostCaptained     *int        `json:"most_captained"`
	MostViceCaptained *int        `json:"most_vice_captained"`
	TransfersMade     int         `json:"transfers_made"`
	ChipPlays         []ChipTally `json:"chip_plays"`
}

type ChipTally struct {
	ChipName  string `json:"chip_name"`
	NumPlayed int    `json:"num_played"`
}

// LiveEvent carries per-player live scoring for one gameweek.
type LiveEvent struct {
	Elements []LiveElement `json:"elements"`
}

type LiveElement struct {
	ID    int       `json:"id"`
	Stats LiveStats `json:"stats"`
}

type LiveStats struct {
	Minutes     int `json:"minutes"`
	TotalPoints int `json:"total_points"`
	GoalsScored int `json:"goals_scored"`
	Assists     int `json:"assists"`
	BonusPoints int `json:"bonus"`
}
