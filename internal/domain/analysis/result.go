package analysis

// Result is the wire form of one completed analysis. Field names and
// shapes are part of the public contract; clients parse them directly.
type Result struct {
	AnalysisID              string                   `json:"analysis_id"`
	TeamID                  int64                    `json:"team_id"`
	CurrentGW               int                      `json:"current_gw"`
	PrimaryDecision         string                   `json:"primary_decision"`
	Confidence              string                   `json:"confidence"`
	Captain                 *CaptainPick             `json:"captain,omitempty"`
	ViceCaptain             *CaptainPick             `json:"vice_captain,omitempty"`
	TransferRecommendations []TransferRecommendation `json:"transfer_recommendations"`
	ChipStrategy            *ChipStrategy            `json:"chip_strategy,omitempty"`
	StartingXI              []string                 `json:"starting_xi,omitempty"`
	Bench                   []string                 `json:"bench,omitempty"`
	ProjectedXI             []string                 `json:"projected_xi,omitempty"`
	ProjectedBench          []string                 `json:"projected_bench,omitempty"`
	Weaknesses              []string                 `json:"weaknesses,omitempty"`
	Meta                    ResultMeta               `json:"meta"`
}

type CaptainPick struct {
	Name         string `json:"name"`
	Team         string `json:"team"`
	Position     string `json:"position"`
	ExpectedPts  string `json:"expected_pts"`
	OwnershipPct string `json:"ownership_pct"`
	Rationale    string `json:"rationale"`
}

type TransferRecommendation struct {
	Action      string `json:"action"`
	PlayerName  string `json:"player_name"`
	Position    string `json:"position"`
	Team        string `json:"team"`
	Price       string `json:"price"`
	Priority    string `json:"priority"`
	Reason      string `json:"reason"`
	ExpectedPts string `json:"expected_pts,omitempty"`
}

type ChipStrategy struct {
	Decision  string `json:"decision"`
	Rationale string `json:"rationale"`
	Timing    string `json:"timing,omitempty"`
	BestGW    int    `json:"best_gw,omitempty"`
}

type ResultMeta struct {
	RunID       string `json:"run_id"`
	GeneratedAt string `json:"generated_at"`
}
