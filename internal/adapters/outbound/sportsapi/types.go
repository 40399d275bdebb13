package sportsapi

// apiFixture is the provider's wire representation of a fixture. Scores and
// odds are optional: scheduled fixtures carry no scores, and smaller
// leagues may be quoted on only some markets.
type apiFixture struct {
	ID         int64      `json:"id"`
	LeagueName string     `json:"league_name"`
	HomeTeam   string     `json:"home_team"`
	AwayTeam   string     `json:"away_team"`
	StartingAt int64      `json:"starting_at"` // unix seconds
	State      string     `json:"state"`
	Scores     *apiScores `json:"scores,omitempty"`
	Odds       *apiOdds   `json:"odds,omitempty"`
}

type apiScores struct {
	Home   *int `json:"home"`
	Away   *int `json:"away"`
	HTHome *int `json:"ht_home,omitempty"`
	HTAway *int `json:"ht_away,omitempty"`
}

// apiOdds carries decimal odds as floats; they are scaled to integers at
// the normalisation boundary and never used as floats past it.
type apiOdds struct {
	Home    float64 `json:"home"`
	Draw    float64 `json:"draw"`
	Away    float64 `json:"away"`
	Over25  float64 `json:"over_25"`
	Under25 float64 `json:"under_25"`
}

type fixturesResponse struct {
	Data       []apiFixture `json:"data"`
	Pagination struct {
		CurrentPage int  `json:"current_page"`
		HasMore     bool `json:"has_more"`
	} `json:"pagination"`
}
