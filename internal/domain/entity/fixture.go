package entity

import (
	"fmt"
	"time"
)

// FixtureStatus is the normalised lifecycle state of an external fixture.
type FixtureStatus string

const (
	FixtureScheduled FixtureStatus = "scheduled"
	FixtureInPlay    FixtureStatus = "in_play"
	FixtureFinished  FixtureStatus = "finished"
	FixtureCancelled FixtureStatus = "cancelled"
	FixturePostponed FixtureStatus = "postponed"
)

// IsTerminal reports whether no further score changes can occur.
func (s FixtureStatus) IsTerminal() bool {
	return s == FixtureFinished || s == FixtureCancelled
}

// FixtureOdds carries the decimal odds scaled by 1000 (1500 = 1.5x) for the
// two markets the Oddyssey game uses.
type FixtureOdds struct {
	Home    uint32 `json:"home"`
	Draw    uint32 `json:"draw"`
	Away    uint32 `json:"away"`
	Over25  uint32 `json:"over25"`
	Under25 uint32 `json:"under25"`
}

// Complete reports whether both the 1X2 and OU2.5 markets are quoted.
func (o FixtureOdds) Complete() bool {
	return o.Home > 0 && o.Draw > 0 && o.Away > 0 && o.Over25 > 0 && o.Under25 > 0
}

// Fixture mirrors a football fixture owned by the external results provider.
type Fixture struct {
	FixtureID string
	League    string
	HomeTeam  string
	AwayTeam  string
	MatchDate time.Time
	Status    FixtureStatus
	Odds      FixtureOdds

	// Scores are nil until the provider reports them.
	HomeScore   *int
	AwayScore   *int
	HTHomeScore *int
	HTAwayScore *int
	FinishedAt  *time.Time
}

// Validate checks the finished-implies-scores invariant.
func (f *Fixture) Validate() error {
	if f.FixtureID == "" {
		return fmt.Errorf("fixture id must not be empty")
	}
	if f.Status == FixtureFinished && (f.HomeScore == nil || f.AwayScore == nil) {
		return fmt.Errorf("fixture %s finished without scores", f.FixtureID)
	}
	return nil
}

// FixtureResult holds a finished fixture's scores and their derived outcomes.
// The derivations are always recomputed from the scores, never trusted from
// a cached string.
type FixtureResult struct {
	FixtureID string `json:"fixtureId"`
	HomeScore int    `json:"homeScore"`
	AwayScore int    `json:"awayScore"`

	Outcome1X2  string `json:"outcome1x2"`
	OutcomeOU25 string `json:"outcomeOu25"`
	OutcomeBTTS string `json:"outcomeBtts"`

	// Half-time derivations are empty when the provider omits HT scores.
	OutcomeHT1X2  string `json:"outcomeHt1x2,omitempty"`
	OutcomeHTOU15 string `json:"outcomeHtOu15,omitempty"`
}

// Outcome selections shared between pools and Oddyssey predictions.
const (
	SelectionHome  = "1"
	SelectionDraw  = "X"
	SelectionAway  = "2"
	SelectionOver  = "Over"
	SelectionUnder = "Under"
	SelectionYes   = "Yes"
	SelectionNo    = "No"
)

// Outcome1X2 derives the three-way result from full-time scores.
func Outcome1X2(home, away int) string {
	switch {
	case home > away:
		return SelectionHome
	case away > home:
		return SelectionAway
	default:
		return SelectionDraw
	}
}

// OutcomeOU25 derives the over/under 2.5 goals result.
func OutcomeOU25(home, away int) string {
	if home+away > 2 {
		return SelectionOver
	}
	return SelectionUnder
}

// OutcomeBTTS derives the both-teams-to-score result.
func OutcomeBTTS(home, away int) string {
	if home >= 1 && away >= 1 {
		return SelectionYes
	}
	return SelectionNo
}

// OutcomeHTOU15 derives the half-time over/under 1.5 goals result.
func OutcomeHTOU15(home, away int) string {
	if home+away > 1 {
		return SelectionOver
	}
	return SelectionUnder
}

// DeriveResult computes all outcome derivations for a finished fixture.
// Returns an error if the fixture has no full-time scores.
func (f *Fixture) DeriveResult() (*FixtureResult, error) {
	if f.HomeScore == nil || f.AwayScore == nil {
		return nil, fmt.Errorf("fixture %s has no full-time scores", f.FixtureID)
	}
	home, away := *f.HomeScore, *f.AwayScore

	r := &FixtureResult{
		FixtureID:   f.FixtureID,
		HomeScore:   home,
		AwayScore:   away,
		Outcome1X2:  Outcome1X2(home, away),
		OutcomeOU25: OutcomeOU25(home, away),
		OutcomeBTTS: OutcomeBTTS(home, away),
	}

	if f.HTHomeScore != nil && f.HTAwayScore != nil {
		r.OutcomeHT1X2 = Outcome1X2(*f.HTHomeScore, *f.HTAwayScore)
		r.OutcomeHTOU15 = OutcomeHTOU15(*f.HTHomeScore, *f.HTAwayScore)
	}

	return r, nil
}
