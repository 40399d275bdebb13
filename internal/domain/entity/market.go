package entity

import "fmt"

// MarketOutcomeType classifies which derivation a prediction market settles on.
type MarketOutcomeType string

const (
	OutcomeType1X2  MarketOutcomeType = "1X2"
	OutcomeTypeOU25 MarketOutcomeType = "OU25"
	OutcomeTypeBTTS MarketOutcomeType = "BTTS"
)

// MarketState tracks whether the external result has been determined.
type MarketState string

const (
	MarketPending  MarketState = "pending"
	MarketResolved MarketState = "resolved"
)

// PredictionMarket links a guided pool's market id to the external fixture
// and the bet type the pool settles on.
type PredictionMarket struct {
	PoolID           uint64
	MarketID         string
	FixtureID        string
	OutcomeType      MarketOutcomeType
	PredictedOutcome string
	// ResultOutcome is nil until the fixture finishes.
	ResultOutcome *string
	State         MarketState
}

// InferOutcomeType maps a pool's predicted-outcome string onto the market it
// must settle against: "1"/"X"/"2" are three-way selections, "Over"/"Under"
// the 2.5-goal line, "Yes"/"No" both-teams-to-score.
func InferOutcomeType(predictedOutcome string) (MarketOutcomeType, error) {
	switch predictedOutcome {
	case SelectionHome, SelectionDraw, SelectionAway:
		return OutcomeType1X2, nil
	case SelectionOver, SelectionUnder:
		return OutcomeTypeOU25, nil
	case SelectionYes, SelectionNo:
		return OutcomeTypeBTTS, nil
	default:
		return "", fmt.Errorf("cannot infer outcome type from %q", predictedOutcome)
	}
}

// OutcomeFor picks this market's settlement outcome from a fixture result.
func (m *PredictionMarket) OutcomeFor(result *FixtureResult) (string, error) {
	switch m.OutcomeType {
	case OutcomeType1X2:
		return result.Outcome1X2, nil
	case OutcomeTypeOU25:
		return result.OutcomeOU25, nil
	case OutcomeTypeBTTS:
		return result.OutcomeBTTS, nil
	default:
		return "", fmt.Errorf("unknown outcome type %q", m.OutcomeType)
	}
}
