package entity

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BetType is the kind of market a single Oddyssey prediction targets.
type BetType string

const (
	BetMoneyline BetType = "MONEYLINE"
	BetOverUnder BetType = "OVER_UNDER"
)

// IsValid reports whether the bet type is one of the two permitted kinds.
func (b BetType) IsValid() bool {
	return b == BetMoneyline || b == BetOverUnder
}

// OddsScale is the fixed factor by which decimal odds are scaled to integers
// for on-chain arithmetic (2.5x = 2500).
const OddsScale = 1000

// Prediction is one slot of a parlay slip. It is stored as JSONB and the
// shape is discriminated by BetType: MONEYLINE selections are "1"/"X"/"2",
// OVER_UNDER selections are "Over"/"Under".
type Prediction struct {
	FixtureID   string  `json:"fixtureId"`
	BetType     BetType `json:"betType"`
	Selection   string  `json:"selection"`
	SelectedOdd uint32  `json:"selectedOdd"`
}

// Validate checks the prediction's selection against its bet type.
func (p Prediction) Validate() error {
	switch p.BetType {
	case BetMoneyline:
		if p.Selection != SelectionHome && p.Selection != SelectionDraw && p.Selection != SelectionAway {
			return fmt.Errorf("moneyline selection %q is not 1, X or 2", p.Selection)
		}
	case BetOverUnder:
		if p.Selection != SelectionOver && p.Selection != SelectionUnder {
			return fmt.Errorf("over/under selection %q is not Over or Under", p.Selection)
		}
	default:
		return fmt.Errorf("unknown bet type %q", p.BetType)
	}
	if p.SelectedOdd < OddsScale {
		return fmt.Errorf("selected odd %d is below the %d scale floor", p.SelectedOdd, OddsScale)
	}
	return nil
}

// Slip is a user's parlay entry for one cycle.
type Slip struct {
	SlipID      uint64
	CycleID     uint64
	Player      common.Address
	PlacedAt    time.Time
	Predictions []Prediction

	IsEvaluated  bool
	CorrectCount uint8
	// FinalScore is the 1000-scaled multiplicative parlay score. It can
	// exceed 64 bits with ten high-odds picks, so it is carried as a big
	// integer end to end and stored as NUMERIC.
	FinalScore *big.Int

	// Rank is the position within the cycle's leaderboard, 0 until frozen.
	Rank         int
	PrizeClaimed bool
}

// Validate enforces the exactly-ten-predictions invariant.
func (s *Slip) Validate() error {
	if len(s.Predictions) != CycleMatchCount {
		return fmt.Errorf("slip %d has %d predictions, want %d", s.SlipID, len(s.Predictions), CycleMatchCount)
	}
	for i, p := range s.Predictions {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("prediction %d: %w", i, err)
		}
	}
	return nil
}

// MarshalPredictions serialises the predictions for JSONB storage.
func (s *Slip) MarshalPredictions() ([]byte, error) {
	data, err := json.Marshal(s.Predictions)
	if err != nil {
		return nil, fmt.Errorf("marshalling predictions: %w", err)
	}
	return data, nil
}

// UnmarshalPredictions parses a JSONB predictions payload through the typed
// codec, rejecting malformed slots.
func UnmarshalPredictions(data []byte) ([]Prediction, error) {
	var preds []Prediction
	if err := json.Unmarshal(data, &preds); err != nil {
		return nil, fmt.Errorf("parsing predictions payload: %w", err)
	}
	for i, p := range preds {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("prediction %d: %w", i, err)
		}
	}
	return preds, nil
}
