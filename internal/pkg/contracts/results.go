package contracts

import (
	"fmt"

	"github.com/bitredict/relayer/internal/domain/entity"
)

// MoneylineResult is the on-chain encoding of a match's 1X2 outcome in a
// cycle resolution.
type MoneylineResult uint8

const (
	MoneylineNotSet        MoneylineResult = 0
	MoneylineHomeWin       MoneylineResult = 1
	MoneylineDraw          MoneylineResult = 2
	MoneylineAwayWin       MoneylineResult = 3
	MoneylineNotApplicable MoneylineResult = 4
)

// OverUnderResult is the on-chain encoding of a match's over/under 2.5
// outcome in a cycle resolution.
type OverUnderResult uint8

const (
	OverUnderNotSet        OverUnderResult = 0
	OverUnderOver          OverUnderResult = 1
	OverUnderUnder         OverUnderResult = 2
	OverUnderNotApplicable OverUnderResult = 3
)

// CycleResult is one entry of the results array passed to
// resolveDailyCycle. Field names follow the ABI tuple components.
type CycleResult struct {
	Moneyline uint8 `abi:"moneyline"`
	OverUnder uint8 `abi:"overUnder"`
}

// CycleMatchInput is one entry of the matches array passed to
// startDailyCycle.
type CycleMatchInput struct {
	MatchId   uint64 `abi:"matchId"`
	StartTime uint64 `abi:"startTime"`
	OddsHome  uint32 `abi:"oddsHome"`
	OddsDraw  uint32 `abi:"oddsDraw"`
	OddsAway  uint32 `abi:"oddsAway"`
	OddsOver  uint32 `abi:"oddsOver"`
	OddsUnder uint32 `abi:"oddsUnder"`
}

// MoneylineFromOutcome maps a derived 1X2 selection to its on-chain code.
func MoneylineFromOutcome(sel string) (MoneylineResult, error) {
	switch sel {
	case entity.SelectionHome:
		return MoneylineHomeWin, nil
	case entity.SelectionDraw:
		return MoneylineDraw, nil
	case entity.SelectionAway:
		return MoneylineAwayWin, nil
	default:
		return MoneylineNotSet, fmt.Errorf("unknown moneyline outcome %q", sel)
	}
}

// OverUnderFromOutcome maps a derived over/under selection to its on-chain
// code.
func OverUnderFromOutcome(sel string) (OverUnderResult, error) {
	switch sel {
	case entity.SelectionOver:
		return OverUnderOver, nil
	case entity.SelectionUnder:
		return OverUnderUnder, nil
	default:
		return OverUnderNotSet, fmt.Errorf("unknown over/under outcome %q", sel)
	}
}

// ResultFromFixture converts a finished fixture's result into the cycle
// result tuple. Cancelled or otherwise voided fixtures map to the
// not-applicable codes, which the contract scores as a push.
func ResultFromFixture(res *entity.FixtureResult, void bool) (CycleResult, error) {
	if void {
		return CycleResult{
			Moneyline: uint8(MoneylineNotApplicable),
			OverUnder: uint8(OverUnderNotApplicable),
		}, nil
	}
	ml, err := MoneylineFromOutcome(res.Outcome1X2)
	if err != nil {
		return CycleResult{}, err
	}
	ou, err := OverUnderFromOutcome(res.OutcomeOU25)
	if err != nil {
		return CycleResult{}, err
	}
	return CycleResult{Moneyline: uint8(ml), OverUnder: uint8(ou)}, nil
}
