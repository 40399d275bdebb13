package entity

import (
	"fmt"
	"time"
)

// CycleMatchCount is the fixed number of fixtures per Oddyssey cycle.
// The contract's startDailyCycle and resolveDailyCycle both take exactly
// this many slots.
const CycleMatchCount = 10

// CycleState models the daily cycle lifecycle.
type CycleState string

const (
	CycleNotStarted CycleState = "NotStarted"
	CycleActive     CycleState = "Active"
	CycleEnded      CycleState = "Ended"
	CycleResolved   CycleState = "Resolved"
)

// validCycleTransitions lists the allowed state machine edges.
var validCycleTransitions = map[CycleState][]CycleState{
	CycleNotStarted: {CycleActive},
	CycleActive:     {CycleEnded},
	CycleEnded:      {CycleResolved},
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s CycleState) CanTransition(next CycleState) bool {
	for _, allowed := range validCycleTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CycleMatch is one of the ten fixtures selected into a cycle, with the
// odds frozen at selection time (scaled by 1000 for on-chain arithmetic).
type CycleMatch struct {
	FixtureID string `json:"fixtureId"`
	StartTime int64  `json:"startTime"`
	OddsHome  uint32 `json:"oddsHome"`
	OddsDraw  uint32 `json:"oddsDraw"`
	OddsAway  uint32 `json:"oddsAway"`
	OddsOver  uint32 `json:"oddsOver"`
	OddsUnder uint32 `json:"oddsUnder"`
}

// Cycle is a daily Oddyssey parlay round.
type Cycle struct {
	CycleID   uint64
	StartTime time.Time
	EndTime   time.Time
	Matches   []CycleMatch
	State     CycleState

	// TxHash is the startDailyCycle transaction.
	TxHash []byte
	// ResolutionTx is the resolveDailyCycle transaction, nil until resolved.
	ResolutionTx []byte
	ResolvedAt   *time.Time

	ReadyForResolution bool
	// PreparedResults holds the formatted per-slot results awaiting the
	// resolution transaction, serialised as JSON.
	PreparedResults []byte
}

// Validate enforces the cycle invariants that hold regardless of state.
func (c *Cycle) Validate() error {
	if len(c.Matches) != CycleMatchCount {
		return fmt.Errorf("cycle %d has %d matches, want %d", c.CycleID, len(c.Matches), CycleMatchCount)
	}
	if c.State == CycleResolved && len(c.ResolutionTx) == 0 {
		return fmt.Errorf("cycle %d resolved without a resolution tx", c.CycleID)
	}
	return nil
}

// HasFixture reports whether the fixture belongs to this cycle.
func (c *Cycle) HasFixture(fixtureID string) bool {
	for _, m := range c.Matches {
		if m.FixtureID == fixtureID {
			return true
		}
	}
	return false
}
