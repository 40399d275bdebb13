package entity

import "testing"

func tenMatches() []CycleMatch {
	matches := make([]CycleMatch, CycleMatchCount)
	for i := range matches {
		matches[i] = CycleMatch{
			FixtureID: "m" + string(rune('0'+i)),
			StartTime: 1_700_000_000,
			OddsHome:  1500, OddsDraw: 3200, OddsAway: 4100,
			OddsOver: 1800, OddsUnder: 1950,
		}
	}
	return matches
}

func TestCycleStateTransitions(t *testing.T) {
	allowed := []struct{ from, to CycleState }{
		{CycleNotStarted, CycleActive},
		{CycleActive, CycleEnded},
		{CycleEnded, CycleResolved},
	}
	for _, tt := range allowed {
		if !tt.from.CanTransition(tt.to) {
			t.Errorf("%s -> %s should be allowed", tt.from, tt.to)
		}
	}

	forbidden := []struct{ from, to CycleState }{
		{CycleNotStarted, CycleEnded},
		{CycleNotStarted, CycleResolved},
		{CycleActive, CycleResolved},
		{CycleResolved, CycleActive},
		{CycleEnded, CycleActive},
	}
	for _, tt := range forbidden {
		if tt.from.CanTransition(tt.to) {
			t.Errorf("%s -> %s should be forbidden", tt.from, tt.to)
		}
	}
}

func TestCycleValidate(t *testing.T) {
	c := &Cycle{CycleID: 7, Matches: tenMatches(), State: CycleActive}
	if err := c.Validate(); err != nil {
		t.Fatalf("valid cycle rejected: %v", err)
	}

	short := &Cycle{CycleID: 8, Matches: tenMatches()[:9], State: CycleActive}
	if err := short.Validate(); err == nil {
		t.Error("cycle with 9 matches should fail")
	}

	resolvedNoTx := &Cycle{CycleID: 9, Matches: tenMatches(), State: CycleResolved}
	if err := resolvedNoTx.Validate(); err == nil {
		t.Error("resolved cycle without resolution tx should fail")
	}
}

func TestCycleHasFixture(t *testing.T) {
	c := &Cycle{CycleID: 10, Matches: tenMatches()}
	if !c.HasFixture("m0") {
		t.Error("m0 should be in the cycle")
	}
	if c.HasFixture("unknown") {
		t.Error("unknown fixture should not be in the cycle")
	}
}
