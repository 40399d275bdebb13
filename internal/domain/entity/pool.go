package entity

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OracleType identifies how a pool's outcome is resolved.
type OracleType uint8

const (
	// OracleGuided pools settle from outcomes posted by the trusted oracle bot.
	OracleGuided OracleType = 0
	// OracleOpen pools settle through the optimistic oracle's dispute flow.
	OracleOpen OracleType = 1
)

// String returns the string representation of the OracleType.
func (o OracleType) String() string {
	switch o {
	case OracleGuided:
		return "GUIDED"
	case OracleOpen:
		return "OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(o))
	}
}

// PoolFlags holds the pool's packed boolean state. The contract stores these
// as bits; off-chain code only ever sees the named fields.
type PoolFlags struct {
	Settled        bool
	CreatorSideWon bool
	Private        bool
	UsesBitr       bool
	Refunded       bool
}

// Pack encodes the flags into the contract's bit layout.
func (f PoolFlags) Pack() uint8 {
	var b uint8
	if f.Settled {
		b |= 1 << 0
	}
	if f.CreatorSideWon {
		b |= 1 << 1
	}
	if f.Private {
		b |= 1 << 2
	}
	if f.UsesBitr {
		b |= 1 << 3
	}
	if f.Refunded {
		b |= 1 << 4
	}
	return b
}

// UnpackPoolFlags decodes the contract's packed flag byte.
func UnpackPoolFlags(b uint8) PoolFlags {
	return PoolFlags{
		Settled:        b&(1<<0) != 0,
		CreatorSideWon: b&(1<<1) != 0,
		Private:        b&(1<<2) != 0,
		UsesBitr:       b&(1<<3) != 0,
		Refunded:       b&(1<<4) != 0,
	}
}

// Pool mirrors a prediction-market pool from the PoolCore contract.
// Pools are created on-chain and never deleted; the mirror only ever
// upserts and mutates rows in response to events.
type Pool struct {
	PoolID           uint64
	Creator          common.Address
	PredictedOutcome common.Hash
	// Odds are scaled by 100 (101 = 1.01x, 10000 = 100x).
	Odds                  uint32
	CreatorStake          *big.Int
	TotalCreatorSideStake *big.Int
	TotalBettorStake      *big.Int
	MaxBettorStake        *big.Int

	// Unix seconds.
	EventStartTime      int64
	EventEndTime        int64
	BettingEndTime      int64
	ArbitrationDeadline int64

	Oracle     OracleType
	MarketType uint8
	// MarketID references the external fixture or price feed this pool
	// settles against (e.g. a football fixture id).
	MarketID string

	Result common.Hash
	Flags  PoolFlags

	League   string
	Category string
	Region   string
	HomeTeam string
	AwayTeam string
	Title    string

	// SettlementTx is the hash of the settlePool/refundPool transaction,
	// nil while the pool is open.
	SettlementTx []byte
}

// minOdds and maxOdds bound the contract's 100-scaled odds range.
const (
	minOdds = 101
	maxOdds = 10000
)

// Validate checks the pool's internal consistency before persistence.
func (p *Pool) Validate() error {
	if p.Odds < minOdds || p.Odds > maxOdds {
		return fmt.Errorf("odds %d outside [%d, %d]", p.Odds, minOdds, maxOdds)
	}
	if p.CreatorStake == nil || p.CreatorStake.Sign() < 0 {
		return fmt.Errorf("creator stake must be a non-negative big integer")
	}
	if p.Flags.Settled && p.Flags.Refunded {
		return fmt.Errorf("pool %d cannot be both settled and refunded", p.PoolID)
	}
	if p.Flags.Settled && p.Result == (common.Hash{}) {
		return fmt.Errorf("pool %d settled without a result hash", p.PoolID)
	}
	if p.Oracle == OracleGuided && p.MarketID == "" {
		return fmt.Errorf("guided pool %d has no market id", p.PoolID)
	}
	return nil
}

// IsOpen reports whether the pool can still be settled or refunded.
func (p *Pool) IsOpen() bool {
	return !p.Flags.Settled && !p.Flags.Refunded
}

// RefundEligible reports whether the no-bets refund path applies: the event
// has ended, nobody bet against the creator, and the pool is still open.
func (p *Pool) RefundEligible(nowUnix int64) bool {
	return p.IsOpen() &&
		p.EventEndTime < nowUnix &&
		(p.TotalBettorStake == nil || p.TotalBettorStake.Sign() == 0)
}
