package entity

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Bet mirrors a single BetPlaced event. Bets are immutable once indexed and
// are keyed by (tx hash, log index) so replayed logs cannot duplicate them.
type Bet struct {
	PoolID       uint64
	Bettor       common.Address
	Amount       *big.Int
	IsForOutcome bool
	BlockNumber  uint64
	TxHash       []byte
	LogIndex     uint32
}

// NewBet creates a validated Bet.
func NewBet(poolID uint64, bettor common.Address, amount *big.Int, isForOutcome bool, blockNumber uint64, txHash []byte, logIndex uint32) (*Bet, error) {
	b := &Bet{
		PoolID:       poolID,
		Bettor:       bettor,
		Amount:       amount,
		IsForOutcome: isForOutcome,
		BlockNumber:  blockNumber,
		TxHash:       txHash,
		LogIndex:     logIndex,
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bet) validate() error {
	if b.Amount == nil || b.Amount.Sign() <= 0 {
		return fmt.Errorf("bet amount must be positive")
	}
	if len(b.TxHash) != 32 {
		return fmt.Errorf("tx hash must be 32 bytes, got %d", len(b.TxHash))
	}
	if b.Bettor == (common.Address{}) {
		return fmt.Errorf("bettor address must not be zero")
	}
	return nil
}
