package entity

import (
	"fmt"
	"time"
)

// OracleSubmission records a confirmed submitOutcome transaction. The unique
// key on MarketID is what enforces at-most-once submission off-chain; the
// guided oracle contract enforces the same on-chain.
type OracleSubmission struct {
	MarketID    string
	Result      []byte
	TxHash      []byte
	BlockNumber uint64
	SubmittedAt time.Time
}

// NewOracleSubmission creates a validated submission record.
func NewOracleSubmission(marketID string, result, txHash []byte, blockNumber uint64, submittedAt time.Time) (*OracleSubmission, error) {
	if marketID == "" {
		return nil, fmt.Errorf("market id must not be empty")
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("result bytes must not be empty")
	}
	if len(txHash) != 32 {
		return nil, fmt.Errorf("tx hash must be 32 bytes, got %d", len(txHash))
	}
	return &OracleSubmission{
		MarketID:    marketID,
		Result:      result,
		TxHash:      txHash,
		BlockNumber: blockNumber,
		SubmittedAt: submittedAt,
	}, nil
}
