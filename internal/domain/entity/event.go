package entity

import (
	"encoding/json"
	"fmt"
)

// ChainEvent is a raw decoded contract log persisted for idempotency and
// auditability. The unique key (block number, tx hash, log index) makes
// duplicate inserts no-ops, which is what lets the indexer replay a window
// safely after a failed commit.
type ChainEvent struct {
	ID          int64
	Stream      string
	BlockNumber uint64
	TxHash      []byte
	LogIndex    uint32
	Address     []byte
	EventName   string
	EventData   json.RawMessage
}

// NewChainEvent creates a validated ChainEvent.
func NewChainEvent(stream string, blockNumber uint64, txHash []byte, logIndex uint32, address []byte, eventName string, eventData json.RawMessage) (*ChainEvent, error) {
	e := &ChainEvent{
		Stream:      stream,
		BlockNumber: blockNumber,
		TxHash:      txHash,
		LogIndex:    logIndex,
		Address:     address,
		EventName:   eventName,
		EventData:   eventData,
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *ChainEvent) validate() error {
	if e.Stream == "" {
		return fmt.Errorf("stream must not be empty")
	}
	if e.BlockNumber == 0 {
		return fmt.Errorf("block number must be positive")
	}
	if len(e.TxHash) != 32 {
		return fmt.Errorf("tx hash must be 32 bytes, got %d", len(e.TxHash))
	}
	if len(e.Address) != 20 {
		return fmt.Errorf("contract address must be 20 bytes, got %d", len(e.Address))
	}
	if e.EventName == "" {
		return fmt.Errorf("event name must not be empty")
	}
	if len(e.EventData) > 0 && !json.Valid(e.EventData) {
		return fmt.Errorf("event data must be valid JSON")
	}
	return nil
}
