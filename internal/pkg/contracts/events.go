package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Event names as they appear in the contract ABIs.
const (
	EventPoolCreated      = "PoolCreated"
	EventBetPlaced        = "BetPlaced"
	EventLiquidityAdded   = "LiquidityAdded"
	EventLiquidityRemoved = "LiquidityRemoved"
	EventPoolSettled      = "PoolSettled"
	EventPoolRefunded     = "PoolRefunded"
	EventOutcomeSubmitted = "OutcomeSubmitted"
	EventSlipPlaced       = "SlipPlaced"
	EventCycleStarted     = "CycleStarted"
	EventCycleResolved    = "CycleResolved"
	EventSlipEvaluated    = "SlipEvaluated"
	EventPrizeClaimed     = "PrizeClaimed"
)

type PoolCreatedEvent struct {
	PoolID         uint64
	Creator        common.Address
	OracleType     uint8
	MarketID       string
	EventStartTime int64
	EventEndTime   int64
}

type BetPlacedEvent struct {
	PoolID       uint64
	Bettor       common.Address
	Amount       *big.Int
	IsForOutcome bool
}

type LiquidityEvent struct {
	PoolID   uint64
	Provider common.Address
	Amount   *big.Int
	Added    bool
}

type PoolSettledEvent struct {
	PoolID         uint64
	Result         common.Hash
	CreatorSideWon bool
	Timestamp      int64
}

type PoolRefundedEvent struct {
	PoolID uint64
	Reason string
}

// OutcomeSubmittedEvent carries only the hash of the market ID: the ABI
// declares marketId as an indexed string, so the log topic is its keccak256.
type OutcomeSubmittedEvent struct {
	MarketIDHash common.Hash
	Result       []byte
	Timestamp    int64
}

type SlipPlacedEvent struct {
	CycleID uint64
	Player  common.Address
	SlipID  uint64
}

type CycleStartedEvent struct {
	CycleID uint64
	EndTime int64
}

type CycleResolvedEvent struct {
	CycleID   uint64
	Timestamp int64
}

type SlipEvaluatedEvent struct {
	SlipID       uint64
	CorrectCount uint8
	FinalScore   *big.Int
}

type PrizeClaimedEvent struct {
	SlipID uint64
	Player common.Address
	Amount *big.Int
}

// EventName resolves a log's first topic to an event name, searching all
// registered ABIs. Unknown topics return ok=false.
func (r *Registry) EventName(log types.Log) (string, bool) {
	if len(log.Topics) == 0 {
		return "", false
	}
	for _, contractABI := range []*abi.ABI{r.poolCore, r.guidedOracle, r.oddyssey} {
		if ev, err := contractABI.EventByID(log.Topics[0]); err == nil {
			return ev.Name, true
		}
	}
	return "", false
}

func (r *Registry) checkTopic(contractABI *abi.ABI, name string, log types.Log, wantTopics int) error {
	if len(log.Topics) != wantTopics {
		return fmt.Errorf("%s: expected %d topics, got %d", name, wantTopics, len(log.Topics))
	}
	if log.Topics[0] != contractABI.Events[name].ID {
		return fmt.Errorf("%s: topic 0 mismatch", name)
	}
	return nil
}

func topicUint64(name, field string, topic common.Hash) (uint64, error) {
	v := new(big.Int).SetBytes(topic.Bytes())
	if !v.IsUint64() {
		return 0, fmt.Errorf("%s: %s %s out of range", name, field, v)
	}
	return v.Uint64(), nil
}

func unixFromBig(name, field string, v *big.Int) (int64, error) {
	if !v.IsInt64() {
		return 0, fmt.Errorf("%s: %s %s out of range", name, field, v)
	}
	return v.Int64(), nil
}

func (r *Registry) ParsePoolCreated(log types.Log) (*PoolCreatedEvent, error) {
	if err := r.checkTopic(r.poolCore, EventPoolCreated, log, 3); err != nil {
		return nil, err
	}
	poolID, err := topicUint64(EventPoolCreated, "poolId", log.Topics[1])
	if err != nil {
		return nil, err
	}
	var data struct {
		OracleType     uint8
		MarketId       string
		EventStartTime *big.Int
		EventEndTime   *big.Int
	}
	if err := r.poolCore.UnpackIntoInterface(&data, EventPoolCreated, log.Data); err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", EventPoolCreated, err)
	}
	start, err := unixFromBig(EventPoolCreated, "eventStartTime", data.EventStartTime)
	if err != nil {
		return nil, err
	}
	end, err := unixFromBig(EventPoolCreated, "eventEndTime", data.EventEndTime)
	if err != nil {
		return nil, err
	}
	return &PoolCreatedEvent{
		PoolID:         poolID,
		Creator:        common.BytesToAddress(log.Topics[2].Bytes()),
		OracleType:     data.OracleType,
		MarketID:       data.MarketId,
		EventStartTime: start,
		EventEndTime:   end,
	}, nil
}

func (r *Registry) ParseBetPlaced(log types.Log) (*BetPlacedEvent, error) {
	if err := r.checkTopic(r.poolCore, EventBetPlaced, log, 3); err != nil {
		return nil, err
	}
	poolID, err := topicUint64(EventBetPlaced, "poolId", log.Topics[1])
	if err != nil {
		return nil, err
	}
	var data struct {
		Amount       *big.Int
		IsForOutcome bool
	}
	if err := r.poolCore.UnpackIntoInterface(&data, EventBetPlaced, log.Data); err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", EventBetPlaced, err)
	}
	return &BetPlacedEvent{
		PoolID:       poolID,
		Bettor:       common.BytesToAddress(log.Topics[2].Bytes()),
		Amount:       data.Amount,
		IsForOutcome: data.IsForOutcome,
	}, nil
}

// ParseLiquidity handles both LiquidityAdded and LiquidityRemoved, which
// share a layout.
func (r *Registry) ParseLiquidity(log types.Log) (*LiquidityEvent, error) {
	name := EventLiquidityAdded
	added := true
	if len(log.Topics) > 0 && log.Topics[0] == r.poolCore.Events[EventLiquidityRemoved].ID {
		name = EventLiquidityRemoved
		added = false
	}
	if err := r.checkTopic(r.poolCore, name, log, 3); err != nil {
		return nil, err
	}
	poolID, err := topicUint64(name, "poolId", log.Topics[1])
	if err != nil {
		return nil, err
	}
	var data struct {
		Amount *big.Int
	}
	if err := r.poolCore.UnpackIntoInterface(&data, name, log.Data); err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", name, err)
	}
	return &LiquidityEvent{
		PoolID:   poolID,
		Provider: common.BytesToAddress(log.Topics[2].Bytes()),
		Amount:   data.Amount,
		Added:    added,
	}, nil
}

func (r *Registry) ParsePoolSettled(log types.Log) (*PoolSettledEvent, error) {
	if err := r.checkTopic(r.poolCore, EventPoolSettled, log, 2); err != nil {
		return nil, err
	}
	poolID, err := topicUint64(EventPoolSettled, "poolId", log.Topics[1])
	if err != nil {
		return nil, err
	}
	var data struct {
		Result         [32]byte
		CreatorSideWon bool
		Timestamp      *big.Int
	}
	if err := r.poolCore.UnpackIntoInterface(&data, EventPoolSettled, log.Data); err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", EventPoolSettled, err)
	}
	ts, err := unixFromBig(EventPoolSettled, "timestamp", data.Timestamp)
	if err != nil {
		return nil, err
	}
	return &PoolSettledEvent{
		PoolID:         poolID,
		Result:         common.Hash(data.Result),
		CreatorSideWon: data.CreatorSideWon,
		Timestamp:      ts,
	}, nil
}

func (r *Registry) ParsePoolRefunded(log types.Log) (*PoolRefundedEvent, error) {
	if err := r.checkTopic(r.poolCore, EventPoolRefunded, log, 2); err != nil {
		return nil, err
	}
	poolID, err := topicUint64(EventPoolRefunded, "poolId", log.Topics[1])
	if err != nil {
		return nil, err
	}
	var data struct {
		Reason string
	}
	if err := r.poolCore.UnpackIntoInterface(&data, EventPoolRefunded, log.Data); err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", EventPoolRefunded, err)
	}
	return &PoolRefundedEvent{PoolID: poolID, Reason: data.Reason}, nil
}

func (r *Registry) ParseOutcomeSubmitted(log types.Log) (*OutcomeSubmittedEvent, error) {
	if err := r.checkTopic(r.guidedOracle, EventOutcomeSubmitted, log, 2); err != nil {
		return nil, err
	}
	var data struct {
		Result    []byte
		Timestamp *big.Int
	}
	if err := r.guidedOracle.UnpackIntoInterface(&data, EventOutcomeSubmitted, log.Data); err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", EventOutcomeSubmitted, err)
	}
	ts, err := unixFromBig(EventOutcomeSubmitted, "timestamp", data.Timestamp)
	if err != nil {
		return nil, err
	}
	return &OutcomeSubmittedEvent{
		MarketIDHash: log.Topics[1],
		Result:       data.Result,
		Timestamp:    ts,
	}, nil
}

func (r *Registry) ParseSlipPlaced(log types.Log) (*SlipPlacedEvent, error) {
	if err := r.checkTopic(r.oddyssey, EventSlipPlaced, log, 4); err != nil {
		return nil, err
	}
	cycleID, err := topicUint64(EventSlipPlaced, "cycleId", log.Topics[1])
	if err != nil {
		return nil, err
	}
	slipID, err := topicUint64(EventSlipPlaced, "slipId", log.Topics[3])
	if err != nil {
		return nil, err
	}
	return &SlipPlacedEvent{
		CycleID: cycleID,
		Player:  common.BytesToAddress(log.Topics[2].Bytes()),
		SlipID:  slipID,
	}, nil
}

func (r *Registry) ParseCycleStarted(log types.Log) (*CycleStartedEvent, error) {
	if err := r.checkTopic(r.oddyssey, EventCycleStarted, log, 2); err != nil {
		return nil, err
	}
	cycleID, err := topicUint64(EventCycleStarted, "cycleId", log.Topics[1])
	if err != nil {
		return nil, err
	}
	var data struct {
		EndTime *big.Int
	}
	if err := r.oddyssey.UnpackIntoInterface(&data, EventCycleStarted, log.Data); err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", EventCycleStarted, err)
	}
	end, err := unixFromBig(EventCycleStarted, "endTime", data.EndTime)
	if err != nil {
		return nil, err
	}
	return &CycleStartedEvent{CycleID: cycleID, EndTime: end}, nil
}

func (r *Registry) ParseCycleResolved(log types.Log) (*CycleResolvedEvent, error) {
	if err := r.checkTopic(r.oddyssey, EventCycleResolved, log, 2); err != nil {
		return nil, err
	}
	cycleID, err := topicUint64(EventCycleResolved, "cycleId", log.Topics[1])
	if err != nil {
		return nil, err
	}
	var data struct {
		Timestamp *big.Int
	}
	if err := r.oddyssey.UnpackIntoInterface(&data, EventCycleResolved, log.Data); err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", EventCycleResolved, err)
	}
	ts, err := unixFromBig(EventCycleResolved, "timestamp", data.Timestamp)
	if err != nil {
		return nil, err
	}
	return &CycleResolvedEvent{CycleID: cycleID, Timestamp: ts}, nil
}

func (r *Registry) ParseSlipEvaluated(log types.Log) (*SlipEvaluatedEvent, error) {
	if err := r.checkTopic(r.oddyssey, EventSlipEvaluated, log, 2); err != nil {
		return nil, err
	}
	slipID, err := topicUint64(EventSlipEvaluated, "slipId", log.Topics[1])
	if err != nil {
		return nil, err
	}
	var data struct {
		CorrectCount uint8
		FinalScore   *big.Int
	}
	if err := r.oddyssey.UnpackIntoInterface(&data, EventSlipEvaluated, log.Data); err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", EventSlipEvaluated, err)
	}
	return &SlipEvaluatedEvent{
		SlipID:       slipID,
		CorrectCount: data.CorrectCount,
		FinalScore:   data.FinalScore,
	}, nil
}

func (r *Registry) ParsePrizeClaimed(log types.Log) (*PrizeClaimedEvent, error) {
	if err := r.checkTopic(r.oddyssey, EventPrizeClaimed, log, 3); err != nil {
		return nil, err
	}
	slipID, err := topicUint64(EventPrizeClaimed, "slipId", log.Topics[1])
	if err != nil {
		return nil, err
	}
	var data struct {
		Amount *big.Int
	}
	if err := r.oddyssey.UnpackIntoInterface(&data, EventPrizeClaimed, log.Data); err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", EventPrizeClaimed, err)
	}
	return &PrizeClaimedEvent{
		SlipID: slipID,
		Player: common.BytesToAddress(log.Topics[2].Bytes()),
		Amount: data.Amount,
	}, nil
}
