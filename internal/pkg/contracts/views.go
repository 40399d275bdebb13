package contracts

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/bitredict/relayer/internal/domain/entity"
	"github.com/bitredict/relayer/internal/ports/outbound"
)

// Reader executes read-only contract views through the chain gateway and
// decodes the results into domain types. All calls run at the latest block.
type Reader struct {
	chain    outbound.ChainGateway
	registry *Registry
}

// NewReader creates a contract view reader.
func NewReader(chain outbound.ChainGateway, registry *Registry) (*Reader, error) {
	if chain == nil {
		return nil, fmt.Errorf("chain gateway cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	return &Reader{chain: chain, registry: registry}, nil
}

func (r *Reader) call(ctx context.Context, to common.Address, calldata []byte) ([]byte, error) {
	return r.chain.CallContract(ctx, ethereum.CallMsg{To: &to, Data: calldata}, nil)
}

// PoolCount returns PoolCore's pool counter (the next pool id).
func (r *Reader) PoolCount(ctx context.Context) (uint64, error) {
	poolCoreABI := r.registry.PoolCoreABI()
	calldata, err := poolCoreABI.Pack("poolCount")
	if err != nil {
		return 0, fmt.Errorf("packing poolCount: %w", err)
	}
	out, err := r.call(ctx, r.registry.PoolCoreAddress(), calldata)
	if err != nil {
		return 0, fmt.Errorf("calling poolCount: %w", err)
	}
	values, err := poolCoreABI.Unpack("poolCount", out)
	if err != nil {
		return 0, fmt.Errorf("unpacking poolCount: %w", err)
	}
	count, ok := values[0].(*big.Int)
	if !ok || !count.IsUint64() {
		return 0, fmt.Errorf("poolCount returned non-uint64 value")
	}
	return count.Uint64(), nil
}

// PoolState fetches and decodes the full pool struct from the pools(id)
// public mapping getter.
func (r *Reader) PoolState(ctx context.Context, poolID uint64) (*entity.Pool, error) {
	calldata, err := r.registry.PoolCoreABI().Pack("pools", new(big.Int).SetUint64(poolID))
	if err != nil {
		return nil, fmt.Errorf("packing pools(%d): %w", poolID, err)
	}
	out, err := r.call(ctx, r.registry.PoolCoreAddress(), calldata)
	if err != nil {
		return nil, fmt.Errorf("calling pools(%d): %w", poolID, err)
	}
	return r.registry.DecodePoolState(poolID, out)
}

// OracleOutcome is the decoded outcomes(marketId) view result.
type OracleOutcome struct {
	IsSet     bool
	Result    []byte
	Timestamp time.Time
}

// Outcome reads the guided oracle's stored outcome for a market id.
func (r *Reader) Outcome(ctx context.Context, marketID string) (*OracleOutcome, error) {
	oracleABI := r.registry.GuidedOracleABI()
	calldata, err := oracleABI.Pack("outcomes", marketID)
	if err != nil {
		return nil, fmt.Errorf("packing outcomes(%q): %w", marketID, err)
	}
	out, err := r.call(ctx, r.registry.GuidedOracleAddress(), calldata)
	if err != nil {
		return nil, fmt.Errorf("calling outcomes(%q): %w", marketID, err)
	}
	var decoded struct {
		IsSet     bool
		Result    []byte
		Timestamp *big.Int
	}
	if err := oracleABI.UnpackIntoInterface(&decoded, "outcomes", out); err != nil {
		return nil, fmt.Errorf("unpacking outcomes(%q): %w", marketID, err)
	}
	outcome := &OracleOutcome{IsSet: decoded.IsSet, Result: decoded.Result}
	if decoded.Timestamp != nil && decoded.Timestamp.IsInt64() {
		outcome.Timestamp = time.Unix(decoded.Timestamp.Int64(), 0).UTC()
	}
	return outcome, nil
}

// OracleBot returns the address authorised to call submitOutcome.
func (r *Reader) OracleBot(ctx context.Context) (common.Address, error) {
	oracleABI := r.registry.GuidedOracleABI()
	calldata, err := oracleABI.Pack("oracleBot")
	if err != nil {
		return common.Address{}, fmt.Errorf("packing oracleBot: %w", err)
	}
	out, err := r.call(ctx, r.registry.GuidedOracleAddress(), calldata)
	if err != nil {
		return common.Address{}, fmt.Errorf("calling oracleBot: %w", err)
	}
	values, err := oracleABI.Unpack("oracleBot", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpacking oracleBot: %w", err)
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("oracleBot returned non-address value")
	}
	return addr, nil
}

// CurrentCycle returns the Oddyssey contract's current cycle id, zero when
// no cycle has ever started.
func (r *Reader) CurrentCycle(ctx context.Context) (uint64, error) {
	oddysseyABI := r.registry.OddysseyABI()
	calldata, err := oddysseyABI.Pack("getCurrentCycle")
	if err != nil {
		return 0, fmt.Errorf("packing getCurrentCycle: %w", err)
	}
	out, err := r.call(ctx, r.registry.OddysseyAddress(), calldata)
	if err != nil {
		return 0, fmt.Errorf("calling getCurrentCycle: %w", err)
	}
	values, err := oddysseyABI.Unpack("getCurrentCycle", out)
	if err != nil {
		return 0, fmt.Errorf("unpacking getCurrentCycle: %w", err)
	}
	id, ok := values[0].(*big.Int)
	if !ok || !id.IsUint64() {
		return 0, fmt.Errorf("getCurrentCycle returned non-uint64 value")
	}
	return id.Uint64(), nil
}

// CycleInfo is the decoded cycleInfo(cycleId) view result.
type CycleInfo struct {
	StartTime time.Time
	EndTime   time.Time
	SlipCount uint64
	Resolved  bool
}

// Cycle reads the on-chain cycle metadata.
func (r *Reader) Cycle(ctx context.Context, cycleID uint64) (*CycleInfo, error) {
	oddysseyABI := r.registry.OddysseyABI()
	calldata, err := oddysseyABI.Pack("cycleInfo", new(big.Int).SetUint64(cycleID))
	if err != nil {
		return nil, fmt.Errorf("packing cycleInfo(%d): %w", cycleID, err)
	}
	out, err := r.call(ctx, r.registry.OddysseyAddress(), calldata)
	if err != nil {
		return nil, fmt.Errorf("calling cycleInfo(%d): %w", cycleID, err)
	}
	var decoded struct {
		StartTime *big.Int
		EndTime   *big.Int
		Slips     *big.Int
		Resolved  bool
	}
	if err := oddysseyABI.UnpackIntoInterface(&decoded, "cycleInfo", out); err != nil {
		return nil, fmt.Errorf("unpacking cycleInfo(%d): %w", cycleID, err)
	}
	info := &CycleInfo{Resolved: decoded.Resolved}
	if decoded.StartTime != nil && decoded.StartTime.IsInt64() {
		info.StartTime = time.Unix(decoded.StartTime.Int64(), 0).UTC()
	}
	if decoded.EndTime != nil && decoded.EndTime.IsInt64() {
		info.EndTime = time.Unix(decoded.EndTime.Int64(), 0).UTC()
	}
	if decoded.Slips != nil && decoded.Slips.IsUint64() {
		info.SlipCount = decoded.Slips.Uint64()
	}
	return info, nil
}

// slipPrediction mirrors the getSlip prediction tuple.
type slipPrediction struct {
	MatchId     uint64   `abi:"matchId"`
	BetType     uint8    `abi:"betType"`
	Selection   [32]byte `abi:"selection"`
	SelectedOdd uint32   `abi:"selectedOdd"`
}

// Slip fetches a slip's full contents from the getSlip view. SlipPlaced
// events carry only ids, so the indexer reads the predictions here.
func (r *Reader) Slip(ctx context.Context, slipID uint64) (*entity.Slip, error) {
	oddysseyABI := r.registry.OddysseyABI()
	calldata, err := oddysseyABI.Pack("getSlip", new(big.Int).SetUint64(slipID))
	if err != nil {
		return nil, fmt.Errorf("packing getSlip(%d): %w", slipID, err)
	}
	out, err := r.call(ctx, r.registry.OddysseyAddress(), calldata)
	if err != nil {
		return nil, fmt.Errorf("calling getSlip(%d): %w", slipID, err)
	}
	var decoded struct {
		Player       common.Address
		CycleId      *big.Int
		PlacedAt     *big.Int
		Predictions  [10]slipPrediction
		FinalScore   *big.Int
		CorrectCount uint8
		IsEvaluated  bool
	}
	if err := oddysseyABI.UnpackIntoInterface(&decoded, "getSlip", out); err != nil {
		return nil, fmt.Errorf("unpacking getSlip(%d): %w", slipID, err)
	}

	slip := &entity.Slip{
		SlipID:       slipID,
		Player:       decoded.Player,
		IsEvaluated:  decoded.IsEvaluated,
		CorrectCount: decoded.CorrectCount,
		FinalScore:   decoded.FinalScore,
	}
	if decoded.CycleId != nil && decoded.CycleId.IsUint64() {
		slip.CycleID = decoded.CycleId.Uint64()
	}
	if decoded.PlacedAt != nil && decoded.PlacedAt.IsInt64() {
		slip.PlacedAt = time.Unix(decoded.PlacedAt.Int64(), 0).UTC()
	}
	for _, p := range decoded.Predictions {
		betType, err := betTypeFromContract(p.BetType)
		if err != nil {
			return nil, fmt.Errorf("slip %d: %w", slipID, err)
		}
		slip.Predictions = append(slip.Predictions, entity.Prediction{
			FixtureID:   fmt.Sprintf("%d", p.MatchId),
			BetType:     betType,
			Selection:   DecodeBytes32String(p.Selection),
			SelectedOdd: p.SelectedOdd,
		})
	}
	return slip, nil
}

// betTypeFromContract maps the contract's BetType enum onto the domain type.
func betTypeFromContract(v uint8) (entity.BetType, error) {
	switch v {
	case 0:
		return entity.BetMoneyline, nil
	case 1:
		return entity.BetOverUnder, nil
	default:
		return "", fmt.Errorf("unknown bet type enum %d", v)
	}
}
