package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/bitredict/relayer/internal/domain/entity"
	"github.com/bitredict/relayer/internal/pkg/contracts/abis"
)

// Addresses holds the deployed addresses of every contract the relayer
// talks to.
type Addresses struct {
	PoolCore     common.Address
	GuidedOracle common.Address
	Oddyssey     common.Address
}

// Registry bundles contract addresses with their parsed ABIs so adapters
// and services never parse ABI JSON themselves.
type Registry struct {
	addrs Addresses

	poolCore     *abi.ABI
	guidedOracle *abi.ABI
	oddyssey     *abi.ABI
}

// NewRegistry parses all contract ABIs and validates the addresses.
func NewRegistry(addrs Addresses) (*Registry, error) {
	if addrs.PoolCore == (common.Address{}) {
		return nil, fmt.Errorf("pool core address is required")
	}
	if addrs.GuidedOracle == (common.Address{}) {
		return nil, fmt.Errorf("guided oracle address is required")
	}
	if addrs.Oddyssey == (common.Address{}) {
		return nil, fmt.Errorf("oddyssey address is required")
	}

	poolCore, err := abis.GetPoolCoreABI()
	if err != nil {
		return nil, fmt.Errorf("parsing PoolCore ABI: %w", err)
	}
	guidedOracle, err := abis.GetGuidedOracleABI()
	if err != nil {
		return nil, fmt.Errorf("parsing GuidedOracle ABI: %w", err)
	}
	oddyssey, err := abis.GetOddysseyABI()
	if err != nil {
		return nil, fmt.Errorf("parsing Oddyssey ABI: %w", err)
	}

	return &Registry{
		addrs:        addrs,
		poolCore:     poolCore,
		guidedOracle: guidedOracle,
		oddyssey:     oddyssey,
	}, nil
}

func (r *Registry) PoolCoreAddress() common.Address     { return r.addrs.PoolCore }
func (r *Registry) GuidedOracleAddress() common.Address { return r.addrs.GuidedOracle }
func (r *Registry) OddysseyAddress() common.Address     { return r.addrs.Oddyssey }

func (r *Registry) PoolCoreABI() *abi.ABI     { return r.poolCore }
func (r *Registry) GuidedOracleABI() *abi.ABI { return r.guidedOracle }
func (r *Registry) OddysseyABI() *abi.ABI     { return r.oddyssey }

// WatchedAddresses returns every contract address the log indexer filters
// on.
func (r *Registry) WatchedAddresses() []common.Address {
	return []common.Address{r.addrs.PoolCore, r.addrs.GuidedOracle, r.addrs.Oddyssey}
}

// DecodePoolState unpacks the flat return values of the public pools(uint256)
// getter into a Pool entity. The caller supplies the pool ID since the
// getter does not echo it back.
func (r *Registry) DecodePoolState(poolID uint64, data []byte) (*entity.Pool, error) {
	vals, err := r.poolCore.Unpack("pools", data)
	if err != nil {
		return nil, fmt.Errorf("unpacking pools(%d): %w", poolID, err)
	}
	if len(vals) != 22 {
		return nil, fmt.Errorf("pools(%d): expected 22 return values, got %d", poolID, len(vals))
	}

	p := &entity.Pool{PoolID: poolID}
	var ok bool

	if p.Creator, ok = vals[0].(common.Address); !ok {
		return nil, fmt.Errorf("pools(%d): creator has unexpected type %T", poolID, vals[0])
	}
	predicted, ok := vals[1].([32]byte)
	if !ok {
		return nil, fmt.Errorf("pools(%d): predictedOutcome has unexpected type %T", poolID, vals[1])
	}
	p.PredictedOutcome = common.Hash(predicted)
	odds, ok := vals[2].(uint16)
	if !ok {
		return nil, fmt.Errorf("pools(%d): odds has unexpected type %T", poolID, vals[2])
	}
	p.Odds = uint32(odds)

	bigFields := []struct {
		idx  int
		name string
		dst  **big.Int
	}{
		{3, "creatorStake", &p.CreatorStake},
		{4, "totalCreatorSideStake", &p.TotalCreatorSideStake},
		{5, "totalBettorStake", &p.TotalBettorStake},
		{6, "maxBettorStake", &p.MaxBettorStake},
	}
	for _, f := range bigFields {
		v, ok := vals[f.idx].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("pools(%d): %s has unexpected type %T", poolID, f.name, vals[f.idx])
		}
		*f.dst = v
	}

	timeFields := []struct {
		idx  int
		name string
		dst  *int64
	}{
		{7, "eventStartTime", &p.EventStartTime},
		{8, "eventEndTime", &p.EventEndTime},
		{9, "bettingEndTime", &p.BettingEndTime},
		{10, "arbitrationDeadline", &p.ArbitrationDeadline},
	}
	for _, f := range timeFields {
		v, ok := vals[f.idx].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("pools(%d): %s has unexpected type %T", poolID, f.name, vals[f.idx])
		}
		if !v.IsInt64() {
			return nil, fmt.Errorf("pools(%d): %s %s out of range", poolID, f.name, v)
		}
		*f.dst = v.Int64()
	}

	oracleType, ok := vals[11].(uint8)
	if !ok {
		return nil, fmt.Errorf("pools(%d): oracleType has unexpected type %T", poolID, vals[11])
	}
	p.Oracle = entity.OracleType(oracleType)
	if p.MarketType, ok = vals[12].(uint8); !ok {
		return nil, fmt.Errorf("pools(%d): marketType has unexpected type %T", poolID, vals[12])
	}
	if p.MarketID, ok = vals[13].(string); !ok {
		return nil, fmt.Errorf("pools(%d): marketId has unexpected type %T", poolID, vals[13])
	}
	result, ok := vals[14].([32]byte)
	if !ok {
		return nil, fmt.Errorf("pools(%d): result has unexpected type %T", poolID, vals[14])
	}
	p.Result = common.Hash(result)
	flags, ok := vals[15].(uint8)
	if !ok {
		return nil, fmt.Errorf("pools(%d): flags has unexpected type %T", poolID, vals[15])
	}
	p.Flags = entity.UnpackPoolFlags(flags)

	strFields := []struct {
		idx  int
		name string
		dst  *string
	}{
		{16, "league", &p.League},
		{17, "category", &p.Category},
		{18, "region", &p.Region},
		{19, "homeTeam", &p.HomeTeam},
		{20, "awayTeam", &p.AwayTeam},
		{21, "title", &p.Title},
	}
	for _, f := range strFields {
		v, ok := vals[f.idx].([32]byte)
		if !ok {
			return nil, fmt.Errorf("pools(%d): %s has unexpected type %T", poolID, f.name, vals[f.idx])
		}
		*f.dst = DecodeBytes32String(v)
	}

	return p, nil
}
