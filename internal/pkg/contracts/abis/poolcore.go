package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

// GetPoolCoreABI returns the ABI surface of the PoolCore contract used by
// the mirror and the settlement coordinator. The pools(uint256) getter is a
// public-mapping getter, so the struct members come back as a flat list of
// return values.
func GetPoolCoreABI() (*abi.ABI, error) {
	return ParseABI(`[
		{"inputs":[],"name":"poolCount","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
		{"inputs":[{"name":"","type":"uint256"}],"name":"pools","outputs":[
			{"name":"creator","type":"address"},
			{"name":"predictedOutcome","type":"bytes32"},
			{"name":"odds","type":"uint16"},
			{"name":"creatorStake","type":"uint256"},
			{"name":"totalCreatorSideStake","type":"uint256"},
			{"name":"totalBettorStake","type":"uint256"},
			{"name":"maxBettorStake","type":"uint256"},
			{"name":"eventStartTime","type":"uint256"},
			{"name":"eventEndTime","type":"uint256"},
			{"name":"bettingEndTime","type":"uint256"},
			{"name":"arbitrationDeadline","type":"uint256"},
			{"name":"oracleType","type":"uint8"},
			{"name":"marketType","type":"uint8"},
			{"name":"marketId","type":"string"},
			{"name":"result","type":"bytes32"},
			{"name":"flags","type":"uint8"},
			{"name":"league","type":"bytes32"},
			{"name":"category","type":"bytes32"},
			{"name":"region","type":"bytes32"},
			{"name":"homeTeam","type":"bytes32"},
			{"name":"awayTeam","type":"bytes32"},
			{"name":"title","type":"bytes32"}
		],"stateMutability":"view","type":"function"},
		{"inputs":[{"name":"poolId","type":"uint256"},{"name":"outcome","type":"bytes32"}],"name":"settlePool","outputs":[],"stateMutability":"nonpayable","type":"function"},
		{"inputs":[{"name":"poolId","type":"uint256"}],"name":"settlePoolAutomatically","outputs":[],"stateMutability":"nonpayable","type":"function"},
		{"inputs":[{"name":"poolId","type":"uint256"}],"name":"refundPool","outputs":[],"stateMutability":"nonpayable","type":"function"},
		{"anonymous":false,"inputs":[
			{"indexed":true,"name":"poolId","type":"uint256"},
			{"indexed":true,"name":"creator","type":"address"},
			{"indexed":false,"name":"oracleType","type":"uint8"},
			{"indexed":false,"name":"marketId","type":"string"},
			{"indexed":false,"name":"eventStartTime","type":"uint256"},
			{"indexed":false,"name":"eventEndTime","type":"uint256"}
		],"name":"PoolCreated","type":"event"},
		{"anonymous":false,"inputs":[
			{"indexed":true,"name":"poolId","type":"uint256"},
			{"indexed":true,"name":"bettor","type":"address"},
			{"indexed":false,"name":"amount","type":"uint256"},
			{"indexed":false,"name":"isForOutcome","type":"bool"}
		],"name":"BetPlaced","type":"event"},
		{"anonymous":false,"inputs":[
			{"indexed":true,"name":"poolId","type":"uint256"},
			{"indexed":true,"name":"provider","type":"address"},
			{"indexed":false,"name":"amount","type":"uint256"}
		],"name":"LiquidityAdded","type":"event"},
		{"anonymous":false,"inputs":[
			{"indexed":true,"name":"poolId","type":"uint256"},
			{"indexed":true,"name":"provider","type":"address"},
			{"indexed":false,"name":"amount","type":"uint256"}
		],"name":"LiquidityRemoved","type":"event"},
		{"anonymous":false,"inputs":[
			{"indexed":true,"name":"poolId","type":"uint256"},
			{"indexed":false,"name":"result","type":"bytes32"},
			{"indexed":false,"name":"creatorSideWon","type":"bool"},
			{"indexed":false,"name":"timestamp","type":"uint256"}
		],"name":"PoolSettled","type":"event"},
		{"anonymous":false,"inputs":[
			{"indexed":true,"name":"poolId","type":"uint256"},
			{"indexed":false,"name":"reason","type":"string"}
		],"name":"PoolRefunded","type":"event"}
	]`)
}
