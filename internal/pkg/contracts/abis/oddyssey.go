package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

// GetOddysseyABI returns the Oddyssey daily-parlay contract ABI.
func GetOddysseyABI() (*abi.ABI, error) {
	return ParseABI(`[
		{"inputs":[],"name":"getCurrentCycle","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"slipCount","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
		{"inputs":[{"name":"cycleId","type":"uint256"}],"name":"getDailySlipCount","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
		{"inputs":[{"name":"cycleId","type":"uint256"}],"name":"isCycleInitialized","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
		{"inputs":[{"name":"cycleId","type":"uint256"}],"name":"cycleInfo","outputs":[
			{"name":"startTime","type":"uint256"},
			{"name":"endTime","type":"uint256"},
			{"name":"slips","type":"uint256"},
			{"name":"resolved","type":"bool"}
		],"stateMutability":"view","type":"function"},
		{"inputs":[{"name":"slipId","type":"uint256"}],"name":"getSlip","outputs":[
			{"name":"player","type":"address"},
			{"name":"cycleId","type":"uint256"},
			{"name":"placedAt","type":"uint256"},
			{"name":"predictions","type":"tuple[10]","components":[
				{"name":"matchId","type":"uint64"},
				{"name":"betType","type":"uint8"},
				{"name":"selection","type":"bytes32"},
				{"name":"selectedOdd","type":"uint32"}
			]},
			{"name":"finalScore","type":"uint256"},
			{"name":"correctCount","type":"uint8"},
			{"name":"isEvaluated","type":"bool"}
		],"stateMutability":"view","type":"function"},
		{"inputs":[{"name":"matches","type":"tuple[10]","components":[
			{"name":"matchId","type":"uint64"},
			{"name":"startTime","type":"uint64"},
			{"name":"oddsHome","type":"uint32"},
			{"name":"oddsDraw","type":"uint32"},
			{"name":"oddsAway","type":"uint32"},
			{"name":"oddsOver","type":"uint32"},
			{"name":"oddsUnder","type":"uint32"}
		]}],"name":"startDailyCycle","outputs":[],"stateMutability":"nonpayable","type":"function"},
		{"inputs":[{"name":"cycleId","type":"uint256"},{"name":"results","type":"tuple[10]","components":[
			{"name":"moneyline","type":"uint8"},
			{"name":"overUnder","type":"uint8"}
		]}],"name":"resolveDailyCycle","outputs":[],"stateMutability":"nonpayable","type":"function"},
		{"anonymous":false,"inputs":[
			{"indexed":true,"name":"cycleId","type":"uint256"},
			{"indexed":true,"name":"player","type":"address"},
			{"indexed":true,"name":"slipId","type":"uint256"}
		],"name":"SlipPlaced","type":"event"},
		{"anonymous":false,"inputs":[
			{"indexed":true,"name":"cycleId","type":"uint256"},
			{"indexed":false,"name":"endTime","type":"uint256"}
		],"name":"CycleStarted","type":"event"},
		{"anonymous":false,"inputs":[
			{"indexed":true,"name":"cycleId","type":"uint256"},
			{"indexed":false,"name":"timestamp","type":"uint256"}
		],"name":"CycleResolved","type":"event"},
		{"anonymous":false,"inputs":[
			{"indexed":true,"name":"slipId","type":"uint256"},
			{"indexed":false,"name":"correctCount","type":"uint8"},
			{"indexed":false,"name":"finalScore","type":"uint256"}
		],"name":"SlipEvaluated","type":"event"},
		{"anonymous":false,"inputs":[
			{"indexed":true,"name":"slipId","type":"uint256"},
			{"indexed":true,"name":"player","type":"address"},
			{"indexed":false,"name":"amount","type":"uint256"}
		],"name":"PrizeClaimed","type":"event"}
	]`)
}
