package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

// GetGuidedOracleABI returns the GuidedOracle contract ABI. Note the
// marketId event parameter is an indexed string, so logs carry only its
// keccak256 hash in topic 1.
func GetGuidedOracleABI() (*abi.ABI, error) {
	return ParseABI(`[
		{"inputs":[{"name":"marketId","type":"string"}],"name":"outcomes","outputs":[
			{"name":"isSet","type":"bool"},
			{"name":"result","type":"bytes"},
			{"name":"timestamp","type":"uint256"}
		],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"oracleBot","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
		{"inputs":[{"name":"marketId","type":"string"},{"name":"result","type":"bytes"}],"name":"submitOutcome","outputs":[],"stateMutability":"nonpayable","type":"function"},
		{"anonymous":false,"inputs":[
			{"indexed":true,"name":"marketId","type":"string"},
			{"indexed":false,"name":"result","type":"bytes"},
			{"indexed":false,"name":"timestamp","type":"uint256"}
		],"name":"OutcomeSubmitted","type":"event"}
	]`)
}
