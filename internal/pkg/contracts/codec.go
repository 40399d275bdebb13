// Package contracts is the contract registry: it maps logical contract
// names to addresses and ABIs, and centralises calldata/log codecs shared
// by every chain-facing component.
package contracts

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DecodeBytes32String interprets a bytes32 field as null-padded UTF-8.
// Trailing zero bytes are trimmed; undecodable bytes yield an empty string
// rather than an error, since on-chain metadata is best-effort.
func DecodeBytes32String(b [32]byte) string {
	trimmed := bytes.TrimRight(b[:], "\x00")
	if len(trimmed) == 0 {
		return ""
	}
	if !utf8.Valid(trimmed) {
		return ""
	}
	return string(trimmed)
}

// EncodeBytes32String packs a string into a bytes32, zero-padded on the
// right. Strings longer than 32 bytes are rejected.
func EncodeBytes32String(s string) ([32]byte, error) {
	var out [32]byte
	if len(s) > 32 {
		return out, fmt.Errorf("string %q exceeds 32 bytes", s)
	}
	copy(out[:], s)
	return out, nil
}

// OutcomeHash computes the settlement hash the pool contract compares
// against: keccak256 of the raw result bytes.
func OutcomeHash(result []byte) common.Hash {
	return crypto.Keccak256Hash(result)
}

// MarketIDHash computes the topic value of an indexed string marketId.
// Solidity hashes indexed dynamic types, so logs only carry keccak256 of
// the string.
func MarketIDHash(marketID string) common.Hash {
	return crypto.Keccak256Hash([]byte(marketID))
}
