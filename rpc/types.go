package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// RecordResult is the wire form of a stake record.
type RecordResult struct {
	Account            string `json:"account"`
	Asset              string `json:"asset"`
	Balance            string `json:"balance"`
	StakeTimestamp     uint64 `json:"stakeTimestamp"`
	LastClaimTimestamp uint64 `json:"lastClaimTimestamp"`
}

// RewardResult is the wire form of a reward preview.
type RewardResult struct {
	AmountToClaim string `json:"amountToClaim"`
	CyclesPassed  uint64 `json:"cyclesPassed"`
}

// ParamsResult is the wire form of the global parameters.
type ParamsResult struct {
	RewardRate    uint64 `json:"rewardRate"`
	ClaimLockTime uint64 `json:"claimLockTime"`
}

// ClaimResult reports a successful claim payout.
type ClaimResult struct {
	Paid string `json:"paid"`
}

// UnstakeResult reports a successful position close.
type UnstakeResult struct {
	Returned string `json:"returned"`
}

// ReferrerResult reports the referral link for an account.
type ReferrerResult struct {
	Referrer string `json:"referrer,omitempty"`
	Linked   bool   `json:"linked"`
}

// BalanceResult reports a token balance.
type BalanceResult struct {
	Asset   string `json:"asset"`
	Address string `json:"address"`
	Balance string `json:"balance"`
}

func decodeAddress(value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address is required")
	}
	if !common.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("invalid address %q", trimmed)
	}
	return common.HexToAddress(trimmed), nil
}

func encodeAddress(addr [20]byte) string {
	return common.BytesToAddress(addr[:]).Hex()
}

func parseAmount(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return value, nil
}

func singleParam(params []json.RawMessage, out interface{}) error {
	if len(params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	if err := json.Unmarshal(params[0], out); err != nil {
		return fmt.Errorf("invalid parameter object")
	}
	return nil
}
