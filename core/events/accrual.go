package events

import (
	"math/big"
	"strconv"

	"stakeledger/core/types"
)

const (
	// TypeStaked is emitted when a deposit increases a position.
	TypeStaked = "accrual.staked"
	// TypeRewardClaimed is emitted when accrued rewards are paid out.
	TypeRewardClaimed = "accrual.rewardClaimed"
	// TypeUnstaked is emitted when a position is fully withdrawn.
	TypeUnstaked = "accrual.unstaked"
	// TypeReferrerLinked is emitted when a write-once referral link is created.
	TypeReferrerLinked = "accrual.referrerLinked"
	// TypeReferralBonusPaid is emitted when a deposit triggers a referrer bonus.
	TypeReferralBonusPaid = "accrual.referralBonusPaid"
	// TypeParamsUpdated is emitted when an administrator overwrites a global parameter.
	TypeParamsUpdated = "accrual.paramsUpdated"
)

// Staked captures a deposit credited to an account's position.
type Staked struct {
	Account   [20]byte
	Asset     [20]byte
	Amount    *big.Int
	Timestamp uint64
}

// EventType satisfies the Event interface.
func (Staked) EventType() string { return TypeStaked }

// Event converts the structured payload into a broadcastable event.
func (e Staked) Event() *types.Event {
	return &types.Event{Type: TypeStaked, Attributes: map[string]string{
		"account":   formatAddress(e.Account),
		"asset":     formatAddress(e.Asset),
		"amount":    formatAmount(e.Amount),
		"timestamp": strconv.FormatUint(e.Timestamp, 10),
	}}
}

// RewardClaimed captures a reward payout for whole elapsed cycles.
type RewardClaimed struct {
	Account          [20]byte
	Asset            [20]byte
	Paid             *big.Int
	Cycles           uint64
	NextEligibleUnix uint64
}

// EventType satisfies the Event interface.
func (RewardClaimed) EventType() string { return TypeRewardClaimed }

// Event converts the structured payload into a broadcastable event.
func (e RewardClaimed) Event() *types.Event {
	attrs := map[string]string{
		"account": formatAddress(e.Account),
		"asset":   formatAddress(e.Asset),
		"paid":    formatAmount(e.Paid),
	}
	if e.Cycles > 0 {
		attrs["cycles"] = strconv.FormatUint(e.Cycles, 10)
	}
	if e.NextEligibleUnix > 0 {
		attrs["nextEligibleUnix"] = strconv.FormatUint(e.NextEligibleUnix, 10)
	}
	return &types.Event{Type: TypeRewardClaimed, Attributes: attrs}
}

// Unstaked captures a full withdrawal of principal plus accrued reward.
type Unstaked struct {
	Account  [20]byte
	Asset    [20]byte
	Returned *big.Int
}

// EventType satisfies the Event interface.
func (Unstaked) EventType() string { return TypeUnstaked }

// Event converts the structured payload into a broadcastable event.
func (e Unstaked) Event() *types.Event {
	return &types.Event{Type: TypeUnstaked, Attributes: map[string]string{
		"account":  formatAddress(e.Account),
		"asset":    formatAddress(e.Asset),
		"returned": formatAmount(e.Returned),
	}}
}

// ReferrerLinked captures the creation of a referral link.
type ReferrerLinked struct {
	Referred [20]byte
	Referrer [20]byte
}

// EventType satisfies the Event interface.
func (ReferrerLinked) EventType() string { return TypeReferrerLinked }

// Event converts the structured payload into a broadcastable event.
func (e ReferrerLinked) Event() *types.Event {
	return &types.Event{Type: TypeReferrerLinked, Attributes: map[string]string{
		"referred": formatAddress(e.Referred),
		"referrer": formatAddress(e.Referrer),
	}}
}

// ReferralBonusPaid captures the reserve-funded bonus paid on a referred deposit.
type ReferralBonusPaid struct {
	Referrer [20]byte
	Referred [20]byte
	Asset    [20]byte
	Amount   *big.Int
}

// EventType satisfies the Event interface.
func (ReferralBonusPaid) EventType() string { return TypeReferralBonusPaid }

// Event converts the structured payload into a broadcastable event.
func (e ReferralBonusPaid) Event() *types.Event {
	return &types.Event{Type: TypeReferralBonusPaid, Attributes: map[string]string{
		"referrer": formatAddress(e.Referrer),
		"referred": formatAddress(e.Referred),
		"asset":    formatAddress(e.Asset),
		"amount":   formatAmount(e.Amount),
	}}
}

// ParamsUpdated captures an administrative overwrite of a global parameter.
type ParamsUpdated struct {
	Caller [20]byte
	Param  string
	Value  uint64
}

// EventType satisfies the Event interface.
func (ParamsUpdated) EventType() string { return TypeParamsUpdated }

// Event converts the structured payload into a broadcastable event.
func (e ParamsUpdated) Event() *types.Event {
	attrs := map[string]string{
		"param": e.Param,
		"value": strconv.FormatUint(e.Value, 10),
	}
	if !zeroAddress(e.Caller) {
		attrs["caller"] = formatAddress(e.Caller)
	}
	return &types.Event{Type: TypeParamsUpdated, Attributes: attrs}
}
