package accrual

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrZeroAmount          = errors.New("accrual: deposit amount is zero")
	ErrEarlyClaim          = errors.New("accrual: full cycle has not elapsed")
	ErrNothingToClaim      = errors.New("accrual: computed reward is zero")
	ErrNothingToUnstake    = errors.New("accrual: no active position")
	ErrSelfReferring       = errors.New("accrual: account cannot refer itself")
	ErrReferrerAlreadySet  = errors.New("accrual: referrer already set")
	ErrZeroReferrerBalance = errors.New("accrual: referrer has no active position")
	ErrUnauthorized        = errors.New("accrual: caller lacks required role")
	ErrReentrantCall       = errors.New("accrual: reentrant call rejected")

	errNilState  = errors.New("accrual: state not configured")
	errNilAssets = errors.New("accrual: asset ledger not configured")
)

// EarlyClaimError rejects a claim attempted before one full cycle has elapsed
// and carries the timestamp at which the next claim becomes eligible. It
// matches ErrEarlyClaim under errors.Is.
type EarlyClaimError struct {
	NextEligibleUnix uint64
}

func (e *EarlyClaimError) Error() string {
	return fmt.Sprintf("accrual: full cycle has not elapsed, next eligible at %d", e.NextEligibleUnix)
}

func (e *EarlyClaimError) Is(target error) bool { return target == ErrEarlyClaim }

// ReferrerAlreadySetError rejects a second referral link for the same account
// and carries the referrer already on record. It matches ErrReferrerAlreadySet
// under errors.Is.
type ReferrerAlreadySetError struct {
	Referrer [20]byte
}

func (e *ReferrerAlreadySetError) Error() string {
	return fmt.Sprintf("accrual: referrer already set to %s", common.BytesToAddress(e.Referrer[:]).Hex())
}

func (e *ReferrerAlreadySetError) Is(target error) bool { return target == ErrReferrerAlreadySet }
