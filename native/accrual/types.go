package accrual

import "math/big"

// StakeRecord tracks a single (account, asset) position. A record is active
// while Balance is positive; on full withdrawal all three fields reset to zero
// together, and a later deposit reopens the record from scratch.
type StakeRecord struct {
	Balance            *big.Int
	StakeTimestamp     uint64
	LastClaimTimestamp uint64
}

// Active reports whether the record holds an open position.
func (r *StakeRecord) Active() bool {
	return r != nil && r.Balance != nil && r.Balance.Sign() > 0
}

// BalanceValue returns the balance, never nil.
func (r *StakeRecord) BalanceValue() *big.Int {
	if r == nil || r.Balance == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(r.Balance)
}

// Clone returns a deep copy safe to hand out of the engine.
func (r *StakeRecord) Clone() *StakeRecord {
	if r == nil {
		return &StakeRecord{Balance: big.NewInt(0)}
	}
	return &StakeRecord{
		Balance:            r.BalanceValue(),
		StakeTimestamp:     r.StakeTimestamp,
		LastClaimTimestamp: r.LastClaimTimestamp,
	}
}

// Reward is the result of the pure reward computation: the payable amount and
// the number of whole cycles it covers. Fractional cycles never pay.
type Reward struct {
	AmountToClaim *big.Int
	CyclesPassed  uint64
}
