package accrual

import (
	"math/big"
	"time"

	"stakeledger/core/events"
)

// ledgerState is the narrow view of the surrounding state the engine needs.
type ledgerState interface {
	AccrualRecord(account, asset [20]byte) (*StakeRecord, error)
	PutAccrualRecord(account, asset [20]byte, record *StakeRecord) error
	AccrualReferrer(account [20]byte) ([20]byte, bool, error)
	SetAccrualReferrer(account, referrer [20]byte) error
	AccrualParams() (*Params, error)
	SetAccrualParams(params *Params) error
	HasRole(role string, addr []byte) bool
}

// AssetLedger is the external value-transfer collaborator. Transfer pays out
// of ledger custody; TransferFrom pulls a deposit from the owner into ledger
// custody and fails on insufficient balance or allowance. The engine never
// mints: every payout is funded by pre-existing reserves.
type AssetLedger interface {
	Transfer(asset, recipient [20]byte, amount *big.Int) error
	TransferFrom(asset, owner [20]byte, amount *big.Int) error
}

// Engine implements the accrual ledger: per-(account, asset) positions,
// cycle-based rewards, and the two-level referral bonus.
type Engine struct {
	state   ledgerState
	assets  AssetLedger
	emitter events.Emitter
	nowFn   func() int64

	// busy is the ledger-wide reentrancy guard. It is a flag rather than a
	// mutex: an adversarial asset ledger re-enters synchronously on the same
	// call stack, where a lock would deadlock instead of rejecting.
	busy bool
}

// NewEngine creates an accrual engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state ledgerState) { e.state = state }

// SetAssets configures the asset-transfer collaborator.
func (e *Engine) SetAssets(assets AssetLedger) { e.assets = assets }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() uint64 {
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter != nil && evt != nil {
		e.emitter.Emit(evt)
	}
}

func (e *Engine) enter() error {
	if e.busy {
		return ErrReentrantCall
	}
	e.busy = true
	return nil
}

func (e *Engine) exit() { e.busy = false }

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.assets == nil {
		return errNilAssets
	}
	return nil
}

// computeReward is the pure accrual formula. The reference point is the last
// claim when one exists, otherwise the stake timestamp; a zero reference means
// no position was ever opened. Only whole elapsed cycles pay:
//
//	cycles = (now - since) / claimLockTime
//	amount = balance * rewardRate * cycles / 1000
//
// with floor division throughout. A zero lock time degenerates to one cycle
// per elapsed second, the documented consequence of the unbounded admin
// setter.
func computeReward(record *StakeRecord, params *Params, now uint64) Reward {
	zero := Reward{AmountToClaim: big.NewInt(0)}
	if record == nil || params == nil {
		return zero
	}
	since := record.LastClaimTimestamp
	if since == 0 {
		since = record.StakeTimestamp
	}
	if since == 0 || now <= since {
		return zero
	}
	elapsed := now - since
	cycles := elapsed
	if params.ClaimLockTime > 0 {
		cycles = elapsed / params.ClaimLockTime
	}
	if cycles == 0 {
		return zero
	}
	amount := new(big.Int).Mul(record.BalanceValue(), new(big.Int).SetUint64(params.RewardRate))
	amount.Mul(amount, new(big.Int).SetUint64(cycles))
	amount.Quo(amount, new(big.Int).SetUint64(RewardRateDenominator))
	return Reward{AmountToClaim: amount, CyclesPassed: cycles}
}

// RewardOf returns the reward payable right now for (account, asset). It is a
// pure projection of stored state and the current time: calling it any number
// of times mutates nothing.
func (e *Engine) RewardOf(account, asset [20]byte) (Reward, error) {
	if e == nil || e.state == nil {
		return Reward{AmountToClaim: big.NewInt(0)}, errNilState
	}
	record, err := e.state.AccrualRecord(account, asset)
	if err != nil {
		return Reward{AmountToClaim: big.NewInt(0)}, err
	}
	params, err := e.state.AccrualParams()
	if err != nil {
		return Reward{AmountToClaim: big.NewInt(0)}, err
	}
	return computeReward(record, params, e.now()), nil
}

// Record returns a copy of the stored position for (account, asset).
func (e *Engine) Record(account, asset [20]byte) (*StakeRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, err := e.state.AccrualRecord(account, asset)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// Referrer returns the referral link target for account, if one exists.
func (e *Engine) Referrer(account [20]byte) ([20]byte, bool, error) {
	if e == nil || e.state == nil {
		return [20]byte{}, false, errNilState
	}
	return e.state.AccrualReferrer(account)
}

// Params returns a copy of the current global parameters.
func (e *Engine) Params() (*Params, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	params, err := e.state.AccrualParams()
	if err != nil {
		return nil, err
	}
	return params.Clone(), nil
}

// Deposit opens or tops up the caller's position in asset. An existing
// position first receives its pending reward, after which the claim reference
// resets fully to now; the whole-cycle advance is reserved for Claim. When the
// depositor was referred, the referrer receives amount*5/1000 out of ledger
// reserves on top of the deposit itself.
func (e *Engine) Deposit(caller, asset [20]byte, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	record, err := e.state.AccrualRecord(caller, asset)
	if err != nil {
		return err
	}
	params, err := e.state.AccrualParams()
	if err != nil {
		return err
	}
	now := e.now()

	if record.Active() {
		reward := computeReward(record, params, now)
		if reward.AmountToClaim.Sign() > 0 {
			if err := e.assets.Transfer(asset, caller, reward.AmountToClaim); err != nil {
				return err
			}
		}
	}

	if referrer, ok, err := e.state.AccrualReferrer(caller); err != nil {
		return err
	} else if ok {
		bonus := new(big.Int).Mul(amount, new(big.Int).SetUint64(ReferralBonusNumerator))
		bonus.Quo(bonus, new(big.Int).SetUint64(RewardRateDenominator))
		if bonus.Sign() > 0 {
			if err := e.assets.Transfer(asset, referrer, bonus); err != nil {
				return err
			}
			e.emit(events.ReferralBonusPaid{Referrer: referrer, Referred: caller, Asset: asset, Amount: bonus})
		}
	}

	if err := e.assets.TransferFrom(asset, caller, amount); err != nil {
		return err
	}

	record = record.Clone()
	record.Balance = new(big.Int).Add(record.BalanceValue(), amount)
	record.StakeTimestamp = now
	record.LastClaimTimestamp = now
	if err := e.state.PutAccrualRecord(caller, asset, record); err != nil {
		return err
	}

	e.emit(events.Staked{Account: caller, Asset: asset, Amount: new(big.Int).Set(amount), Timestamp: now})
	return nil
}

// Claim pays the reward accrued over whole elapsed cycles and advances the
// claim reference by exactly those cycles, preserving any fractional-cycle
// remainder toward the next claim.
func (e *Engine) Claim(caller, asset [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()

	record, err := e.state.AccrualRecord(caller, asset)
	if err != nil {
		return nil, err
	}
	params, err := e.state.AccrualParams()
	if err != nil {
		return nil, err
	}
	reward := computeReward(record, params, e.now())
	if reward.CyclesPassed < 1 {
		return nil, &EarlyClaimError{NextEligibleUnix: record.LastClaimTimestamp + params.ClaimLockTime}
	}
	if reward.AmountToClaim.Sign() == 0 {
		return nil, ErrNothingToClaim
	}

	if err := e.assets.Transfer(asset, caller, reward.AmountToClaim); err != nil {
		return nil, err
	}

	record = record.Clone()
	record.LastClaimTimestamp += reward.CyclesPassed * params.ClaimLockTime
	if err := e.state.PutAccrualRecord(caller, asset, record); err != nil {
		return nil, err
	}

	e.emit(events.RewardClaimed{
		Account:          caller,
		Asset:            asset,
		Paid:             new(big.Int).Set(reward.AmountToClaim),
		Cycles:           reward.CyclesPassed,
		NextEligibleUnix: record.LastClaimTimestamp + params.ClaimLockTime,
	})
	return reward.AmountToClaim, nil
}

// Unstake closes the caller's position, paying principal plus accrued reward
// in a single transfer and resetting the record to zero-state.
func (e *Engine) Unstake(caller, asset [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()

	record, err := e.state.AccrualRecord(caller, asset)
	if err != nil {
		return nil, err
	}
	if !record.Active() {
		return nil, ErrNothingToUnstake
	}
	params, err := e.state.AccrualParams()
	if err != nil {
		return nil, err
	}
	reward := computeReward(record, params, e.now())
	total := new(big.Int).Add(record.BalanceValue(), reward.AmountToClaim)

	if err := e.assets.Transfer(asset, caller, total); err != nil {
		return nil, err
	}

	if err := e.state.PutAccrualRecord(caller, asset, &StakeRecord{Balance: big.NewInt(0)}); err != nil {
		return nil, err
	}

	e.emit(events.Unstaked{Account: caller, Asset: asset, Returned: total})
	return total, nil
}

// SetReferrer records the caller as the referrer of referred. The link is
// write-once and asset-agnostic; asset is only used to prove the caller holds
// an active position of their own.
func (e *Engine) SetReferrer(caller, referred, asset [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller == referred {
		return ErrSelfReferring
	}
	existing, ok, err := e.state.AccrualReferrer(referred)
	if err != nil {
		return err
	}
	if ok {
		return &ReferrerAlreadySetError{Referrer: existing}
	}
	record, err := e.state.AccrualRecord(caller, asset)
	if err != nil {
		return err
	}
	if !record.Active() {
		return ErrZeroReferrerBalance
	}
	if err := e.state.SetAccrualReferrer(referred, caller); err != nil {
		return err
	}
	e.emit(events.ReferrerLinked{Referred: referred, Referrer: caller})
	return nil
}

// SetRewardRate overwrites the global reward rate. Admin only; no bounds.
func (e *Engine) SetRewardRate(caller [20]byte, value uint64) error {
	return e.setParam(caller, "rewardRate", value, func(p *Params) { p.RewardRate = value })
}

// SetClaimLockTime overwrites the cycle length in seconds. Admin only; no
// bounds, a zero value is accepted and documented rather than rejected.
func (e *Engine) SetClaimLockTime(caller [20]byte, value uint64) error {
	return e.setParam(caller, "claimLockTime", value, func(p *Params) { p.ClaimLockTime = value })
}

func (e *Engine) setParam(caller [20]byte, name string, value uint64, apply func(*Params)) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.state.HasRole(RoleAdmin, caller[:]) {
		return ErrUnauthorized
	}
	params, err := e.state.AccrualParams()
	if err != nil {
		return err
	}
	params = params.Clone()
	apply(params)
	if err := e.state.SetAccrualParams(params); err != nil {
		return err
	}
	e.emit(events.ParamsUpdated{Caller: caller, Param: name, Value: value})
	return nil
}
