package token

import (
	"errors"
	"math/big"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInvalidAmount         = errors.New("token: amount must be positive")

	errNilState = errors.New("token: state not configured")
)

// ledgerState is the view of the surrounding state the token ledger needs.
type ledgerState interface {
	TokenBalance(asset, addr [20]byte) (*big.Int, error)
	SetTokenBalance(asset, addr [20]byte, amount *big.Int) error
	TokenAllowance(asset, owner, spender [20]byte) (*big.Int, error)
	SetTokenAllowance(asset, owner, spender [20]byte, amount *big.Int) error
}

// Ledger is the asset-transfer collaborator: a balance-conserving multi-asset
// book with allowance semantics. The custody address holds the reserves that
// fund reward and referral payouts; nothing here mints value after genesis.
type Ledger struct {
	state   ledgerState
	custody [20]byte
}

// NewLedger creates a token ledger whose custody account is the given address.
func NewLedger(custody [20]byte) *Ledger {
	return &Ledger{custody: custody}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// Custody returns the address holding ledger reserves.
func (l *Ledger) Custody() [20]byte { return l.custody }

func amountValue(v *big.Int) (*big.Int, error) {
	if v == nil || v.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return new(big.Int).Set(v), nil
}

// BalanceOf returns the balance of addr in asset.
func (l *Ledger) BalanceOf(asset, addr [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	return l.state.TokenBalance(asset, addr)
}

// Allowance returns how much spender may pull from owner in asset.
func (l *Ledger) Allowance(asset, owner, spender [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	return l.state.TokenAllowance(asset, owner, spender)
}

// Approve sets spender's allowance over owner's balance in asset. A zero
// amount revokes the allowance.
func (l *Ledger) Approve(asset, owner, spender [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	value := big.NewInt(0)
	if amount != nil {
		if amount.Sign() < 0 {
			return ErrInvalidAmount
		}
		value = new(big.Int).Set(amount)
	}
	return l.state.SetTokenAllowance(asset, owner, spender, value)
}

// Mint credits freshly created units to addr. Only genesis initialisation
// calls this, to seed custody reserves and test balances; ledger operations
// themselves only redistribute.
func (l *Ledger) Mint(asset, addr [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	amt, err := amountValue(amount)
	if err != nil {
		return err
	}
	balance, err := l.state.TokenBalance(asset, addr)
	if err != nil {
		return err
	}
	return l.state.SetTokenBalance(asset, addr, new(big.Int).Add(balance, amt))
}

func (l *Ledger) move(asset, from, to [20]byte, amount *big.Int) error {
	fromBalance, err := l.state.TokenBalance(asset, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance, err := l.state.TokenBalance(asset, to)
	if err != nil {
		return err
	}
	if err := l.state.SetTokenBalance(asset, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.state.SetTokenBalance(asset, to, new(big.Int).Add(toBalance, amount))
}

// Transfer pays out of custody reserves to recipient. It fails without
// mutation when custody holds less than amount.
func (l *Ledger) Transfer(asset, recipient [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	amt, err := amountValue(amount)
	if err != nil {
		return err
	}
	return l.move(asset, l.custody, recipient, amt)
}

// TransferFrom pulls amount from owner into custody, consuming the owner's
// allowance granted to the custody account.
func (l *Ledger) TransferFrom(asset, owner [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	amt, err := amountValue(amount)
	if err != nil {
		return err
	}
	allowance, err := l.state.TokenAllowance(asset, owner, l.custody)
	if err != nil {
		return err
	}
	if allowance.Cmp(amt) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.move(asset, owner, l.custody, amt); err != nil {
		return err
	}
	return l.state.SetTokenAllowance(asset, owner, l.custody, new(big.Int).Sub(allowance, amt))
}
