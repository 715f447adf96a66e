package genesis

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"stakeledger/native/accrual"
)

// ErrAlreadyInitialized is returned when genesis is applied to a database that
// has already been initialised. Initialization is exactly-once.
var ErrAlreadyInitialized = errors.New("genesis: ledger already initialized")

// Spec is the one-time initialization document. It names the administrator
// (granted both the admin and upgrader roles), optional parameter overrides,
// and the balances seeded before the ledger starts: custody reserves that fund
// reward and referral payouts, plus any participant balances.
type Spec struct {
	Admin    string       `yaml:"admin"`
	Params   *ParamsSpec  `yaml:"params,omitempty"`
	Reserves []Allocation `yaml:"reserves,omitempty"`
	Balances []Balance    `yaml:"balances,omitempty"`
}

// ParamsSpec overrides the default global parameters at genesis.
type ParamsSpec struct {
	RewardRate    uint64 `yaml:"rewardRate"`
	ClaimLockTime uint64 `yaml:"claimLockTime"`
}

// Allocation seeds custody reserves for one asset.
type Allocation struct {
	Asset  string `yaml:"asset"`
	Amount string `yaml:"amount"`
}

// Balance seeds a participant balance for one asset.
type Balance struct {
	Asset   string `yaml:"asset"`
	Address string `yaml:"address"`
	Amount  string `yaml:"amount"`
}

// Load reads and validates a genesis document from path.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read spec: %w", err)
	}
	spec := &Spec{}
	if err := yaml.Unmarshal(data, spec); err != nil {
		return nil, fmt.Errorf("genesis: parse spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Validate checks the document before any state is written.
func (s *Spec) Validate() error {
	if s == nil {
		return errors.New("genesis: nil spec")
	}
	if _, err := ParseAddress(s.Admin); err != nil {
		return fmt.Errorf("genesis: admin: %w", err)
	}
	for i, alloc := range s.Reserves {
		if _, err := ParseAddress(alloc.Asset); err != nil {
			return fmt.Errorf("genesis: reserves[%d].asset: %w", i, err)
		}
		if _, err := ParseAmount(alloc.Amount); err != nil {
			return fmt.Errorf("genesis: reserves[%d].amount: %w", i, err)
		}
	}
	for i, bal := range s.Balances {
		if _, err := ParseAddress(bal.Asset); err != nil {
			return fmt.Errorf("genesis: balances[%d].asset: %w", i, err)
		}
		if _, err := ParseAddress(bal.Address); err != nil {
			return fmt.Errorf("genesis: balances[%d].address: %w", i, err)
		}
		if _, err := ParseAmount(bal.Amount); err != nil {
			return fmt.Errorf("genesis: balances[%d].amount: %w", i, err)
		}
	}
	return nil
}

// ParamsOrDefault resolves the parameter overrides. Zero-valued fields fall
// back to the defaults, so a document that only sets rewardRate does not
// silently install a zero cycle length; an administrator who really wants a
// zero parameter sets it at runtime through the setters.
func (s *Spec) ParamsOrDefault() *accrual.Params {
	params := accrual.DefaultParams()
	if s == nil || s.Params == nil {
		return params
	}
	if s.Params.RewardRate != 0 {
		params.RewardRate = s.Params.RewardRate
	}
	if s.Params.ClaimLockTime != 0 {
		params.ClaimLockTime = s.Params.ClaimLockTime
	}
	return params
}

// ParseAddress decodes a 0x-prefixed hex account or asset identifier.
func ParseAddress(value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [20]byte{}, errors.New("address is required")
	}
	if !common.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("invalid address %q", trimmed)
	}
	return common.HexToAddress(trimmed), nil
}

// ParseAmount decodes a positive base-10 amount.
func ParseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %q", value)
	}
	return amount, nil
}
