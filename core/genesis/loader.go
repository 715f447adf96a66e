package genesis

import (
	"fmt"

	"stakeledger/core/state"
	"stakeledger/native/accrual"
	"stakeledger/native/token"
)

// Apply runs one-time initialization: the admin receives both the accrual
// admin and upgrader roles, the global parameters are installed, and the
// seeded balances are minted. A second application against the same database
// fails with ErrAlreadyInitialized and writes nothing.
func Apply(spec *Spec, mgr *state.Manager, tokens *token.Ledger) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	done, err := mgr.Initialized()
	if err != nil {
		return err
	}
	if done {
		return ErrAlreadyInitialized
	}

	admin, err := ParseAddress(spec.Admin)
	if err != nil {
		return err
	}
	if err := mgr.GrantRole(accrual.RoleAdmin, admin[:]); err != nil {
		return err
	}
	if err := mgr.GrantRole(accrual.RoleUpgrader, admin[:]); err != nil {
		return err
	}
	if err := mgr.SetAccrualParams(spec.ParamsOrDefault()); err != nil {
		return err
	}

	custody := tokens.Custody()
	for i, alloc := range spec.Reserves {
		asset, _ := ParseAddress(alloc.Asset)
		amount, _ := ParseAmount(alloc.Amount)
		if err := tokens.Mint(asset, custody, amount); err != nil {
			return fmt.Errorf("genesis: seed reserves[%d]: %w", i, err)
		}
	}
	for i, bal := range spec.Balances {
		asset, _ := ParseAddress(bal.Asset)
		addr, _ := ParseAddress(bal.Address)
		amount, _ := ParseAmount(bal.Amount)
		if err := tokens.Mint(asset, addr, amount); err != nil {
			return fmt.Errorf("genesis: seed balances[%d]: %w", i, err)
		}
	}

	return mgr.SetInitialized()
}
