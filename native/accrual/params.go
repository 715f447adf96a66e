package accrual

const (
	// DefaultRewardRate pays 10 reward units per 1000 staked per cycle (1%).
	DefaultRewardRate uint64 = 10
	// DefaultClaimLockTime is the initial cycle length: 24 hours.
	DefaultClaimLockTime uint64 = 86400

	// RewardRateDenominator scales the reward rate: rate units per 1000 staked.
	RewardRateDenominator uint64 = 1000
	// ReferralBonusNumerator pays 5 per 1000 (0.5%) of a referred deposit to
	// the referrer, funded out of ledger reserves.
	ReferralBonusNumerator uint64 = 5

	// RoleAdmin gates the global parameter setters.
	RoleAdmin = "ROLE_ACCRUAL_ADMIN"
	// RoleUpgrader authorises logic upgrades; granted at genesis alongside
	// RoleAdmin but never consulted by ledger operations.
	RoleUpgrader = "ROLE_UPGRADER"
)

// Params holds the admin-controlled global parameters. Values are written
// verbatim: no bounds are enforced, by documented trust assumption an
// administrator can set a degenerate rate or lock time.
type Params struct {
	RewardRate    uint64
	ClaimLockTime uint64
}

// DefaultParams returns the parameters installed at genesis.
func DefaultParams() *Params {
	return &Params{RewardRate: DefaultRewardRate, ClaimLockTime: DefaultClaimLockTime}
}

// Clone returns a copy safe to hand out of the engine.
func (p *Params) Clone() *Params {
	if p == nil {
		return DefaultParams()
	}
	return &Params{RewardRate: p.RewardRate, ClaimLockTime: p.ClaimLockTime}
}
