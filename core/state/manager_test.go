package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"stakeledger/native/accrual"
	"stakeledger/storage"
)

func addr(index byte) [20]byte {
	var out [20]byte
	out[19] = index
	return out
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func TestAccrualRecordRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	account, asset := addr(1), addr(9)

	record := &accrual.StakeRecord{
		Balance:            big.NewInt(12345),
		StakeTimestamp:     1_700_000_000,
		LastClaimTimestamp: 1_700_086_400,
	}
	require.NoError(t, mgr.PutAccrualRecord(account, asset, record))

	loaded, err := mgr.AccrualRecord(account, asset)
	require.NoError(t, err)
	require.Equal(t, 0, loaded.Balance.Cmp(record.Balance))
	require.Equal(t, record.StakeTimestamp, loaded.StakeTimestamp)
	require.Equal(t, record.LastClaimTimestamp, loaded.LastClaimTimestamp)
}

func TestAccrualRecordMissingDefaultsToZeroState(t *testing.T) {
	mgr := newTestManager(t)
	record, err := mgr.AccrualRecord(addr(1), addr(9))
	require.NoError(t, err)
	require.NotNil(t, record.Balance)
	require.Zero(t, record.Balance.Sign())
	require.Zero(t, record.StakeTimestamp)
	require.Zero(t, record.LastClaimTimestamp)
	require.False(t, record.Active())
}

func TestZeroStateRecordDeletesKey(t *testing.T) {
	mgr := newTestManager(t)
	account, asset := addr(1), addr(9)
	require.NoError(t, mgr.PutAccrualRecord(account, asset, &accrual.StakeRecord{
		Balance:            big.NewInt(10),
		StakeTimestamp:     100,
		LastClaimTimestamp: 100,
	}))

	require.NoError(t, mgr.PutAccrualRecord(account, asset, &accrual.StakeRecord{Balance: big.NewInt(0)}))

	record, err := mgr.AccrualRecord(account, asset)
	require.NoError(t, err)
	require.False(t, record.Active())
	require.Zero(t, record.StakeTimestamp)
}

func TestRecordsKeyedByAccountAndAsset(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.PutAccrualRecord(addr(1), addr(9), &accrual.StakeRecord{
		Balance:        big.NewInt(1),
		StakeTimestamp: 1,
	}))

	other, err := mgr.AccrualRecord(addr(1), addr(8))
	require.NoError(t, err)
	require.False(t, other.Active())

	other, err = mgr.AccrualRecord(addr(2), addr(9))
	require.NoError(t, err)
	require.False(t, other.Active())
}

func TestReferrerRoundTrip(t *testing.T) {
	mgr := newTestManager(t)

	_, ok, err := mgr.AccrualReferrer(addr(1))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mgr.SetAccrualReferrer(addr(1), addr(2)))
	referrer, ok, err := mgr.AccrualReferrer(addr(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, addr(2), referrer)
}

func TestParamsDefaultWhenUnset(t *testing.T) {
	mgr := newTestManager(t)
	params, err := mgr.AccrualParams()
	require.NoError(t, err)
	require.Equal(t, uint64(accrual.DefaultRewardRate), params.RewardRate)
	require.Equal(t, uint64(accrual.DefaultClaimLockTime), params.ClaimLockTime)
}

func TestParamsRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.SetAccrualParams(&accrual.Params{RewardRate: 42, ClaimLockTime: 0}))
	params, err := mgr.AccrualParams()
	require.NoError(t, err)
	require.Equal(t, uint64(42), params.RewardRate)
	require.Equal(t, uint64(0), params.ClaimLockTime)
}

func TestRoles(t *testing.T) {
	mgr := newTestManager(t)
	admin := addr(7)
	require.False(t, mgr.HasRole(accrual.RoleAdmin, admin[:]))

	require.NoError(t, mgr.GrantRole(accrual.RoleAdmin, admin[:]))
	require.True(t, mgr.HasRole(accrual.RoleAdmin, admin[:]))
	require.False(t, mgr.HasRole(accrual.RoleUpgrader, admin[:]))

	other := addr(8)
	require.False(t, mgr.HasRole(accrual.RoleAdmin, other[:]))
}

func TestTokenBalanceRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	asset, holder := addr(9), addr(1)

	balance, err := mgr.TokenBalance(asset, holder)
	require.NoError(t, err)
	require.Zero(t, balance.Sign())

	require.NoError(t, mgr.SetTokenBalance(asset, holder, big.NewInt(1000)))
	balance, err = mgr.TokenBalance(asset, holder)
	require.NoError(t, err)
	require.Equal(t, 0, balance.Cmp(big.NewInt(1000)))

	// Writing zero removes the key entirely.
	require.NoError(t, mgr.SetTokenBalance(asset, holder, big.NewInt(0)))
	balance, err = mgr.TokenBalance(asset, holder)
	require.NoError(t, err)
	require.Zero(t, balance.Sign())

	require.Error(t, mgr.SetTokenBalance(asset, holder, big.NewInt(-1)))
}

func TestTokenAllowanceRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	asset, owner, spender := addr(9), addr(1), addr(0xCC)

	require.NoError(t, mgr.SetTokenAllowance(asset, owner, spender, big.NewInt(500)))
	allowance, err := mgr.TokenAllowance(asset, owner, spender)
	require.NoError(t, err)
	require.Equal(t, 0, allowance.Cmp(big.NewInt(500)))

	require.NoError(t, mgr.SetTokenAllowance(asset, owner, spender, nil))
	allowance, err = mgr.TokenAllowance(asset, owner, spender)
	require.NoError(t, err)
	require.Zero(t, allowance.Sign())
}

func TestInitializedFlag(t *testing.T) {
	mgr := newTestManager(t)
	done, err := mgr.Initialized()
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, mgr.SetInitialized())
	done, err = mgr.Initialized()
	require.NoError(t, err)
	require.True(t, done)
}
