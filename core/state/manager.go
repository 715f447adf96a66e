package state

import (
	"errors"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"stakeledger/native/accrual"
	"stakeledger/storage"
)

// Manager persists ledger state through a storage.Database using keccak-hashed
// prefixed keys and RLP payloads. It is the only writer of accrual records,
// referral links, global parameters, roles, and token balances.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager over the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	recordPrefix    = []byte("accrual:record:")
	referrerPrefix  = []byte("accrual:referrer:")
	paramsKey       = ethcrypto.Keccak256([]byte("accrual:params"))
	rolePrefix      = []byte("role:")
	balancePrefix   = []byte("token:balance:")
	allowancePrefix = []byte("token:allowance:")
	initializedKey  = ethcrypto.Keccak256([]byte("genesis:initialized"))
)

func hashKey(prefix []byte, parts ...[]byte) []byte {
	buf := append([]byte{}, prefix...)
	for _, part := range parts {
		buf = append(buf, part...)
		buf = append(buf, ':')
	}
	return ethcrypto.Keccak256(buf)
}

func recordKey(account, asset [20]byte) []byte {
	return hashKey(recordPrefix, asset[:], account[:])
}

func referrerKey(account [20]byte) []byte {
	return hashKey(referrerPrefix, account[:])
}

func roleKey(role string, addr []byte) []byte {
	return hashKey(rolePrefix, []byte(role), addr)
}

func balanceKey(asset, addr [20]byte) []byte {
	return hashKey(balancePrefix, asset[:], addr[:])
}

func allowanceKey(asset, owner, spender [20]byte) []byte {
	return hashKey(allowancePrefix, asset[:], owner[:], spender[:])
}

// storedRecord is the RLP shape of an accrual position.
type storedRecord struct {
	Balance            *big.Int
	StakeTimestamp     uint64
	LastClaimTimestamp uint64
}

// storedParams is the RLP shape of the global parameters.
type storedParams struct {
	RewardRate    uint64
	ClaimLockTime uint64
}

// AccrualRecord loads the position for (account, asset), returning a fresh
// zero-state record when none is stored.
func (m *Manager) AccrualRecord(account, asset [20]byte) (*accrual.StakeRecord, error) {
	data, err := m.db.Get(recordKey(account, asset))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return &accrual.StakeRecord{Balance: big.NewInt(0)}, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedRecord
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, err
	}
	balance := stored.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	return &accrual.StakeRecord{
		Balance:            balance,
		StakeTimestamp:     stored.StakeTimestamp,
		LastClaimTimestamp: stored.LastClaimTimestamp,
	}, nil
}

// PutAccrualRecord stores the position for (account, asset). A zero-state
// record deletes the key so reopened positions start from a clean slate.
func (m *Manager) PutAccrualRecord(account, asset [20]byte, record *accrual.StakeRecord) error {
	key := recordKey(account, asset)
	if record == nil || (!record.Active() && record.StakeTimestamp == 0 && record.LastClaimTimestamp == 0) {
		return m.db.Delete(key)
	}
	encoded, err := rlp.EncodeToBytes(&storedRecord{
		Balance:            record.BalanceValue(),
		StakeTimestamp:     record.StakeTimestamp,
		LastClaimTimestamp: record.LastClaimTimestamp,
	})
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// AccrualReferrer returns the referral link target for account, if any.
func (m *Manager) AccrualReferrer(account [20]byte) ([20]byte, bool, error) {
	data, err := m.db.Get(referrerKey(account))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return [20]byte{}, false, nil
	}
	if err != nil {
		return [20]byte{}, false, err
	}
	if len(data) != 20 {
		return [20]byte{}, false, errors.New("state: malformed referrer entry")
	}
	var referrer [20]byte
	copy(referrer[:], data)
	return referrer, referrer != [20]byte{}, nil
}

// SetAccrualReferrer records the write-once referral link for account.
func (m *Manager) SetAccrualReferrer(account, referrer [20]byte) error {
	return m.db.Put(referrerKey(account), referrer[:])
}

// AccrualParams loads the global parameters, defaulting when unset.
func (m *Manager) AccrualParams() (*accrual.Params, error) {
	data, err := m.db.Get(paramsKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return accrual.DefaultParams(), nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedParams
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, err
	}
	return &accrual.Params{RewardRate: stored.RewardRate, ClaimLockTime: stored.ClaimLockTime}, nil
}

// SetAccrualParams overwrites the global parameters.
func (m *Manager) SetAccrualParams(params *accrual.Params) error {
	if params == nil {
		params = accrual.DefaultParams()
	}
	encoded, err := rlp.EncodeToBytes(&storedParams{
		RewardRate:    params.RewardRate,
		ClaimLockTime: params.ClaimLockTime,
	})
	if err != nil {
		return err
	}
	return m.db.Put(paramsKey, encoded)
}

// HasRole reports whether addr holds the named role.
func (m *Manager) HasRole(role string, addr []byte) bool {
	ok, err := m.db.Has(roleKey(role, addr))
	return err == nil && ok
}

// GrantRole marks addr as holding the named role.
func (m *Manager) GrantRole(role string, addr []byte) error {
	return m.db.Put(roleKey(role, addr), []byte{1})
}

// TokenBalance returns the stored balance of addr in asset, zero when unset.
func (m *Manager) TokenBalance(asset, addr [20]byte) (*big.Int, error) {
	data, err := m.db.Get(balanceKey(asset, addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(data), nil
}

// SetTokenBalance stores the balance of addr in asset. Zero deletes the key.
func (m *Manager) SetTokenBalance(asset, addr [20]byte, amount *big.Int) error {
	key := balanceKey(asset, addr)
	if amount == nil || amount.Sign() == 0 {
		return m.db.Delete(key)
	}
	if amount.Sign() < 0 {
		return errors.New("state: negative balance")
	}
	return m.db.Put(key, amount.Bytes())
}

// TokenAllowance returns spender's allowance over owner's asset balance.
func (m *Manager) TokenAllowance(asset, owner, spender [20]byte) (*big.Int, error) {
	data, err := m.db.Get(allowanceKey(asset, owner, spender))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(data), nil
}

// SetTokenAllowance stores spender's allowance over owner's asset balance.
func (m *Manager) SetTokenAllowance(asset, owner, spender [20]byte, amount *big.Int) error {
	key := allowanceKey(asset, owner, spender)
	if amount == nil || amount.Sign() == 0 {
		return m.db.Delete(key)
	}
	if amount.Sign() < 0 {
		return errors.New("state: negative allowance")
	}
	return m.db.Put(key, amount.Bytes())
}

// Initialized reports whether genesis has already run against this database.
func (m *Manager) Initialized() (bool, error) {
	return m.db.Has(initializedKey)
}

// SetInitialized marks genesis as complete. Initialization is exactly-once.
func (m *Manager) SetInitialized() error {
	return m.db.Put(initializedKey, []byte{1})
}
