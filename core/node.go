package core

import (
	"math/big"
	"sync"

	"stakeledger/core/events"
	"stakeledger/core/genesis"
	"stakeledger/core/state"
	"stakeledger/core/types"
	"stakeledger/native/accrual"
	"stakeledger/native/token"
	"stakeledger/storage"
)

// maxBufferedEvents bounds the in-memory event backlog handed to late
// websocket subscribers.
const maxBufferedEvents = 1024

// Node wires storage, state, the token ledger, and the accrual engine into
// one facade the RPC layer talks to. Operations run one at a time under a
// single mutex: the execution model is transactional, with no interleaving
// between logical operations.
//
// Mutations are atomic. Each mutating operation runs against a write-buffering
// overlay of the database that is committed only when the operation succeeds;
// a failure partway through (an exhausted allowance after a reward payout, a
// record write error after a transfer) discards every buffered write, so no
// partial state ever lands. Events follow the same rule and are published only
// after commit. Reentrancy from the asset ledger back into the engine is a
// separate concern handled by the engine's own guard.
type Node struct {
	db storage.Database

	// read path, served directly from the database.
	state  *state.Manager
	tokens *token.Ledger
	engine *accrual.Engine

	mu    sync.Mutex
	nowFn func() int64

	subMu       sync.Mutex
	eventLog    []types.Event
	subscribers map[uint64]chan types.Event
	nextSubID   uint64
}

// NewNode assembles a node over the given database.
func NewNode(db storage.Database) *Node {
	mgr := state.NewManager(db)
	tokens := token.NewLedger(token.CustodyAddress())
	tokens.SetState(mgr)
	engine := accrual.NewEngine()
	engine.SetState(mgr)
	engine.SetAssets(tokens)

	return &Node{
		db:          db,
		state:       mgr,
		tokens:      tokens,
		engine:      engine,
		subscribers: make(map[uint64]chan types.Event),
	}
}

// SetNowFunc overrides the engine time source. Intended for tests.
func (n *Node) SetNowFunc(now func() int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nowFn = now
	n.engine.SetNowFunc(now)
}

// eventBuffer collects engine events during a mutating operation so they are
// only published once the operation's writes have committed.
type eventBuffer struct {
	events []events.Event
}

func (b *eventBuffer) Emit(evt events.Event) {
	if evt != nil {
		b.events = append(b.events, evt)
	}
}

// withLedger runs fn against an overlay-backed engine and token ledger,
// committing the overlay and publishing buffered events only when fn succeeds.
func (n *Node) withLedger(fn func(*accrual.Engine, *token.Ledger, *state.Manager) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	overlay := storage.NewOverlay(n.db)
	mgr := state.NewManager(overlay)
	tokens := token.NewLedger(token.CustodyAddress())
	tokens.SetState(mgr)
	engine := accrual.NewEngine()
	engine.SetState(mgr)
	engine.SetAssets(tokens)
	buf := &eventBuffer{}
	engine.SetEmitter(buf)
	if n.nowFn != nil {
		engine.SetNowFunc(n.nowFn)
	}

	if err := fn(engine, tokens, mgr); err != nil {
		return err
	}
	if err := overlay.Commit(); err != nil {
		return err
	}
	for _, evt := range buf.events {
		n.publish(evt)
	}
	return nil
}

// ApplyGenesis runs one-time initialization against the node's database. Like
// every mutation it is all-or-nothing: a validation or seeding failure leaves
// the database untouched.
func (n *Node) ApplyGenesis(spec *genesis.Spec) error {
	return n.withLedger(func(_ *accrual.Engine, tokens *token.Ledger, mgr *state.Manager) error {
		return genesis.Apply(spec, mgr, tokens)
	})
}

// Initialized reports whether genesis has run.
func (n *Node) Initialized() (bool, error) {
	return n.state.Initialized()
}

// HasRole reports whether addr holds the named role.
func (n *Node) HasRole(role string, addr []byte) bool {
	return n.state.HasRole(role, addr)
}

// Deposit stakes amount of asset for caller.
func (n *Node) Deposit(caller, asset [20]byte, amount *big.Int) error {
	return n.withLedger(func(engine *accrual.Engine, _ *token.Ledger, _ *state.Manager) error {
		return engine.Deposit(caller, asset, amount)
	})
}

// Claim pays out the caller's accrued reward for asset.
func (n *Node) Claim(caller, asset [20]byte) (*big.Int, error) {
	var paid *big.Int
	err := n.withLedger(func(engine *accrual.Engine, _ *token.Ledger, _ *state.Manager) error {
		var claimErr error
		paid, claimErr = engine.Claim(caller, asset)
		return claimErr
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// Unstake closes the caller's position in asset.
func (n *Node) Unstake(caller, asset [20]byte) (*big.Int, error) {
	var returned *big.Int
	err := n.withLedger(func(engine *accrual.Engine, _ *token.Ledger, _ *state.Manager) error {
		var unstakeErr error
		returned, unstakeErr = engine.Unstake(caller, asset)
		return unstakeErr
	})
	if err != nil {
		return nil, err
	}
	return returned, nil
}

// SetReferrer links referred to caller as its referrer.
func (n *Node) SetReferrer(caller, referred, asset [20]byte) error {
	return n.withLedger(func(engine *accrual.Engine, _ *token.Ledger, _ *state.Manager) error {
		return engine.SetReferrer(caller, referred, asset)
	})
}

// SetRewardRate overwrites the global reward rate. Admin only.
func (n *Node) SetRewardRate(caller [20]byte, value uint64) error {
	return n.withLedger(func(engine *accrual.Engine, _ *token.Ledger, _ *state.Manager) error {
		return engine.SetRewardRate(caller, value)
	})
}

// SetClaimLockTime overwrites the cycle length. Admin only.
func (n *Node) SetClaimLockTime(caller [20]byte, value uint64) error {
	return n.withLedger(func(engine *accrual.Engine, _ *token.Ledger, _ *state.Manager) error {
		return engine.SetClaimLockTime(caller, value)
	})
}

// RewardOf previews the reward payable for (account, asset) right now.
func (n *Node) RewardOf(account, asset [20]byte) (accrual.Reward, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.RewardOf(account, asset)
}

// Record returns the stored position for (account, asset).
func (n *Node) Record(account, asset [20]byte) (*accrual.StakeRecord, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Record(account, asset)
}

// Referrer returns the referral link target for account, if any.
func (n *Node) Referrer(account [20]byte) ([20]byte, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Referrer(account)
}

// Params returns the current global parameters.
func (n *Node) Params() (*accrual.Params, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Params()
}

// TokenBalanceOf returns addr's balance in asset.
func (n *Node) TokenBalanceOf(asset, addr [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens.BalanceOf(asset, addr)
}

// TokenApprove grants the custody account an allowance to pull deposits from
// owner's balance in asset.
func (n *Node) TokenApprove(asset, owner [20]byte, amount *big.Int) error {
	return n.withLedger(func(_ *accrual.Engine, tokens *token.Ledger, _ *state.Manager) error {
		return tokens.Approve(asset, owner, tokens.Custody(), amount)
	})
}

// TokenAllowance returns the custody allowance granted by owner in asset.
func (n *Node) TokenAllowance(asset, owner [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens.Allowance(asset, owner, n.tokens.Custody())
}

// CustodyAddress returns the reserve account funding reward payouts.
func (n *Node) CustodyAddress() [20]byte { return n.tokens.Custody() }

type wireEvent interface {
	Event() *types.Event
}

// publish renders a committed engine event to wire form, logs it for late
// subscribers, and fans it out to live streams. Slow subscribers lose events
// rather than stalling the ledger.
func (n *Node) publish(evt events.Event) {
	payload, ok := evt.(wireEvent)
	if !ok {
		return
	}
	wire := payload.Event()
	if wire == nil {
		return
	}
	n.subMu.Lock()
	defer n.subMu.Unlock()
	n.eventLog = append(n.eventLog, *wire)
	if len(n.eventLog) > maxBufferedEvents {
		n.eventLog = n.eventLog[len(n.eventLog)-maxBufferedEvents:]
	}
	for _, sub := range n.subscribers {
		select {
		case sub <- *wire:
		default:
		}
	}
}

// Events returns a copy of the buffered event backlog.
func (n *Node) Events() []types.Event {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	out := make([]types.Event, len(n.eventLog))
	copy(out, n.eventLog)
	return out
}

// SubscribeEvents registers a live event stream and returns it together with
// the buffered backlog and a cancel function.
func (n *Node) SubscribeEvents() (<-chan types.Event, []types.Event, func()) {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	id := n.nextSubID
	n.nextSubID++
	ch := make(chan types.Event, 64)
	n.subscribers[id] = ch
	backlog := make([]types.Event, len(n.eventLog))
	copy(backlog, n.eventLog)
	cancel := func() {
		n.subMu.Lock()
		defer n.subMu.Unlock()
		if sub, ok := n.subscribers[id]; ok {
			delete(n.subscribers, id)
			close(sub)
		}
	}
	return ch, backlog, cancel
}
