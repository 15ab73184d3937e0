package statedb

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/tos-network/gtos/common"
	"github.com/tos-network/gtos/log"
	"github.com/tos-network/gtos/storage"
	"github.com/tos-network/gtos/types"
)

// stagedAccount holds one account's in-memory view during block
// execution. Fields are loaded lazily from storage on first access and
// the original values are kept so that the merge can emit only real
// modifications. Guarded by its own mutex; entries are never shared
// across StagedState instances.
type stagedAccount struct {
	mu sync.Mutex

	existsLoaded bool
	exists       bool

	nonceLoaded   bool
	nonceDirty    bool
	nonce         uint64
	originalNonce uint64
	noncePresent  bool

	balances        map[common.Hash]uint64
	balanceLoaded   map[common.Hash]bool
	balanceDirty    map[common.Hash]bool
	originalBalance map[common.Hash]uint64
	originalPresent map[common.Hash]bool

	multisigLoaded   bool
	multisigDirty    bool
	multisig         *types.MultiSigPayload
	originalMultisig *types.MultiSigPayload
}

func newStagedAccount() *stagedAccount {
	return &stagedAccount{
		balances:        make(map[common.Hash]uint64),
		balanceLoaded:   make(map[common.Hash]bool),
		balanceDirty:    make(map[common.Hash]bool),
		originalBalance: make(map[common.Hash]uint64),
		originalPresent: make(map[common.Hash]bool),
	}
}

// StagedState is the shared account store for one block. Concurrent
// transactions read and write through it; nothing touches persistent
// storage until Merge. Account entries are created on demand and all
// storage reads funnel through a single-permit gate so the backing
// store only ever sees one in-flight read.
type StagedState struct {
	store storage.Storage
	topo  common.TopoHeight

	mu       sync.RWMutex
	accounts map[common.PublicKey]*stagedAccount

	// readGate serializes storage reads. One permit, on purpose:
	// correctness of concurrent execution must not depend on the
	// thread safety of the storage backend.
	readGate *semaphore.Weighted

	counters *BlockCounters
}

// NewStagedState builds a staged store reading account data at the
// given topoheight.
func NewStagedState(store storage.Storage, topo common.TopoHeight) *StagedState {
	return &StagedState{
		store:    store,
		topo:     topo,
		accounts: make(map[common.PublicKey]*stagedAccount),
		readGate: semaphore.NewWeighted(1),
		counters: NewBlockCounters(),
	}
}

func (s *StagedState) TopoHeight() common.TopoHeight { return s.topo }
func (s *StagedState) Counters() *BlockCounters      { return s.counters }
func (s *StagedState) IsMainnet() bool               { return s.store.IsMainnet() }

func (s *StagedState) entry(account common.PublicKey) *stagedAccount {
	s.mu.RLock()
	e, ok := s.accounts[account]
	s.mu.RUnlock()
	if ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.accounts[account]; ok {
		return e
	}
	e = newStagedAccount()
	s.accounts[account] = e
	return e
}

// gatedRead runs fn while holding the storage read permit.
func (s *StagedState) gatedRead(ctx context.Context, fn func() error) error {
	if err := s.readGate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.readGate.Release(1)
	return fn()
}

// loadNonce populates the nonce fields. Caller holds e.mu.
func (s *StagedState) loadNonce(ctx context.Context, account common.PublicKey, e *stagedAccount) error {
	if e.nonceLoaded {
		return nil
	}
	return s.gatedRead(ctx, func() error {
		nonce, _, found, err := s.store.GetNonceAtMaximumTopoHeight(ctx, account, s.topo)
		if err != nil {
			return err
		}
		e.nonceLoaded = true
		e.noncePresent = found
		if found {
			e.nonce = nonce
			e.originalNonce = nonce
		}
		return nil
	})
}

func (s *StagedState) loadBalance(ctx context.Context, account common.PublicKey, asset common.Hash, e *stagedAccount) error {
	if e.balanceLoaded[asset] {
		return nil
	}
	return s.gatedRead(ctx, func() error {
		balance, _, found, err := s.store.GetBalanceAtMaximumTopoHeight(ctx, account, asset, s.topo)
		if err != nil {
			return err
		}
		e.balanceLoaded[asset] = true
		e.originalPresent[asset] = found
		if found {
			e.balances[asset] = balance
			e.originalBalance[asset] = balance
		}
		return nil
	})
}

func (s *StagedState) loadMultisig(ctx context.Context, account common.PublicKey, e *stagedAccount) error {
	if e.multisigLoaded {
		return nil
	}
	return s.gatedRead(ctx, func() error {
		config, _, found, err := s.store.GetMultisigAtMaximumTopoHeight(ctx, account, s.topo)
		if err != nil {
			return err
		}
		e.multisigLoaded = true
		if found {
			e.multisig = config
			e.originalMultisig = config
		}
		return nil
	})
}

// GetNonce returns the account's current staged nonce, zero when the
// account has no nonce record yet.
func (s *StagedState) GetNonce(ctx context.Context, account common.PublicKey) (uint64, error) {
	e := s.entry(account)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.loadNonce(ctx, account, e); err != nil {
		return 0, err
	}
	return e.nonce, nil
}

// SetNonce stages a new nonce for the account.
func (s *StagedState) SetNonce(ctx context.Context, account common.PublicKey, nonce uint64) error {
	e := s.entry(account)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.loadNonce(ctx, account, e); err != nil {
		return err
	}
	e.nonce = nonce
	e.nonceDirty = true
	return nil
}

// GetBalance returns the account's current staged balance for the
// asset, zero when no balance record exists.
func (s *StagedState) GetBalance(ctx context.Context, account common.PublicKey, asset common.Hash) (uint64, error) {
	e := s.entry(account)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.loadBalance(ctx, account, asset, e); err != nil {
		return 0, err
	}
	return e.balances[asset], nil
}

// SetBalance stages a new balance for the asset. The caller must have
// read the balance first through the same state so the original value
// is tracked.
func (s *StagedState) SetBalance(ctx context.Context, account common.PublicKey, asset common.Hash, amount uint64) error {
	e := s.entry(account)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.loadBalance(ctx, account, asset, e); err != nil {
		return err
	}
	e.balances[asset] = amount
	e.balanceDirty[asset] = true
	return nil
}

// AddToBalance credits the account, failing on uint64 overflow.
func (s *StagedState) AddToBalance(ctx context.Context, account common.PublicKey, asset common.Hash, amount uint64) error {
	e := s.entry(account)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.loadBalance(ctx, account, asset, e); err != nil {
		return err
	}
	current := e.balances[asset]
	next := current + amount
	if next < current {
		return ErrBalanceOverflow
	}
	e.balances[asset] = next
	e.balanceDirty[asset] = true
	return nil
}

// GetMultisig returns the staged multisig configuration, nil when the
// account has none (never configured, or removed).
func (s *StagedState) GetMultisig(ctx context.Context, account common.PublicKey) (*types.MultiSigPayload, error) {
	e := s.entry(account)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.loadMultisig(ctx, account, e); err != nil {
		return nil, err
	}
	return e.multisig, nil
}

// SetMultisig stages a configuration update. A nil config stages a
// removal.
func (s *StagedState) SetMultisig(ctx context.Context, account common.PublicKey, config *types.MultiSigPayload) error {
	e := s.entry(account)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.loadMultisig(ctx, account, e); err != nil {
		return err
	}
	e.multisig = config
	e.multisigDirty = true
	return nil
}

// AccountExists reports whether the account was registered before this
// block.
func (s *StagedState) AccountExists(ctx context.Context, account common.PublicKey) (bool, error) {
	e := s.entry(account)
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.accountExistsLocked(ctx, account, e)
}

func (s *StagedState) accountExistsLocked(ctx context.Context, account common.PublicKey, e *stagedAccount) (bool, error) {
	if e.existsLoaded {
		return e.exists, nil
	}
	err := s.gatedRead(ctx, func() error {
		exists, err := s.store.HasAccount(ctx, account)
		if err != nil {
			return err
		}
		e.existsLoaded = true
		e.exists = exists
		return nil
	})
	if err != nil {
		return false, err
	}
	return e.exists, nil
}

// RewardMiner credits the block reward to the miner's native balance.
// Called exactly once per block, before any transaction executes, so
// that transactions spending from the miner account observe the
// reward.
func (s *StagedState) RewardMiner(ctx context.Context, miner common.PublicKey, reward uint64) error {
	if err := s.AddToBalance(ctx, miner, common.NativeAsset, reward); err != nil {
		return err
	}
	log.Debug(log.StateMonitoring, "miner rewarded", "miner", miner.Hex(), "reward", reward, "topoheight", s.topo)
	return nil
}

// NonceModification is a staged nonce change for one account.
type NonceModification struct {
	Account common.PublicKey
	Nonce   uint64
}

// BalanceModification is a staged balance change for one account and
// asset.
type BalanceModification struct {
	Account common.PublicKey
	Asset   common.Hash
	Balance uint64
}

// MultisigModification is a staged multisig change. A nil Config is a
// removal and must still be persisted.
type MultisigModification struct {
	Account common.PublicKey
	Config  *types.MultiSigPayload
}

// modifiedNonces returns the accounts whose nonce actually changed.
func (s *StagedState) modifiedNonces() []NonceModification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var mods []NonceModification
	for account, e := range s.accounts {
		e.mu.Lock()
		if e.nonceDirty && (!e.noncePresent || e.nonce != e.originalNonce) {
			mods = append(mods, NonceModification{Account: account, Nonce: e.nonce})
		}
		e.mu.Unlock()
	}
	return mods
}

func (s *StagedState) modifiedBalances() []BalanceModification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var mods []BalanceModification
	for account, e := range s.accounts {
		e.mu.Lock()
		for asset, dirty := range e.balanceDirty {
			if !dirty {
				continue
			}
			current := e.balances[asset]
			if e.originalPresent[asset] && current == e.originalBalance[asset] {
				continue
			}
			mods = append(mods, BalanceModification{Account: account, Asset: asset, Balance: current})
		}
		e.mu.Unlock()
	}
	return mods
}

func (s *StagedState) modifiedMultisigs() []MultisigModification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var mods []MultisigModification
	for account, e := range s.accounts {
		e.mu.Lock()
		if e.multisigDirty && !multisigEqual(e.multisig, e.originalMultisig) {
			mods = append(mods, MultisigModification{Account: account, Config: e.multisig})
		}
		e.mu.Unlock()
	}
	return mods
}

func multisigEqual(a, b *types.MultiSigPayload) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Threshold != b.Threshold || len(a.Participants) != len(b.Participants) {
		return false
	}
	for i := range a.Participants {
		if a.Participants[i] != b.Participants[i] {
			return false
		}
	}
	return true
}

// newAccounts returns touched accounts that did not exist before the
// block and received a balance. Existence is only known for accounts
// where it was actually checked or a balance was credited; a balance
// write to an account with no prior record implies the account is new
// when registration was never observed.
func (s *StagedState) newAccounts(ctx context.Context) ([]common.PublicKey, error) {
	s.mu.RLock()
	candidates := make(map[common.PublicKey]*stagedAccount, len(s.accounts))
	for account, e := range s.accounts {
		candidates[account] = e
	}
	s.mu.RUnlock()

	var fresh []common.PublicKey
	for account, e := range candidates {
		e.mu.Lock()
		touched := false
		for asset, dirty := range e.balanceDirty {
			if dirty && (!e.originalPresent[asset] || e.balances[asset] != e.originalBalance[asset]) {
				touched = true
				break
			}
		}
		touched = touched || e.nonceDirty || e.multisigDirty
		if !touched {
			e.mu.Unlock()
			continue
		}
		exists, err := s.accountExistsLocked(ctx, account, e)
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if !exists {
			fresh = append(fresh, account)
		}
	}
	return fresh, nil
}
