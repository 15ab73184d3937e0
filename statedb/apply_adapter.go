package statedb

import (
	"context"

	"github.com/tos-network/gtos/common"
	"github.com/tos-network/gtos/types"
)

type balanceRef struct {
	account common.PublicKey
	asset   common.Hash
}

type stagedMultisig struct {
	config *types.MultiSigPayload
}

// ApplyAdapter gives one transaction a transactional view of the
// staged state: reads fall through to the shared store, writes stay
// buffered in the adapter. Commit flushes everything on success; a
// failed transaction simply drops its adapter and leaves the shared
// state untouched.
//
// An adapter serves exactly one transaction and is not safe for
// concurrent use. Isolation between concurrent transactions comes
// from batching: tasks running at the same time never share an
// account.
type ApplyAdapter struct {
	state *StagedState

	balances     map[balanceRef]uint64
	balanceDirty map[balanceRef]bool
	nonces       map[common.PublicKey]uint64
	multisigs    map[common.PublicKey]stagedMultisig

	burned uint64
	fees   uint64
}

var _ ApplyState = (*ApplyAdapter)(nil)

func NewApplyAdapter(state *StagedState) *ApplyAdapter {
	return &ApplyAdapter{
		state:        state,
		balances:     make(map[balanceRef]uint64),
		balanceDirty: make(map[balanceRef]bool),
		nonces:       make(map[common.PublicKey]uint64),
		multisigs:    make(map[common.PublicKey]stagedMultisig),
	}
}

// CompareAndSwapNonce verifies the expected nonce against the staged
// view and stages the advance. The write reaches the shared state only
// at Commit.
func (a *ApplyAdapter) CompareAndSwapNonce(ctx context.Context, account common.PublicKey, expected uint64) error {
	current, staged := a.nonces[account]
	if !staged {
		var err error
		current, err = a.state.GetNonce(ctx, account)
		if err != nil {
			return err
		}
	}
	if current != expected {
		return ErrInvalidNonce
	}
	a.nonces[account] = expected + 1
	return nil
}

func (a *ApplyAdapter) GetBalance(ctx context.Context, account common.PublicKey, asset common.Hash) (uint64, error) {
	ref := balanceRef{account: account, asset: asset}
	if balance, ok := a.balances[ref]; ok {
		return balance, nil
	}
	balance, err := a.state.GetBalance(ctx, account, asset)
	if err != nil {
		return 0, err
	}
	a.balances[ref] = balance
	return balance, nil
}

func (a *ApplyAdapter) SetBalance(_ context.Context, account common.PublicKey, asset common.Hash, amount uint64) error {
	ref := balanceRef{account: account, asset: asset}
	a.balances[ref] = amount
	a.balanceDirty[ref] = true
	return nil
}

func (a *ApplyAdapter) AddToBalance(ctx context.Context, account common.PublicKey, asset common.Hash, amount uint64) error {
	current, err := a.GetBalance(ctx, account, asset)
	if err != nil {
		return err
	}
	next := current + amount
	if next < current {
		return ErrBalanceOverflow
	}
	return a.SetBalance(ctx, account, asset, next)
}

func (a *ApplyAdapter) GetMultisig(ctx context.Context, account common.PublicKey) (*types.MultiSigPayload, error) {
	if staged, ok := a.multisigs[account]; ok {
		return staged.config, nil
	}
	return a.state.GetMultisig(ctx, account)
}

func (a *ApplyAdapter) SetMultisig(_ context.Context, account common.PublicKey, config *types.MultiSigPayload) error {
	a.multisigs[account] = stagedMultisig{config: config}
	return nil
}

func (a *ApplyAdapter) AddBurnedSupply(amount uint64) error {
	next := a.burned + amount
	if next < a.burned {
		return ErrBurnedSupplyLimit
	}
	a.burned = next
	return nil
}

func (a *ApplyAdapter) AddFees(amount uint64) error {
	next := a.fees + amount
	if next < a.fees {
		return ErrFeeOverflow
	}
	a.fees = next
	return nil
}

// Commit flushes the staged writes into the shared state. Called only
// after ApplyTransaction returned nil. An error here is fatal for the
// whole block, never a per-transaction failure.
func (a *ApplyAdapter) Commit(ctx context.Context) error {
	for account, nonce := range a.nonces {
		if err := a.state.SetNonce(ctx, account, nonce); err != nil {
			return err
		}
	}
	for ref, dirty := range a.balanceDirty {
		if !dirty {
			continue
		}
		if err := a.state.SetBalance(ctx, ref.account, ref.asset, a.balances[ref]); err != nil {
			return err
		}
	}
	for account, staged := range a.multisigs {
		if err := a.state.SetMultisig(ctx, account, staged.config); err != nil {
			return err
		}
	}
	if a.burned > 0 {
		if err := a.state.Counters().AddBurnedSupply(a.burned); err != nil {
			return err
		}
	}
	if a.fees > 0 {
		if err := a.state.Counters().AddFees(a.fees); err != nil {
			return err
		}
	}
	return nil
}
