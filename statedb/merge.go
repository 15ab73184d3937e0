package statedb

import (
	"context"
	"sort"

	"github.com/tos-network/gtos/common"
	"github.com/tos-network/gtos/log"
	"github.com/tos-network/gtos/storage"
	"github.com/tos-network/gtos/types"
)

// WriteKind discriminates the operations emitted by Merge.
type WriteKind uint8

const (
	WriteNonce WriteKind = iota
	WriteBalance
	WriteMultisig
	WriteMultisigRemoval
	WriteRegistration
)

func (k WriteKind) String() string {
	switch k {
	case WriteNonce:
		return "nonce"
	case WriteBalance:
		return "balance"
	case WriteMultisig:
		return "multisig"
	case WriteMultisigRemoval:
		return "multisig_removal"
	case WriteRegistration:
		return "registration"
	default:
		return "unknown"
	}
}

// WriteOp is one persistent write performed by Merge. The emitted
// sequence is fully determined by the staged modifications, never by
// execution interleaving, and doubles as the determinism witness in
// tests.
type WriteOp struct {
	Kind    WriteKind              `json:"kind"`
	Account common.PublicKey       `json:"account"`
	Asset   common.Hash            `json:"asset,omitempty"`
	Value   uint64                 `json:"value,omitempty"`
	Config  *types.MultiSigPayload `json:"config,omitempty"`
}

// MergeResult summarizes a completed merge.
type MergeResult struct {
	BurnedSupply uint64    `json:"burned_supply"`
	TotalFees    uint64    `json:"total_fees"`
	Writes       []WriteOp `json:"writes"`
}

// Merge persists every staged modification at the state's topoheight
// in canonical order: nonces by account, balances by account then
// asset, multisig changes by account with removals written explicitly,
// then registration of accounts created by this block. New accounts
// without a staged nonce get the default nonce written so later blocks
// find a record. Any storage error aborts the merge and is fatal for
// the block.
func Merge(ctx context.Context, state *StagedState, store storage.Storage) (*MergeResult, error) {
	topo := state.TopoHeight()
	var writes []WriteOp

	nonces := state.modifiedNonces()
	sort.Slice(nonces, func(i, j int) bool {
		return nonces[i].Account.Cmp(nonces[j].Account) < 0
	})
	nonceWritten := make(map[common.PublicKey]bool, len(nonces))
	for _, mod := range nonces {
		if err := store.SetLastNonceTo(ctx, mod.Account, topo, mod.Nonce); err != nil {
			return nil, err
		}
		nonceWritten[mod.Account] = true
		writes = append(writes, WriteOp{Kind: WriteNonce, Account: mod.Account, Value: mod.Nonce})
	}

	balances := state.modifiedBalances()
	sort.Slice(balances, func(i, j int) bool {
		if c := balances[i].Account.Cmp(balances[j].Account); c != 0 {
			return c < 0
		}
		return balances[i].Asset.Cmp(balances[j].Asset) < 0
	})
	for _, mod := range balances {
		if err := store.SetLastBalanceTo(ctx, mod.Account, mod.Asset, topo, mod.Balance); err != nil {
			return nil, err
		}
		writes = append(writes, WriteOp{Kind: WriteBalance, Account: mod.Account, Asset: mod.Asset, Value: mod.Balance})
	}

	multisigs := state.modifiedMultisigs()
	sort.Slice(multisigs, func(i, j int) bool {
		return multisigs[i].Account.Cmp(multisigs[j].Account) < 0
	})
	for _, mod := range multisigs {
		if err := store.SetLastMultisigTo(ctx, mod.Account, topo, mod.Config); err != nil {
			return nil, err
		}
		kind := WriteMultisig
		if mod.Config == nil {
			kind = WriteMultisigRemoval
		}
		writes = append(writes, WriteOp{Kind: kind, Account: mod.Account, Config: mod.Config})
	}

	fresh, err := state.newAccounts(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(fresh, func(i, j int) bool {
		return fresh[i].Cmp(fresh[j]) < 0
	})
	for _, account := range fresh {
		if err := store.RegisterAccount(ctx, account, topo); err != nil {
			return nil, err
		}
		writes = append(writes, WriteOp{Kind: WriteRegistration, Account: account})
		if !nonceWritten[account] {
			if err := store.SetLastNonceTo(ctx, account, topo, 0); err != nil {
				return nil, err
			}
			writes = append(writes, WriteOp{Kind: WriteNonce, Account: account, Value: 0})
		}
	}

	result := &MergeResult{
		BurnedSupply: state.Counters().BurnedSupply(),
		TotalFees:    state.Counters().Fees(),
		Writes:       writes,
	}
	log.Debug(log.MergeMonitoring, "merged block state",
		"topoheight", topo,
		"writes", len(result.Writes),
		"new_accounts", len(fresh),
		"burned", result.BurnedSupply,
		"fees", result.TotalFees)
	return result, nil
}
