package statedb

import (
	"context"
	"fmt"

	"github.com/tos-network/gtos/common"
	"github.com/tos-network/gtos/types"
)

// ApplyState is the mutable view a transaction executes against. The
// parallel and sequential paths both hand an ApplyAdapter to
// ApplyTransaction, so every verification rule runs identically on
// both paths.
type ApplyState interface {
	CompareAndSwapNonce(ctx context.Context, account common.PublicKey, expected uint64) error
	GetBalance(ctx context.Context, account common.PublicKey, asset common.Hash) (uint64, error)
	SetBalance(ctx context.Context, account common.PublicKey, asset common.Hash, amount uint64) error
	AddToBalance(ctx context.Context, account common.PublicKey, asset common.Hash, amount uint64) error
	GetMultisig(ctx context.Context, account common.PublicKey) (*types.MultiSigPayload, error)
	SetMultisig(ctx context.Context, account common.PublicKey, config *types.MultiSigPayload) error
	AddBurnedSupply(amount uint64) error
	AddFees(amount uint64) error
}

// ApplyTransaction runs the full verification and application of one
// transaction against state: format checks, signature, nonce advance,
// per-asset spending, then the payload-specific effects. Any returned
// error fails the transaction; the caller decides whether staged
// writes are committed.
func ApplyTransaction(ctx context.Context, tx *types.Transaction, state ApplyState, verifier types.SignatureVerifier) error {
	if err := verifyFormat(tx); err != nil {
		return err
	}
	if err := verifier.VerifyTransaction(tx); err != nil {
		return err
	}
	if err := state.CompareAndSwapNonce(ctx, tx.Source, tx.Nonce); err != nil {
		return err
	}

	spending, err := computeSpending(tx)
	if err != nil {
		return err
	}
	for _, spend := range spending {
		balance, err := state.GetBalance(ctx, tx.Source, spend.asset)
		if err != nil {
			return err
		}
		if balance < spend.amount {
			return fmt.Errorf("%w: asset %s has %d, need %d", ErrInsufficientFunds, spend.asset.StringShort(), balance, spend.amount)
		}
		if err := state.SetBalance(ctx, tx.Source, spend.asset, balance-spend.amount); err != nil {
			return err
		}
	}

	switch data := tx.Data.(type) {
	case types.Transfers:
		for _, transfer := range data {
			if err := state.AddToBalance(ctx, transfer.Destination, transfer.Asset, transfer.Amount); err != nil {
				return err
			}
		}
	case *types.BurnPayload:
		if err := state.AddBurnedSupply(data.Amount); err != nil {
			return err
		}
	case *types.MultiSigPayload:
		if err := applyMultisig(ctx, tx, data, state); err != nil {
			return err
		}
	default:
		// Contract, energy and AI mining payloads are not executable
		// by this core. Fail closed rather than silently accepting.
		return fmt.Errorf("%w: %s", ErrUnsupportedPayload, tx.Data.Type())
	}

	return state.AddFees(tx.Fee)
}

func applyMultisig(ctx context.Context, tx *types.Transaction, payload *types.MultiSigPayload, state ApplyState) error {
	if payload.IsDelete() {
		current, err := state.GetMultisig(ctx, tx.Source)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrMultisigNotConfigured
		}
		return state.SetMultisig(ctx, tx.Source, nil)
	}
	return state.SetMultisig(ctx, tx.Source, &types.MultiSigPayload{
		Threshold:    payload.Threshold,
		Participants: payload.Participants,
	})
}

type assetSpend struct {
	asset  common.Hash
	amount uint64
}

// computeSpending totals the sender's outflow per asset, fee included
// in the native asset, with overflow checks on every addition. The
// result preserves first-seen asset order so debits are deterministic.
func computeSpending(tx *types.Transaction) ([]assetSpend, error) {
	var order []common.Hash
	totals := make(map[common.Hash]uint64)
	add := func(asset common.Hash, amount uint64) error {
		current, seen := totals[asset]
		next := current + amount
		if next < current {
			return fmt.Errorf("%w: spending overflow on asset %s", ErrInvalidFormat, asset.StringShort())
		}
		if !seen {
			order = append(order, asset)
		}
		totals[asset] = next
		return nil
	}

	if err := add(common.NativeAsset, tx.Fee); err != nil {
		return nil, err
	}
	switch data := tx.Data.(type) {
	case types.Transfers:
		for _, transfer := range data {
			if err := add(transfer.Asset, transfer.Amount); err != nil {
				return nil, err
			}
		}
	case *types.BurnPayload:
		if err := add(common.NativeAsset, data.Amount); err != nil {
			return nil, err
		}
	}

	spending := make([]assetSpend, 0, len(order))
	for _, asset := range order {
		spending = append(spending, assetSpend{asset: asset, amount: totals[asset]})
	}
	return spending, nil
}

// verifyFormat enforces the static shape rules that do not need any
// state access.
func verifyFormat(tx *types.Transaction) error {
	if tx.Data == nil {
		return fmt.Errorf("%w: missing payload", ErrInvalidFormat)
	}
	switch data := tx.Data.(type) {
	case types.Transfers:
		if len(data) == 0 {
			return fmt.Errorf("%w: empty transfer list", ErrInvalidFormat)
		}
		if len(data) > types.MaxTransferCount {
			return fmt.Errorf("%w: %d transfers exceeds limit %d", ErrInvalidFormat, len(data), types.MaxTransferCount)
		}
		for i, transfer := range data {
			if transfer.Destination == tx.Source {
				return fmt.Errorf("%w: transfer %d to self", ErrInvalidFormat, i)
			}
			limit := types.ExtraDataLimitSize
			if tx.Version >= types.TxVersionV2 {
				limit = types.ExtraDataLimitSumSize
			}
			if len(transfer.ExtraData) > limit {
				return fmt.Errorf("%w: transfer %d extra data %d bytes exceeds %d", ErrInvalidFormat, i, len(transfer.ExtraData), limit)
			}
		}
	case *types.BurnPayload:
		if data.Amount == 0 {
			return fmt.Errorf("%w: zero burn amount", ErrInvalidFormat)
		}
	case *types.MultiSigPayload:
		if err := verifyMultisigFormat(tx.Source, data); err != nil {
			return err
		}
	}
	return nil
}

func verifyMultisigFormat(source common.PublicKey, payload *types.MultiSigPayload) error {
	if payload.IsDelete() {
		return nil
	}
	if len(payload.Participants) > types.MaxMultisigParticipants {
		return fmt.Errorf("%w: %d multisig participants exceeds limit %d", ErrInvalidFormat, len(payload.Participants), types.MaxMultisigParticipants)
	}
	if payload.Threshold == 0 || int(payload.Threshold) > len(payload.Participants) {
		return fmt.Errorf("%w: multisig threshold %d out of range for %d participants", ErrInvalidFormat, payload.Threshold, len(payload.Participants))
	}
	seen := make(map[common.PublicKey]struct{}, len(payload.Participants))
	for _, participant := range payload.Participants {
		if participant == source {
			return fmt.Errorf("%w: multisig owner listed as participant", ErrInvalidFormat)
		}
		if _, dup := seen[participant]; dup {
			return fmt.Errorf("%w: duplicate multisig participant", ErrInvalidFormat)
		}
		seen[participant] = struct{}{}
	}
	return nil
}
