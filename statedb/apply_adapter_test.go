package statedb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tos-network/gtos/common"
	"github.com/tos-network/gtos/storage"
	"github.com/tos-network/gtos/types"
)

// acceptAllVerifier stands in for the signature oracle so these tests
// exercise state transitions only.
type acceptAllVerifier struct{}

func (acceptAllVerifier) VerifyTransaction(*types.Transaction) error { return nil }

func transferTx(source common.PublicKey, nonce uint64, fee uint64, transfers ...types.TransferPayload) *types.Transaction {
	return &types.Transaction{
		Version: types.TxVersionV2,
		Source:  source,
		Data:    types.Transfers(transfers),
		Fee:     fee,
		Nonce:   nonce,
	}
}

func fundedState(t *testing.T, balances map[byte]uint64) *StagedState {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore(false)
	t.Cleanup(func() { store.Close() })
	for b, amount := range balances {
		require.NoError(t, store.RegisterAccount(ctx, account(b), 1))
		require.NoError(t, store.SetLastNonceTo(ctx, account(b), 1, 0))
		require.NoError(t, store.SetLastBalanceTo(ctx, account(b), common.NativeAsset, 1, amount))
	}
	return NewStagedState(store, 10)
}

func TestApplyTransferCommits(t *testing.T) {
	ctx := context.Background()
	state := fundedState(t, map[byte]uint64{1: 1000})

	tx := transferTx(account(1), 0, 10, types.TransferPayload{
		Asset:       common.NativeAsset,
		Destination: account(2),
		Amount:      300,
	})

	adapter := NewApplyAdapter(state)
	require.NoError(t, ApplyTransaction(ctx, tx, adapter, acceptAllVerifier{}))
	require.NoError(t, adapter.Commit(ctx))

	balance, err := state.GetBalance(ctx, account(1), common.NativeAsset)
	require.NoError(t, err)
	assert.Equal(t, uint64(690), balance)

	balance, err = state.GetBalance(ctx, account(2), common.NativeAsset)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), balance)

	nonce, err := state.GetNonce(ctx, account(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)

	assert.Equal(t, uint64(10), state.Counters().Fees())
}

func TestFailedApplyLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	state := fundedState(t, map[byte]uint64{1: 100})

	// Two transfers where the second exceeds the remaining balance: the
	// first debit is staged in the adapter before the failure, and must
	// never reach the shared state.
	tx := transferTx(account(1), 0, 5,
		types.TransferPayload{Asset: common.NativeAsset, Destination: account(2), Amount: 50},
		types.TransferPayload{Asset: common.NativeAsset, Destination: account(3), Amount: 5000},
	)

	adapter := NewApplyAdapter(state)
	err := ApplyTransaction(ctx, tx, adapter, acceptAllVerifier{})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	// Adapter dropped, no Commit.

	balance, err := state.GetBalance(ctx, account(1), common.NativeAsset)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), balance)

	nonce, err := state.GetNonce(ctx, account(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce)

	assert.Equal(t, uint64(0), state.Counters().Fees())
	assert.Empty(t, state.modifiedBalances())
	assert.Empty(t, state.modifiedNonces())
}

func TestNonceCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	state := fundedState(t, map[byte]uint64{1: 1000})

	good := transferTx(account(1), 0, 1, types.TransferPayload{
		Asset: common.NativeAsset, Destination: account(2), Amount: 1,
	})
	adapter := NewApplyAdapter(state)
	require.NoError(t, ApplyTransaction(ctx, good, adapter, acceptAllVerifier{}))
	require.NoError(t, adapter.Commit(ctx))

	// Replaying the same nonce fails.
	replay := transferTx(account(1), 0, 1, types.TransferPayload{
		Asset: common.NativeAsset, Destination: account(2), Amount: 1,
	})
	err := ApplyTransaction(ctx, replay, NewApplyAdapter(state), acceptAllVerifier{})
	assert.ErrorIs(t, err, ErrInvalidNonce)

	// Skipping ahead fails too.
	skip := transferTx(account(1), 5, 1, types.TransferPayload{
		Asset: common.NativeAsset, Destination: account(2), Amount: 1,
	})
	err = ApplyTransaction(ctx, skip, NewApplyAdapter(state), acceptAllVerifier{})
	assert.ErrorIs(t, err, ErrInvalidNonce)
}

func TestFeeSpendsFromNativeAsset(t *testing.T) {
	ctx := context.Background()
	state := fundedState(t, map[byte]uint64{1: 100})

	// Amount alone fits, amount plus fee does not.
	tx := transferTx(account(1), 0, 10, types.TransferPayload{
		Asset: common.NativeAsset, Destination: account(2), Amount: 95,
	})
	err := ApplyTransaction(ctx, tx, NewApplyAdapter(state), acceptAllVerifier{})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestBurnStagesSupplyAndDebits(t *testing.T) {
	ctx := context.Background()
	state := fundedState(t, map[byte]uint64{1: 1000})

	tx := &types.Transaction{
		Version: types.TxVersionV2,
		Source:  account(1),
		Data:    &types.BurnPayload{Asset: common.NativeAsset, Amount: 400},
		Fee:     10,
		Nonce:   0,
	}
	adapter := NewApplyAdapter(state)
	require.NoError(t, ApplyTransaction(ctx, tx, adapter, acceptAllVerifier{}))
	require.NoError(t, adapter.Commit(ctx))

	balance, err := state.GetBalance(ctx, account(1), common.NativeAsset)
	require.NoError(t, err)
	assert.Equal(t, uint64(590), balance)
	assert.Equal(t, uint64(400), state.Counters().BurnedSupply())
}

func TestMultisigConfigureAndReset(t *testing.T) {
	ctx := context.Background()
	state := fundedState(t, map[byte]uint64{1: 1000})

	configure := &types.Transaction{
		Version: types.TxVersionV2,
		Source:  account(1),
		Data: &types.MultiSigPayload{
			Threshold:    2,
			Participants: []common.PublicKey{account(2), account(3)},
		},
		Fee:   1,
		Nonce: 0,
	}
	adapter := NewApplyAdapter(state)
	require.NoError(t, ApplyTransaction(ctx, configure, adapter, acceptAllVerifier{}))
	require.NoError(t, adapter.Commit(ctx))

	config, err := state.GetMultisig(ctx, account(1))
	require.NoError(t, err)
	require.NotNil(t, config)
	assert.Equal(t, uint8(2), config.Threshold)

	reset := &types.Transaction{
		Version: types.TxVersionV2,
		Source:  account(1),
		Data:    &types.MultiSigPayload{},
		Fee:     1,
		Nonce:   1,
	}
	adapter = NewApplyAdapter(state)
	require.NoError(t, ApplyTransaction(ctx, reset, adapter, acceptAllVerifier{}))
	require.NoError(t, adapter.Commit(ctx))

	config, err = state.GetMultisig(ctx, account(1))
	require.NoError(t, err)
	assert.Nil(t, config)
}

func TestMultisigResetWithoutConfigFails(t *testing.T) {
	ctx := context.Background()
	state := fundedState(t, map[byte]uint64{1: 1000})

	reset := &types.Transaction{
		Version: types.TxVersionV2,
		Source:  account(1),
		Data:    &types.MultiSigPayload{},
		Fee:     1,
		Nonce:   0,
	}
	err := ApplyTransaction(ctx, reset, NewApplyAdapter(state), acceptAllVerifier{})
	assert.ErrorIs(t, err, ErrMultisigNotConfigured)
}

func TestFormatRejections(t *testing.T) {
	ctx := context.Background()
	state := fundedState(t, map[byte]uint64{1: 1000})

	cases := []struct {
		name string
		tx   *types.Transaction
	}{
		{
			name: "empty transfers",
			tx:   transferTx(account(1), 0, 1),
		},
		{
			name: "self transfer",
			tx: transferTx(account(1), 0, 1, types.TransferPayload{
				Asset: common.NativeAsset, Destination: account(1), Amount: 1,
			}),
		},
		{
			name: "zero burn",
			tx: &types.Transaction{
				Version: types.TxVersionV2,
				Source:  account(1),
				Data:    &types.BurnPayload{Asset: common.NativeAsset},
				Nonce:   0,
			},
		},
		{
			name: "multisig threshold above participants",
			tx: &types.Transaction{
				Version: types.TxVersionV2,
				Source:  account(1),
				Data: &types.MultiSigPayload{
					Threshold:    3,
					Participants: []common.PublicKey{account(2)},
				},
				Nonce: 0,
			},
		},
		{
			name: "multisig owner as participant",
			tx: &types.Transaction{
				Version: types.TxVersionV2,
				Source:  account(1),
				Data: &types.MultiSigPayload{
					Threshold:    1,
					Participants: []common.PublicKey{account(1)},
				},
				Nonce: 0,
			},
		},
		{
			name: "duplicate multisig participant",
			tx: &types.Transaction{
				Version: types.TxVersionV2,
				Source:  account(1),
				Data: &types.MultiSigPayload{
					Threshold:    2,
					Participants: []common.PublicKey{account(2), account(2)},
				},
				Nonce: 0,
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ApplyTransaction(ctx, tc.tx, NewApplyAdapter(state), acceptAllVerifier{})
			assert.ErrorIs(t, err, ErrInvalidFormat)
		})
	}
}

func TestUnsupportedPayloadFailsClosed(t *testing.T) {
	ctx := context.Background()
	state := fundedState(t, map[byte]uint64{1: 1000})

	tx := &types.Transaction{
		Version: types.TxVersionV2,
		Source:  account(1),
		Data:    &types.InvokeContractPayload{Contract: common.BytesToHash([]byte{1})},
		Fee:     1,
		Nonce:   0,
	}
	err := ApplyTransaction(ctx, tx, NewApplyAdapter(state), acceptAllVerifier{})
	assert.ErrorIs(t, err, ErrUnsupportedPayload)
}

func TestRejectedSignatureFailsBeforeNonce(t *testing.T) {
	ctx := context.Background()
	state := fundedState(t, map[byte]uint64{1: 1000})

	tx := transferTx(account(1), 0, 1, types.TransferPayload{
		Asset: common.NativeAsset, Destination: account(2), Amount: 1,
	})
	verifier := types.Ed25519Verifier{}
	err := ApplyTransaction(ctx, tx, NewApplyAdapter(state), verifier)
	assert.ErrorIs(t, err, types.ErrInvalidSignature)

	// The rejected transaction consumed nothing.
	nonce, err := state.GetNonce(ctx, account(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce)
}
