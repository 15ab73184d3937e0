package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tos-network/gtos/common"
	"github.com/tos-network/gtos/types"
)

func testAccount(b byte) common.PublicKey {
	var pk common.PublicKey
	pk[0] = b
	return pk
}

func TestNonceVersioning(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(false)
	defer store.Close()

	alice := testAccount(1)

	_, _, found, err := store.GetNonceAtMaximumTopoHeight(ctx, alice, 100)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SetLastNonceTo(ctx, alice, 10, 1))
	require.NoError(t, store.SetLastNonceTo(ctx, alice, 20, 2))
	require.NoError(t, store.SetLastNonceTo(ctx, alice, 30, 3))

	// Below the first record.
	_, _, found, err = store.GetNonceAtMaximumTopoHeight(ctx, alice, 9)
	require.NoError(t, err)
	assert.False(t, found)

	// Exactly at a record.
	nonce, topo, found, err := store.GetNonceAtMaximumTopoHeight(ctx, alice, 20)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(2), nonce)
	assert.Equal(t, common.TopoHeight(20), topo)

	// Between records resolves to the older one.
	nonce, topo, found, err = store.GetNonceAtMaximumTopoHeight(ctx, alice, 25)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(2), nonce)
	assert.Equal(t, common.TopoHeight(20), topo)

	// Far above resolves to the newest.
	nonce, _, found, err = store.GetNonceAtMaximumTopoHeight(ctx, alice, ^uint64(0))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(3), nonce)
}

func TestBalanceVersioningPerAsset(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(false)
	defer store.Close()

	alice := testAccount(1)
	asset := common.BytesToHash([]byte{0xaa})

	require.NoError(t, store.SetLastBalanceTo(ctx, alice, common.NativeAsset, 5, 1000))
	require.NoError(t, store.SetLastBalanceTo(ctx, alice, asset, 5, 77))

	balance, _, found, err := store.GetBalanceAtMaximumTopoHeight(ctx, alice, common.NativeAsset, 5)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(1000), balance)

	balance, _, found, err = store.GetBalanceAtMaximumTopoHeight(ctx, alice, asset, 5)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(77), balance)

	// An asset never touched by the account is absent, not zero.
	other := common.BytesToHash([]byte{0xbb})
	_, _, found, err = store.GetBalanceAtMaximumTopoHeight(ctx, alice, other, 5)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBalanceDoesNotLeakAcrossAccounts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(false)
	defer store.Close()

	alice := testAccount(1)
	bob := testAccount(2)

	require.NoError(t, store.SetLastBalanceTo(ctx, alice, common.NativeAsset, 3, 500))

	_, _, found, err := store.GetBalanceAtMaximumTopoHeight(ctx, bob, common.NativeAsset, 100)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMultisigRemovalMarker(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(false)
	defer store.Close()

	alice := testAccount(1)
	config := &types.MultiSigPayload{
		Threshold:    2,
		Participants: []common.PublicKey{testAccount(2), testAccount(3)},
	}

	require.NoError(t, store.SetLastMultisigTo(ctx, alice, 10, config))

	got, topo, found, err := store.GetMultisigAtMaximumTopoHeight(ctx, alice, 15)
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, got)
	assert.Equal(t, uint8(2), got.Threshold)
	assert.Equal(t, config.Participants, got.Participants)
	assert.Equal(t, common.TopoHeight(10), topo)

	// A removal marker is a record of its own, not a missing key.
	require.NoError(t, store.SetLastMultisigTo(ctx, alice, 20, nil))

	got, topo, found, err = store.GetMultisigAtMaximumTopoHeight(ctx, alice, 25)
	require.NoError(t, err)
	require.True(t, found)
	assert.Nil(t, got)
	assert.Equal(t, common.TopoHeight(20), topo)

	// Reading below the removal still sees the old config.
	got, _, found, err = store.GetMultisigAtMaximumTopoHeight(ctx, alice, 15)
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, got)
	assert.Equal(t, uint8(2), got.Threshold)
}

func TestAccountRegistration(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(true)
	defer store.Close()

	assert.True(t, store.IsMainnet())

	alice := testAccount(1)

	has, err := store.HasAccount(ctx, alice)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, store.RegisterAccount(ctx, alice, 42))

	has, err = store.HasAccount(ctx, alice)
	require.NoError(t, err)
	assert.True(t, has)

	// Re-registration at a later height is a no-op.
	require.NoError(t, store.RegisterAccount(ctx, alice, 99))
	has, err = store.HasAccount(ctx, alice)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestCancelledContext(t *testing.T) {
	store := NewMemoryStore(false)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, _, err := store.GetNonceAtMaximumTopoHeight(ctx, testAccount(1), 10)
	assert.ErrorIs(t, err, context.Canceled)
}
