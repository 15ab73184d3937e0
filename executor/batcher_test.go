package executor

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tos-network/gtos/common"
	"github.com/tos-network/gtos/types"
)

func pk(b byte) common.PublicKey {
	var key common.PublicKey
	key[0] = b
	return key
}

func testTransfer(source common.PublicKey, nonce uint64, dests ...common.PublicKey) *types.Transaction {
	transfers := make(types.Transfers, 0, len(dests))
	for _, dest := range dests {
		transfers = append(transfers, types.TransferPayload{
			Asset:       common.NativeAsset,
			Destination: dest,
			Amount:      1,
		})
	}
	return &types.Transaction{
		Version: types.TxVersionV2,
		Source:  source,
		Data:    transfers,
		Fee:     1,
		Nonce:   nonce,
	}
}

func planConfig(threshold, openBatches int) Config {
	return Config{
		Enabled:           true,
		ParallelThreshold: threshold,
		MaxParallelism:    4,
		MaxOpenBatches:    openBatches,
	}
}

func TestTouchedAccounts(t *testing.T) {
	tx := testTransfer(pk(1), 0, pk(2), pk(3))
	assert.Equal(t, []common.PublicKey{pk(1), pk(2), pk(3)}, TouchedAccounts(tx))

	burn := &types.Transaction{
		Source: pk(4),
		Data:   &types.BurnPayload{Asset: common.NativeAsset, Amount: 1},
	}
	assert.Equal(t, []common.PublicKey{pk(4)}, TouchedAccounts(burn))
}

func TestPlanFallsBackBelowThreshold(t *testing.T) {
	txs := []*types.Transaction{
		testTransfer(pk(1), 0, pk(2)),
		testTransfer(pk(3), 0, pk(4)),
	}
	plan := PlanBlock(txs, planConfig(5, 4))
	assert.True(t, plan.Sequential)
	assert.Empty(t, plan.Batches)
}

func TestPlanFallsBackWhenDisabled(t *testing.T) {
	txs := []*types.Transaction{
		testTransfer(pk(1), 0, pk(2)),
		testTransfer(pk(3), 0, pk(4)),
	}
	cfg := planConfig(1, 4)
	cfg.Enabled = false
	plan := PlanBlock(txs, cfg)
	assert.True(t, plan.Sequential)
}

func TestPlanFallsBackOnNonParallelizablePayload(t *testing.T) {
	txs := []*types.Transaction{
		testTransfer(pk(1), 0, pk(2)),
		{
			Source: pk(3),
			Data:   &types.EnergyPayload{Op: types.EnergyFreeze, Amount: 5},
		},
		testTransfer(pk(4), 0, pk(5)),
	}
	plan := PlanBlock(txs, planConfig(1, 4))
	assert.True(t, plan.Sequential)
	assert.Contains(t, plan.Reason, "energy")
}

func TestSameSourceStaysOrderedInOneBatch(t *testing.T) {
	txs := []*types.Transaction{
		testTransfer(pk(1), 0, pk(2)),
		testTransfer(pk(3), 0, pk(4)),
		testTransfer(pk(1), 1, pk(5)),
		testTransfer(pk(1), 2, pk(6)),
	}
	plan := PlanBlock(txs, planConfig(1, 4))
	require.False(t, plan.Sequential)

	groupOf := make(map[int][]int)
	for _, batch := range plan.Batches {
		for _, group := range batch.Groups {
			for _, idx := range group {
				groupOf[idx] = group
			}
		}
	}
	// The three same-source transactions share one group, in block
	// order, so they can never run concurrently.
	require.NotNil(t, groupOf[0])
	assert.Equal(t, groupOf[0], groupOf[2])
	assert.Equal(t, groupOf[0], groupOf[3])
	assert.Equal(t, []int{0, 2, 3}, groupOf[0])
}

func TestTransitiveConflictsShareABatch(t *testing.T) {
	// 1 pays 2, 3 pays 2, 3 pays 4: all three conflict transitively.
	txs := []*types.Transaction{
		testTransfer(pk(1), 0, pk(2)),
		testTransfer(pk(3), 0, pk(2)),
		testTransfer(pk(3), 1, pk(4)),
		testTransfer(pk(9), 0, pk(10)),
	}
	plan := PlanBlock(txs, planConfig(1, 4))
	require.False(t, plan.Sequential)

	groupID := make(map[int]int)
	id := 0
	for _, batch := range plan.Batches {
		for _, group := range batch.Groups {
			for _, idx := range group {
				groupID[idx] = id
			}
			id++
		}
	}
	assert.Equal(t, groupID[0], groupID[1])
	assert.Equal(t, groupID[1], groupID[2])
	assert.NotEqual(t, groupID[0], groupID[3])
}

func TestBatchesCoverEveryTransactionOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		count := 10 + rng.Intn(60)
		txs := make([]*types.Transaction, 0, count)
		nonces := make(map[byte]uint64)
		for i := 0; i < count; i++ {
			source := byte(1 + rng.Intn(12))
			dest := byte(1 + rng.Intn(12))
			for dest == source {
				dest = byte(1 + rng.Intn(12))
			}
			txs = append(txs, testTransfer(pk(source), nonces[source], pk(dest)))
			nonces[source]++
		}

		plan := PlanBlock(txs, planConfig(1, 1+rng.Intn(8)))
		require.False(t, plan.Sequential)

		seen := make(map[int]bool)
		for _, batch := range plan.Batches {
			// No account may appear in two groups of the same batch;
			// that is what makes intra-batch concurrency safe.
			accountGroup := make(map[common.PublicKey]int)
			for g, group := range batch.Groups {
				last := -1
				for _, idx := range group {
					require.False(t, seen[idx], "tx %d appears twice", idx)
					seen[idx] = true
					require.Greater(t, idx, last, "group out of block order")
					last = idx
					for _, account := range TouchedAccounts(txs[idx]) {
						if prev, ok := accountGroup[account]; ok {
							require.Equal(t, prev, g, "account %s shared across concurrent groups", account.Hex())
						} else {
							accountGroup[account] = g
						}
					}
				}
			}
		}
		require.Len(t, seen, count)
	}
}

func TestGreedySpreadBalancesIndependentGroups(t *testing.T) {
	// 8 fully independent transfers over 4 batches: perfectly even.
	txs := make([]*types.Transaction, 0, 8)
	for i := byte(0); i < 8; i++ {
		txs = append(txs, testTransfer(pk(100+i*2), 0, pk(101+i*2)))
	}
	plan := PlanBlock(txs, planConfig(1, 4))
	require.False(t, plan.Sequential)
	require.Len(t, plan.Batches, 4)
	for _, batch := range plan.Batches {
		assert.Equal(t, 2, batch.Size())
	}
}
