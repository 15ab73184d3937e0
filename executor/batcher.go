package executor

import (
	"sort"

	"github.com/tos-network/gtos/common"
	"github.com/tos-network/gtos/log"
	"github.com/tos-network/gtos/types"
)

// parallelizable payload types. Anything else forces the whole block
// onto the sequential path; contract and energy semantics depend on
// execution order beyond account balances, so they are never batched.
func parallelizable(txType types.TxType) bool {
	switch txType {
	case types.TxTransfers, types.TxBurn, types.TxMultiSig:
		return true
	default:
		return false
	}
}

// TouchedAccounts returns every account a transaction reads or writes:
// the source plus, for transfers, each destination. The batcher keys
// conflicts on this set.
func TouchedAccounts(tx *types.Transaction) []common.PublicKey {
	accounts := []common.PublicKey{tx.Source}
	if transfers, ok := tx.Data.(types.Transfers); ok {
		for _, transfer := range transfers {
			accounts = append(accounts, transfer.Destination)
		}
	}
	return accounts
}

// Batch is one scheduling unit: a set of mutually account-disjoint
// conflict groups. Groups inside a batch run concurrently; the
// transactions of one group run strictly in original block order, so
// same-source transactions never overlap.
type Batch struct {
	Groups [][]int
}

// Size returns the number of transactions in the batch.
func (b Batch) Size() int {
	n := 0
	for _, group := range b.Groups {
		n += len(group)
	}
	return n
}

// Txs returns the batch's transaction indices in block order.
func (b Batch) Txs() []int {
	txs := make([]int, 0, b.Size())
	for _, group := range b.Groups {
		txs = append(txs, group...)
	}
	sort.Ints(txs)
	return txs
}

// Plan is the path decision for one block. Sequential plans carry no
// batches; parallel plans partition the block into batches of
// conflict groups.
type Plan struct {
	Sequential bool
	Reason     string
	Batches    []Batch
}

// PlanBlock decides the execution path and, for the parallel path,
// builds the batches. Conflict groups are computed with a union-find
// over touched accounts, then spread greedily across up to
// MaxOpenBatches batches, always assigning the next group (in
// first-appearance order) to the currently smallest batch. Each group
// keeps its transactions in original block order.
func PlanBlock(txs []*types.Transaction, cfg Config) Plan {
	cfg = cfg.normalized()

	if !cfg.Enabled {
		return Plan{Sequential: true, Reason: "parallel execution disabled"}
	}
	if len(txs) < cfg.ParallelThreshold {
		return Plan{Sequential: true, Reason: "below parallel threshold"}
	}
	for _, tx := range txs {
		if tx.Data == nil {
			return Plan{Sequential: true, Reason: "missing payload"}
		}
		if !parallelizable(tx.Data.Type()) {
			return Plan{Sequential: true, Reason: "non-parallelizable payload: " + tx.Data.Type().String()}
		}
	}

	groups := conflictGroups(txs)
	batches := spreadGroups(groups, cfg.MaxOpenBatches)
	log.Debug(log.BatchMonitoring, "planned parallel block",
		"txs", len(txs), "groups", len(groups), "batches", len(batches))
	return Plan{Batches: batches}
}

// conflictGroups partitions transaction indices into groups that share
// at least one touched account, transitively. Groups are returned in
// order of their first transaction and each group preserves original
// order.
func conflictGroups(txs []*types.Transaction) [][]int {
	parent := make([]int, len(txs))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			if ra > rb {
				ra, rb = rb, ra
			}
			parent[rb] = ra
		}
	}

	firstTouch := make(map[common.PublicKey]int)
	for i, tx := range txs {
		for _, account := range TouchedAccounts(tx) {
			if j, seen := firstTouch[account]; seen {
				union(i, j)
			} else {
				firstTouch[account] = i
			}
		}
	}

	groupOf := make(map[int]int)
	var groups [][]int
	for i := range txs {
		root := find(i)
		g, ok := groupOf[root]
		if !ok {
			g = len(groups)
			groupOf[root] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}

// spreadGroups assigns each conflict group to the least-loaded of up
// to maxBatches batches, measuring load in transactions. Ties go to
// the lower batch index, which keeps the result deterministic. Groups
// stay intact so per-account ordering survives scheduling.
func spreadGroups(groups [][]int, maxBatches int) []Batch {
	if maxBatches > len(groups) {
		maxBatches = len(groups)
	}
	batches := make([]Batch, maxBatches)
	loads := make([]int, maxBatches)
	for _, group := range groups {
		best := 0
		for b := 1; b < maxBatches; b++ {
			if loads[b] < loads[best] {
				best = b
			}
		}
		batches[best].Groups = append(batches[best].Groups, group)
		loads[best] += len(group)
	}
	return batches
}
