package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/tos-network/gtos/common"
	"github.com/tos-network/gtos/log"
	"github.com/tos-network/gtos/statedb"
	"github.com/tos-network/gtos/types"
)

// Executor runs a block's transactions against a staged state, either
// sequentially or batch-parallel. Both paths apply transactions
// through the same adapter and routine, so a block produces the same
// results and the same staged modifications whichever path it takes.
type Executor struct {
	cfg      Config
	verifier types.SignatureVerifier
	tracer   trace.Tracer
}

func New(cfg Config, verifier types.SignatureVerifier) *Executor {
	return &Executor{
		cfg:      cfg.normalized(),
		verifier: verifier,
		tracer:   otel.Tracer("gtos/executor"),
	}
}

func (e *Executor) Config() Config { return e.cfg }

// Execute applies the block reward and every transaction, returning
// one result per transaction in original block order. A returned
// error means the whole block failed (storage fault, commit fault or
// cancellation); per-transaction verification failures are reported
// in the results, never as an error.
func (e *Executor) Execute(ctx context.Context, state *statedb.StagedState, block *types.Block) ([]types.TransactionResult, *Metrics, error) {
	ctx, span := e.tracer.Start(ctx, "executor.Execute", trace.WithAttributes(
		attribute.Int64("block.topoheight", int64(block.TopoHeight)),
		attribute.Int("block.txs", len(block.Transactions)),
	))
	defer span.End()

	start := time.Now()

	// The reward lands before any transaction so spends from the miner
	// account inside this block observe it.
	if err := state.RewardMiner(ctx, block.Miner, block.Reward); err != nil {
		return nil, nil, fmt.Errorf("reward miner: %w", err)
	}

	plan := PlanBlock(block.Transactions, e.cfg)
	span.SetAttributes(attribute.Bool("block.parallel", !plan.Sequential))

	var (
		results []types.TransactionResult
		err     error
	)
	if plan.Sequential {
		log.Debug(log.ExecMonitoring, "sequential block execution",
			"topoheight", block.TopoHeight, "txs", len(block.Transactions), "reason", plan.Reason)
		results, err = e.executeSequential(ctx, state, block.Transactions)
	} else {
		log.Debug(log.ExecMonitoring, "parallel block execution",
			"topoheight", block.TopoHeight, "txs", len(block.Transactions), "batches", len(plan.Batches))
		results, err = e.executeParallel(ctx, state, block.Transactions, plan.Batches)
	}
	if err != nil {
		return nil, nil, err
	}

	metrics := metricsFromRun(plan, results, time.Since(start))
	log.Info(log.ExecMonitoring, "block executed",
		"topoheight", block.TopoHeight,
		"txs", len(block.Transactions),
		"failed", metrics.FailedTxs,
		"parallel", metrics.Parallel,
		"duration", metrics.Duration)
	return results, metrics, nil
}

// ExecuteSequential forces the sequential path regardless of
// configuration. Parity tests and the replay tool run blocks through
// both entry points.
func (e *Executor) ExecuteSequential(ctx context.Context, state *statedb.StagedState, block *types.Block) ([]types.TransactionResult, error) {
	if err := state.RewardMiner(ctx, block.Miner, block.Reward); err != nil {
		return nil, fmt.Errorf("reward miner: %w", err)
	}
	return e.executeSequential(ctx, state, block.Transactions)
}

func (e *Executor) executeSequential(ctx context.Context, state *statedb.StagedState, txs []*types.Transaction) ([]types.TransactionResult, error) {
	results := make([]types.TransactionResult, len(txs))
	for i, tx := range txs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, fatal := e.applyOne(ctx, state, tx)
		if fatal != nil {
			return nil, fatal
		}
		results[i] = result
	}
	return results, nil
}

func (e *Executor) executeParallel(ctx context.Context, state *statedb.StagedState, txs []*types.Transaction, batches []Batch) ([]types.TransactionResult, error) {
	results := make([]types.TransactionResult, len(txs))
	sem := semaphore.NewWeighted(int64(e.cfg.MaxParallelism))

	for batchIdx, batch := range batches {
		if batch.Size() == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batchCtx, span := e.tracer.Start(ctx, "executor.batch", trace.WithAttributes(
			attribute.Int("batch.index", batchIdx),
			attribute.Int("batch.groups", len(batch.Groups)),
			attribute.Int("batch.txs", batch.Size()),
		))

		var (
			wg       sync.WaitGroup
			fatalMu  sync.Mutex
			fatalErr error
		)
		setFatal := func(err error) {
			fatalMu.Lock()
			if fatalErr == nil {
				fatalErr = err
			}
			fatalMu.Unlock()
		}
		log.Trace(log.BatchMonitoring, "executing batch",
			"batch", batchIdx, "groups", len(batch.Groups), "txs", batch.Txs())

		// One task per conflict group: groups never share an account,
		// so they run concurrently, while the transactions of one
		// group run in block order within their task.
		for _, group := range batch.Groups {
			wg.Add(1)
			go func(group []int) {
				defer wg.Done()
				for _, txIdx := range group {
					if err := sem.Acquire(batchCtx, 1); err != nil {
						setFatal(err)
						return
					}
					result, fatal := e.applyOne(batchCtx, state, txs[txIdx])
					sem.Release(1)
					results[txIdx] = result
					if fatal != nil {
						setFatal(fatal)
						return
					}
				}
			}(group)
		}
		wg.Wait()
		span.End()
		if fatalErr != nil {
			return nil, fatalErr
		}
	}
	return results, nil
}

// applyOne runs a single transaction through its own adapter and
// commits on success. A panic inside verification or application is
// converted into a failed result so one malformed transaction cannot
// take down block execution. A non-nil fatal error aborts the block:
// cancellation and commit faults, never ordinary verification
// failures.
func (e *Executor) applyOne(ctx context.Context, state *statedb.StagedState, tx *types.Transaction) (result types.TransactionResult, fatal error) {
	var txHash common.Hash
	defer func() {
		if r := recover(); r != nil {
			log.Error(log.ExecMonitoring, "panic during transaction execution", "tx", txHash.StringShort(), "panic", r)
			result = types.FailedResult(txHash, fmt.Errorf("execution panic: %v", r))
			fatal = nil
		}
	}()
	txHash = tx.Hash()

	adapter := statedb.NewApplyAdapter(state)
	if err := statedb.ApplyTransaction(ctx, tx, adapter, e.verifier); err != nil {
		if !statedb.IsVerificationError(err) {
			// Storage fault or cancellation, not a rejection.
			return types.FailedResult(txHash, err), err
		}
		log.Debug(log.ExecMonitoring, "transaction failed", "tx", txHash.StringShort(), "err", err)
		return types.FailedResult(txHash, err), nil
	}
	if err := adapter.Commit(ctx); err != nil {
		// Commit failures corrupt block accounting; fail the block.
		return types.FailedResult(txHash, err), err
	}
	return types.TransactionResult{TxHash: txHash, Success: true, GasUsed: tx.Fee}, nil
}
