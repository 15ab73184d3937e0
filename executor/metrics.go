package executor

import (
	"fmt"
	"time"

	"github.com/tos-network/gtos/types"
)

// Metrics summarizes one block execution run.
type Metrics struct {
	TotalTxs     int           `json:"total_txs"`
	FailedTxs    int           `json:"failed_txs"`
	Parallel     bool          `json:"parallel"`
	Batches      int           `json:"batches"`
	LargestBatch int           `json:"largest_batch"`
	Duration     time.Duration `json:"duration"`
}

func metricsFromRun(plan Plan, results []types.TransactionResult, duration time.Duration) *Metrics {
	m := &Metrics{
		TotalTxs: len(results),
		Parallel: !plan.Sequential,
		Duration: duration,
	}
	for _, result := range results {
		if !result.Success {
			m.FailedTxs++
		}
	}
	if !plan.Sequential {
		m.Batches = len(plan.Batches)
		for _, batch := range plan.Batches {
			if batch.Size() > m.LargestBatch {
				m.LargestBatch = batch.Size()
			}
		}
	}
	return m
}

// Summary renders a one-line human readable report.
func (m *Metrics) Summary() string {
	path := "sequential"
	if m.Parallel {
		path = fmt.Sprintf("parallel (%d batches, largest %d)", m.Batches, m.LargestBatch)
	}
	return fmt.Sprintf("%d txs (%d failed) via %s in %s", m.TotalTxs, m.FailedTxs, path, m.Duration)
}
