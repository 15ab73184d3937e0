package types

import (
	"github.com/tos-network/gtos/common"
)

// TransactionResult is the externally observable outcome of one
// transaction. Exactly one result is produced per transaction,
// whichever execution path ran it.
type TransactionResult struct {
	TxHash  common.Hash `json:"tx_hash"`
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	GasUsed uint64      `json:"gas_used"`
}

// FailedResult builds the result for a transaction rejected with err.
func FailedResult(txHash common.Hash, err error) TransactionResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return TransactionResult{TxHash: txHash, Success: false, Error: msg}
}
