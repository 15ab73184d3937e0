package statedb

import (
	"errors"

	"github.com/tos-network/gtos/types"
)

// Verification and apply errors. Any of these fails the transaction
// that triggered it; block execution continues with the next one.
var (
	ErrInvalidNonce          = errors.New("invalid nonce")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrBalanceOverflow       = errors.New("balance overflow")
	ErrInvalidFormat         = errors.New("invalid transaction format")
	ErrMultisigNotConfigured = errors.New("multisig not configured")
	ErrUnsupportedPayload    = errors.New("unsupported payload for parallel execution")
)

// Counter errors are fatal for the block, not for a single transaction:
// a miss would corrupt the emitted-supply accounting.
var (
	ErrBurnedSupplyLimit = errors.New("burned supply would exceed maximum supply")
	ErrFeeOverflow       = errors.New("collected fees would exceed maximum supply")
)

// IsVerificationError reports whether err is an ordinary per-tx
// rejection. Anything else coming out of ApplyTransaction is an
// infrastructure fault (storage, cancellation) and fails the whole
// block.
func IsVerificationError(err error) bool {
	for _, sentinel := range []error{
		ErrInvalidNonce,
		ErrInsufficientFunds,
		ErrBalanceOverflow,
		ErrInvalidFormat,
		ErrMultisigNotConfigured,
		ErrUnsupportedPayload,
		types.ErrInvalidSignature,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
