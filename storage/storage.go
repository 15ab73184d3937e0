package storage

import (
	"context"

	"github.com/tos-network/gtos/common"
	"github.com/tos-network/gtos/types"
)

// Storage is the persistence contract consumed by the execution core.
// All reads are versioned: a "get at maximum topoheight" returns the
// most recent record at or below the given topoheight, so that block
// execution always observes the snapshot of its reference height.
//
// Multisig records are tri-state on disk: absent (never configured),
// present with a config, or present with an explicit removal marker.
// Removal markers are real records and must be written like any other
// update.
//
// Any error returned here is fatal for the whole block being executed;
// per-transaction failures never originate from this interface.
type Storage interface {
	// IsMainnet influences address formatting only, never logic.
	IsMainnet() bool

	GetNonceAtMaximumTopoHeight(ctx context.Context, account common.PublicKey, maxTopo common.TopoHeight) (nonce uint64, topo common.TopoHeight, found bool, err error)
	SetLastNonceTo(ctx context.Context, account common.PublicKey, topo common.TopoHeight, nonce uint64) error

	GetBalanceAtMaximumTopoHeight(ctx context.Context, account common.PublicKey, asset common.Hash, maxTopo common.TopoHeight) (balance uint64, topo common.TopoHeight, found bool, err error)
	SetLastBalanceTo(ctx context.Context, account common.PublicKey, asset common.Hash, topo common.TopoHeight, balance uint64) error

	// GetMultisigAtMaximumTopoHeight returns (nil, topo, true, nil) when
	// the latest record is an explicit removal.
	GetMultisigAtMaximumTopoHeight(ctx context.Context, account common.PublicKey, maxTopo common.TopoHeight) (config *types.MultiSigPayload, topo common.TopoHeight, found bool, err error)
	// SetLastMultisigTo with a nil config writes a removal marker.
	SetLastMultisigTo(ctx context.Context, account common.PublicKey, topo common.TopoHeight, config *types.MultiSigPayload) error

	// HasAccount reports whether the account has ever been registered.
	HasAccount(ctx context.Context, account common.PublicKey) (bool, error)
	// RegisterAccount records the first appearance of an account.
	RegisterAccount(ctx context.Context, account common.PublicKey, topo common.TopoHeight) error

	Close() error
}
