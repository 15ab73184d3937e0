package types

import (
	"github.com/tos-network/gtos/common"
)

// BlockVersion is the consensus-layer block format version.
type BlockVersion uint8

const (
	BlockVersionV0 BlockVersion = iota
	BlockVersionV1
)

// Block is the finalized input handed to the execution core by the
// block-assembly layer: an ordered transaction list plus the context
// needed to execute it. Fork choice, difficulty and reward computation
// all happen upstream.
type Block struct {
	Hash             common.Hash       `json:"hash"`
	Version          BlockVersion      `json:"version"`
	TopoHeight       common.TopoHeight `json:"topoheight"`
	StableTopoHeight common.TopoHeight `json:"stable_topoheight"`
	Miner            common.PublicKey  `json:"miner"`
	Reward           uint64            `json:"reward"`
	Transactions     []*Transaction    `json:"transactions"`
}
