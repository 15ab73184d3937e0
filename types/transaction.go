package types

import (
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/tos-network/gtos/common"
)

// Transaction format limits. A transaction violating any of these is
// rejected before touching account state.
const (
	MaxTransferCount        = 255
	ExtraDataLimitSize      = 128
	ExtraDataLimitSumSize   = ExtraDataLimitSize * 32
	MaxMultisigParticipants = 255
)

// TxVersion is the transaction wire version.
type TxVersion uint8

const (
	TxVersionT0 TxVersion = iota
	TxVersionV1
	TxVersionV2
)

// TxType tags the payload carried by a transaction.
type TxType uint8

const (
	TxTransfers TxType = iota
	TxBurn
	TxMultiSig
	TxEnergy
	TxInvokeContract
	TxDeployContract
	TxAIMining
)

func (t TxType) String() string {
	switch t {
	case TxTransfers:
		return "transfers"
	case TxBurn:
		return "burn"
	case TxMultiSig:
		return "multisig"
	case TxEnergy:
		return "energy"
	case TxInvokeContract:
		return "invoke_contract"
	case TxDeployContract:
		return "deploy_contract"
	case TxAIMining:
		return "ai_mining"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// TransactionData is the type-tagged payload of a transaction.
type TransactionData interface {
	Type() TxType
}

// Reference anchors a transaction to the chain state it was built
// against.
type Reference struct {
	TopoHeight common.TopoHeight `json:"topoheight"`
	BlockHash  common.Hash       `json:"hash"`
}

// Transaction is immutable once constructed; execution never mutates
// it, only the account state it references.
type Transaction struct {
	Version   TxVersion        `json:"version"`
	Source    common.PublicKey `json:"source"`
	Data      TransactionData  `json:"data"`
	Fee       uint64           `json:"fee"`
	Nonce     uint64           `json:"nonce"`
	Reference Reference        `json:"reference"`
	Signature [64]byte         `json:"signature"`

	hash atomic.Pointer[common.Hash]
}

// signingPayload is the canonical rlp encoding that both the hash and
// the signature commit to.
type signingPayload struct {
	Version   uint8
	Source    [32]byte
	DataType  uint8
	DataBytes []byte
	Fee       uint64
	Nonce     uint64
	RefTopo   uint64
	RefHash   [32]byte
}

// SigningBytes returns the canonical encoding signed by the source
// account.
func (tx *Transaction) SigningBytes() ([]byte, error) {
	dataBytes, err := rlp.EncodeToBytes(tx.Data)
	if err != nil {
		return nil, fmt.Errorf("encode tx payload: %w", err)
	}
	return rlp.EncodeToBytes(&signingPayload{
		Version:   uint8(tx.Version),
		Source:    tx.Source,
		DataType:  uint8(tx.Data.Type()),
		DataBytes: dataBytes,
		Fee:       tx.Fee,
		Nonce:     tx.Nonce,
		RefTopo:   tx.Reference.TopoHeight,
		RefHash:   tx.Reference.BlockHash,
	})
}

// SigningHash is the digest the signature oracle verifies against.
func (tx *Transaction) SigningHash() common.Hash {
	b, err := tx.SigningBytes()
	if err != nil {
		// Payload types are closed over rlp-encodable structs; an
		// encoding failure is a programming error.
		panic(err)
	}
	return common.Blake2Hash(b)
}

// Hash returns the transaction identifier, computed once and cached.
func (tx *Transaction) Hash() common.Hash {
	if h := tx.hash.Load(); h != nil {
		return *h
	}
	b, err := tx.SigningBytes()
	if err != nil {
		panic(err)
	}
	full, err := rlp.EncodeToBytes([]interface{}{b, tx.Signature[:]})
	if err != nil {
		panic(err)
	}
	h := common.Blake2Hash(full)
	tx.hash.Store(&h)
	return h
}
