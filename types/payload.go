package types

import (
	"github.com/tos-network/gtos/common"
)

// TransferPayload moves an amount of one asset to one destination.
type TransferPayload struct {
	Asset       common.Hash      `json:"asset"`
	Destination common.PublicKey `json:"destination"`
	Amount      uint64           `json:"amount"`
	ExtraData   []byte           `json:"extra_data,omitempty"`
}

// Transfers is a transfer-set payload: up to MaxTransferCount
// transfers applied as one atomic unit.
type Transfers []TransferPayload

func (Transfers) Type() TxType { return TxTransfers }

// BurnPayload destroys an amount of an asset from the source account.
type BurnPayload struct {
	Asset  common.Hash `json:"asset"`
	Amount uint64      `json:"amount"`
}

func (*BurnPayload) Type() TxType { return TxBurn }

// MultiSigPayload configures (or with a zero threshold and empty
// participant set, removes) the multisig setup of the source account.
type MultiSigPayload struct {
	Threshold    uint8              `json:"threshold"`
	Participants []common.PublicKey `json:"participants"`
}

func (*MultiSigPayload) Type() TxType { return TxMultiSig }

// IsDelete reports whether this payload resets the multisig state.
func (p *MultiSigPayload) IsDelete() bool {
	return p.Threshold == 0 && len(p.Participants) == 0
}

// EnergyOp enumerates energy-model operations.
type EnergyOp uint8

const (
	EnergyFreeze EnergyOp = iota
	EnergyUnfreeze
)

// EnergyPayload freezes or unfreezes native coin for energy. The
// execution core classifies these as sequential-only.
type EnergyPayload struct {
	Op     EnergyOp `json:"op"`
	Amount uint64   `json:"amount"`
}

func (*EnergyPayload) Type() TxType { return TxEnergy }

// ContractDeposit is a plaintext asset deposit attached to a contract
// invocation.
type ContractDeposit struct {
	Asset  common.Hash `json:"asset"`
	Amount uint64      `json:"amount"`
}

// InvokeContractPayload calls into a deployed contract. The embedded
// virtual machine is an external service; this core never executes it.
type InvokeContractPayload struct {
	Contract common.Hash       `json:"contract"`
	MaxGas   uint64            `json:"max_gas"`
	Deposits []ContractDeposit `json:"deposits,omitempty"`
	Params   []byte            `json:"params,omitempty"`
}

func (*InvokeContractPayload) Type() TxType { return TxInvokeContract }

// DeployContractPayload registers new contract bytecode.
type DeployContractPayload struct {
	Module []byte `json:"module"`
}

func (*DeployContractPayload) Type() TxType { return TxDeployContract }

// AIMiningPayload carries AI-mining operations; sequential-only.
type AIMiningPayload struct {
	Op     uint8  `json:"op"`
	Amount uint64 `json:"amount"`
}

func (*AIMiningPayload) Type() TxType { return TxAIMining }
