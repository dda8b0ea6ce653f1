package state

import (
	"math/big"

	"github.com/eth2030/evmcore/core/types"
)

// StateDB is the interface the block and transaction executors drive the
// world state through. JournaledState is the canonical implementation; its
// method set is a superset of the vm package's StateDB interface, so a value
// of this type can be handed to the EVM directly.
type StateDB interface {
	// Account operations
	CreateAccount(addr types.Address)
	CreateContract(addr types.Address)
	GetBalance(addr types.Address) *big.Int
	AddBalance(addr types.Address, amount *big.Int)
	SubBalance(addr types.Address, amount *big.Int)
	GetNonce(addr types.Address) uint64
	SetNonce(addr types.Address, nonce uint64)
	GetCode(addr types.Address) []byte
	SetCode(addr types.Address, code []byte)
	GetCodeHash(addr types.Address) types.Hash
	GetCodeSize(addr types.Address) int

	// Storage
	GetState(addr types.Address, key types.Hash) types.Hash
	SetState(addr types.Address, key types.Hash, value types.Hash)
	GetCommittedState(addr types.Address, key types.Hash) types.Hash

	// Transient storage (EIP-1153)
	GetTransientState(addr types.Address, key types.Hash) types.Hash
	SetTransientState(addr types.Address, key types.Hash, value types.Hash)

	// Self-destruct
	SelfDestruct(addr, beneficiary types.Address)
	SelfDestruct6780(addr, beneficiary types.Address)
	HasSelfDestructed(addr types.Address) bool

	// Account existence and EIP-161 touch tracking
	Exist(addr types.Address) bool
	Empty(addr types.Address) bool
	Touch(addr types.Address)

	// Snapshot and revert for call/tx atomicity
	Snapshot() int
	RevertToSnapshot(id int)

	// Logs
	SetTxContext(txHash types.Hash, txIndex int)
	AddLog(log *types.Log)
	GetLogs(txHash types.Hash) []*types.Log

	// Refund counter
	AddRefund(gas uint64)
	SubRefund(gas uint64)
	GetRefund() uint64

	// Access list (EIP-2929 warm/cold tracking)
	AddAddressToAccessList(addr types.Address)
	AddSlotToAccessList(addr types.Address, slot types.Hash)
	AddressInAccessList(addr types.Address) bool
	SlotInAccessList(addr types.Address, slot types.Hash) (addressOk bool, slotOk bool)

	// Transaction and block boundaries
	Finalise(deleteEmpty bool)
	Commit() (types.Hash, error)
	TakeStateTransitions() []AccountDiff
}

// Verify interface compliance at compile time.
var _ StateDB = (*JournaledState)(nil)
