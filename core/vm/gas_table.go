package vm

import (
	"math"

	"github.com/holiman/uint256"
	"github.com/eth2030/evmcore/core/types"
)

// MemoryGasCost calculates the total gas cost for memory of the given size:
// 3 * words + words^2 / 512. Returns math.MaxUint64 on overflow to signal
// out-of-gas.
func MemoryGasCost(memSize uint64) uint64 {
	if memSize == 0 {
		return 0
	}
	words := toWordSize(memSize)
	// words*words overflows well before any realistic block gas limit is
	// reachable; cap early.
	if words > 0x1FFFFFFFE0 {
		return math.MaxUint64
	}
	return words*GasMemory + words*words/512
}

// MemoryExpansionGas returns the gas cost for expanding memory from oldSize
// to newSize (both in bytes).
func MemoryExpansionGas(oldSize, newSize uint64) uint64 {
	if newSize <= oldSize {
		return 0
	}
	return MemoryGasCost(newSize) - MemoryGasCost(oldSize)
}

// toWordSize rounds up to the next 32-byte word.
func toWordSize(size uint64) uint64 {
	if size > math.MaxUint64-31 {
		return math.MaxUint64/32 + 1
	}
	return (size + 31) / 32
}

// calcMemSize64 computes offset + length as a uint64, reporting overflow.
// A zero length never requires memory.
func calcMemSize64(off, length *uint256.Int) (uint64, bool) {
	if length.IsZero() {
		return 0, false
	}
	offset64, overflow := off.Uint64WithOverflow()
	if overflow {
		return 0, true
	}
	length64, overflow := length.Uint64WithOverflow()
	if overflow {
		return 0, true
	}
	val := offset64 + length64
	return val, val < offset64
}

// safeAdd returns a+b, capping at math.MaxUint64 on overflow.
func safeAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// safeMul returns a*b, capping at math.MaxUint64 on overflow.
func safeMul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxUint64/b {
		return math.MaxUint64
	}
	return a * b
}

// --- Memory size functions ---

func memoryMload(stack *Stack) (uint64, bool) {
	return calcMemSize64(stack.Back(0), uint256.NewInt(32))
}

func memoryMstore(stack *Stack) (uint64, bool) {
	return calcMemSize64(stack.Back(0), uint256.NewInt(32))
}

func memoryMstore8(stack *Stack) (uint64, bool) {
	return calcMemSize64(stack.Back(0), uint256.NewInt(1))
}

func memoryReturn(stack *Stack) (uint64, bool) {
	return calcMemSize64(stack.Back(0), stack.Back(1))
}

func memoryKeccak256(stack *Stack) (uint64, bool) {
	return calcMemSize64(stack.Back(0), stack.Back(1))
}

func memoryCopy(stack *Stack) (uint64, bool) {
	// CALLDATACOPY, CODECOPY, RETURNDATACOPY: destOffset at 0, length at 2.
	return calcMemSize64(stack.Back(0), stack.Back(2))
}

func memoryExtCodeCopy(stack *Stack) (uint64, bool) {
	// Stack: addr, destOffset, offset, length.
	return calcMemSize64(stack.Back(1), stack.Back(3))
}

func memoryMcopy(stack *Stack) (uint64, bool) {
	// Stack: dst, src, length. Both regions must be covered.
	dst, overflow := calcMemSize64(stack.Back(0), stack.Back(2))
	if overflow {
		return 0, true
	}
	src, overflow := calcMemSize64(stack.Back(1), stack.Back(2))
	if overflow {
		return 0, true
	}
	if src > dst {
		return src, false
	}
	return dst, false
}

func memoryLog(stack *Stack) (uint64, bool) {
	return calcMemSize64(stack.Back(0), stack.Back(1))
}

// memoryCall returns the required memory size for CALL/CALLCODE.
// Stack: gas, addr, value, argsOffset, argsLength, retOffset, retLength
func memoryCall(stack *Stack) (uint64, bool) {
	args, overflow := calcMemSize64(stack.Back(3), stack.Back(4))
	if overflow {
		return 0, true
	}
	ret, overflow := calcMemSize64(stack.Back(5), stack.Back(6))
	if overflow {
		return 0, true
	}
	if args > ret {
		return args, false
	}
	return ret, false
}

// memoryDelegateCall returns the required memory size for DELEGATECALL and
// STATICCALL. Stack: gas, addr, argsOffset, argsLength, retOffset, retLength
func memoryDelegateCall(stack *Stack) (uint64, bool) {
	args, overflow := calcMemSize64(stack.Back(2), stack.Back(3))
	if overflow {
		return 0, true
	}
	ret, overflow := calcMemSize64(stack.Back(4), stack.Back(5))
	if overflow {
		return 0, true
	}
	if args > ret {
		return args, false
	}
	return ret, false
}

// memoryCreate returns the required memory size for CREATE/CREATE2.
// Stack: value, offset, length [, salt]
func memoryCreate(stack *Stack) (uint64, bool) {
	return calcMemSize64(stack.Back(1), stack.Back(2))
}

// --- Dynamic gas functions ---

// gasMemExpansion charges for growing memory to memorySize bytes.
func gasMemExpansion(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) uint64 {
	return MemoryExpansionGas(uint64(mem.Len()), memorySize)
}

// gasKeccak256 charges 6 per word hashed plus memory expansion.
func gasKeccak256(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) uint64 {
	words := toWordSize(stack.Back(1).Uint64())
	gas := safeMul(words, GasKeccak256Word)
	return safeAdd(gas, gasMemExpansion(evm, contract, stack, mem, memorySize))
}

// gasExp charges 50 per byte of the exponent (EIP-160). The constant gas
// (GasHigh = 10) is charged separately.
func gasExp(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) uint64 {
	byteLen := uint64((stack.Back(1).BitLen() + 7) / 8)
	return safeMul(GasExpByte, byteLen)
}

// gasCopy charges 3 per word copied plus memory expansion, for
// CALLDATACOPY, CODECOPY, RETURNDATACOPY, and MCOPY.
func gasCopy(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) uint64 {
	words := toWordSize(stack.Back(2).Uint64())
	gas := safeMul(GasCopy, words)
	return safeAdd(gas, gasMemExpansion(evm, contract, stack, mem, memorySize))
}

// makeGasLog returns a dynamic gas function for LOG0-LOG4.
func makeGasLog(n uint64) dynamicGasFunc {
	return func(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) uint64 {
		gas := safeMul(n, GasLogTopic)
		gas = safeAdd(gas, safeMul(stack.Back(1).Uint64(), GasLogData))
		return safeAdd(gas, gasMemExpansion(evm, contract, stack, mem, memorySize))
	}
}

// gasCreate charges EIP-3860 init code word gas plus memory expansion.
func gasCreate(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) uint64 {
	words := toWordSize(stack.Back(2).Uint64())
	gas := safeMul(InitCodeWordGas, words)
	return safeAdd(gas, gasMemExpansion(evm, contract, stack, mem, memorySize))
}

// gasCreate2 additionally pays keccak word gas for hashing the init code.
func gasCreate2(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) uint64 {
	words := toWordSize(stack.Back(2).Uint64())
	gas := safeMul(InitCodeWordGas+GasKeccak256Word, words)
	return safeAdd(gas, gasMemExpansion(evm, contract, stack, mem, memorySize))
}

// gasEIP2929AccountCheck warms addr if cold and returns the extra cold
// surcharge. The constant gas of the opcode covers the warm cost.
func gasEIP2929AccountCheck(evm *EVM, addr types.Address) uint64 {
	if evm.StateDB == nil {
		return 0
	}
	if evm.StateDB.AddressInAccessList(addr) {
		return 0
	}
	evm.StateDB.AddAddressToAccessList(addr)
	return ColdAccountAccessCost - WarmStorageReadCost
}

// gasEIP2929SlotCheck warms (addr, slot) if cold and returns the extra cold
// surcharge.
func gasEIP2929SlotCheck(evm *EVM, addr types.Address, slot types.Hash) uint64 {
	if evm.StateDB == nil {
		return 0
	}
	if _, slotWarm := evm.StateDB.SlotInAccessList(addr, slot); slotWarm {
		return 0
	}
	evm.StateDB.AddSlotToAccessList(addr, slot)
	return ColdSloadCost - WarmStorageReadCost
}

func gasSloadEIP2929(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) uint64 {
	return gasEIP2929SlotCheck(evm, contract.Address, types.Hash(stack.Back(0).Bytes32()))
}

func gasBalanceEIP2929(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) uint64 {
	return gasEIP2929AccountCheck(evm, types.Address(stack.Back(0).Bytes20()))
}

func gasExtCodeSizeEIP2929(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) uint64 {
	return gasEIP2929AccountCheck(evm, types.Address(stack.Back(0).Bytes20()))
}

func gasExtCodeHashEIP2929(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) uint64 {
	return gasEIP2929AccountCheck(evm, types.Address(stack.Back(0).Bytes20()))
}

func gasExtCodeCopyEIP2929(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) uint64 {
	gas := gasEIP2929AccountCheck(evm, types.Address(stack.Back(0).Bytes20()))
	gas = safeAdd(gas, safeMul(GasCopy, toWordSize(stack.Back(3).Uint64())))
	return safeAdd(gas, gasMemExpansion(evm, contract, stack, mem, memorySize))
}

// SstoreGas computes the EIP-2200/EIP-3529 gas and refund delta for an SSTORE
// given the (original, current, new) triplet. The cold-access surcharge is
// handled separately by the caller.
func SstoreGas(original, current, newVal types.Hash) (gas uint64, refund int64) {
	if current == newVal {
		// No-op.
		return WarmStorageReadCost, 0
	}

	if original == current {
		if original.IsZero() {
			// Create slot: 0 -> non-zero.
			return GasSstoreSet, 0
		}
		// Update slot: original == current != new.
		if newVal.IsZero() {
			// Delete slot: non-zero -> zero.
			refund = int64(SstoreClearsScheduleRefund)
		}
		return GasSstoreReset, refund
	}

	// Dirty slot: already modified in this transaction.
	gas = WarmStorageReadCost
	if !original.IsZero() {
		if current.IsZero() && !newVal.IsZero() {
			// Undo a previous clear: take back the refund that was given.
			refund -= int64(SstoreClearsScheduleRefund)
		} else if !current.IsZero() && newVal.IsZero() {
			// Clear a dirty non-zero slot.
			refund += int64(SstoreClearsScheduleRefund)
		}
	}
	if original == newVal {
		// Restoring to the original value.
		if original.IsZero() {
			refund += int64(GasSstoreSet) - int64(WarmStorageReadCost)
		} else {
			refund += int64(GasSstoreReset) - int64(WarmStorageReadCost)
		}
	}
	return gas, refund
}

// gasSstoreEIP2929 charges SSTORE gas per EIP-2200/2929/3529 and applies the
// refund delta to the state's refund counter. SSTORE carries no constant gas,
// so a cold slot pays the full ColdSloadCost here.
func gasSstoreEIP2929(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) uint64 {
	// EIP-2200 sentry: SSTORE needs more than the call stipend left.
	if contract.Gas <= CallStipend {
		return math.MaxUint64
	}
	if evm.StateDB == nil {
		return WarmStorageReadCost
	}
	slot := types.Hash(stack.Back(0).Bytes32())

	var coldGas uint64
	if _, slotWarm := evm.StateDB.SlotInAccessList(contract.Address, slot); !slotWarm {
		evm.StateDB.AddSlotToAccessList(contract.Address, slot)
		coldGas = ColdSloadCost
	}

	current := evm.StateDB.GetState(contract.Address, slot)
	original := evm.StateDB.GetCommittedState(contract.Address, slot)
	newVal := types.Hash(stack.Back(1).Bytes32())

	gas, refund := SstoreGas(original, current, newVal)
	if refund > 0 {
		evm.StateDB.AddRefund(uint64(refund))
	} else if refund < 0 {
		evm.StateDB.SubRefund(uint64(-refund))
	}
	return gas + coldGas
}

// gasCallEIP2929 charges cold access, value transfer, and new-account gas for
// CALL, plus memory expansion.
// Stack: gas, addr, value, argsOffset, argsLength, retOffset, retLength
func gasCallEIP2929(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) uint64 {
	addr := types.Address(stack.Back(1).Bytes20())
	gas := gasEIP2929AccountCheck(evm, addr)
	if !stack.Back(2).IsZero() {
		gas = safeAdd(gas, CallValueTransferGas)
		// Sending value to a non-existent (or empty, post-EIP-161) account
		// costs extra.
		if evm.StateDB != nil && evm.StateDB.Empty(addr) {
			gas = safeAdd(gas, CallNewAccountGas)
		}
	}
	return safeAdd(gas, gasMemExpansion(evm, contract, stack, mem, memorySize))
}

// gasCallCodeEIP2929 charges cold access and value transfer gas for CALLCODE.
// CALLCODE runs in the caller's context and never creates accounts.
func gasCallCodeEIP2929(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) uint64 {
	gas := gasEIP2929AccountCheck(evm, types.Address(stack.Back(1).Bytes20()))
	if !stack.Back(2).IsZero() {
		gas = safeAdd(gas, CallValueTransferGas)
	}
	return safeAdd(gas, gasMemExpansion(evm, contract, stack, mem, memorySize))
}

func gasDelegateCallEIP2929(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) uint64 {
	gas := gasEIP2929AccountCheck(evm, types.Address(stack.Back(1).Bytes20()))
	return safeAdd(gas, gasMemExpansion(evm, contract, stack, mem, memorySize))
}

func gasStaticCallEIP2929(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) uint64 {
	gas := gasEIP2929AccountCheck(evm, types.Address(stack.Back(1).Bytes20()))
	return safeAdd(gas, gasMemExpansion(evm, contract, stack, mem, memorySize))
}

// gasSelfdestructEIP2929 charges cold access for the beneficiary plus the
// new-account surcharge when moving balance to a non-existent account.
// Post-London (EIP-3529) there is no SELFDESTRUCT refund.
func gasSelfdestructEIP2929(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) uint64 {
	addr := types.Address(stack.Back(0).Bytes20())
	var gas uint64
	if evm.StateDB != nil {
		if !evm.StateDB.AddressInAccessList(addr) {
			evm.StateDB.AddAddressToAccessList(addr)
			gas = ColdAccountAccessCost
		}
		if evm.StateDB.Empty(addr) && evm.StateDB.GetBalance(contract.Address).Sign() != 0 {
			gas = safeAdd(gas, CreateBySelfdestructGas)
		}
	}
	return gas
}
