package core

import (
	"encoding/binary"
	"math/big"

	"github.com/eth2030/evmcore/core/state"
	"github.com/eth2030/evmcore/core/types"
	"github.com/eth2030/evmcore/core/vm"
)

const (
	// historyBufferLength is the ring buffer size of the beacon root
	// contract (EIP-4788).
	historyBufferLength = 8191

	// SystemCallGas is the fixed gas allowance for pre-block system calls.
	SystemCallGas = 30_000_000
)

// BeaconRootAddress is the address of the EIP-4788 beacon block root contract.
var BeaconRootAddress = types.HexToAddress("0x000F3df6D732807Ef1319fB7B8bB8522d0Beac02")

// SystemAddress is the synthetic caller of protocol system calls.
var SystemAddress = types.HexToAddress("0xfffffffffffffffffffffffffffffffffffffffe")

// ProcessBeaconBlockRoot stores the parent beacon block root into the beacon
// root system contract before any user transaction runs (EIP-4788).
//
// When the contract is deployed, this is a real EVM call from SystemAddress
// with a fixed 30M gas allowance, no value, and no gas payment; its state
// changes persist. When the contract has no code (bare test pre-states), the
// canonical ring-buffer writes are applied directly:
//
//	slot[time % 8191]        = header.Time
//	slot[time % 8191 + 8191] = parent beacon root
//
// Either way the synthetic sender and the coinbase are left untouched, so
// neither appears in the resulting state diff.
func ProcessBeaconBlockRoot(config *ChainConfig, statedb state.StateDB, header *types.Header, getHash vm.GetHashFunc) {
	if header.ParentBeaconRoot == nil {
		return
	}
	root := *header.ParentBeaconRoot

	if code := statedb.GetCode(BeaconRootAddress); len(code) > 0 {
		blockCtx := vm.BlockContext{
			GetHash:     getHash,
			BlockNumber: header.Number,
			Time:        header.Time,
			Coinbase:    header.Coinbase,
			GasLimit:    header.GasLimit,
			BaseFee:     header.BaseFee,
			PrevRandao:  header.MixDigest,
		}
		txCtx := vm.TxContext{
			Origin:   SystemAddress,
			GasPrice: new(big.Int),
		}
		evm := vm.NewEVMWithState(blockCtx, txCtx, vm.Config{}, statedb)
		rules := config.Rules(header.Time)
		evm.SetForkRules(rules)
		evm.SetJumpTable(vm.SelectJumpTable(rules))
		evm.SetPrecompiles(vm.SelectPrecompiles(rules))
		if config.ChainID != nil {
			evm.SetChainID(config.ChainID)
		}
		evm.Call(SystemAddress, BeaconRootAddress, root[:], SystemCallGas, nil)
	} else {
		timestampIdx := header.Time % historyBufferLength
		statedb.SetState(BeaconRootAddress, uint64ToHash(timestampIdx), uint64ToHash(header.Time))
		statedb.SetState(BeaconRootAddress, uint64ToHash(timestampIdx+historyBufferLength), root)
	}

	// Seal the system call as its own mini-transaction: any empty touched
	// accounts (including the synthetic sender) are swept.
	statedb.Finalise(true)
}

// uint64ToHash converts a uint64 to a 32-byte big-endian hash (left-padded).
func uint64ToHash(v uint64) types.Hash {
	var h types.Hash
	binary.BigEndian.PutUint64(h[24:], v)
	return h
}
