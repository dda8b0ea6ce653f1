// state_transition.go drives the block-level state transition: header and
// body validation, transaction execution through the state processor, and
// post-execution reconciliation of gas, bloom, receipts root, and state root
// against the header.
package core

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/eth2030/evmcore/core/state"
	"github.com/eth2030/evmcore/core/types"
	"github.com/eth2030/evmcore/core/vm"
)

// TransitionResult holds the outputs of a block state transition.
type TransitionResult struct {
	Receipts    []*types.Receipt
	Logs        []*types.Log
	GasUsed     uint64
	BlobGasUsed uint64
	LogsBloom   types.Bloom
	StateRoot   types.Hash
	Transitions []state.AccountDiff
}

// StateTransition manages the execution of blocks against the world state.
// The state view is held exclusively for the duration of a block; public
// methods are serialized.
type StateTransition struct {
	mu        sync.Mutex
	config    *ChainConfig
	processor *StateProcessor
	validator *BlockValidator
}

// NewStateTransition creates a new StateTransition with the given chain config.
func NewStateTransition(config *ChainConfig) *StateTransition {
	return &StateTransition{
		config:    config,
		processor: NewStateProcessor(config),
		validator: NewBlockValidator(config),
	}
}

// SetGetHash sets the block hash lookup function for the BLOCKHASH opcode.
func (st *StateTransition) SetGetHash(fn vm.GetHashFunc) {
	st.processor.SetGetHash(fn)
}

// ExecuteBlock validates the block against its parent, executes it, and
// checks the post-execution header commitments. On any error the state view
// must be discarded by the caller; nothing is partially applied to the
// underlying provider.
func (st *StateTransition) ExecuteBlock(parent *types.Header, block *types.Block, statedb state.StateDB) (*TransitionResult, error) {
	header := block.Header()
	if err := st.validator.ValidateHeader(header, parent); err != nil {
		return nil, err
	}
	if err := st.validator.ValidateBody(block); err != nil {
		return nil, err
	}
	return st.ApplyBlock(block, statedb)
}

// ApplyBlock executes all transactions in the block against the given state
// and verifies every header commitment derived from execution: gas used,
// logs bloom, receipts root, and state root.
func (st *StateTransition) ApplyBlock(block *types.Block, statedb state.StateDB) (*TransitionResult, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	header := block.Header()

	result, err := st.processor.Process(block, statedb)
	if err != nil {
		return nil, err
	}

	// Gas reconciliation: the last receipt's cumulative gas is the block's.
	if result.GasUsed != header.GasUsed {
		return nil, fmt.Errorf("%w: header %d, computed %d", ErrGasUsedMismatch, header.GasUsed, result.GasUsed)
	}

	bloom := types.CreateBloom(result.Receipts)
	if bloom != header.Bloom {
		return nil, ErrBloomMismatch
	}

	if receiptsRoot := DeriveReceiptsRoot(result.Receipts); receiptsRoot != header.ReceiptHash {
		return nil, fmt.Errorf("%w: header %v, computed %v", ErrReceiptsRootMismatch, header.ReceiptHash, receiptsRoot)
	}

	stateRoot, err := statedb.Commit()
	if err != nil {
		return nil, fmt.Errorf("state commit failed: %w", err)
	}
	if stateRoot != header.Root {
		return nil, fmt.Errorf("%w: header %v, computed %v", ErrStateRootMismatch, header.Root, stateRoot)
	}

	return &TransitionResult{
		Receipts:    result.Receipts,
		Logs:        result.Logs,
		GasUsed:     result.GasUsed,
		BlobGasUsed: result.BlobGasUsed,
		LogsBloom:   bloom,
		StateRoot:   stateRoot,
		Transitions: statedb.TakeStateTransitions(),
	}, nil
}

// ValidateTransaction performs stateful pre-checks of a transaction against
// the current state and header without executing it: sender, nonce, gas
// limit, intrinsic gas, fee caps, balance, and blob constraints.
func ValidateTransaction(tx *types.Transaction, statedb state.StateDB, header *types.Header, config *ChainConfig) error {
	sender := tx.Sender()
	if sender == nil {
		return ErrSenderUnset
	}
	from := *sender

	stateNonce := statedb.GetNonce(from)
	if tx.Nonce() < stateNonce {
		return fmt.Errorf("%w: tx %d, state %d", ErrNonceTooLow, tx.Nonce(), stateNonce)
	}
	if tx.Nonce() > stateNonce {
		return fmt.Errorf("%w: tx %d, state %d", ErrNonceTooHigh, tx.Nonce(), stateNonce)
	}

	if tx.Gas() > header.GasLimit {
		return fmt.Errorf("%w: tx gas %d > block limit %d", ErrGasLimitExceeded, tx.Gas(), header.GasLimit)
	}

	isShanghai := config != nil && config.IsShanghai(header.Time)
	if igas := intrinsicGas(tx.Data(), tx.AccessList(), tx.To() == nil, isShanghai); tx.Gas() < igas {
		return fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGasTooLow, tx.Gas(), igas)
	}

	if header.BaseFee != nil && header.BaseFee.Sign() > 0 {
		feeCap := tx.GasFeeCap()
		if feeCap != nil && feeCap.Cmp(header.BaseFee) < 0 {
			return fmt.Errorf("%w: fee %v, baseFee %v", ErrFeeCapBelowBaseFee, feeCap, header.BaseFee)
		}
	}

	cost := TxCost(tx)
	if balance := statedb.GetBalance(from); balance.Cmp(cost) < 0 {
		return fmt.Errorf("%w: have %v, want %v", ErrInsufficientFunds, balance, cost)
	}

	if tx.Type() == types.BlobTxType {
		if tx.To() == nil {
			return ErrBlobTxCreate
		}
		var excess uint64
		if header.ExcessBlobGas != nil {
			excess = *header.ExcessBlobGas
		}
		if err := ValidateBlobTx(tx, excess); err != nil {
			return err
		}
	}

	return nil
}

// TxCost computes the maximum cost a transaction can incur: value plus gas
// at the fee cap plus blob gas at the blob fee cap.
func TxCost(tx *types.Transaction) *big.Int {
	cost := new(big.Int)
	if tx.Value() != nil {
		cost.Set(tx.Value())
	}
	gasPrice := tx.GasFeeCap()
	if gasPrice == nil {
		gasPrice = tx.GasPrice()
	}
	if gasPrice != nil {
		cost.Add(cost, new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(tx.Gas())))
	}
	if blobFeeCap := tx.BlobGasFeeCap(); blobFeeCap != nil {
		cost.Add(cost, new(big.Int).Mul(blobFeeCap, new(big.Int).SetUint64(tx.BlobGas())))
	}
	return cost
}
