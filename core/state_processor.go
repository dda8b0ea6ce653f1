package core

import (
	"fmt"
	"math/big"

	"github.com/eth2030/evmcore/core/state"
	"github.com/eth2030/evmcore/core/types"
	"github.com/eth2030/evmcore/core/vm"
)

// Intrinsic gas constants.
const (
	// TxGas is the base gas cost of a transaction (21000).
	TxGas uint64 = 21000
	// TxDataZeroGas is the gas cost per zero byte of transaction data.
	TxDataZeroGas uint64 = 4
	// TxDataNonZeroGas is the gas cost per non-zero byte of transaction data.
	TxDataNonZeroGas uint64 = 16
	// TxCreateGas is the extra gas for contract creation transactions.
	TxCreateGas uint64 = 32000
	// TxAccessListAddressGas is the gas per access list address (EIP-2930).
	TxAccessListAddressGas uint64 = 2400
	// TxAccessListStorageKeyGas is the gas per access list storage key.
	TxAccessListStorageKeyGas uint64 = 1900

	// GweiToWei converts withdrawal amounts (denominated in Gwei) to Wei.
	GweiToWei uint64 = 1_000_000_000
)

// ProcessResult holds the output of block processing.
type ProcessResult struct {
	Receipts    []*types.Receipt
	Logs        []*types.Log
	GasUsed     uint64
	BlobGasUsed uint64
}

// StateProcessor drives the EVM over a block's transactions sequentially,
// producing receipts and the per-block gas accounting.
type StateProcessor struct {
	config  *ChainConfig
	getHash vm.GetHashFunc
}

// NewStateProcessor creates a new state processor.
func NewStateProcessor(config *ChainConfig) *StateProcessor {
	return &StateProcessor{config: config}
}

// SetGetHash sets the block hash lookup function for the BLOCKHASH opcode.
func (p *StateProcessor) SetGetHash(fn vm.GetHashFunc) {
	p.getHash = fn
}

// Process executes all transactions in the block in order and returns the
// receipts with cumulative gas. Any transaction-level failure aborts the
// whole block; the caller discards the state.
func (p *StateProcessor) Process(block *types.Block, statedb state.StateDB) (*ProcessResult, error) {
	header := block.Header()
	gasPool := new(GasPool).AddGas(header.GasLimit)
	isCancun := p.config != nil && p.config.IsCancun(header.Time)

	// EIP-4788: store the parent beacon block root before user transactions.
	if isCancun {
		ProcessBeaconBlockRoot(p.config, statedb, header, p.getHash)
	}

	var (
		receipts    []*types.Receipt
		allLogs     []*types.Log
		cumGas      uint64
		cumBlobGas  uint64
	)

	for i, tx := range block.Transactions() {
		if err := p.recoverSender(tx); err != nil {
			return nil, fmt.Errorf("tx %d [%s]: %w", i, tx.Hash().Hex(), err)
		}

		// EIP-4844: validate blob constraints and the running blob gas cap.
		if tx.Type() == types.BlobTxType {
			if !isCancun {
				return nil, fmt.Errorf("tx %d: blob transaction before cancun", i)
			}
			var excess uint64
			if header.ExcessBlobGas != nil {
				excess = *header.ExcessBlobGas
			}
			if err := ValidateBlobTx(tx, excess); err != nil {
				return nil, fmt.Errorf("tx %d: %w", i, err)
			}
			cumBlobGas += tx.BlobGas()
			if cumBlobGas > MaxBlobGasPerBlock {
				return nil, fmt.Errorf("%w: %d blobs", ErrTooManyBlobs, cumBlobGas/GasPerBlob)
			}
		}

		statedb.SetTxContext(tx.Hash(), i)

		receipt, usedGas, err := p.applyTransaction(statedb, header, tx, gasPool)
		if err != nil {
			return nil, fmt.Errorf("tx %d [%s]: %w", i, tx.Hash().Hex(), err)
		}

		cumGas += usedGas
		receipt.CumulativeGasUsed = cumGas
		receipt.TransactionIndex = uint(i)
		receipt.BlockHash = block.Hash()
		receipt.BlockNumber = new(big.Int).Set(header.Number)
		for _, log := range receipt.Logs {
			log.BlockNumber = header.Number.Uint64()
			log.BlockHash = block.Hash()
		}
		allLogs = append(allLogs, receipt.Logs...)
		receipts = append(receipts, receipt)
	}

	// Assign global log indices across the block.
	var logIdx uint
	for _, r := range receipts {
		for _, l := range r.Logs {
			l.Index = logIdx
			logIdx++
		}
	}

	// EIP-4895: credit withdrawals after all transactions.
	if p.config != nil && p.config.IsShanghai(header.Time) {
		ProcessWithdrawals(statedb, block.Withdrawals())
		statedb.Finalise(true)
	}

	// EIP-4844: the header must account for exactly the blob gas consumed.
	if isCancun {
		if header.BlobGasUsed == nil {
			return nil, ErrBlobGasUsedNil
		}
		if *header.BlobGasUsed != cumBlobGas {
			return nil, fmt.Errorf("%w: header %d, computed %d", ErrBlobGasUsedMismatch, *header.BlobGasUsed, cumBlobGas)
		}
	}

	return &ProcessResult{
		Receipts:    receipts,
		Logs:        allLogs,
		GasUsed:     cumGas,
		BlobGasUsed: cumBlobGas,
	}, nil
}

// recoverSender fills in the transaction's sender from its signature unless a
// sender is already cached.
func (p *StateProcessor) recoverSender(tx *types.Transaction) error {
	if tx.Sender() != nil {
		return nil
	}
	var chainID uint64
	if p.config != nil && p.config.ChainID != nil {
		chainID = p.config.ChainID.Uint64()
	}
	from, err := types.LatestSigner(chainID).Sender(tx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSenderUnset, err)
	}
	tx.SetSender(from)
	return nil
}

// ApplyTransaction applies a single transaction to the state and returns its
// receipt. The receipt's CumulativeGasUsed holds only this transaction's gas;
// Process accumulates it across the block.
func (p *StateProcessor) ApplyTransaction(statedb state.StateDB, header *types.Header, tx *types.Transaction, gp *GasPool) (*types.Receipt, uint64, error) {
	if err := p.recoverSender(tx); err != nil {
		return nil, 0, err
	}
	statedb.SetTxContext(tx.Hash(), 0)
	return p.applyTransaction(statedb, header, tx, gp)
}

func (p *StateProcessor) applyTransaction(statedb state.StateDB, header *types.Header, tx *types.Transaction, gp *GasPool) (*types.Receipt, uint64, error) {
	msg := TransactionToMessage(tx)

	snapshot := statedb.Snapshot()

	result, err := p.applyMessage(statedb, header, &msg, gp)
	if err != nil {
		statedb.RevertToSnapshot(snapshot)
		return nil, 0, err
	}

	status := types.ReceiptStatusSuccessful
	if result.Failed() {
		status = types.ReceiptStatusFailed
	}

	receipt := types.NewReceipt(status, result.UsedGas)
	receipt.Type = tx.Type()
	receipt.TxHash = tx.Hash()
	receipt.GasUsed = result.UsedGas
	receipt.EffectiveGasPrice = EffectiveGasPrice(tx, header.BaseFee)
	if msg.To == nil {
		receipt.ContractAddress = result.ContractAddress
	}
	if blobGas := tx.BlobGas(); blobGas > 0 {
		receipt.BlobGasUsed = blobGas
		if header.ExcessBlobGas != nil {
			receipt.BlobGasPrice = CalcBlobBaseFee(*header.ExcessBlobGas)
		}
	}
	receipt.Logs = statedb.GetLogs(tx.Hash())
	receipt.Bloom = types.LogsBloom(receipt.Logs)

	// Seal the transaction: sweep empty touched accounts, clear transient
	// storage and the access list, and make the changes irrevocable.
	statedb.Finalise(true)

	return receipt, result.UsedGas, nil
}

// intrinsicGas computes the base gas cost of a transaction before EVM
// execution: base cost, calldata cost, creation surcharge, access list cost,
// and EIP-3860 init code word cost.
func intrinsicGas(data []byte, accessList types.AccessList, isCreate, isShanghai bool) uint64 {
	gas := TxGas
	if isCreate {
		gas += TxCreateGas
	}
	for _, b := range data {
		if b == 0 {
			gas += TxDataZeroGas
		} else {
			gas += TxDataNonZeroGas
		}
	}
	if isCreate && isShanghai {
		words := (uint64(len(data)) + 31) / 32
		gas += words * vm.InitCodeWordGas
	}
	for _, tuple := range accessList {
		gas += TxAccessListAddressGas
		gas += uint64(len(tuple.StorageKeys)) * TxAccessListStorageKeyGas
	}
	return gas
}

// applyMessage validates and executes a message against the state, handling
// gas purchase, intrinsic gas, access-list prewarming, refunds, and the
// coinbase payment. Validation failures are returned as errors and emit no
// receipt; EVM-level failures are reported inside the ExecutionResult.
func (p *StateProcessor) applyMessage(statedb state.StateDB, header *types.Header, msg *Message, gp *GasPool) (*ExecutionResult, error) {
	if err := gp.SubGas(msg.GasLimit); err != nil {
		return nil, err
	}

	// Nonce validation.
	stateNonce := statedb.GetNonce(msg.From)
	if msg.Nonce < stateNonce {
		gp.AddGas(msg.GasLimit)
		return nil, fmt.Errorf("%w: address %v, tx nonce %d, state nonce %d", ErrNonceTooLow, msg.From, msg.Nonce, stateNonce)
	}
	if msg.Nonce > stateNonce {
		gp.AddGas(msg.GasLimit)
		return nil, fmt.Errorf("%w: address %v, tx nonce %d, state nonce %d", ErrNonceTooHigh, msg.From, msg.Nonce, stateNonce)
	}

	// EIP-3607: only externally owned accounts may originate transactions.
	if codeHash := statedb.GetCodeHash(msg.From); codeHash != (types.Hash{}) && codeHash != types.EmptyCodeHash {
		gp.AddGas(msg.GasLimit)
		return nil, fmt.Errorf("%w: address %v, codehash %v", ErrSenderNotEOA, msg.From, codeHash)
	}

	// EIP-1559 fee cap validation for dynamic fee transactions.
	isDynamicFee := msg.TxType >= types.DynamicFeeTxType
	if isDynamicFee && msg.GasFeeCap != nil && msg.GasTipCap != nil {
		if msg.GasFeeCap.Cmp(msg.GasTipCap) < 0 {
			gp.AddGas(msg.GasLimit)
			return nil, fmt.Errorf("%w: tip %v, cap %v", ErrTipAboveFeeCap, msg.GasTipCap, msg.GasFeeCap)
		}
	}
	if header.BaseFee != nil && header.BaseFee.Sign() > 0 {
		feeCap := msg.GasFeeCap
		if feeCap == nil {
			feeCap = msg.GasPrice
		}
		if feeCap == nil || feeCap.Cmp(header.BaseFee) < 0 {
			gp.AddGas(msg.GasLimit)
			return nil, fmt.Errorf("%w: fee %v, baseFee %v", ErrFeeCapBelowBaseFee, feeCap, header.BaseFee)
		}
	}

	gasPrice := msgEffectiveGasPrice(msg, header.BaseFee)
	gasCost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(msg.GasLimit))

	// EIP-4844: the blob fee is charged at the block's blob base fee and
	// burned; the balance check uses the transaction's blob fee cap.
	blobGas := uint64(len(msg.BlobHashes)) * GasPerBlob
	blobCost := new(big.Int)
	maxBlobCost := new(big.Int)
	if blobGas > 0 && header.ExcessBlobGas != nil {
		blobBaseFee := CalcBlobBaseFee(*header.ExcessBlobGas)
		blobCost.Mul(blobBaseFee, new(big.Int).SetUint64(blobGas))
		if msg.BlobFeeCap != nil {
			maxBlobCost.Mul(msg.BlobFeeCap, new(big.Int).SetUint64(blobGas))
		}
	}

	// Balance check against the maximum possible cost.
	maxGasCost := gasCost
	if isDynamicFee && msg.GasFeeCap != nil {
		maxGasCost = new(big.Int).Mul(msg.GasFeeCap, new(big.Int).SetUint64(msg.GasLimit))
	}
	totalCost := new(big.Int).Add(msg.Value, maxGasCost)
	totalCost.Add(totalCost, maxBlobCost)
	if balance := statedb.GetBalance(msg.From); balance.Cmp(totalCost) < 0 {
		gp.AddGas(msg.GasLimit)
		return nil, fmt.Errorf("%w: address %v have %v want %v", ErrInsufficientFunds, msg.From, balance, totalCost)
	}

	// Intrinsic gas.
	isCreate := msg.To == nil
	isShanghai := p.config != nil && p.config.IsShanghai(header.Time)
	igas := intrinsicGas(msg.Data, msg.AccessList, isCreate, isShanghai)
	if igas > msg.GasLimit {
		gp.AddGas(msg.GasLimit)
		return nil, fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGasTooLow, msg.GasLimit, igas)
	}

	// Buy gas: execution gas up front at the effective price, blob gas at
	// the blob base fee.
	deduction := new(big.Int).Add(gasCost, blobCost)
	statedb.SubBalance(msg.From, deduction)

	// Increment the nonce here for calls; contract creation increments it
	// inside EVM.Create.
	if !isCreate {
		statedb.SetNonce(msg.From, msg.Nonce+1)
	}

	gasLeft := msg.GasLimit - igas

	// Assemble the EVM for this message.
	var blobBaseFee *big.Int
	if header.ExcessBlobGas != nil {
		blobBaseFee = CalcBlobBaseFee(*header.ExcessBlobGas)
	}
	blockCtx := vm.BlockContext{
		GetHash:     p.getHash,
		BlockNumber: header.Number,
		Time:        header.Time,
		Coinbase:    header.Coinbase,
		GasLimit:    header.GasLimit,
		BaseFee:     header.BaseFee,
		PrevRandao:  header.MixDigest,
		BlobBaseFee: blobBaseFee,
	}
	txCtx := vm.TxContext{
		Origin:     msg.From,
		GasPrice:   gasPrice,
		BlobHashes: msg.BlobHashes,
	}
	evm := vm.NewEVMWithState(blockCtx, txCtx, vm.Config{}, statedb)

	var rules vm.ForkRules
	if p.config != nil {
		rules = p.config.Rules(header.Time)
	}
	evm.SetForkRules(rules)
	evm.SetJumpTable(vm.SelectJumpTable(rules))
	precompiles := vm.SelectPrecompiles(rules)
	evm.SetPrecompiles(precompiles)
	if p.config != nil && p.config.ChainID != nil {
		evm.SetChainID(p.config.ChainID)
	}

	// EIP-2929/2930 prewarming: sender, recipient, precompiles, the access
	// list, and (from Shanghai, EIP-3651) the coinbase.
	statedb.AddAddressToAccessList(msg.From)
	if msg.To != nil {
		statedb.AddAddressToAccessList(*msg.To)
	}
	if isShanghai {
		statedb.AddAddressToAccessList(header.Coinbase)
	}
	for addr := range precompiles {
		statedb.AddAddressToAccessList(addr)
	}
	for _, tuple := range msg.AccessList {
		statedb.AddAddressToAccessList(tuple.Address)
		for _, key := range tuple.StorageKeys {
			statedb.AddSlotToAccessList(tuple.Address, key)
		}
	}

	var (
		execErr      error
		returnData   []byte
		gasRemaining uint64
		contractAddr types.Address
	)
	if isCreate {
		returnData, contractAddr, gasRemaining, execErr = evm.Create(msg.From, msg.Data, gasLeft, msg.Value)
	} else {
		returnData, gasRemaining, execErr = evm.Call(msg.From, *msg.To, msg.Data, gasLeft, msg.Value)
	}

	gasUsed := igas + (gasLeft - gasRemaining)

	// Refund, capped at gasUsed/5 (EIP-3529).
	refund := statedb.GetRefund()
	if maxRefund := gasUsed / vm.MaxRefundQuotient; refund > maxRefund {
		refund = maxRefund
	}
	gasUsed -= refund

	// Return unused gas to the sender and the pool.
	remainingGas := msg.GasLimit - gasUsed
	if remainingGas > 0 {
		refundAmount := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(remainingGas))
		statedb.AddBalance(msg.From, refundAmount)
	}
	gp.AddGas(remainingGas)

	// Pay the coinbase. Post-London only the priority fee flows to the block
	// producer; the base fee portion is burned.
	if header.BaseFee != nil && header.BaseFee.Sign() > 0 {
		tip := new(big.Int).Sub(gasPrice, header.BaseFee)
		if tip.Sign() > 0 {
			statedb.AddBalance(header.Coinbase, new(big.Int).Mul(tip, new(big.Int).SetUint64(gasUsed)))
		}
	} else {
		statedb.AddBalance(header.Coinbase, new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasUsed)))
	}

	return &ExecutionResult{
		UsedGas:         gasUsed,
		Err:             execErr,
		ReturnData:      returnData,
		ContractAddress: contractAddr,
	}, nil
}

// msgEffectiveGasPrice computes the actual gas price paid per EIP-1559.
func msgEffectiveGasPrice(msg *Message, baseFee *big.Int) *big.Int {
	if msg.TxType >= types.DynamicFeeTxType && msg.GasFeeCap != nil && baseFee != nil && baseFee.Sign() > 0 {
		tip := msg.GasTipCap
		if tip == nil {
			tip = new(big.Int)
		}
		effective := new(big.Int).Add(baseFee, tip)
		if effective.Cmp(msg.GasFeeCap) > 0 {
			effective = new(big.Int).Set(msg.GasFeeCap)
		}
		return effective
	}
	if msg.GasPrice != nil {
		return new(big.Int).Set(msg.GasPrice)
	}
	return new(big.Int)
}

// ProcessWithdrawals applies EIP-4895 beacon chain withdrawals: each
// withdrawal with a non-zero amount credits its address with amount Gwei.
// Withdrawals consume no gas and emit no receipts or logs.
func ProcessWithdrawals(statedb state.StateDB, withdrawals []*types.Withdrawal) {
	for _, w := range withdrawals {
		if w == nil || w.Amount == 0 {
			continue
		}
		amount := new(big.Int).SetUint64(w.Amount)
		amount.Mul(amount, new(big.Int).SetUint64(GweiToWei))
		statedb.AddBalance(w.Address, amount)
	}
}
