package core

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/eth2030/evmcore/core/types"
)

// Header validation errors.
var (
	ErrUnknownParent      = errors.New("unknown parent")
	ErrInvalidNumber      = errors.New("invalid block number")
	ErrInvalidGasLimit    = errors.New("invalid gas limit")
	ErrInvalidGasUsed     = errors.New("gas used exceeds gas limit")
	ErrInvalidTimestamp   = errors.New("timestamp not greater than parent")
	ErrExtraDataTooLong   = errors.New("extra data too long")
	ErrInvalidBaseFee     = errors.New("invalid base fee")
	ErrInvalidDifficulty  = errors.New("invalid difficulty for post-merge block")
	ErrInvalidUncleHash   = errors.New("invalid uncle hash for post-merge block")
	ErrInvalidNonce       = errors.New("invalid nonce for post-merge block")
	ErrUnexpectedForkField = errors.New("header field present before its fork")
	ErrMissingForkField    = errors.New("header field missing for active fork")
)

const (
	// MaxExtraDataSize is the maximum allowed extra data in a block header.
	MaxExtraDataSize = 32

	// GasLimitBoundDivisor bounds the gas limit change per block to 1/1024.
	GasLimitBoundDivisor uint64 = 1024

	// MinGasLimit is the minimum gas limit.
	MinGasLimit uint64 = 5000

	// MaxGasLimit is the maximum gas limit (2^63 - 1).
	MaxGasLimit uint64 = 1<<63 - 1
)

// BlockValidator validates block headers and bodies against consensus rules.
type BlockValidator struct {
	config *ChainConfig
}

// NewBlockValidator creates a new block validator.
func NewBlockValidator(config *ChainConfig) *BlockValidator {
	return &BlockValidator{config: config}
}

// ValidateHeader checks whether a header conforms to the consensus rules
// given its parent.
func (v *BlockValidator) ValidateHeader(header, parent *types.Header) error {
	if header.ParentHash != parent.Hash() {
		return fmt.Errorf("%w: want %v, got %v", ErrUnknownParent, parent.Hash(), header.ParentHash)
	}
	if len(header.Extra) > MaxExtraDataSize {
		return fmt.Errorf("%w: %d > %d", ErrExtraDataTooLong, len(header.Extra), MaxExtraDataSize)
	}
	if header.Time <= parent.Time {
		return fmt.Errorf("%w: child %d <= parent %d", ErrInvalidTimestamp, header.Time, parent.Time)
	}
	expected := new(big.Int).Add(parent.Number, big.NewInt(1))
	if header.Number == nil || header.Number.Cmp(expected) != 0 {
		return fmt.Errorf("%w: want %v, got %v", ErrInvalidNumber, expected, header.Number)
	}
	if err := verifyGasLimit(parent.GasLimit, header.GasLimit); err != nil {
		return err
	}
	if header.GasUsed > header.GasLimit {
		return fmt.Errorf("%w: %d > %d", ErrInvalidGasUsed, header.GasUsed, header.GasLimit)
	}
	if err := verifyPostMerge(header); err != nil {
		return err
	}

	// EIP-1559: base fee must follow from the parent.
	if header.BaseFee == nil {
		return ErrInvalidBaseFee
	}
	if expectedBaseFee := CalcBaseFee(parent); header.BaseFee.Cmp(expectedBaseFee) != 0 {
		return fmt.Errorf("%w: want %v, got %v", ErrInvalidBaseFee, expectedBaseFee, header.BaseFee)
	}

	// Shanghai: withdrawals hash appears with the fork and not before.
	isShanghai := v.config != nil && v.config.IsShanghai(header.Time)
	if isShanghai && header.WithdrawalsHash == nil {
		return fmt.Errorf("%w: withdrawalsHash", ErrMissingForkField)
	}
	if !isShanghai && header.WithdrawalsHash != nil {
		return fmt.Errorf("%w: withdrawalsHash", ErrUnexpectedForkField)
	}

	// Cancun: blob gas fields and the parent beacon root appear together.
	isCancun := v.config != nil && v.config.IsCancun(header.Time)
	if isCancun {
		if header.ParentBeaconRoot == nil {
			return fmt.Errorf("%w: parentBeaconBlockRoot", ErrMissingForkField)
		}
		if err := ValidateBlockBlobGas(header, parent); err != nil {
			return err
		}
	} else {
		if header.BlobGasUsed != nil || header.ExcessBlobGas != nil || header.ParentBeaconRoot != nil {
			return fmt.Errorf("%w: cancun fields", ErrUnexpectedForkField)
		}
	}

	return nil
}

// ValidateBody checks the block body against the header: uncle emptiness,
// derived transaction and withdrawal roots, and per-body blob limits.
func (v *BlockValidator) ValidateBody(block *types.Block) error {
	header := block.Header()

	// Post-merge: no uncles.
	if len(block.Uncles()) > 0 {
		return ErrInvalidUncleHash
	}

	if txRoot := DeriveTxsRoot(block.Transactions()); txRoot != header.TxHash {
		return fmt.Errorf("%w: transactions root: want %v, got %v", ErrInvalidBlock, header.TxHash, txRoot)
	}

	if v.config != nil && v.config.IsShanghai(header.Time) {
		if block.Withdrawals() == nil {
			return fmt.Errorf("%w: withdrawals", ErrMissingForkField)
		}
		if err := types.ValidateWithdrawals(block.Withdrawals()); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidBlock, err)
		}
		if header.WithdrawalsHash != nil {
			if wRoot := DeriveWithdrawalsRoot(block.Withdrawals()); wRoot != *header.WithdrawalsHash {
				return fmt.Errorf("%w: withdrawals root: want %v, got %v", ErrInvalidBlock, *header.WithdrawalsHash, wRoot)
			}
		}
	}

	// EIP-4844: blob count and header consistency.
	if v.config != nil && v.config.IsCancun(header.Time) {
		var totalBlobGas uint64
		for _, tx := range block.Transactions() {
			totalBlobGas += CountBlobGas(tx)
		}
		if totalBlobGas > MaxBlobGasPerBlock {
			return fmt.Errorf("%w: %d > %d", ErrTooManyBlobs, totalBlobGas/GasPerBlob, MaxBlobsPerBlock)
		}
		if header.BlobGasUsed != nil && *header.BlobGasUsed != totalBlobGas {
			return fmt.Errorf("%w: header %d, computed %d", ErrBlobGasUsedMismatch, *header.BlobGasUsed, totalBlobGas)
		}
	}

	return nil
}

// verifyGasLimit checks that the gas limit change is within bounds.
func verifyGasLimit(parentGasLimit, headerGasLimit uint64) error {
	if headerGasLimit < MinGasLimit {
		return fmt.Errorf("%w: %d < minimum %d", ErrInvalidGasLimit, headerGasLimit, MinGasLimit)
	}
	if headerGasLimit > MaxGasLimit {
		return fmt.Errorf("%w: %d > maximum %d", ErrInvalidGasLimit, headerGasLimit, MaxGasLimit)
	}

	var diff uint64
	if headerGasLimit < parentGasLimit {
		diff = parentGasLimit - headerGasLimit
	} else {
		diff = headerGasLimit - parentGasLimit
	}
	limit := parentGasLimit / GasLimitBoundDivisor
	if diff >= limit {
		return fmt.Errorf("%w: change %d exceeds limit %d", ErrInvalidGasLimit, diff, limit)
	}
	return nil
}

// verifyPostMerge checks that post-merge consensus fields are correct.
func verifyPostMerge(header *types.Header) error {
	if header.Difficulty != nil && header.Difficulty.Sign() != 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidDifficulty, header.Difficulty)
	}
	if header.Nonce != (types.BlockNonce{}) {
		return fmt.Errorf("%w: got %v", ErrInvalidNonce, header.Nonce)
	}
	if header.UncleHash != (types.Hash{}) && header.UncleHash != types.EmptyUncleHash {
		return fmt.Errorf("%w: got %v", ErrInvalidUncleHash, header.UncleHash)
	}
	return nil
}
