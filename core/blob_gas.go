package core

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/eth2030/evmcore/core/types"
)

// EIP-4844 blob transaction constants.
const (
	// GasPerBlob is the gas consumed by each blob (2^17).
	GasPerBlob = 131072

	// MaxBlobsPerBlock is the maximum number of blobs per block.
	MaxBlobsPerBlock = 6

	// MaxBlobGasPerBlock is the maximum blob gas allowed in a single block.
	MaxBlobGasPerBlock = MaxBlobsPerBlock * GasPerBlob

	// TargetBlobGasPerBlock is the target blob gas per block for the blob
	// base fee adjustment mechanism.
	TargetBlobGasPerBlock = 3 * GasPerBlob

	// BlobTxHashVersion is the required first byte of each versioned blob hash.
	BlobTxHashVersion = 0x01

	// MinBlobBaseFee is the floor of the blob base fee.
	MinBlobBaseFee = 1

	// BlobBaseFeeUpdateFraction controls the blob base fee price elasticity.
	BlobBaseFeeUpdateFraction = 3338477
)

var (
	ErrBlobTxNoBlobHashes       = errors.New("blob transaction must have at least one blob hash")
	ErrBlobTxTooManyBlobs       = errors.New("blob transaction exceeds maximum blobs per block")
	ErrBlobTxInvalidHashVersion = errors.New("blob hash has invalid version byte")
	ErrBlobTxCreate             = errors.New("blob transaction must not be contract creation")
	ErrBlobGasUsedNil           = errors.New("post-Cancun block missing blobGasUsed")
	ErrExcessBlobGasNil         = errors.New("post-Cancun block missing excessBlobGas")
	ErrExcessBlobGasMismatch    = errors.New("block excess blob gas does not match calculated value")
	ErrBlobGasUsedExceeded      = errors.New("block blob gas used exceeds maximum")
)

// CalcExcessBlobGas computes the excess blob gas for a block given the
// parent's excess blob gas and blob gas used, per EIP-4844.
func CalcExcessBlobGas(parentExcessBlobGas, parentBlobGasUsed uint64) uint64 {
	sum := parentExcessBlobGas + parentBlobGasUsed
	if sum < TargetBlobGasPerBlock {
		return 0
	}
	return sum - TargetBlobGasPerBlock
}

// CalcBlobBaseFee computes the blob base fee from the excess blob gas:
// MIN_BLOB_BASE_FEE * e^(excess / BLOB_BASE_FEE_UPDATE_FRACTION), using the
// fake exponential approximation from the EIP.
func CalcBlobBaseFee(excessBlobGas uint64) *big.Int {
	return fakeExponential(
		big.NewInt(MinBlobBaseFee),
		new(big.Int).SetUint64(excessBlobGas),
		big.NewInt(BlobBaseFeeUpdateFraction),
	)
}

// fakeExponential approximates factor * e^(numerator / denominator) by
// Taylor expansion.
func fakeExponential(factor, numerator, denominator *big.Int) *big.Int {
	i := big.NewInt(1)
	output := new(big.Int)
	accum := new(big.Int).Mul(factor, denominator)
	for accum.Sign() > 0 {
		output.Add(output, accum)
		accum.Mul(accum, numerator)
		accum.Div(accum, new(big.Int).Mul(denominator, i))
		i.Add(i, big.NewInt(1))
	}
	return output.Div(output, denominator)
}

// CountBlobGas returns the total blob gas consumed by a transaction.
// Non-blob transactions return 0.
func CountBlobGas(tx *types.Transaction) uint64 {
	return GasPerBlob * uint64(len(tx.BlobHashes()))
}

// ValidateBlobTx validates an EIP-4844 blob transaction against protocol
// rules: at least one blob and at most MaxBlobsPerBlock, each versioned hash
// starts with the KZG version byte, and the blob fee cap covers the current
// blob base fee. It does not check for contract creation; ValidateTransaction
// rejects a blob transaction without a recipient.
func ValidateBlobTx(tx *types.Transaction, excessBlobGas uint64) error {
	hashes := tx.BlobHashes()
	if len(hashes) == 0 {
		return ErrBlobTxNoBlobHashes
	}
	if len(hashes) > MaxBlobsPerBlock {
		return fmt.Errorf("%w: have %d, max %d", ErrBlobTxTooManyBlobs, len(hashes), MaxBlobsPerBlock)
	}
	for i, h := range hashes {
		if h[0] != BlobTxHashVersion {
			return fmt.Errorf("%w: hash %d has version 0x%02x, want 0x%02x",
				ErrBlobTxInvalidHashVersion, i, h[0], BlobTxHashVersion)
		}
	}

	blobBaseFee := CalcBlobBaseFee(excessBlobGas)
	if cap := tx.BlobGasFeeCap(); cap == nil || cap.Cmp(blobBaseFee) < 0 {
		return fmt.Errorf("%w: have %v, want at least %v", ErrBlobFeeCapTooLow, cap, blobBaseFee)
	}
	return nil
}

// ValidateBlockBlobGas validates blob gas fields in a post-Cancun block
// header: both fields present, blob gas used within the cap, and excess blob
// gas derived correctly from the parent.
func ValidateBlockBlobGas(header, parent *types.Header) error {
	if header.BlobGasUsed == nil {
		return ErrBlobGasUsedNil
	}
	if *header.BlobGasUsed > MaxBlobGasPerBlock {
		return fmt.Errorf("%w: have %d, max %d", ErrBlobGasUsedExceeded, *header.BlobGasUsed, MaxBlobGasPerBlock)
	}
	if header.ExcessBlobGas == nil {
		return ErrExcessBlobGasNil
	}

	var parentExcess, parentUsed uint64
	if parent.ExcessBlobGas != nil {
		parentExcess = *parent.ExcessBlobGas
	}
	if parent.BlobGasUsed != nil {
		parentUsed = *parent.BlobGasUsed
	}
	if expected := CalcExcessBlobGas(parentExcess, parentUsed); *header.ExcessBlobGas != expected {
		return fmt.Errorf("%w: have %d, want %d", ErrExcessBlobGasMismatch, *header.ExcessBlobGas, expected)
	}
	return nil
}
