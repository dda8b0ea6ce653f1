package core

import "errors"

// Transaction rejection errors. A rejected transaction produces no receipt
// and invalidates the block that carries it.
var (
	ErrNonceTooLow         = errors.New("nonce too low")
	ErrNonceTooHigh        = errors.New("nonce too high")
	ErrInsufficientFunds   = errors.New("insufficient funds for gas * price + value")
	ErrGasLimitExceeded    = errors.New("transaction gas exceeds block gas limit")
	ErrIntrinsicGasTooLow  = errors.New("intrinsic gas too low")
	ErrSenderNotEOA        = errors.New("sender not an externally owned account")
	ErrSenderUnset         = errors.New("transaction sender not recoverable")
	ErrTipAboveFeeCap      = errors.New("max priority fee per gas higher than max fee per gas")
	ErrFeeCapBelowBaseFee  = errors.New("max fee per gas less than block base fee")
	ErrBlobFeeCapTooLow    = errors.New("max fee per blob gas less than blob base fee")
)

// Block rejection errors. A rejected block is discarded with no state applied.
var (
	ErrInvalidBlock          = errors.New("invalid block")
	ErrGasUsedMismatch       = errors.New("invalid block: gas used mismatch")
	ErrStateRootMismatch     = errors.New("invalid block: state root mismatch")
	ErrReceiptsRootMismatch  = errors.New("invalid block: receipts root mismatch")
	ErrBloomMismatch         = errors.New("invalid block: logs bloom mismatch")
	ErrBlobGasUsedMismatch   = errors.New("invalid block: blob gas used mismatch")
	ErrTooManyBlobs          = errors.New("invalid block: blob count exceeds maximum")
)
