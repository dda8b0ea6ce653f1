package types

import (
	"errors"
	"fmt"

	"github.com/eth2030/evmcore/rlp"
)

// EIP-4895 beacon chain withdrawal helpers. The Withdrawal struct itself is
// defined in block.go.

var (
	errNilWithdrawal       = errors.New("withdrawal is nil")
	errDuplicateWithdrawal = errors.New("duplicate withdrawal index")
)

// withdrawalRLP is the RLP encoding layout for a Withdrawal:
// [index, validatorIndex, address, amount]
type withdrawalRLP struct {
	Index          uint64
	ValidatorIndex uint64
	Address        Address
	Amount         uint64
}

// EncodeWithdrawal RLP-encodes a withdrawal to bytes.
func EncodeWithdrawal(w *Withdrawal) []byte {
	enc := withdrawalRLP{
		Index:          w.Index,
		ValidatorIndex: w.ValidatorIndex,
		Address:        w.Address,
		Amount:         w.Amount,
	}
	data, err := rlp.EncodeToBytes(enc)
	if err != nil {
		return nil
	}
	return data
}

// DecodeWithdrawal decodes a withdrawal from RLP-encoded bytes.
func DecodeWithdrawal(data []byte) (*Withdrawal, error) {
	var dec withdrawalRLP
	if err := rlp.DecodeBytes(data, &dec); err != nil {
		return nil, fmt.Errorf("decode withdrawal: %w", err)
	}
	return &Withdrawal{
		Index:          dec.Index,
		ValidatorIndex: dec.ValidatorIndex,
		Address:        dec.Address,
		Amount:         dec.Amount,
	}, nil
}

// ValidateWithdrawals checks a withdrawal list for nil entries and duplicate
// indices.
func ValidateWithdrawals(withdrawals []*Withdrawal) error {
	seen := make(map[uint64]bool, len(withdrawals))
	for _, w := range withdrawals {
		if w == nil {
			return errNilWithdrawal
		}
		if seen[w.Index] {
			return fmt.Errorf("%w: %d", errDuplicateWithdrawal, w.Index)
		}
		seen[w.Index] = true
	}
	return nil
}
