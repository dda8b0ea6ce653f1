package core

import (
	"errors"
	"math/big"
	"testing"

	"github.com/eth2030/evmcore/core/types"
)

func validParent() *types.Header {
	zero := uint64(0)
	wh := types.EmptyRootHash
	return &types.Header{
		Number:           big.NewInt(10),
		GasLimit:         30_000_000,
		GasUsed:          0,
		Time:             1000,
		BaseFee:          gwei(1),
		WithdrawalsHash:  &wh,
		BlobGasUsed:      &zero,
		ExcessBlobGas:    &zero,
		ParentBeaconRoot: &types.Hash{},
	}
}

func childOf(parent *types.Header) *types.Header {
	zero := uint64(0)
	wh := types.EmptyRootHash
	pbr := types.HexToHash("0x22")
	return &types.Header{
		ParentHash:       parent.Hash(),
		Number:           new(big.Int).Add(parent.Number, big.NewInt(1)),
		GasLimit:         parent.GasLimit,
		GasUsed:          0,
		Time:             parent.Time + 12,
		BaseFee:          CalcBaseFee(parent),
		WithdrawalsHash:  &wh,
		BlobGasUsed:      &zero,
		ExcessBlobGas:    &zero,
		ParentBeaconRoot: &pbr,
	}
}

func TestValidateHeaderOK(t *testing.T) {
	parent := validParent()
	child := childOf(parent)
	if err := NewBlockValidator(TestConfig).ValidateHeader(child, parent); err != nil {
		t.Errorf("valid header rejected: %v", err)
	}
}

func TestValidateHeaderWrongNumber(t *testing.T) {
	parent := validParent()
	child := childOf(parent)
	child.Number = big.NewInt(99)
	if err := NewBlockValidator(TestConfig).ValidateHeader(child, parent); !errors.Is(err, ErrInvalidNumber) {
		t.Errorf("err = %v, want ErrInvalidNumber", err)
	}
}

func TestValidateHeaderTimestampNotIncreasing(t *testing.T) {
	parent := validParent()
	child := childOf(parent)
	child.Time = parent.Time
	if err := NewBlockValidator(TestConfig).ValidateHeader(child, parent); !errors.Is(err, ErrInvalidTimestamp) {
		t.Errorf("err = %v, want ErrInvalidTimestamp", err)
	}
}

func TestValidateHeaderGasLimitJump(t *testing.T) {
	parent := validParent()
	child := childOf(parent)
	// More than 1/1024 change is rejected.
	child.GasLimit = parent.GasLimit + parent.GasLimit/1024 + 1
	if err := NewBlockValidator(TestConfig).ValidateHeader(child, parent); !errors.Is(err, ErrInvalidGasLimit) {
		t.Errorf("err = %v, want ErrInvalidGasLimit", err)
	}
}

func TestValidateHeaderBaseFee(t *testing.T) {
	parent := validParent()
	child := childOf(parent)
	child.BaseFee = new(big.Int).Add(child.BaseFee, big.NewInt(1))
	if err := NewBlockValidator(TestConfig).ValidateHeader(child, parent); !errors.Is(err, ErrInvalidBaseFee) {
		t.Errorf("err = %v, want ErrInvalidBaseFee", err)
	}
}

func TestValidateHeaderMissingCancunFields(t *testing.T) {
	parent := validParent()
	child := childOf(parent)
	child.BlobGasUsed = nil
	if err := NewBlockValidator(TestConfig).ValidateHeader(child, parent); err == nil {
		t.Error("missing blobGasUsed accepted")
	}

	child = childOf(parent)
	child.ParentBeaconRoot = nil
	if err := NewBlockValidator(TestConfig).ValidateHeader(child, parent); !errors.Is(err, ErrMissingForkField) {
		t.Errorf("err = %v, want ErrMissingForkField", err)
	}
}

func TestValidateHeaderCancunFieldsBeforeFork(t *testing.T) {
	// A config where cancun is far in the future.
	future := uint64(1 << 60)
	config := &ChainConfig{
		ChainID:      big.NewInt(1337),
		ShanghaiTime: newUint64(0),
		CancunTime:   &future,
	}
	parent := validParent()
	child := childOf(parent)
	if err := NewBlockValidator(config).ValidateHeader(child, parent); !errors.Is(err, ErrUnexpectedForkField) {
		t.Errorf("err = %v, want ErrUnexpectedForkField", err)
	}
}

func TestValidateHeaderExcessBlobGasDerivation(t *testing.T) {
	parent := validParent()
	used := uint64(MaxBlobGasPerBlock)
	parent.BlobGasUsed = &used
	excess := uint64(0)
	parent.ExcessBlobGas = &excess

	child := childOf(parent)
	// Wrong derivation: child claims zero excess.
	if err := NewBlockValidator(TestConfig).ValidateHeader(child, parent); !errors.Is(err, ErrExcessBlobGasMismatch) {
		t.Errorf("err = %v, want ErrExcessBlobGasMismatch", err)
	}
	// Correct derivation passes.
	correct := CalcExcessBlobGas(0, used)
	child.ExcessBlobGas = &correct
	if err := NewBlockValidator(TestConfig).ValidateHeader(child, parent); err != nil {
		t.Errorf("correct excess rejected: %v", err)
	}
}

func TestValidateBodyTxRoot(t *testing.T) {
	parent := validParent()
	header := childOf(parent)
	tx := types.NewTransaction(&types.LegacyTx{
		Nonce: 0, GasPrice: gwei(1), Gas: 21000, To: &receiverAddr, Value: big.NewInt(0),
		V: big.NewInt(27), R: big.NewInt(1), S: big.NewInt(1),
	})
	header.TxHash = DeriveTxsRoot([]*types.Transaction{tx})
	wRoot := DeriveWithdrawalsRoot(nil)
	header.WithdrawalsHash = &wRoot

	block := types.NewBlock(header, &types.Body{
		Transactions: []*types.Transaction{tx},
		Withdrawals:  []*types.Withdrawal{},
	})
	if err := NewBlockValidator(TestConfig).ValidateBody(block); err != nil {
		t.Errorf("valid body rejected: %v", err)
	}

	// A tampered tx list no longer matches the header's root.
	block2 := types.NewBlock(header, &types.Body{
		Transactions: nil,
		Withdrawals:  []*types.Withdrawal{},
	})
	if err := NewBlockValidator(TestConfig).ValidateBody(block2); err == nil {
		t.Error("tx root mismatch accepted")
	}
}

func TestValidateBodyBlobCap(t *testing.T) {
	parent := validParent()
	header := childOf(parent)

	hashes := make([]types.Hash, 7)
	for i := range hashes {
		hashes[i][0] = 0x01
	}
	tx := types.NewTransaction(&types.BlobTx{
		ChainID: big.NewInt(1337), GasFeeCap: gwei(1), GasTipCap: gwei(1),
		Gas: 21000, To: receiverAddr, Value: big.NewInt(0),
		BlobFeeCap: big.NewInt(1), BlobHashes: hashes,
		V: big.NewInt(0), R: big.NewInt(1), S: big.NewInt(1),
	})
	header.TxHash = DeriveTxsRoot([]*types.Transaction{tx})
	wRoot := DeriveWithdrawalsRoot(nil)
	header.WithdrawalsHash = &wRoot

	block := types.NewBlock(header, &types.Body{
		Transactions: []*types.Transaction{tx},
		Withdrawals:  []*types.Withdrawal{},
	})
	if err := NewBlockValidator(TestConfig).ValidateBody(block); !errors.Is(err, ErrTooManyBlobs) {
		t.Errorf("err = %v, want ErrTooManyBlobs", err)
	}
}
