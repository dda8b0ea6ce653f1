package core

import (
	"math/big"
	"testing"

	"github.com/eth2030/evmcore/core/types"
)

func feeParent(gasUsed uint64, baseFee int64) *types.Header {
	return &types.Header{
		Number:   big.NewInt(1),
		GasLimit: 20_000_000,
		GasUsed:  gasUsed,
		BaseFee:  big.NewInt(baseFee),
	}
}

func TestCalcBaseFeeAtTarget(t *testing.T) {
	// Gas used exactly at target: base fee unchanged.
	got := CalcBaseFee(feeParent(10_000_000, 1_000_000_000))
	if got.Int64() != 1_000_000_000 {
		t.Errorf("base fee = %v, want unchanged", got)
	}
}

func TestCalcBaseFeeFullBlock(t *testing.T) {
	// A full block raises the base fee by 12.5%.
	got := CalcBaseFee(feeParent(20_000_000, 1_000_000_000))
	if got.Int64() != 1_125_000_000 {
		t.Errorf("base fee = %v, want 1.125 gwei", got)
	}
}

func TestCalcBaseFeeEmptyBlock(t *testing.T) {
	// An empty block lowers the base fee by 12.5%.
	got := CalcBaseFee(feeParent(0, 1_000_000_000))
	if got.Int64() != 875_000_000 {
		t.Errorf("base fee = %v, want 0.875 gwei", got)
	}
}

func TestCalcBaseFeeMinimumIncrease(t *testing.T) {
	// Tiny overshoot still moves the fee by at least 1 wei.
	got := CalcBaseFee(feeParent(10_000_001, 10))
	if got.Int64() != 11 {
		t.Errorf("base fee = %v, want 11", got)
	}
}

func TestEffectiveGasPrice(t *testing.T) {
	baseFee := big.NewInt(100)

	legacy := types.NewTransaction(&types.LegacyTx{GasPrice: big.NewInt(150), Gas: 21000})
	if got := EffectiveGasPrice(legacy, baseFee); got.Int64() != 150 {
		t.Errorf("legacy effective price = %v", got)
	}

	dyn := types.NewTransaction(&types.DynamicFeeTx{
		ChainID: big.NewInt(1), GasTipCap: big.NewInt(10),
		GasFeeCap: big.NewInt(105), Gas: 21000,
	})
	// min(105, 100+10) = 105
	if got := EffectiveGasPrice(dyn, baseFee); got.Int64() != 105 {
		t.Errorf("capped effective price = %v", got)
	}

	dyn2 := types.NewTransaction(&types.DynamicFeeTx{
		ChainID: big.NewInt(1), GasTipCap: big.NewInt(2),
		GasFeeCap: big.NewInt(1000), Gas: 21000,
	})
	// min(1000, 100+2) = 102
	if got := EffectiveGasPrice(dyn2, baseFee); got.Int64() != 102 {
		t.Errorf("tip-bound effective price = %v", got)
	}
}

func TestCalcExcessBlobGas(t *testing.T) {
	if got := CalcExcessBlobGas(0, 0); got != 0 {
		t.Errorf("excess(0,0) = %d", got)
	}
	if got := CalcExcessBlobGas(0, TargetBlobGasPerBlock); got != 0 {
		t.Errorf("excess at target = %d", got)
	}
	if got := CalcExcessBlobGas(TargetBlobGasPerBlock, TargetBlobGasPerBlock); got != TargetBlobGasPerBlock {
		t.Errorf("excess carries = %d", got)
	}
	if got := CalcExcessBlobGas(0, MaxBlobGasPerBlock); got != MaxBlobGasPerBlock-TargetBlobGasPerBlock {
		t.Errorf("excess above target = %d", got)
	}
}

func TestCalcBlobBaseFeeFloor(t *testing.T) {
	if got := CalcBlobBaseFee(0); got.Int64() != 1 {
		t.Errorf("blob base fee at zero excess = %v, want 1", got)
	}
	// Base fee is monotonic in the excess.
	low := CalcBlobBaseFee(TargetBlobGasPerBlock)
	high := CalcBlobBaseFee(10 * MaxBlobGasPerBlock)
	if high.Cmp(low) < 0 {
		t.Errorf("blob base fee not monotonic: %v < %v", high, low)
	}
}

func TestValidateBlobTxVersionByte(t *testing.T) {
	bad := types.Hash{}
	bad[0] = 0x02
	tx := types.NewTransaction(&types.BlobTx{
		ChainID: big.NewInt(1), Gas: 21000,
		To:         types.HexToAddress("0xaa"),
		BlobFeeCap: big.NewInt(1),
		BlobHashes: []types.Hash{bad},
	})
	if err := ValidateBlobTx(tx, 0); err == nil {
		t.Error("expected version byte error")
	}
}

func TestValidateBlobTxNoBlobs(t *testing.T) {
	tx := types.NewTransaction(&types.BlobTx{
		ChainID: big.NewInt(1), Gas: 21000,
		To:         types.HexToAddress("0xaa"),
		BlobFeeCap: big.NewInt(1),
	})
	if err := ValidateBlobTx(tx, 0); err != ErrBlobTxNoBlobHashes {
		t.Errorf("err = %v", err)
	}
}
