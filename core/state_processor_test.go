package core

import (
	"encoding/binary"
	"errors"
	"math/big"
	"testing"

	"github.com/eth2030/evmcore/core/state"
	"github.com/eth2030/evmcore/core/types"
	"github.com/eth2030/evmcore/core/vm"
)

var (
	senderAddr   = types.HexToAddress("0x00000000000000000000000000000000000000a1")
	receiverAddr = types.HexToAddress("0x00000000000000000000000000000000000000b2")
	coinbaseAddr = types.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func oneEther() *big.Int {
	return new(big.Int).Mul(big.NewInt(1), new(big.Int).SetUint64(1e18))
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e9))
}

// testHeader returns a Cancun-era header suitable for Process.
func testHeader() *types.Header {
	zero := uint64(0)
	return &types.Header{
		Coinbase:      coinbaseAddr,
		Number:        big.NewInt(1),
		GasLimit:      30_000_000,
		Time:          1000,
		BaseFee:       gwei(1),
		BlobGasUsed:   &zero,
		ExcessBlobGas: new(uint64),
	}
}

func slotHash(v uint64) types.Hash {
	var h types.Hash
	binary.BigEndian.PutUint64(h[24:], v)
	return h
}

func TestPureTransfer(t *testing.T) {
	provider := state.NewMemoryProvider()
	provider.SetAccount(senderAddr, oneEther(), 0)
	statedb := state.NewJournaledState(provider)

	halfEther := new(big.Int).Div(oneEther(), big.NewInt(2))
	tx := types.NewTransaction(&types.LegacyTx{
		Nonce:    0,
		GasPrice: gwei(1),
		Gas:      21000,
		To:       &receiverAddr,
		Value:    halfEther,
	})
	tx.SetSender(senderAddr)

	header := testHeader()
	block := types.NewBlock(header, &types.Body{Transactions: []*types.Transaction{tx}})

	res, err := NewStateProcessor(TestConfig).Process(block, statedb)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Receipts) != 1 {
		t.Fatalf("receipts = %d", len(res.Receipts))
	}
	r := res.Receipts[0]
	if r.Status != types.ReceiptStatusSuccessful || r.GasUsed != 21000 || len(r.Logs) != 0 {
		t.Errorf("receipt: status %d gas %d logs %d", r.Status, r.GasUsed, len(r.Logs))
	}
	if r.CumulativeGasUsed != 21000 {
		t.Errorf("cumulative = %d", r.CumulativeGasUsed)
	}

	// A.balance = 1 ETH - 0.5 ETH - 21000 * 1 gwei
	wantSender := new(big.Int).Sub(oneEther(), halfEther)
	wantSender.Sub(wantSender, new(big.Int).Mul(big.NewInt(21000), gwei(1)))
	if got := statedb.GetBalance(senderAddr); got.Cmp(wantSender) != 0 {
		t.Errorf("sender balance = %v, want %v", got, wantSender)
	}
	if got := statedb.GetNonce(senderAddr); got != 1 {
		t.Errorf("sender nonce = %d", got)
	}
	if got := statedb.GetBalance(receiverAddr); got.Cmp(halfEther) != 0 {
		t.Errorf("receiver balance = %v", got)
	}
	// Base fee equals the gas price, so the coinbase earns no tip.
	if got := statedb.GetBalance(coinbaseAddr); got.Sign() != 0 {
		t.Errorf("coinbase balance = %v, want 0", got)
	}
}

func TestOutOfGasDuringSstore(t *testing.T) {
	contractAddr := types.HexToAddress("0x00000000000000000000000000000000000000cc")
	provider := state.NewMemoryProvider()
	provider.SetAccount(senderAddr, oneEther(), 0)
	provider.SetAccount(contractAddr, big.NewInt(0), 1)
	provider.SetCode(contractAddr, []byte{
		byte(vm.PUSH1), 0x01,
		byte(vm.PUSH1), 0x00,
		byte(vm.SSTORE),
		byte(vm.STOP),
	})
	statedb := state.NewJournaledState(provider)

	// Far below the 20000 needed for a zero-to-nonzero SSTORE.
	gasLimit := uint64(21000 + 2100 + 100)
	tx := types.NewTransaction(&types.LegacyTx{
		Nonce:    0,
		GasPrice: gwei(1),
		Gas:      gasLimit,
		To:       &contractAddr,
		Value:    big.NewInt(0),
	})
	tx.SetSender(senderAddr)

	header := testHeader()
	block := types.NewBlock(header, &types.Body{Transactions: []*types.Transaction{tx}})

	res, err := NewStateProcessor(TestConfig).Process(block, statedb)
	if err != nil {
		t.Fatal(err)
	}
	r := res.Receipts[0]
	if r.Status != types.ReceiptStatusFailed {
		t.Error("expected failed receipt")
	}
	if r.GasUsed != gasLimit {
		t.Errorf("gas used = %d, want the full limit %d", r.GasUsed, gasLimit)
	}
	if got := statedb.GetState(contractAddr, types.Hash{}); got != (types.Hash{}) {
		t.Errorf("storage mutated: %v", got)
	}
	if got := statedb.GetNonce(senderAddr); got != 1 {
		t.Errorf("sender nonce = %d, want 1", got)
	}
}

func TestRevertIsolation(t *testing.T) {
	contractAddr := types.HexToAddress("0x00000000000000000000000000000000000000dd")
	provider := state.NewMemoryProvider()
	provider.SetAccount(senderAddr, oneEther(), 0)
	provider.SetAccount(contractAddr, big.NewInt(0), 1)
	// SSTORE then REVERT: the write must not survive.
	provider.SetCode(contractAddr, []byte{
		byte(vm.PUSH1), 0x01,
		byte(vm.PUSH1), 0x00,
		byte(vm.SSTORE),
		byte(vm.PUSH1), 0,
		byte(vm.PUSH1), 0,
		byte(vm.REVERT),
	})
	statedb := state.NewJournaledState(provider)

	tx := types.NewTransaction(&types.LegacyTx{
		Nonce:    0,
		GasPrice: gwei(2),
		Gas:      100_000,
		To:       &contractAddr,
		Value:    big.NewInt(0),
	})
	tx.SetSender(senderAddr)

	header := testHeader()
	block := types.NewBlock(header, &types.Body{Transactions: []*types.Transaction{tx}})

	res, err := NewStateProcessor(TestConfig).Process(block, statedb)
	if err != nil {
		t.Fatal(err)
	}
	r := res.Receipts[0]
	if r.Status != types.ReceiptStatusFailed {
		t.Error("revert should fail the receipt")
	}
	// Revert refunds unused gas, so less than the limit is consumed.
	if r.GasUsed >= 100_000 || r.GasUsed < 21000 {
		t.Errorf("gas used = %d", r.GasUsed)
	}
	if got := statedb.GetState(contractAddr, types.Hash{}); got != (types.Hash{}) {
		t.Errorf("reverted storage persisted: %v", got)
	}
	if got := statedb.GetNonce(senderAddr); got != 1 {
		t.Errorf("sender nonce = %d", got)
	}

	// Only the sender (gas) and coinbase (tip) may have balance changes.
	diffs := statedb.TakeStateTransitions()
	for _, d := range diffs {
		if d.Address != senderAddr && d.Address != coinbaseAddr {
			t.Errorf("unexpected diff for %v", d.Address)
		}
		if len(d.Storage) != 0 || d.Code != nil {
			t.Errorf("reverted tx leaked storage/code changes at %v", d.Address)
		}
	}
}

func TestBlobTxOverCap(t *testing.T) {
	provider := state.NewMemoryProvider()
	provider.SetAccount(senderAddr, oneEther(), 0)
	other := types.HexToAddress("0x00000000000000000000000000000000000000a2")
	provider.SetAccount(other, oneEther(), 0)
	statedb := state.NewJournaledState(provider)

	blobHashes := func(n int) []types.Hash {
		out := make([]types.Hash, n)
		for i := range out {
			out[i][0] = 0x01
			out[i][1] = byte(i + 1)
		}
		return out
	}
	mkBlobTx := func(from types.Address, blobs int) *types.Transaction {
		tx := types.NewTransaction(&types.BlobTx{
			ChainID:    big.NewInt(1337),
			Nonce:      0,
			GasTipCap:  gwei(1),
			GasFeeCap:  gwei(2),
			Gas:        21000,
			To:         receiverAddr,
			Value:      big.NewInt(0),
			BlobFeeCap: big.NewInt(1),
			BlobHashes: blobHashes(blobs),
		})
		tx.SetSender(from)
		return tx
	}

	// 4 + 3 blobs exceed the 6-blob block cap.
	header := testHeader()
	block := types.NewBlock(header, &types.Body{
		Transactions: []*types.Transaction{mkBlobTx(senderAddr, 4), mkBlobTx(other, 3)},
	})

	_, err := NewStateProcessor(TestConfig).Process(block, statedb)
	if !errors.Is(err, ErrTooManyBlobs) {
		t.Errorf("err = %v, want ErrTooManyBlobs", err)
	}
}

func TestBeaconRootSystemCall(t *testing.T) {
	provider := state.NewMemoryProvider()
	statedb := state.NewJournaledState(provider)

	header := testHeader()
	beaconRoot := types.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	header.ParentBeaconRoot = &beaconRoot

	block := types.NewBlock(header, &types.Body{})
	if _, err := NewStateProcessor(TestConfig).Process(block, statedb); err != nil {
		t.Fatal(err)
	}

	timestampIdx := header.Time % 8191
	if got := statedb.GetState(BeaconRootAddress, slotHash(timestampIdx)); got != slotHash(header.Time) {
		t.Errorf("timestamp slot = %v, want %v", got, slotHash(header.Time))
	}
	if got := statedb.GetState(BeaconRootAddress, slotHash(timestampIdx+8191)); got != beaconRoot {
		t.Errorf("root slot = %v, want %v", got, beaconRoot)
	}

	// Neither the synthetic sender nor the coinbase may appear in the diff.
	for _, d := range statedb.TakeStateTransitions() {
		if d.Address == SystemAddress || d.Address == coinbaseAddr {
			t.Errorf("system-call artifact in diff: %v", d.Address)
		}
	}
}

func TestWithdrawalsCredit(t *testing.T) {
	target := types.HexToAddress("0x00000000000000000000000000000000000000aa")
	provider := state.NewMemoryProvider()
	provider.SetAccount(target, big.NewInt(12), 0)
	statedb := state.NewJournaledState(provider)

	header := testHeader()
	block := types.NewBlock(header, &types.Body{
		Withdrawals: []*types.Withdrawal{
			{Index: 0, ValidatorIndex: 7, Address: target, Amount: 1},
			{Index: 1, ValidatorIndex: 8, Address: receiverAddr, Amount: 0}, // no-op
		},
	})

	res, err := NewStateProcessor(TestConfig).Process(block, statedb)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Receipts) != 0 {
		t.Errorf("withdrawals must not produce receipts, got %d", len(res.Receipts))
	}
	want := new(big.Int).Add(big.NewInt(12), gwei(1))
	if got := statedb.GetBalance(target); got.Cmp(want) != 0 {
		t.Errorf("balance = %v, want %v", got, want)
	}
	// Zero-amount withdrawals leave no trace.
	if statedb.Exist(receiverAddr) {
		t.Error("zero-amount withdrawal materialized an account")
	}
}

func TestCumulativeGasMonotonic(t *testing.T) {
	provider := state.NewMemoryProvider()
	provider.SetAccount(senderAddr, oneEther(), 0)
	statedb := state.NewJournaledState(provider)

	mkTransfer := func(nonce uint64) *types.Transaction {
		tx := types.NewTransaction(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gwei(1),
			Gas:      21000,
			To:       &receiverAddr,
			Value:    big.NewInt(1),
		})
		tx.SetSender(senderAddr)
		return tx
	}

	header := testHeader()
	block := types.NewBlock(header, &types.Body{
		Transactions: []*types.Transaction{mkTransfer(0), mkTransfer(1), mkTransfer(2)},
	})

	res, err := NewStateProcessor(TestConfig).Process(block, statedb)
	if err != nil {
		t.Fatal(err)
	}
	var prev uint64
	var sum uint64
	for i, r := range res.Receipts {
		if r.CumulativeGasUsed <= prev {
			t.Errorf("receipt %d cumulative %d not strictly increasing", i, r.CumulativeGasUsed)
		}
		sum += r.GasUsed
		if r.CumulativeGasUsed != sum {
			t.Errorf("receipt %d cumulative %d != running sum %d", i, r.CumulativeGasUsed, sum)
		}
		prev = r.CumulativeGasUsed
	}
	if res.GasUsed != sum {
		t.Errorf("block gas %d != receipt sum %d", res.GasUsed, sum)
	}
}

func TestNonceMismatchRejectsBlock(t *testing.T) {
	provider := state.NewMemoryProvider()
	provider.SetAccount(senderAddr, oneEther(), 5)
	statedb := state.NewJournaledState(provider)

	tx := types.NewTransaction(&types.LegacyTx{
		Nonce:    3, // state nonce is 5
		GasPrice: gwei(1),
		Gas:      21000,
		To:       &receiverAddr,
		Value:    big.NewInt(0),
	})
	tx.SetSender(senderAddr)

	header := testHeader()
	block := types.NewBlock(header, &types.Body{Transactions: []*types.Transaction{tx}})

	_, err := NewStateProcessor(TestConfig).Process(block, statedb)
	if !errors.Is(err, ErrNonceTooLow) {
		t.Errorf("err = %v, want ErrNonceTooLow", err)
	}
}

func TestInsufficientFundsRejectsBlock(t *testing.T) {
	provider := state.NewMemoryProvider()
	provider.SetAccount(senderAddr, big.NewInt(1), 0)
	statedb := state.NewJournaledState(provider)

	tx := types.NewTransaction(&types.LegacyTx{
		Nonce:    0,
		GasPrice: gwei(1),
		Gas:      21000,
		To:       &receiverAddr,
		Value:    big.NewInt(0),
	})
	tx.SetSender(senderAddr)

	header := testHeader()
	block := types.NewBlock(header, &types.Body{Transactions: []*types.Transaction{tx}})

	_, err := NewStateProcessor(TestConfig).Process(block, statedb)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestRefundCappedAtFifth(t *testing.T) {
	contractAddr := types.HexToAddress("0x00000000000000000000000000000000000000ee")
	provider := state.NewMemoryProvider()
	provider.SetAccount(senderAddr, oneEther(), 0)
	provider.SetAccount(contractAddr, big.NewInt(0), 1)
	// Clear two pre-existing slots: their 2*4800 refund exceeds a fifth of the gas used.
	provider.SetStorage(contractAddr, types.Hash{}, types.BytesToHash([]byte{1}))
	provider.SetStorage(contractAddr, types.BytesToHash([]byte{1}), types.BytesToHash([]byte{1}))
	provider.SetCode(contractAddr, []byte{
		byte(vm.PUSH1), 0x00,
		byte(vm.PUSH1), 0x00,
		byte(vm.SSTORE),
		byte(vm.PUSH1), 0x00,
		byte(vm.PUSH1), 0x01,
		byte(vm.SSTORE),
		byte(vm.STOP),
	})
	statedb := state.NewJournaledState(provider)

	tx := types.NewTransaction(&types.LegacyTx{
		Nonce:    0,
		GasPrice: gwei(1),
		Gas:      100_000,
		To:       &contractAddr,
		Value:    big.NewInt(0),
	})
	tx.SetSender(senderAddr)

	header := testHeader()
	block := types.NewBlock(header, &types.Body{Transactions: []*types.Transaction{tx}})

	res, err := NewStateProcessor(TestConfig).Process(block, statedb)
	if err != nil {
		t.Fatal(err)
	}
	r := res.Receipts[0]
	// Pre-refund usage: 21000 + 4*PUSH1 + 2*SSTORE(cold 2100 + reset 2900) = 31012.
	preRefund := uint64(21000 + 4*3 + 2*(2100+2900))
	// Refund = min(2*4800, preRefund/5) = 6202: the cap binds.
	wantRefund := preRefund / 5
	if wantRefund > 2*4800 {
		wantRefund = 2 * 4800
	}
	if r.GasUsed != preRefund-wantRefund {
		t.Errorf("gas used = %d, want %d", r.GasUsed, preRefund-wantRefund)
	}
}
