package types

import (
	"bytes"
	"math/big"
	"testing"
)

func sampleHeader() *Header {
	return &Header{
		ParentHash:  HexToHash("0x01"),
		UncleHash:   EmptyUncleHash,
		Coinbase:    HexToAddress("0xc0ffee"),
		Root:        HexToHash("0x02"),
		TxHash:      EmptyRootHash,
		ReceiptHash: EmptyRootHash,
		Difficulty:  new(big.Int),
		Number:      big.NewInt(100),
		GasLimit:    30_000_000,
		GasUsed:     21_000,
		Time:        1_700_000_000,
		Extra:       []byte{},
		MixDigest:   HexToHash("0x03"),
		BaseFee:     big.NewInt(1_000_000_000),
	}
}

func TestHeaderRoundTripLondon(t *testing.T) {
	h := sampleHeader()
	enc, err := h.EncodeRLP()
	if err != nil {
		t.Fatal(err)
	}
	dec, err := DecodeHeaderRLP(enc)
	if err != nil {
		t.Fatal(err)
	}
	enc2, err := dec.EncodeRLP()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(enc, enc2) {
		t.Fatalf("round trip not bit-exact")
	}
	if dec.WithdrawalsHash != nil || dec.BlobGasUsed != nil || dec.ParentBeaconRoot != nil {
		t.Error("optional fields appeared out of nowhere")
	}
	if dec.Hash() != h.Hash() {
		t.Error("hash mismatch after round trip")
	}
}

func TestHeaderRoundTripCancun(t *testing.T) {
	h := sampleHeader()
	wh := EmptyRootHash
	h.WithdrawalsHash = &wh
	bgu := uint64(131072)
	ebg := uint64(0)
	h.BlobGasUsed = &bgu
	h.ExcessBlobGas = &ebg
	pbr := HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	h.ParentBeaconRoot = &pbr

	enc, err := h.EncodeRLP()
	if err != nil {
		t.Fatal(err)
	}
	dec, err := DecodeHeaderRLP(enc)
	if err != nil {
		t.Fatal(err)
	}
	if dec.BlobGasUsed == nil || *dec.BlobGasUsed != bgu {
		t.Error("blobGasUsed lost")
	}
	if dec.ExcessBlobGas == nil || *dec.ExcessBlobGas != 0 {
		t.Error("excessBlobGas lost")
	}
	if dec.ParentBeaconRoot == nil || *dec.ParentBeaconRoot != pbr {
		t.Error("parentBeaconRoot lost")
	}
	enc2, _ := dec.EncodeRLP()
	if !bytes.Equal(enc, enc2) {
		t.Fatal("cancun round trip not bit-exact")
	}
}

func TestHeaderHashChangesWithContent(t *testing.T) {
	a := sampleHeader()
	b := sampleHeader()
	b.GasUsed++
	if a.Hash() == b.Hash() {
		t.Error("distinct headers share a hash")
	}
}

func TestReceiptRoundTrip(t *testing.T) {
	r := &Receipt{
		Type:              DynamicFeeTxType,
		Status:            ReceiptStatusSuccessful,
		CumulativeGasUsed: 54321,
		Logs: []*Log{
			{
				Address: HexToAddress("0xaa"),
				Topics:  []Hash{HexToHash("0x01"), HexToHash("0x02")},
				Data:    []byte{1, 2, 3},
			},
		},
	}
	r.Bloom = LogsBloom(r.Logs)

	enc, err := r.EncodeRLP()
	if err != nil {
		t.Fatal(err)
	}
	if enc[0] != DynamicFeeTxType {
		t.Fatalf("typed receipt prefix = %02x", enc[0])
	}
	dec, err := DecodeReceiptRLP(enc)
	if err != nil {
		t.Fatal(err)
	}
	enc2, err := dec.EncodeRLP()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(enc, enc2) {
		t.Fatal("receipt round trip not bit-exact")
	}
	if dec.Status != ReceiptStatusSuccessful || dec.CumulativeGasUsed != 54321 {
		t.Error("consensus fields lost")
	}
	if len(dec.Logs) != 1 || len(dec.Logs[0].Topics) != 2 {
		t.Error("logs lost")
	}
}

func TestWithdrawalRoundTrip(t *testing.T) {
	w := &Withdrawal{Index: 5, ValidatorIndex: 9, Address: HexToAddress("0xaa"), Amount: 1}
	enc := EncodeWithdrawal(w)
	dec, err := DecodeWithdrawal(enc)
	if err != nil {
		t.Fatal(err)
	}
	if *dec != *w {
		t.Errorf("round trip mismatch: %+v != %+v", dec, w)
	}
	if !bytes.Equal(EncodeWithdrawal(dec), enc) {
		t.Error("withdrawal re-encode not bit-exact")
	}
}

func TestBlockRLPRoundTrip(t *testing.T) {
	header := sampleHeader()
	wh := EmptyRootHash
	header.WithdrawalsHash = &wh

	legacy := NewTransaction(&LegacyTx{
		Nonce: 0, GasPrice: big.NewInt(1), Gas: 21000,
		To: addrPtr(0x01), Value: big.NewInt(5),
		V: big.NewInt(27), R: big.NewInt(1), S: big.NewInt(1),
	})
	typed := NewTransaction(&DynamicFeeTx{
		ChainID: big.NewInt(1), Nonce: 1, GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(10), Gas: 21000, To: addrPtr(0x02),
		Value: big.NewInt(0), V: big.NewInt(0), R: big.NewInt(2), S: big.NewInt(2),
	})

	block := NewBlock(header, &Body{
		Transactions: []*Transaction{legacy, typed},
		Withdrawals:  []*Withdrawal{{Index: 0, ValidatorIndex: 1, Address: HexToAddress("0xaa"), Amount: 3}},
	})

	enc, err := block.EncodeRLP()
	if err != nil {
		t.Fatal(err)
	}
	dec, err := DecodeBlockRLP(enc)
	if err != nil {
		t.Fatal(err)
	}
	if len(dec.Transactions()) != 2 {
		t.Fatalf("tx count = %d", len(dec.Transactions()))
	}
	if dec.Transactions()[0].Type() != LegacyTxType || dec.Transactions()[1].Type() != DynamicFeeTxType {
		t.Error("tx types lost")
	}
	if dec.Transactions()[1].Hash() != typed.Hash() {
		t.Error("typed tx hash mismatch")
	}
	if len(dec.Withdrawals()) != 1 || dec.Withdrawals()[0].Amount != 3 {
		t.Error("withdrawals lost")
	}
	enc2, err := dec.EncodeRLP()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(enc, enc2) {
		t.Fatal("block round trip not bit-exact")
	}
}
