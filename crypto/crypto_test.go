package crypto

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/eth2030/evmcore/core/types"
)

func TestKeccak256Empty(t *testing.T) {
	want := types.HexToHash("c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470")
	if got := Keccak256Hash(nil); got != want {
		t.Errorf("keccak256(\"\") = %v, want %v", got, want)
	}
}

func TestKeccak256KnownVector(t *testing.T) {
	// keccak256("abc")
	want := types.HexToHash("4e03657aea45a94fc7d47ba826c8d667c0d1e6e33a64a036ec44f58fa12d6c45")
	if got := Keccak256Hash([]byte("abc")); got != want {
		t.Errorf("keccak256(abc) = %v, want %v", got, want)
	}
}

func TestSignRecoverRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	hash := Keccak256([]byte("message"))

	sig, err := Sign(hash, key)
	if err != nil {
		t.Fatal(err)
	}
	if len(sig) != SignatureLength {
		t.Fatalf("sig length = %d", len(sig))
	}
	if sig[64] > 1 {
		t.Fatalf("recovery id = %d", sig[64])
	}

	addr, err := RecoverAddress(hash, sig)
	if err != nil {
		t.Fatal(err)
	}
	if want := PrivkeyToAddress(key); addr != want {
		t.Errorf("recovered %v, want %v", addr, want)
	}
}

func TestEcrecoverRejectsBadV(t *testing.T) {
	hash := Keccak256([]byte("x"))
	sig := make([]byte, 65)
	sig[64] = 2
	if _, err := Ecrecover(hash, sig); err == nil {
		t.Error("expected error for v > 1")
	}
}

func TestValidateSignatureValues(t *testing.T) {
	one := big.NewInt(1)
	if !ValidateSignatureValues(0, one, one, true) {
		t.Error("minimal valid signature rejected")
	}
	if ValidateSignatureValues(0, new(big.Int), one, true) {
		t.Error("zero r accepted")
	}
	if ValidateSignatureValues(2, one, one, true) {
		t.Error("v=2 accepted")
	}
	if ValidateSignatureValues(0, secp256k1N, one, true) {
		t.Error("r = N accepted")
	}
	// Homestead rejects s in the upper half of the curve order.
	highS := new(big.Int).Sub(secp256k1N, big.NewInt(1))
	if ValidateSignatureValues(0, one, highS, true) {
		t.Error("high s accepted under homestead rules")
	}
	if !ValidateSignatureValues(0, one, highS, false) {
		t.Error("high s rejected under frontier rules")
	}
}

func TestKZGToVersionedHash(t *testing.T) {
	commitment := make([]byte, 48)
	h := KZGToVersionedHash(commitment)
	if h[0] != VersionedHashVersionKZG {
		t.Errorf("version byte = %02x", h[0])
	}
}

func TestVerifyKZGProofInputSize(t *testing.T) {
	if err := VerifyKZGProof(make([]byte, 10), make([]byte, 32), make([]byte, 32), make([]byte, 48)); err != ErrKZGInputSize {
		t.Errorf("err = %v, want ErrKZGInputSize", err)
	}
}
