package vm

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/eth2030/evmcore/core/types"
	"github.com/eth2030/evmcore/crypto"
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func TestIdentityPrecompile(t *testing.T) {
	c := &dataCopy{}
	in := []byte{1, 2, 3, 4}
	out, err := c.Run(in)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, in) {
		t.Errorf("identity = %x", out)
	}
	if gas := c.RequiredGas(in); gas != 15+3 {
		t.Errorf("identity gas = %d, want 18", gas)
	}
}

func TestSha256Precompile(t *testing.T) {
	c := &sha256hash{}
	out, err := c.Run(nil)
	if err != nil {
		t.Fatal(err)
	}
	want := mustHex("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855")
	if !bytes.Equal(out, want) {
		t.Errorf("sha256(\"\") = %x", out)
	}
}

func TestRipemd160Precompile(t *testing.T) {
	c := &ripemd160hash{}
	out, err := c.Run(nil)
	if err != nil {
		t.Fatal(err)
	}
	want := make([]byte, 32)
	copy(want[12:], mustHex("9c1185a5c5e9fc54612808977ee8f548b2258d31"))
	if !bytes.Equal(out, want) {
		t.Errorf("ripemd160(\"\") = %x", out)
	}
}

func TestEcrecoverPrecompile(t *testing.T) {
	key := bytes.Repeat([]byte{0x55}, 32)
	hash := crypto.Keccak256([]byte("precompile"))
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		t.Fatal(err)
	}

	input := make([]byte, 128)
	copy(input[0:32], hash)
	input[63] = sig[64] + 27 // v
	copy(input[64:96], sig[0:32])
	copy(input[96:128], sig[32:64])

	c := &ecrecover{}
	out, err := c.Run(input)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 32 {
		t.Fatalf("output length %d", len(out))
	}
	got := types.BytesToAddress(out[12:])
	if want := crypto.PrivkeyToAddress(key); got != want {
		t.Errorf("recovered %v, want %v", got, want)
	}
}

func TestEcrecoverInvalidReturnsEmpty(t *testing.T) {
	c := &ecrecover{}
	input := make([]byte, 128)
	input[63] = 29 // invalid v
	out, err := c.Run(input)
	if err != nil {
		t.Fatal(err)
	}
	if out != nil {
		t.Errorf("invalid signature should yield empty output, got %x", out)
	}
}

func TestModexpPrecompile(t *testing.T) {
	// 3^7 mod 10 = 7, with 1-byte operands.
	var input []byte
	lenWord := func(n byte) []byte {
		w := make([]byte, 32)
		w[31] = n
		return w
	}
	input = append(input, lenWord(1)...) // base length
	input = append(input, lenWord(1)...) // exp length
	input = append(input, lenWord(1)...) // mod length
	input = append(input, 3, 7, 10)

	c := &bigModExp{}
	out, err := c.Run(input)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, []byte{7}) {
		t.Errorf("modexp = %x, want 07", out)
	}
	if gas := c.RequiredGas(input); gas != 200 {
		t.Errorf("modexp gas = %d, want floor 200", gas)
	}
}

func TestBn256AddIdentity(t *testing.T) {
	// G + 0 = G, where G = (1, 2) is the alt_bn128 generator.
	input := make([]byte, 128)
	input[31] = 1 // x1 = 1
	input[63] = 2 // y1 = 2

	c := &bn256Add{}
	out, err := c.Run(input)
	if err != nil {
		t.Fatal(err)
	}
	if new(big.Int).SetBytes(out[:32]).Cmp(big.NewInt(1)) != 0 ||
		new(big.Int).SetBytes(out[32:]).Cmp(big.NewInt(2)) != 0 {
		t.Errorf("G + 0 = (%x, %x), want (1, 2)", out[:32], out[32:])
	}
}

func TestBn256ScalarMulByTwo(t *testing.T) {
	// 2 * G on alt_bn128 is a well-known point.
	input := make([]byte, 96)
	input[31] = 1 // x = 1
	input[63] = 2 // y = 2
	input[95] = 2 // scalar = 2

	c := &bn256ScalarMul{}
	out, err := c.Run(input)
	if err != nil {
		t.Fatal(err)
	}
	wantX := mustHex("030644e72e131a029b85045b68181585d97816a916871ca8d3c208c16d87cfd3")
	wantY := mustHex("15ed738c0e0a7c92e7845f96b2ae9c0a68a6a449e3538fc7ff3ebf7a5a18a2c4")
	if !bytes.Equal(out[:32], wantX) || !bytes.Equal(out[32:], wantY) {
		t.Errorf("2G = (%x, %x)", out[:32], out[32:])
	}
}

func TestBn256AddRejectsOffCurve(t *testing.T) {
	input := make([]byte, 128)
	input[31] = 1
	input[63] = 3 // (1, 3) is not on the curve

	c := &bn256Add{}
	if _, err := c.Run(input); err == nil {
		t.Error("expected invalid point error")
	}
}

func TestBn256PairingEmptyInput(t *testing.T) {
	c := &bn256Pairing{}
	out, err := c.Run(nil)
	if err != nil {
		t.Fatal(err)
	}
	if out[31] != 1 {
		t.Error("empty pairing input should verify")
	}
	if _, err := c.Run(make([]byte, 100)); err == nil {
		t.Error("expected invalid length error")
	}
}

func TestBlake2FVector(t *testing.T) {
	// EIP-152 test vector 5: the blake2b-512 "abc" compression.
	input := mustHex("0000000c48c9bdf267e6096a3ba7ca8485ae67bb2bf894fe72f36e3cf1361d5f3af54fa5d182e6ad7f520e511f6c3e2b8c68059b6bbd41fbabd9831f79217e1319cde05b61626300000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000300000000000000000000000000000001")
	want := mustHex("ba80a53f981c4d0d6a2797b69f12f6e94c212f14685ac4b74b12bb6fdbffa2d17d87c5392aab792dc252d5de4533cc9518d38aa8dbf1925ab92386edd4009923")

	c := &blake2F{}
	if gas := c.RequiredGas(input); gas != 12 {
		t.Fatalf("blake2f gas = %d, want 12", gas)
	}
	out, err := c.Run(input)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, want) {
		t.Errorf("blake2f = %x", out)
	}
}

func TestBlake2FInvalidLength(t *testing.T) {
	c := &blake2F{}
	if _, err := c.Run(make([]byte, 212)); err == nil {
		t.Error("expected length error")
	}
}

func TestKZGPointEvaluationInputChecks(t *testing.T) {
	c := &kzgPointEvaluation{}
	if _, err := c.Run(make([]byte, 100)); err == nil {
		t.Error("expected length error")
	}

	// Wrong version byte.
	input := make([]byte, 192)
	if _, err := c.Run(input); err == nil {
		t.Error("expected version error")
	}

	// Correct version but commitment mismatch.
	input[0] = crypto.VersionedHashVersionKZG
	input[1] = 0xff
	if _, err := c.Run(input); err == nil {
		t.Error("expected commitment mismatch error")
	}
}

func TestPrecompileSetGating(t *testing.T) {
	pointEval := types.BytesToAddress([]byte{0x0a})
	if _, ok := PrecompiledContractsBerlin[pointEval]; ok {
		t.Error("point evaluation active before cancun")
	}
	if _, ok := PrecompiledContractsCancun[pointEval]; !ok {
		t.Error("point evaluation missing in cancun set")
	}
	if !IsPrecompiledContract(types.BytesToAddress([]byte{1})) {
		t.Error("ecrecover missing")
	}
}
