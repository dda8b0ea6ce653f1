package rlp

import (
	"bytes"
	"math/big"
	"testing"
)

func TestEncodeString(t *testing.T) {
	cases := []struct {
		in   string
		want []byte
	}{
		{"", []byte{0x80}},
		{"d", []byte{0x64}},
		{"dog", []byte{0x83, 'd', 'o', 'g'}},
	}
	for _, c := range cases {
		got, err := EncodeToBytes([]byte(c.in))
		if err != nil {
			t.Fatalf("encode %q: %v", c.in, err)
		}
		if !bytes.Equal(got, c.want) {
			t.Errorf("encode %q = %x, want %x", c.in, got, c.want)
		}
	}
}

func TestEncodeUint(t *testing.T) {
	cases := []struct {
		in   uint64
		want []byte
	}{
		{0, []byte{0x80}},
		{15, []byte{0x0f}},
		{127, []byte{0x7f}},
		{128, []byte{0x81, 0x80}},
		{1024, []byte{0x82, 0x04, 0x00}},
	}
	for _, c := range cases {
		got, err := EncodeToBytes(c.in)
		if err != nil {
			t.Fatalf("encode %d: %v", c.in, err)
		}
		if !bytes.Equal(got, c.want) {
			t.Errorf("encode %d = %x, want %x", c.in, got, c.want)
		}
	}
}

func TestEncodeLongString(t *testing.T) {
	in := make([]byte, 56)
	for i := range in {
		in[i] = 'a'
	}
	got, err := EncodeToBytes(in)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 0xb8 || got[1] != 56 {
		t.Errorf("long string header = %x %x, want b8 38", got[0], got[1])
	}
	if !bytes.Equal(got[2:], in) {
		t.Error("long string payload mismatch")
	}
}

func TestEncodeBigInt(t *testing.T) {
	got, err := EncodeToBytes(big.NewInt(0))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0x80}) {
		t.Errorf("encode big 0 = %x, want 80", got)
	}

	got, _ = EncodeToBytes(new(big.Int).SetUint64(0xdeadbeef))
	if !bytes.Equal(got, []byte{0x84, 0xde, 0xad, 0xbe, 0xef}) {
		t.Errorf("encode big 0xdeadbeef = %x", got)
	}
}

func TestEncodeEmptyList(t *testing.T) {
	got, err := EncodeToBytes([]uint64{})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0xc0}) {
		t.Errorf("encode empty list = %x, want c0", got)
	}
}

type rlpTestStruct struct {
	A uint64
	B []byte
	C *big.Int
}

func TestStructRoundTrip(t *testing.T) {
	in := rlpTestStruct{A: 42, B: []byte{1, 2, 3}, C: big.NewInt(100000)}
	enc, err := EncodeToBytes(in)
	if err != nil {
		t.Fatal(err)
	}
	var out rlpTestStruct
	if err := DecodeBytes(enc, &out); err != nil {
		t.Fatal(err)
	}
	if out.A != in.A || !bytes.Equal(out.B, in.B) || out.C.Cmp(in.C) != 0 {
		t.Errorf("round trip mismatch: %+v != %+v", out, in)
	}

	// Re-encoding must be bit-exact.
	enc2, err := EncodeToBytes(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(enc, enc2) {
		t.Errorf("re-encode mismatch: %x != %x", enc2, enc)
	}
}

func TestDecodeCatDogList(t *testing.T) {
	// RLP of ["cat", "dog"].
	enc := []byte{0xc8, 0x83, 'c', 'a', 't', 0x83, 'd', 'o', 'g'}
	var out []string
	if err := DecodeBytes(enc, &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0] != "cat" || out[1] != "dog" {
		t.Errorf("decode = %v", out)
	}
}

func TestStreamList(t *testing.T) {
	enc, _ := EncodeToBytes(rlpTestStruct{A: 7, B: []byte{9}, C: big.NewInt(1)})
	s := NewStreamFromBytes(enc)
	if _, err := s.List(); err != nil {
		t.Fatal(err)
	}
	a, err := s.Uint64()
	if err != nil || a != 7 {
		t.Fatalf("Uint64 = %d, %v", a, err)
	}
	b, err := s.Bytes()
	if err != nil || !bytes.Equal(b, []byte{9}) {
		t.Fatalf("Bytes = %x, %v", b, err)
	}
	c, err := s.BigInt()
	if err != nil || c.Int64() != 1 {
		t.Fatalf("BigInt = %v, %v", c, err)
	}
	if !s.AtListEnd() {
		t.Error("expected list end")
	}
	if err := s.ListEnd(); err != nil {
		t.Fatal(err)
	}
}

func TestStreamRaw(t *testing.T) {
	inner, _ := EncodeToBytes([]byte("abc"))
	outer := WrapList(inner)
	s := NewStreamFromBytes(outer)
	if _, err := s.List(); err != nil {
		t.Fatal(err)
	}
	raw, err := s.Raw()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw, inner) {
		t.Errorf("Raw = %x, want %x", raw, inner)
	}
}

func TestDecodeNonCanonicalInt(t *testing.T) {
	// 0x820001 has a leading zero in the integer payload.
	s := NewStreamFromBytes([]byte{0x82, 0x00, 0x01})
	if _, err := s.Uint64(); err == nil {
		t.Error("expected non-canonical int error")
	}
}
