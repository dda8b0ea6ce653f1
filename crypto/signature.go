package crypto

import (
	"errors"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/eth2030/evmcore/core/types"
)

// SignatureLength is the length of a [R || S || V] signature in bytes.
const SignatureLength = 65

var (
	// ErrInvalidSignature is returned for malformed signature inputs.
	ErrInvalidSignature = errors.New("crypto: invalid signature")

	// ErrRecoveryFailed is returned when public key recovery fails.
	ErrRecoveryFailed = errors.New("crypto: public key recovery failed")

	secp256k1N     = secp256k1.S256().N
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// ValidateSignatureValues verifies whether the signature values are valid with
// the given chain rules. The v value is expected to be 0 or 1. If homestead is
// true, s values in the upper half of the curve order are rejected (EIP-2).
func ValidateSignatureValues(v byte, r, s *big.Int, homestead bool) bool {
	if r == nil || s == nil {
		return false
	}
	if r.Sign() <= 0 || s.Sign() <= 0 {
		return false
	}
	if homestead && s.Cmp(secp256k1HalfN) > 0 {
		return false
	}
	return r.Cmp(secp256k1N) < 0 && s.Cmp(secp256k1N) < 0 && (v == 0 || v == 1)
}

// Ecrecover returns the uncompressed public key (65 bytes, 0x04-prefixed) that
// created the given signature over hash. sig must be [R || S || V] with V in
// {0, 1}.
func Ecrecover(hash, sig []byte) ([]byte, error) {
	if len(hash) != 32 || len(sig) != SignatureLength {
		return nil, ErrInvalidSignature
	}
	if sig[64] > 1 {
		return nil, ErrInvalidSignature
	}
	// The decred library expects the recovery code as the first byte, offset
	// by 27 for an uncompressed public key.
	compact := make([]byte, SignatureLength)
	compact[0] = sig[64] + 27
	copy(compact[1:], sig[:64])

	pub, _, err := secpecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return nil, ErrRecoveryFailed
	}
	return pub.SerializeUncompressed(), nil
}

// RecoverAddress recovers the Ethereum address that signed hash.
// sig is [R || S || V] with V in {0, 1}.
func RecoverAddress(hash, sig []byte) (types.Address, error) {
	pub, err := Ecrecover(hash, sig)
	if err != nil {
		return types.Address{}, err
	}
	// Address is the low 20 bytes of Keccak256(pubkey without the 0x04 tag).
	return types.BytesToAddress(Keccak256(pub[1:])[12:]), nil
}

// Sign produces a [R || S || V] signature over hash with the given private key
// (32 bytes). V is 0 or 1.
func Sign(hash, key []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, ErrInvalidSignature
	}
	priv := secp256k1.PrivKeyFromBytes(key)
	defer priv.Zero()
	compact := secpecdsa.SignCompact(priv, hash, false)

	// Convert from decred's header-first compact form to [R || S || V].
	sig := make([]byte, SignatureLength)
	copy(sig, compact[1:])
	sig[64] = compact[0] - 27
	return sig, nil
}

// PubkeyBytesToAddress derives the address for a 65-byte uncompressed public key.
func PubkeyBytesToAddress(pub []byte) (types.Address, error) {
	if len(pub) != 65 || pub[0] != 4 {
		return types.Address{}, ErrInvalidSignature
	}
	return types.BytesToAddress(Keccak256(pub[1:])[12:]), nil
}

// PrivkeyToAddress derives the address controlled by the given 32-byte private key.
func PrivkeyToAddress(key []byte) types.Address {
	priv := secp256k1.PrivKeyFromBytes(key)
	pub := priv.PubKey().SerializeUncompressed()
	return types.BytesToAddress(Keccak256(pub[1:])[12:])
}
