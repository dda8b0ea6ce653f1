package crypto

import (
	"crypto/sha256"
	"errors"
	"sync"

	goethkzg "github.com/crate-crypto/go-eth-kzg"
)

// VersionedHashVersionKZG is the version byte of an EIP-4844 blob versioned hash.
const VersionedHashVersionKZG = byte(0x01)

var (
	// ErrKZGProofInvalid is returned when a KZG proof fails verification.
	ErrKZGProofInvalid = errors.New("crypto: invalid KZG proof")

	// ErrKZGInputSize is returned for malformed commitment/proof/point sizes.
	ErrKZGInputSize = errors.New("crypto: invalid KZG input size")

	kzgCtxOnce sync.Once
	kzgCtx     *goethkzg.Context
	kzgCtxErr  error
)

// kzgContext lazily initializes the go-eth-kzg context with the embedded
// Ethereum ceremony trusted setup. Initialization is expensive (processes the
// full SRS), so it is done once and shared.
func kzgContext() (*goethkzg.Context, error) {
	kzgCtxOnce.Do(func() {
		kzgCtx, kzgCtxErr = goethkzg.NewContext4096Secure()
	})
	return kzgCtx, kzgCtxErr
}

// VerifyKZGProof verifies that the polynomial behind commitment evaluates to
// y at point z, as attested by proof. All arguments are in the EIP-4844 wire
// format: 48-byte commitment and proof, 32-byte big-endian field elements.
func VerifyKZGProof(commitment, z, y, proof []byte) error {
	if len(commitment) != 48 || len(proof) != 48 || len(z) != 32 || len(y) != 32 {
		return ErrKZGInputSize
	}
	ctx, err := kzgContext()
	if err != nil {
		return err
	}
	var (
		comm goethkzg.KZGCommitment
		pf   goethkzg.KZGProof
		zp   goethkzg.Scalar
		yp   goethkzg.Scalar
	)
	copy(comm[:], commitment)
	copy(pf[:], proof)
	copy(zp[:], z)
	copy(yp[:], y)

	if err := ctx.VerifyKZGProof(comm, zp, yp, pf); err != nil {
		return ErrKZGProofInvalid
	}
	return nil
}

// KZGToVersionedHash computes the EIP-4844 versioned hash of a commitment:
// the version byte followed by sha256(commitment)[1:].
func KZGToVersionedHash(commitment []byte) [32]byte {
	h := sha256.Sum256(commitment)
	h[0] = VersionedHashVersionKZG
	return h
}
