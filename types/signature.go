package types

import (
	"crypto/ed25519"
	"errors"

	"github.com/tos-network/gtos/common"
)

// ErrInvalidSignature is returned by verifiers when the signature does
// not match the source account.
var ErrInvalidSignature = errors.New("invalid transaction signature")

// SignatureVerifier is the pass/fail oracle consumed by the shared
// apply routine. Cryptographic primitives live outside the execution
// core; both execution paths call through this interface so they can
// never diverge on what "valid" means.
type SignatureVerifier interface {
	VerifyTransaction(tx *Transaction) error
}

// Ed25519Verifier verifies transaction signatures treating the source
// key as an ed25519 public key over the signing hash.
type Ed25519Verifier struct{}

func (Ed25519Verifier) VerifyTransaction(tx *Transaction) error {
	h := tx.SigningHash()
	if !ed25519.Verify(tx.Source[:], h[:], tx.Signature[:]) {
		return ErrInvalidSignature
	}
	return nil
}

// SignTransaction fills in the signature for the given private key.
// Used by block builders and tests.
func SignTransaction(priv ed25519.PrivateKey, tx *Transaction) {
	h := tx.SigningHash()
	sig := ed25519.Sign(priv, h[:])
	copy(tx.Signature[:], sig)
}

// PublicKeyFromEd25519 converts an ed25519 public key into an account
// identifier.
func PublicKeyFromEd25519(pub ed25519.PublicKey) common.PublicKey {
	return common.BytesToPublicKey(pub)
}
