// Package fhe defines the additively homomorphic encryption capability the
// ledger folds readings with, and the schemes that implement it.
//
// The ledger never looks inside a Ciphertext: it only combines values with
// Zero, Add and EncryptLiteral and moves them around as serialized bytes.
package fhe

import (
	"errors"
	"math/big"
)

// ErrMalformed is returned when serialized bytes are not a valid ciphertext.
var ErrMalformed = errors.New("malformed ciphertext")

// Ciphertext is an opaque encrypted value owned by a Scheme.
type Ciphertext any

// Scheme is the homomorphic capability consumed by the ledger.
type Scheme interface {
	// Name identifies the scheme in logs and the key endpoint.
	Name() string

	// Zero returns the deterministic encryption of 0.
	Zero() Ciphertext

	// EncryptLiteral returns the deterministic (trivial) encryption of v.
	EncryptLiteral(v uint64) Ciphertext

	// Add returns the encryption of the sum of both plaintexts.
	Add(a, b Ciphertext) (Ciphertext, error)

	// Serialize returns the canonical byte form of c.
	Serialize(c Ciphertext) []byte

	// Deserialize parses bytes produced by Serialize or by an encrypting client.
	Deserialize(data []byte) (Ciphertext, error)
}

// Decryptor recovers plaintexts from serialized ciphertexts.
// Only the decryption oracle holds one. Plaintexts are reduced to the word
// width of the scheme: 2^32 for Plain, 2^64 for Paillier.
type Decryptor interface {
	Decrypt(data []byte) (*big.Int, error)
}
