package fhe

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// Plain is a non-encrypting scheme that accumulates 32-bit unsigned values
// with wraparound. It stands in for a real scheme in tests and local runs.
type Plain struct{}

// plainSize is the serialized width of a Plain ciphertext.
const plainSize = 4

// Name returns "plain".
func (Plain) Name() string { return "plain" }

// Zero returns 0.
func (Plain) Zero() Ciphertext { return uint32(0) }

// EncryptLiteral returns v truncated to 32 bits.
func (Plain) EncryptLiteral(v uint64) Ciphertext { return uint32(v) }

// Encrypt is EncryptLiteral; Plain has no randomness.
func (p Plain) Encrypt(v uint64) []byte { return p.Serialize(p.EncryptLiteral(v)) }

// Add sums modulo 2^32.
func (Plain) Add(a, b Ciphertext) (Ciphertext, error) {
	x, ok := a.(uint32)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected type %T", ErrMalformed, a)
	}

	y, ok := b.(uint32)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected type %T", ErrMalformed, b)
	}

	return x + y, nil
}

// Serialize writes the value as 4 big-endian bytes.
func (Plain) Serialize(c Ciphertext) []byte {
	v, _ := c.(uint32)
	buf := make([]byte, plainSize)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

// Deserialize reads 4 big-endian bytes.
func (Plain) Deserialize(data []byte) (Ciphertext, error) {
	if len(data) != plainSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformed, len(data), plainSize)
	}
	return binary.BigEndian.Uint32(data), nil
}

// Decrypt returns the stored value.
func (p Plain) Decrypt(data []byte) (*big.Int, error) {
	c, err := p.Deserialize(data)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(uint64(c.(uint32))), nil
}
