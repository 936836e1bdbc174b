package fhe

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/niclabs/tcpaillier"
)

const (
	// minModulusBits is the smallest accepted Paillier modulus.
	minModulusBits = 256

	// maxMembers is the largest committee a key can be shared between.
	maxMembers = 255

	// wordBits is the width decrypted Paillier words wrap at.
	wordBits = 64
)

var (
	one = big.NewInt(1)

	// wordModulus is 2^wordBits.
	wordModulus = new(big.Int).Lsh(one, wordBits)
)

// PublicKey is a threshold Paillier public key (Damgard-Jurik with s = 1,
// generator n + 1).
type PublicKey struct {
	key *tcpaillier.PubKey // key is the library public key
	n2  *big.Int           // n2 caches N^2, the ciphertext modulus
}

// newPublicKey wraps a library key after checking its modulus.
func newPublicKey(key *tcpaillier.PubKey) (*PublicKey, error) {
	if key == nil || key.N == nil {
		return nil, fmt.Errorf("public key has no modulus")
	}

	if key.N.BitLen() < minModulusBits {
		return nil, fmt.Errorf("modulus too small: %d bits", key.N.BitLen())
	}

	return &PublicKey{key: key, n2: new(big.Int).Mul(key.N, key.N)}, nil
}

// N returns the modulus.
func (pk *PublicKey) N() *big.Int {
	return pk.key.N
}

// Encrypt produces a randomized encryption of m.
func (pk *PublicKey) Encrypt(m uint64) (*big.Int, error) {
	c, _, err := pk.key.Encrypt(new(big.Int).SetUint64(m))
	if err != nil {
		return nil, fmt.Errorf("encrypt:\n%w", err)
	}

	return c, nil
}

// trivial returns the encryption of m with randomness r = 1: 1 + m*n mod n^2.
func (pk *PublicKey) trivial(m *big.Int) *big.Int {
	c := new(big.Int).Mul(m, pk.key.N)
	c.Add(c, one)
	return c.Mod(c, pk.n2)
}

// ciphertextSize is the fixed serialized width of a ciphertext.
func (pk *PublicKey) ciphertextSize() int {
	return (pk.n2.BitLen() + 7) / 8
}

// check validates a ciphertext: 0 < c < n^2 and gcd(c, n) = 1.
func (pk *PublicKey) check(c *big.Int) error {
	if c.Sign() <= 0 || c.Cmp(pk.n2) >= 0 {
		return fmt.Errorf("%w: out of range", ErrMalformed)
	}

	if new(big.Int).GCD(nil, nil, c, pk.key.N).Cmp(one) != 0 {
		return fmt.Errorf("%w: not a unit mod n", ErrMalformed)
	}

	return nil
}

// MarshalJSON encodes the library public key.
func (pk *PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(pk.key)
}

// UnmarshalJSON decodes a library public key.
func (pk *PublicKey) UnmarshalJSON(data []byte) error {
	var key tcpaillier.PubKey
	if err := json.Unmarshal(data, &key); err != nil {
		return err
	}

	decoded, err := newPublicKey(&key)
	if err != nil {
		return err
	}

	*pk = *decoded

	return nil
}

// PrivateKey is a Paillier key split between the oracle committee. Each
// member holds one share and any Threshold members decrypt together.
type PrivateKey struct {
	Public    *PublicKey             // Public is the key ciphertexts are formed under
	Shares    []*tcpaillier.KeyShare // Shares are indexed by committee member
	Threshold int                    // Threshold is the number of shares a decryption needs
}

// GenerateKey creates a threshold key with a modulus of the given bit size,
// shared between members of which threshold must cooperate. The threshold
// must be a majority of the members.
func GenerateKey(bits, members, threshold int) (*PrivateKey, error) {
	if bits < minModulusBits {
		return nil, fmt.Errorf("modulus too small: %d < %d bits", bits, minModulusBits)
	}

	if members < 2 || members > maxMembers {
		return nil, fmt.Errorf("members %d out of range [2, %d]", members, maxMembers)
	}

	if threshold < members/2+1 || threshold > members {
		return nil, fmt.Errorf("threshold %d out of range [%d, %d]", threshold, members/2+1, members)
	}

	shares, key, err := tcpaillier.NewKey(bits, 1, uint8(members), uint8(threshold))
	if err != nil {
		return nil, fmt.Errorf("generate threshold key:\n%w", err)
	}

	pub, err := newPublicKey(key)
	if err != nil {
		return nil, err
	}

	return &PrivateKey{Public: pub, Shares: shares, Threshold: int(key.K)}, nil
}

// Decrypt combines partial decryptions of the first Threshold members.
// The plaintext is reduced modulo 2^64, the word width of the scheme.
func (k *PrivateKey) Decrypt(data []byte) (*big.Int, error) {
	c, err := k.Scheme().parse(data)
	if err != nil {
		return nil, err
	}

	if k.Threshold < 1 || k.Threshold > len(k.Shares) {
		return nil, fmt.Errorf("threshold %d exceeds %d shares", k.Threshold, len(k.Shares))
	}

	partials := make([]*tcpaillier.DecryptionShare, k.Threshold)
	for i, share := range k.Shares[:k.Threshold] {
		partials[i], err = share.PartialDecrypt(c)
		if err != nil {
			return nil, fmt.Errorf("partial decryption %d:\n%w", i, err)
		}
	}

	m, err := k.Public.key.CombineShares(partials...)
	if err != nil {
		return nil, fmt.Errorf("combine shares:\n%w", err)
	}

	return m.Mod(m, wordModulus), nil
}

// Scheme returns the ledger-side capability bound to this key.
func (k *PrivateKey) Scheme() *Paillier {
	return NewPaillier(k.Public)
}

// privateKeyJSON is the encoded form of a private key.
type privateKeyJSON struct {
	Public    *PublicKey             `json:"public"`
	Shares    []*tcpaillier.KeyShare `json:"shares"`
	Threshold int                    `json:"threshold"`
}

// MarshalJSON encodes the public key, the shares and the threshold.
func (k *PrivateKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(privateKeyJSON{Public: k.Public, Shares: k.Shares, Threshold: k.Threshold})
}

// UnmarshalJSON decodes a key written by MarshalJSON.
func (k *PrivateKey) UnmarshalJSON(data []byte) error {
	var enc privateKeyJSON
	if err := json.Unmarshal(data, &enc); err != nil {
		return err
	}

	if enc.Public == nil {
		return fmt.Errorf("missing public key")
	}

	if enc.Threshold < 1 || enc.Threshold > len(enc.Shares) || enc.Threshold != int(enc.Public.key.K) {
		return fmt.Errorf("threshold %d inconsistent with %d shares", enc.Threshold, len(enc.Shares))
	}

	k.Public = enc.Public
	k.Shares = enc.Shares
	k.Threshold = enc.Threshold

	return nil
}

// Paillier implements Scheme over a Paillier public key.
// Ciphertexts are *big.Int values in Z*_{n^2}.
type Paillier struct {
	pk *PublicKey
}

// NewPaillier creates the capability for the given public key.
func NewPaillier(pk *PublicKey) *Paillier {
	return &Paillier{pk: pk}
}

// Name returns "paillier".
func (s *Paillier) Name() string { return "paillier" }

// PublicKey returns the key ciphertexts are formed under.
func (s *Paillier) PublicKey() *PublicKey { return s.pk }

// Zero returns the trivial encryption of 0, which is 1.
func (s *Paillier) Zero() Ciphertext {
	return big.NewInt(1)
}

// EncryptLiteral returns the trivial encryption of v.
func (s *Paillier) EncryptLiteral(v uint64) Ciphertext {
	return s.pk.trivial(new(big.Int).SetUint64(v))
}

// Add returns the homomorphic sum of both ciphertexts.
func (s *Paillier) Add(a, b Ciphertext) (Ciphertext, error) {
	x, ok := a.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected type %T", ErrMalformed, a)
	}

	y, ok := b.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected type %T", ErrMalformed, b)
	}

	sum, err := s.pk.key.Add(x, y)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return sum, nil
}

// Serialize writes c big-endian, left padded to the width of n^2.
func (s *Paillier) Serialize(c Ciphertext) []byte {
	x, _ := c.(*big.Int)
	if x == nil {
		return nil
	}

	return x.FillBytes(make([]byte, s.pk.ciphertextSize()))
}

// Deserialize parses and validates a fixed-width ciphertext.
func (s *Paillier) Deserialize(data []byte) (Ciphertext, error) {
	return s.parse(data)
}

// Encrypt returns the serialized randomized encryption of v, as submitted by
// a data provider.
func (s *Paillier) Encrypt(v uint64) ([]byte, error) {
	c, err := s.pk.Encrypt(v)
	if err != nil {
		return nil, err
	}

	return s.Serialize(c), nil
}

func (s *Paillier) parse(data []byte) (*big.Int, error) {
	if len(data) != s.pk.ciphertextSize() {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformed, len(data), s.pk.ciphertextSize())
	}

	c := new(big.Int).SetBytes(data)
	if err := s.pk.check(c); err != nil {
		return nil, err
	}

	return c, nil
}
