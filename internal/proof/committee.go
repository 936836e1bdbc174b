// Package proof authenticates decryption results delivered by the oracle
// committee: each member BLS-signs a digest of (request id, cleartexts) and
// the signatures are aggregated behind a signer bitmap.
package proof

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// deliveryDomain separates delivery digests from any other signed payload.
const deliveryDomain = "veilsum-decryption-v1"

var (
	// ErrMalformedProof is returned when proof bytes cannot be parsed.
	ErrMalformedProof = errors.New("malformed proof")

	// ErrBelowThreshold is returned when too few members signed.
	ErrBelowThreshold = errors.New("signers below threshold")

	// ErrBadSignature is returned when the aggregated signature does not verify.
	ErrBadSignature = errors.New("aggregated signature does not verify")
)

// DeliveryDigest is the message every committee member signs for a delivery.
func DeliveryDigest(requestID string, cleartexts []byte) [32]byte {
	h := blake3.New()
	h.Write([]byte(deliveryDomain))

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(requestID)))
	h.Write(lenBuf[:])
	h.Write([]byte(requestID))
	h.Write(cleartexts)

	var digest [32]byte
	h.Sum(digest[:0])

	return digest
}

// Encode lays out a proof as u16 bitmap length || bitmap || aggregated signature.
func Encode(bitmap, signature []byte) []byte {
	out := make([]byte, 2+len(bitmap)+len(signature))
	binary.BigEndian.PutUint16(out, uint16(len(bitmap)))
	copy(out[2:], bitmap)
	copy(out[2+len(bitmap):], signature)

	return out
}

// Decode splits proof bytes into bitmap and signature.
func Decode(data []byte) (bitmap, signature []byte, err error) {
	if len(data) < 2 {
		return nil, nil, ErrMalformedProof
	}

	n := int(binary.BigEndian.Uint16(data))
	if len(data) != 2+n+SignatureSize {
		return nil, nil, fmt.Errorf("%w: got %d bytes", ErrMalformedProof, len(data))
	}

	return data[2 : 2+n], data[2+n:], nil
}

// Committee is the set of oracle members whose signatures the ledger accepts.
type Committee struct {
	PublicKeys [][]byte // PublicKeys are compressed BLS keys indexed by member
	Threshold  int      // Threshold is the minimum number of distinct signers
}

// NewCommittee validates the member keys and threshold.
func NewCommittee(publicKeys [][]byte, threshold int) (*Committee, error) {
	if len(publicKeys) == 0 {
		return nil, fmt.Errorf("committee has no members")
	}

	if threshold < 1 || threshold > len(publicKeys) {
		return nil, fmt.Errorf("threshold %d out of range [1, %d]", threshold, len(publicKeys))
	}

	for i, pk := range publicKeys {
		if len(pk) != PublicKeySize {
			return nil, fmt.Errorf("member %d: invalid public key size %d", i, len(pk))
		}
	}

	return &Committee{PublicKeys: publicKeys, Threshold: threshold}, nil
}

// Verify checks a delivery proof over (requestID, cleartexts).
func (c *Committee) Verify(requestID string, cleartexts, proofBytes []byte) error {
	bitmap, sig, err := Decode(proofBytes)
	if err != nil {
		return err
	}

	signers := ParseSignerBitmap(bitmap)

	keys := make([][]byte, 0, len(signers))
	for _, idx := range signers {
		if idx >= len(c.PublicKeys) {
			return fmt.Errorf("%w: signer %d outside committee", ErrMalformedProof, idx)
		}
		keys = append(keys, c.PublicKeys[idx])
	}

	if len(keys) < c.Threshold {
		return fmt.Errorf("%w: %d < %d", ErrBelowThreshold, len(keys), c.Threshold)
	}

	digest := DeliveryDigest(requestID, cleartexts)
	if !VerifyAggregated(sig, digest[:], keys) {
		return ErrBadSignature
	}

	return nil
}

// Signer produces committee proofs on the oracle side.
type Signer struct {
	members   []*KeyPair // members are the committee keys held by this oracle
	threshold int        // threshold is the number of members that sign
}

// NewSigner creates a signer over the given member keys. Only the first
// threshold members sign each delivery.
func NewSigner(members []*KeyPair, threshold int) (*Signer, error) {
	if threshold < 1 || threshold > len(members) {
		return nil, fmt.Errorf("threshold %d out of range [1, %d]", threshold, len(members))
	}

	return &Signer{members: members, threshold: threshold}, nil
}

// Committee returns the verification view of this signer.
func (s *Signer) Committee() *Committee {
	keys := make([][]byte, len(s.members))
	for i, m := range s.members {
		keys[i] = m.PublicKeyBytes()
	}

	return &Committee{PublicKeys: keys, Threshold: s.threshold}
}

// Prove signs (requestID, cleartexts) with threshold members and aggregates.
func (s *Signer) Prove(requestID string, cleartexts []byte) ([]byte, error) {
	digest := DeliveryDigest(requestID, cleartexts)

	sigs := make([][]byte, s.threshold)
	indices := make([]int, s.threshold)

	for i := 0; i < s.threshold; i++ {
		sigs[i] = s.members[i].Sign(digest[:])
		indices[i] = i
	}

	agg, err := AggregateSignatures(sigs)
	if err != nil {
		return nil, fmt.Errorf("aggregate signatures:\n%w", err)
	}

	return Encode(BuildSignerBitmap(indices, len(s.members)), agg), nil
}

// LoadCommitteeFile reads one hex public key per line; blank lines and
// lines starting with '#' are skipped.
func LoadCommitteeFile(path string, threshold int) (*Committee, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read committee file:\n%w", err)
	}

	var keys [][]byte
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		pk, err := hex.DecodeString(line)
		if err != nil {
			return nil, fmt.Errorf("line %d:\n%w", i+1, err)
		}

		keys = append(keys, pk)
	}

	return NewCommittee(keys, threshold)
}
