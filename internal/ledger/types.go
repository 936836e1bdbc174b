package ledger

import (
	"encoding/hex"
	"fmt"
	"time"
)

// Actor is the 32-byte ed25519 public key that identifies a caller.
type Actor [32]byte

// String returns the hex form of the actor.
func (a Actor) String() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether the actor is unset.
func (a Actor) IsZero() bool {
	return a == Actor{}
}

// ParseActor decodes a hex actor.
func ParseActor(s string) (Actor, error) {
	var a Actor

	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("decode actor:\n%w", err)
	}

	if len(b) != len(a) {
		return a, fmt.Errorf("invalid actor length: got %d, want %d", len(b), len(a))
	}

	copy(a[:], b)

	return a, nil
}

// BatchID identifies a collection window. Zero is never a valid batch.
type BatchID uint64

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// String returns the hex form of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// channel is a cooldown action class.
type channel byte

const (
	channelSubmit  channel = 's' // channelSubmit rate-limits submissions
	channelRequest channel = 'r' // channelRequest rate-limits decryption requests
)

// EncryptedAggregate holds the serialized running sum and count of a batch.
type EncryptedAggregate struct {
	Sum   []byte // Sum is the encrypted sum of submitted readings
	Count []byte // Count is the encrypted number of submissions
}

// Request is a decryption request record.
type Request struct {
	ID          string    // ID is the correlation id issued by the oracle
	Batch       BatchID   // Batch is the aggregated batch
	Fingerprint Hash      // Fingerprint binds the ciphertext state at request time
	Processed   bool      // Processed flips to true once, on a verified delivery
	Requester   Actor     // Requester is the actor that asked for aggregation
	RequestedAt time.Time // RequestedAt is the ledger time of the request
	Sum         uint64    // Sum is the revealed sum, set when processed
	Count       uint64    // Count is the revealed count, set when processed
}

// Result is the cleartext aggregate revealed by a delivery.
type Result struct {
	RequestID string  // RequestID is the resolved request
	Batch     BatchID // Batch is the aggregated batch
	Sum       uint64  // Sum is the decrypted sum
	Count     uint64  // Count is the decrypted number of submissions
}
