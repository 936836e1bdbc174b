package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/zeebo/blake3"
)

// WordSize is the width of one cleartext word.
const WordSize = 32

// CleartextsSize is the delivered layout: sum word followed by count word.
const CleartextsSize = 2 * WordSize

// Fingerprint binds a serialized aggregate to the ledger identity.
//
//	BLAKE3(len(sum) || sum || len(count) || count || identity)
//
// Lengths are 4-byte big-endian.
func Fingerprint(agg EncryptedAggregate, identity Hash) Hash {
	var lenBuf [4]byte

	h := blake3.New()

	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(agg.Sum)))
	h.Write(lenBuf[:])
	h.Write(agg.Sum)

	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(agg.Count)))
	h.Write(lenBuf[:])
	h.Write(agg.Count)

	h.Write(identity[:])

	var out Hash
	copy(out[:], h.Sum(nil))

	return out
}

// EncodeCleartexts lays out (sum, count) as two big-endian words.
func EncodeCleartexts(sum, count *big.Int) ([]byte, error) {
	buf := make([]byte, CleartextsSize)

	for i, v := range []*big.Int{sum, count} {
		if v.Sign() < 0 || v.BitLen() > 64 {
			return nil, fmt.Errorf("%w: word %d out of range", ErrMalformedCleartexts, i)
		}
		v.FillBytes(buf[i*WordSize : (i+1)*WordSize])
	}

	return buf, nil
}

// DecodeCleartexts parses (sum, count). Values must fit in 64 bits.
func DecodeCleartexts(data []byte) (sum, count uint64, err error) {
	if len(data) != CleartextsSize {
		return 0, 0, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedCleartexts, len(data), CleartextsSize)
	}

	words := [2]uint64{}
	for i := range words {
		word := data[i*WordSize : (i+1)*WordSize]
		for _, b := range word[:WordSize-8] {
			if b != 0 {
				return 0, 0, fmt.Errorf("%w: word %d exceeds 64 bits", ErrMalformedCleartexts, i)
			}
		}
		words[i] = binary.BigEndian.Uint64(word[WordSize-8:])
	}

	return words[0], words[1], nil
}

// RequestAggregation snapshots the aggregate of a closed batch, forwards it to
// the oracle and records a pending request under the returned id.
//
// The batch must be closed: a request against an open batch fails with
// ErrBatchOpen.
func (l *Ledger) RequestAggregation(ctx context.Context, caller Actor, id BatchID) (string, Hash, error) {
	var (
		requestID   string
		fingerprint Hash
	)

	err := l.apply("request_aggregation", func(t *txn) error {
		err := check(t, caller,
			whenNotPaused,
			validBatch(id),
			batchIs(id, false, ErrBatchOpen),
			cooldownElapsed(channelRequest),
		)
		if err != nil {
			return err
		}

		identity, err := t.identity()
		if err != nil {
			return err
		}

		agg, err := l.snapshot(t, id)
		if err != nil {
			return err
		}

		fingerprint = Fingerprint(agg, identity)

		requestID, err = l.oracle.RequestDecryption(ctx, [][]byte{agg.Sum, agg.Count})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
		}

		if requestID == "" {
			return fmt.Errorf("%w: empty request id", ErrOracleUnavailable)
		}

		if existing, err := t.get(requestKey(requestID)); err != nil {
			return err
		} else if existing != nil {
			return fmt.Errorf("%w: duplicate request id %q", ErrOracleUnavailable, requestID)
		}

		t.stamp(channelRequest, caller)
		t.set(requestKey(requestID), encodeRequest(Request{
			Batch:       id,
			Fingerprint: fingerprint,
			Requester:   caller,
			RequestedAt: t.now,
		}))
		t.emit(Event{
			Kind:        EventDecryptionRequested,
			Actor:       caller,
			Batch:       id,
			RequestID:   requestID,
			Fingerprint: fingerprint,
		})

		return nil
	})
	if err != nil {
		return "", Hash{}, err
	}

	return requestID, fingerprint, nil
}

// Deliver resolves a pending request with the oracle's cleartexts.
//
// The request must exist and be unprocessed, the batch aggregate must still
// match the fingerprint taken at request time and the proof must verify. A
// stale request stays unprocessed so it can be requested again.
//
// Delivery is not gated by the pause switch: a decryption already in flight
// when the ledger is paused can still complete.
func (l *Ledger) Deliver(requestID string, cleartexts, proof []byte) (Result, error) {
	var res Result

	err := l.apply("deliver", func(t *txn) error {
		raw, err := t.get(requestKey(requestID))
		if err != nil {
			return err
		}

		if raw == nil {
			return fmt.Errorf("%w: unknown request %q", ErrReplayDetected, requestID)
		}

		req, err := decodeRequest(requestID, raw)
		if err != nil {
			return err
		}

		if req.Processed {
			return fmt.Errorf("%w: request %q already processed", ErrReplayDetected, requestID)
		}

		identity, err := t.identity()
		if err != nil {
			return err
		}

		agg, err := l.snapshot(t, req.Batch)
		if err != nil {
			return err
		}

		if Fingerprint(agg, identity) != req.Fingerprint {
			return ErrStateMismatch
		}

		if err := l.verifier.Verify(requestID, cleartexts, proof); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProof, err)
		}

		sum, count, err := DecodeCleartexts(cleartexts)
		if err != nil {
			return err
		}

		req.Processed = true
		req.Sum = sum
		req.Count = count
		t.set(requestKey(requestID), encodeRequest(req))
		t.emit(Event{
			Kind:      EventDecryptionCompleted,
			Batch:     req.Batch,
			RequestID: requestID,
			Sum:       sum,
			Count:     count,
		})

		res = Result{RequestID: requestID, Batch: req.Batch, Sum: sum, Count: count}

		return nil
	})

	return res, err
}

// Request returns a stored decryption request.
func (l *Ledger) Request(requestID string) (Request, bool, error) {
	var (
		req   Request
		found bool
	)

	err := l.view(func(t *txn) error {
		raw, err := t.get(requestKey(requestID))
		if err != nil || raw == nil {
			return err
		}

		req, err = decodeRequest(requestID, raw)
		found = err == nil
		return err
	})

	return req, found, err
}
