package ledger

import (
	"encoding/binary"
	"fmt"
	"time"

	"VeilSum/internal/storage"
)

// Storage key layout.
var (
	keyOwner    = []byte("g:owner")    // keyOwner → 32-byte actor
	keyPaused   = []byte("g:paused")   // keyPaused → 1 byte
	keyCooldown = []byte("g:cooldown") // keyCooldown → u64 seconds
	keyIdentity = []byte("g:identity") // keyIdentity → 32-byte ledger identity
	keyEventSeq = []byte("g:eventseq") // keyEventSeq → u64 last event sequence

	prefixProvider  = []byte("p:") // p:<actor> → 1 byte
	prefixCooldown  = []byte("t:") // t:<channel><actor> → i64 unix seconds
	prefixBatch     = []byte("b:") // b:<batch BE> → 1 byte open flag
	prefixAggregate = []byte("a:") // a:<batch BE> → sum/count ciphertexts
	prefixRequest   = []byte("r:") // r:<request id> → request record
	prefixEvent     = []byte("e:") // e:<seq BE> → Event flatbuffer
)

// txn stages the reads and writes of one ledger operation.
// Reads observe the operation's own pending writes.
type txn struct {
	db     *storage.Storage  // db is the committed state
	writes map[string][]byte // writes holds pending values by key
	order  []string          // order keeps write order for the batch
	events []Event           // events are emitted when the txn commits
	now    time.Time         // now is the ledger time of the operation
}

// get returns the pending or committed value for key, nil when absent.
func (t *txn) get(key []byte) ([]byte, error) {
	if v, ok := t.writes[string(key)]; ok {
		return v, nil
	}

	v, err := t.db.Get(key)
	if err != nil {
		return nil, fmt.Errorf("read %q:\n%w", key, err)
	}

	return v, nil
}

// set stages a write.
func (t *txn) set(key, value []byte) {
	k := string(key)
	if _, ok := t.writes[k]; !ok {
		t.order = append(t.order, k)
	}
	t.writes[k] = value
}

// emit stages an event.
func (t *txn) emit(e Event) {
	e.Time = t.now
	t.events = append(t.events, e)
}

// flush copies the staged writes into a storage batch.
func (t *txn) flush(wb *storage.WriteBatch) {
	for _, k := range t.order {
		wb.Set([]byte(k), t.writes[k])
	}
}

// getFlag reads a one-byte boolean.
func (t *txn) getFlag(key []byte) (bool, error) {
	v, err := t.get(key)
	if err != nil {
		return false, err
	}
	return len(v) == 1 && v[0] == 1, nil
}

// setFlag writes a one-byte boolean.
func (t *txn) setFlag(key []byte, on bool) {
	var b byte
	if on {
		b = 1
	}
	t.set(key, []byte{b})
}

// getUint64 reads a little-endian u64, 0 when absent.
func (t *txn) getUint64(key []byte) (uint64, error) {
	v, err := t.get(key)
	if err != nil {
		return 0, err
	}

	if v == nil {
		return 0, nil
	}

	if len(v) != 8 {
		return 0, fmt.Errorf("corrupt value at %q: %d bytes", key, len(v))
	}

	return binary.LittleEndian.Uint64(v), nil
}

// setUint64 writes a little-endian u64.
func (t *txn) setUint64(key []byte, n uint64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, n)
	t.set(key, buf)
}

// getActor reads a 32-byte actor.
func (t *txn) getActor(key []byte) (Actor, bool, error) {
	var a Actor

	v, err := t.get(key)
	if err != nil || v == nil {
		return a, false, err
	}

	if len(v) != len(a) {
		return a, false, fmt.Errorf("corrupt actor at %q", key)
	}

	copy(a[:], v)

	return a, true, nil
}

func concat(prefix []byte, parts ...[]byte) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += len(p)
	}

	key := make([]byte, 0, n)
	key = append(key, prefix...)
	for _, p := range parts {
		key = append(key, p...)
	}

	return key
}

func providerKey(a Actor) []byte {
	return concat(prefixProvider, a[:])
}

func cooldownKey(ch channel, a Actor) []byte {
	return concat(prefixCooldown, []byte{byte(ch)}, a[:])
}

func batchBytes(id BatchID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func batchKey(id BatchID) []byte {
	return concat(prefixBatch, batchBytes(id))
}

func aggregateKey(id BatchID) []byte {
	return concat(prefixAggregate, batchBytes(id))
}

func requestKey(id string) []byte {
	return concat(prefixRequest, []byte(id))
}

func eventKey(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return concat(prefixEvent, buf)
}

// encodeAggregate lays out u32 len || sum || u32 len || count (little-endian lengths).
func encodeAggregate(agg EncryptedAggregate) []byte {
	buf := make([]byte, 0, 8+len(agg.Sum)+len(agg.Count))
	buf = appendBlob(buf, agg.Sum)
	buf = appendBlob(buf, agg.Count)
	return buf
}

// decodeAggregate reverses encodeAggregate.
func decodeAggregate(data []byte) (EncryptedAggregate, error) {
	sum, rest, err := readBlob(data)
	if err != nil {
		return EncryptedAggregate{}, fmt.Errorf("decode sum:\n%w", err)
	}

	count, rest, err := readBlob(rest)
	if err != nil {
		return EncryptedAggregate{}, fmt.Errorf("decode count:\n%w", err)
	}

	if len(rest) != 0 {
		return EncryptedAggregate{}, fmt.Errorf("trailing aggregate bytes: %d", len(rest))
	}

	return EncryptedAggregate{Sum: sum, Count: count}, nil
}

func appendBlob(buf, blob []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(blob)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, blob...)
}

func readBlob(data []byte) (blob, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("missing length prefix")
	}

	n := binary.LittleEndian.Uint32(data)
	if uint32(len(data)-4) < n {
		return nil, nil, fmt.Errorf("blob length %d exceeds %d bytes", n, len(data)-4)
	}

	return data[4 : 4+n], data[4+n:], nil
}

// requestRecordSize is batch(8) + fingerprint(32) + processed(1) + requester(32)
// + requestedAt(8) + sum(8) + count(8).
const requestRecordSize = 8 + 32 + 1 + 32 + 8 + 8 + 8

// encodeRequest lays out a request record.
func encodeRequest(r Request) []byte {
	buf := make([]byte, requestRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.Batch))
	copy(buf[8:40], r.Fingerprint[:])
	if r.Processed {
		buf[40] = 1
	}
	copy(buf[41:73], r.Requester[:])
	binary.LittleEndian.PutUint64(buf[73:81], uint64(r.RequestedAt.Unix()))
	binary.LittleEndian.PutUint64(buf[81:89], r.Sum)
	binary.LittleEndian.PutUint64(buf[89:97], r.Count)

	return buf
}

// decodeRequest reverses encodeRequest.
func decodeRequest(id string, data []byte) (Request, error) {
	if len(data) != requestRecordSize {
		return Request{}, fmt.Errorf("corrupt request %q: %d bytes", id, len(data))
	}

	r := Request{
		ID:          id,
		Batch:       BatchID(binary.LittleEndian.Uint64(data[0:8])),
		Processed:   data[40] == 1,
		RequestedAt: time.Unix(int64(binary.LittleEndian.Uint64(data[73:81])), 0).UTC(),
		Sum:         binary.LittleEndian.Uint64(data[81:89]),
		Count:       binary.LittleEndian.Uint64(data[89:97]),
	}
	copy(r.Fingerprint[:], data[8:40])
	copy(r.Requester[:], data[41:73])

	return r, nil
}
