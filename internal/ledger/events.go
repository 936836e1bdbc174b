package ledger

import (
	"fmt"
	"time"

	evbus "github.com/asaskevich/EventBus"
	flatbuffers "github.com/google/flatbuffers/go"

	"VeilSum/internal/storage"
	"VeilSum/internal/types"
)

// Event kinds.
const (
	EventProviderChanged      = "ProviderChanged"
	EventPaused               = "PausedContract"
	EventUnpaused             = "UnpausedContract"
	EventCooldownChanged      = "CooldownChanged"
	EventBatchOpened          = "BatchOpened"
	EventBatchClosed          = "BatchClosed"
	EventDataSubmitted        = "DataSubmitted"
	EventDecryptionRequested  = "DecryptionRequested"
	EventDecryptionCompleted  = "DecryptionCompleted"
	EventOwnershipTransferred = "OwnershipTransferred"
)

// TopicAll receives every event; each kind is also published on "event:<kind>".
const TopicAll = "event"

// Event is an observable ledger transition. Fields unused by a kind are zero.
type Event struct {
	Seq         uint64    // Seq is the position in the event log, starting at 1
	Time        time.Time // Time is the ledger time of the transition
	Kind        string    // Kind is one of the Event* constants
	Actor       Actor     // Actor is the caller (provider, owner, requester)
	Subject     Actor     // Subject is the affected actor (provider, new owner)
	Batch       BatchID   // Batch is the affected batch
	RequestID   string    // RequestID is the decryption correlation id
	Fingerprint Hash      // Fingerprint is the snapshot fingerprint
	Ciphertext  []byte    // Ciphertext is the submitted ciphertext
	Sum         uint64    // Sum is the revealed sum
	Count       uint64    // Count is the revealed count
	Old         uint64    // Old is the previous parameter value
	New         uint64    // New is the new parameter value
	Flag        bool      // Flag is true when a provider was granted
}

// eventLog persists events and fans them out to in-process subscribers.
type eventLog struct {
	db  *storage.Storage
	bus evbus.Bus
}

func newEventLog(db *storage.Storage) *eventLog {
	return &eventLog{db: db, bus: evbus.New()}
}

// stage assigns sequence numbers to the txn's events and writes them.
func (l *eventLog) stage(t *txn) error {
	if len(t.events) == 0 {
		return nil
	}

	seq, err := t.getUint64(keyEventSeq)
	if err != nil {
		return err
	}

	for i := range t.events {
		seq++
		t.events[i].Seq = seq
		t.set(eventKey(seq), encodeEvent(t.events[i]))
	}

	t.setUint64(keyEventSeq, seq)

	return nil
}

// publish notifies subscribers of committed events, in order.
func (l *eventLog) publish(events []Event) {
	for _, e := range events {
		l.bus.Publish(TopicAll, e)
		l.bus.Publish(TopicAll+":"+e.Kind, e)
	}
}

// list returns up to limit events with Seq >= from.
func (l *eventLog) list(from uint64, limit int) ([]Event, error) {
	if from == 0 {
		from = 1
	}

	var events []Event

	err := l.db.IterateFrom(prefixEvent, eventKey(from), func(key, value []byte) error {
		e, err := decodeEvent(value)
		if err != nil {
			return fmt.Errorf("decode event %x:\n%w", key, err)
		}

		events = append(events, e)
		if limit > 0 && len(events) >= limit {
			return storage.ErrStop
		}

		return nil
	})

	return events, err
}

// encodeEvent serializes an event as a FlatBuffers Event table.
func encodeEvent(e Event) []byte {
	builder := flatbuffers.NewBuilder(256)

	kind := builder.CreateString(e.Kind)
	actor := builder.CreateByteVector(e.Actor[:])
	subject := builder.CreateByteVector(e.Subject[:])
	requestID := builder.CreateString(e.RequestID)
	fingerprint := builder.CreateByteVector(e.Fingerprint[:])
	ciphertext := builder.CreateByteVector(e.Ciphertext)

	types.EventStart(builder)
	types.EventAddSeq(builder, e.Seq)
	types.EventAddTime(builder, e.Time.Unix())
	types.EventAddKind(builder, kind)
	types.EventAddActor(builder, actor)
	types.EventAddSubject(builder, subject)
	types.EventAddBatchId(builder, uint64(e.Batch))
	types.EventAddRequestId(builder, requestID)
	types.EventAddFingerprint(builder, fingerprint)
	types.EventAddCiphertext(builder, ciphertext)
	types.EventAddSum(builder, e.Sum)
	types.EventAddCount(builder, e.Count)
	types.EventAddOldValue(builder, e.Old)
	types.EventAddNewValue(builder, e.New)
	types.EventAddFlag(builder, e.Flag)
	builder.Finish(types.EventEnd(builder))

	return builder.FinishedBytes()
}

// decodeEvent parses a FlatBuffers Event table.
func decodeEvent(data []byte) (e Event, err error) {
	// FlatBuffers panics on malformed data
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed event record")
		}
	}()

	if len(data) < 8 {
		return Event{}, fmt.Errorf("event record too short")
	}

	fb := types.GetRootAsEvent(data, 0)

	e = Event{
		Seq:       fb.Seq(),
		Time:      time.Unix(fb.Time(), 0).UTC(),
		Kind:      string(fb.Kind()),
		Batch:     BatchID(fb.BatchId()),
		RequestID: string(fb.RequestId()),
		Sum:       fb.Sum(),
		Count:     fb.Count(),
		Old:       fb.OldValue(),
		New:       fb.NewValue(),
		Flag:      fb.Flag(),
	}
	copy(e.Actor[:], fb.ActorBytes())
	copy(e.Subject[:], fb.SubjectBytes())
	copy(e.Fingerprint[:], fb.FingerprintBytes())

	if c := fb.CiphertextBytes(); len(c) > 0 {
		e.Ciphertext = append([]byte(nil), c...)
	}

	return e, nil
}
