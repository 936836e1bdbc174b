// Package ledger is the aggregation and decryption state machine.
//
// Every mutating operation runs under a single lock, stages its reads and
// writes in a txn and commits them in one atomic storage batch together with
// the events it emits. Operations are therefore applied in a strict total
// order and a rejected operation leaves no trace.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"VeilSum/internal/fhe"
	"VeilSum/internal/logger"
	"VeilSum/internal/storage"
)

// Oracle forwards ciphertexts to the external decryption service and returns
// the correlation id of the pending decryption.
type Oracle interface {
	RequestDecryption(ctx context.Context, ciphertexts [][]byte) (string, error)
}

// ProofVerifier authenticates an oracle delivery over (id, cleartexts).
type ProofVerifier interface {
	Verify(requestID string, cleartexts, proof []byte) error
}

// Observer is told the outcome of every operation.
type Observer interface {
	Observe(op string, err error)
}

// Config holds the collaborators of a Ledger.
type Config struct {
	Storage  *storage.Storage // Storage persists the ledger state
	Scheme   fhe.Scheme       // Scheme folds ciphertexts
	Oracle   Oracle           // Oracle decrypts aggregates
	Verifier ProofVerifier    // Verifier checks oracle proofs
	Observer Observer         // Observer receives operation outcomes (optional)
	Clock    func() time.Time // Clock returns the ledger time (defaults to time.Now)
}

// Ledger is the aggregation-and-decryption state machine.
type Ledger struct {
	mu       sync.Mutex // mu serializes every mutating operation
	db       *storage.Storage
	scheme   fhe.Scheme
	oracle   Oracle
	verifier ProofVerifier
	observer Observer
	clock    func() time.Time
	events   *eventLog
}

// New creates a Ledger over the given collaborators.
func New(cfg Config) (*Ledger, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}

	if cfg.Scheme == nil {
		return nil, fmt.Errorf("encryption scheme is required")
	}

	if cfg.Oracle == nil || cfg.Verifier == nil {
		return nil, fmt.Errorf("oracle and proof verifier are required")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Ledger{
		db:       cfg.Storage,
		scheme:   cfg.Scheme,
		oracle:   cfg.Oracle,
		verifier: cfg.Verifier,
		observer: cfg.Observer,
		clock:    clock,
		events:   newEventLog(cfg.Storage),
	}, nil
}

// Genesis initialises the global configuration. It can run only once.
func (l *Ledger) Genesis(owner Actor, cooldownSeconds uint64, identity Hash) error {
	return l.apply("genesis", func(t *txn) error {
		if _, ok, err := t.getActor(keyOwner); err != nil {
			return err
		} else if ok {
			return ErrAlreadyInitialized
		}

		if owner.IsZero() || cooldownSeconds == 0 || identity == (Hash{}) {
			return fmt.Errorf("%w: owner, cooldown and identity must be set", ErrInvalidParameter)
		}

		t.set(keyOwner, owner[:])
		t.setFlag(keyPaused, false)
		t.setUint64(keyCooldown, cooldownSeconds)
		t.set(keyIdentity, identity[:])

		logger.Info("ledger genesis", "owner", owner.String()[:16], "cooldown", cooldownSeconds)

		return nil
	})
}

// Initialized reports whether Genesis has run.
func (l *Ledger) Initialized() (bool, error) {
	ok, err := l.db.Has(keyOwner)
	if err != nil {
		return false, fmt.Errorf("read owner:\n%w", err)
	}
	return ok, nil
}

// apply runs fn under the ledger lock and commits its writes and events
// atomically. On error nothing is written.
func (l *Ledger) apply(op string, fn func(t *txn) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := &txn{
		db:     l.db,
		writes: make(map[string][]byte),
		now:    l.clock(),
	}

	err := fn(t)
	if err == nil {
		err = l.commit(t)
	}

	l.observe(op, err)

	if err != nil {
		logger.Debug("ledger op rejected", "op", op, "kind", Kind(err), "error", err)
		return err
	}

	l.events.publish(t.events)

	return nil
}

// commit writes the txn in one durable batch.
func (l *Ledger) commit(t *txn) error {
	if err := l.events.stage(t); err != nil {
		return err
	}

	wb := l.db.NewWriteBatch()
	defer wb.Close()

	t.flush(wb)

	if err := wb.Commit(true); err != nil {
		return fmt.Errorf("commit:\n%w", err)
	}

	return nil
}

func (l *Ledger) observe(op string, err error) {
	if l.observer != nil {
		l.observer.Observe(op, err)
	}
}

// view runs a read-only fn against committed state.
func (l *Ledger) view(fn func(t *txn) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return fn(&txn{db: l.db, writes: map[string][]byte{}, now: l.clock()})
}

// Scheme returns the encryption capability the ledger folds with.
func (l *Ledger) Scheme() fhe.Scheme {
	return l.scheme
}

// Identity returns the ledger identity bound into every fingerprint.
func (l *Ledger) Identity() (Hash, error) {
	var id Hash

	err := l.view(func(t *txn) error {
		var err error
		id, err = t.identity()
		return err
	})

	return id, err
}

// identity reads the ledger identity.
func (t *txn) identity() (Hash, error) {
	var id Hash

	v, err := t.get(keyIdentity)
	if err != nil {
		return id, err
	}

	if len(v) != len(id) {
		return id, ErrNotInitialized
	}

	copy(id[:], v)

	return id, nil
}

// Events returns up to limit persisted events with sequence >= from.
func (l *Ledger) Events(from uint64, limit int) ([]Event, error) {
	return l.events.list(from, limit)
}

// EventSeq returns the sequence number of the last committed event, 0 when
// none was emitted yet.
func (l *Ledger) EventSeq() (uint64, error) {
	var seq uint64

	err := l.view(func(t *txn) error {
		var err error
		seq, err = t.getUint64(keyEventSeq)
		return err
	})

	return seq, err
}

// Subscribe registers fn for committed events on topic (TopicAll or
// TopicAll+":"+kind). fn receives each Event in commit order while the ledger
// is locked: it must not block or call back into the ledger.
func (l *Ledger) Subscribe(topic string, fn func(Event)) error {
	return l.events.bus.Subscribe(topic, fn)
}
