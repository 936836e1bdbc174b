package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"VeilSum/internal/fhe"
	"VeilSum/internal/storage"
)

const testCooldown = 60

var (
	testOwner    = Actor{0x01}
	testProvA    = Actor{0x0a}
	testProvB    = Actor{0x0b}
	testOutsider = Actor{0xee}
	testIdentity = Hash{0x42}
	testProof    = []byte("valid-proof")
	errRefused   = errors.New("refused")
)

// fakeOracle hands out sequential request ids and records what it was sent.
type fakeOracle struct {
	mu      sync.Mutex
	next    int
	fail    bool
	batches [][][]byte
}

func (o *fakeOracle) RequestDecryption(_ context.Context, ciphertexts [][]byte) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.fail {
		return "", errRefused
	}

	o.next++
	o.batches = append(o.batches, ciphertexts)

	return fmt.Sprintf("req-%d", o.next), nil
}

// fakeVerifier accepts testProof only.
type fakeVerifier struct{}

func (fakeVerifier) Verify(_ string, _, proof []byte) error {
	if !bytes.Equal(proof, testProof) {
		return errRefused
	}
	return nil
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testEnv is an initialized ledger over the Plain scheme.
type testEnv struct {
	ledger *Ledger
	db     *storage.Storage
	path   string
	clock  *testClock
	oracle *fakeOracle
}

// newTestEnv creates a ledger with testOwner as owner and both test
// providers allow-listed.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		path:   filepath.Join(t.TempDir(), "ledger"),
		clock:  &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		oracle: &fakeOracle{},
	}

	env.open(t)

	if err := env.ledger.Genesis(testOwner, testCooldown, testIdentity); err != nil {
		t.Fatalf("genesis: %v", err)
	}

	for _, p := range []Actor{testProvA, testProvB} {
		if err := env.ledger.GrantProvider(testOwner, p); err != nil {
			t.Fatalf("grant provider: %v", err)
		}
	}

	return env
}

// open (re)opens the ledger over env.path.
func (env *testEnv) open(t *testing.T) {
	t.Helper()

	db, err := storage.New(env.path)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}

	l, err := New(Config{
		Storage:  db,
		Scheme:   fhe.Plain{},
		Oracle:   env.oracle,
		Verifier: fakeVerifier{},
		Clock:    env.clock.Now,
	})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	env.db = db
	env.ledger = l

	t.Cleanup(func() { db.Close() })
}

// reopen closes the storage and opens a fresh ledger over the same files.
func (env *testEnv) reopen(t *testing.T) {
	t.Helper()

	if err := env.db.Close(); err != nil {
		t.Fatalf("close storage: %v", err)
	}

	env.open(t)
}

// submit folds v into batch id as provider p and fails the test on error.
func (env *testEnv) submit(t *testing.T, p Actor, id BatchID, v uint64) {
	t.Helper()

	if err := env.ledger.Submit(p, id, fhe.Plain{}.Encrypt(v)); err != nil {
		t.Fatalf("submit %d by %s: %v", v, p.String()[:4], err)
	}
}

// openBatch opens id as owner.
func (env *testEnv) openBatch(t *testing.T, id BatchID) {
	t.Helper()

	if err := env.ledger.OpenBatch(testOwner, id); err != nil {
		t.Fatalf("open batch %d: %v", id, err)
	}
}

// closeBatch closes id as owner.
func (env *testEnv) closeBatch(t *testing.T, id BatchID) {
	t.Helper()

	if err := env.ledger.CloseBatch(testOwner, id); err != nil {
		t.Fatalf("close batch %d: %v", id, err)
	}
}

// request asks for the aggregate of id and fails the test on error.
func (env *testEnv) request(t *testing.T, caller Actor, id BatchID) string {
	t.Helper()

	reqID, _, err := env.ledger.RequestAggregation(context.Background(), caller, id)
	if err != nil {
		t.Fatalf("request aggregation of batch %d: %v", id, err)
	}

	return reqID
}

// lastEvent returns the most recent persisted event.
func (env *testEnv) lastEvent(t *testing.T) Event {
	t.Helper()

	events, err := env.ledger.Events(0, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}

	if len(events) == 0 {
		t.Fatal("no events")
	}

	return events[len(events)-1]
}

// cleartexts encodes (sum, count) for a delivery.
func cleartexts(t *testing.T, sum, count uint64) []byte {
	t.Helper()

	var s, c big.Int
	out, err := EncodeCleartexts(s.SetUint64(sum), c.SetUint64(count))
	if err != nil {
		t.Fatalf("encode cleartexts: %v", err)
	}

	return out
}

// expectKind fails unless err is the given ledger rejection.
func expectKind(t *testing.T, err, want error) {
	t.Helper()

	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}
