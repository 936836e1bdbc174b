package oracle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"VeilSum/internal/fhe"
	"VeilSum/internal/ledger"
	"VeilSum/internal/proof"
)

// testSigner builds a 3-member committee with threshold 2.
func testSigner(t *testing.T) *proof.Signer {
	t.Helper()

	members := make([]*proof.KeyPair, 3)
	for i := range members {
		kp, err := proof.DeriveMemberKey([]byte("oracle-test-seed"), i)
		if err != nil {
			t.Fatalf("derive member %d: %v", i, err)
		}
		members[i] = kp
	}

	signer, err := proof.NewSigner(members, 2)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	return signer
}

// newTestService starts a Plain-decrypting service.
func newTestService(t *testing.T, d Deliverer) *Service {
	t.Helper()

	s, err := NewService(Config{Decryptor: fhe.Plain{}, Signer: testSigner(t)})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	s.SetDeliverer(d)
	s.Start()
	t.Cleanup(s.Close)

	return s
}

// recorder is a Deliverer that fails the first failures calls with err.
type recorder struct {
	mu        sync.Mutex
	failures  int
	err       error
	attempts  int
	delivered chan delivery
}

func newRecorder() *recorder {
	return &recorder{delivered: make(chan delivery, 8)}
}

func (r *recorder) Deliver(_ context.Context, task Task, cleartexts, p []byte) error {
	r.mu.Lock()
	r.attempts++
	fail := r.attempts <= r.failures
	r.mu.Unlock()

	if fail {
		return r.err
	}

	r.delivered <- delivery{RequestID: task.ID, Cleartexts: cleartexts, Proof: p}

	return nil
}

func (r *recorder) wait(t *testing.T) delivery {
	t.Helper()

	select {
	case d := <-r.delivered:
		return d
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for delivery")
	}

	return delivery{}
}

func TestServiceDelivers(t *testing.T) {
	rec := newRecorder()
	s := newTestService(t, rec)

	id, err := s.RequestDecryption(context.Background(), [][]byte{fhe.Plain{}.Encrypt(30), fhe.Plain{}.Encrypt(2)})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	d := rec.wait(t)
	if d.RequestID != id {
		t.Fatalf("delivered %q, want %q", d.RequestID, id)
	}

	sum, count, err := ledger.DecodeCleartexts(d.Cleartexts)
	if err != nil || sum != 30 || count != 2 {
		t.Fatalf("expected (30, 2), got (%d, %d) err=%v", sum, count, err)
	}

	if err := s.Committee().Verify(id, d.Cleartexts, d.Proof); err != nil {
		t.Fatalf("proof does not verify: %v", err)
	}
}

func TestServiceUniqueIDs(t *testing.T) {
	s := newTestService(t, newRecorder())

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		id, err := s.RequestDecryption(context.Background(), [][]byte{fhe.Plain{}.Encrypt(1), fhe.Plain{}.Encrypt(1)})
		if err != nil {
			t.Fatalf("request: %v", err)
		}

		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

// TestServiceRetriesTransportErrors verifies that a delivery failing in
// transit is retried.
func TestServiceRetriesTransportErrors(t *testing.T) {
	rec := newRecorder()
	rec.failures = 2
	rec.err = errors.New("connection reset")

	s := newTestService(t, rec)

	id, err := s.RequestDecryption(context.Background(), [][]byte{fhe.Plain{}.Encrypt(1), fhe.Plain{}.Encrypt(1)})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if d := rec.wait(t); d.RequestID != id {
		t.Fatalf("delivered %q, want %q", d.RequestID, id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", rec.attempts)
	}
}

// TestServiceStopsOnRejection verifies that a ledger rejection is final.
func TestServiceStopsOnRejection(t *testing.T) {
	rec := newRecorder()
	rec.failures = 1
	rec.err = ledger.ErrStateMismatch

	s := newTestService(t, rec)

	if _, err := s.RequestDecryption(context.Background(), [][]byte{fhe.Plain{}.Encrypt(1), fhe.Plain{}.Encrypt(1)}); err != nil {
		t.Fatalf("request: %v", err)
	}

	select {
	case d := <-rec.delivered:
		t.Fatalf("rejected delivery was retried: %+v", d)
	case <-time.After(2 * retryDelay):
	}
}

func TestServiceValidation(t *testing.T) {
	if _, err := NewService(Config{Signer: testSigner(t)}); err == nil {
		t.Error("expected error without decryptor")
	}

	if _, err := NewService(Config{Decryptor: fhe.Plain{}}); err == nil {
		t.Error("expected error without signer")
	}

	s := newTestService(t, newRecorder())
	if _, err := s.RequestDecryption(context.Background(), [][]byte{{0, 0, 0, 1}}); err == nil {
		t.Error("expected error for a single ciphertext")
	}
}

// TestServiceQueueFull verifies back-pressure when the worker is not running.
func TestServiceQueueFull(t *testing.T) {
	s, err := NewService(Config{Decryptor: fhe.Plain{}, Signer: testSigner(t), QueueSize: 1})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer s.Close()

	cts := [][]byte{fhe.Plain{}.Encrypt(1), fhe.Plain{}.Encrypt(1)}

	if _, err := s.Enqueue(nil, cts); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	if _, err := s.Enqueue(nil, cts); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}
