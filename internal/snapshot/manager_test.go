package snapshot

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// mockHead implements Head for testing.
type mockHead struct {
	seq atomic.Uint64
}

func (h *mockHead) EventSeq() (uint64, error) {
	return h.seq.Load(), nil
}

// waitSnapshot polls until the manager holds a snapshot at seq.
func waitSnapshot(t *testing.T, m *Manager, seq uint64) []byte {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if data, got := m.Latest(); data != nil && got == seq {
			return data
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timeout waiting for snapshot at seq %d", seq)
	return nil
}

// TestManager_CreatesInitialSnapshot verifies that a snapshot exists right
// after Start and is written to the directory.
func TestManager_CreatesInitialSnapshot(t *testing.T) {
	db := newTestStorage(t)
	fill(t, db, 5)

	head := &mockHead{}
	head.seq.Store(3)

	dir := t.TempDir()
	m := NewManager(db, head, dir, time.Hour)
	m.Start()
	defer m.Stop()

	data := waitSnapshot(t, m, 3)

	onDisk, err := os.ReadFile(filepath.Join(dir, latestFile))
	if err != nil {
		t.Fatalf("read latest: %v", err)
	}

	if string(onDisk) != string(data) {
		t.Error("file differs from the in-memory snapshot")
	}
}

// TestManager_UpdatesWhenHistoryMoves verifies that a new snapshot is taken
// once the event sequence advances.
func TestManager_UpdatesWhenHistoryMoves(t *testing.T) {
	db := newTestStorage(t)
	fill(t, db, 2)

	head := &mockHead{}
	m := NewManager(db, head, "", 20*time.Millisecond)
	m.Start()
	defer m.Stop()

	first := waitSnapshot(t, m, 0)

	fill(t, db, 10)
	head.seq.Store(1)

	second := waitSnapshot(t, m, 1)

	if string(first) == string(second) {
		t.Error("snapshot should change after new writes")
	}

	restored := newTestStorage(t)
	n, err := Apply(restored, second)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if n != 10 {
		t.Errorf("restored %d entries, want 10", n)
	}
}
