package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"VeilSum/internal/logger"
	"VeilSum/internal/storage"
)

const (
	// defaultInterval is the default interval between snapshots.
	defaultInterval = time.Minute

	// latestFile is the name of the snapshot kept in the manager directory.
	latestFile = "latest.snap"
)

// Head reports the position of the ledger history.
type Head interface {
	// EventSeq returns the sequence number of the last committed event.
	EventSeq() (uint64, error)
}

// Manager creates periodic snapshots of the store whenever the ledger
// history moved.
type Manager struct {
	db       *storage.Storage
	head     Head
	dir      string // dir receives latest.snap, empty keeps snapshots in memory only
	interval time.Duration

	mu      sync.RWMutex
	current []byte // current is the compressed snapshot
	seq     uint64 // seq is the event sequence of current

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a snapshot manager. A zero interval uses one minute.
func NewManager(db *storage.Storage, head Head, dir string, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Manager{
		db:       db,
		head:     head,
		dir:      dir,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the periodic snapshot creation loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop stops the manager and waits for it to finish.
func (m *Manager) Stop() {
	close(m.stop)
	m.wg.Wait()
}

// Latest returns the most recent compressed snapshot and its event sequence.
// Returns nil if no snapshot has been created yet.
func (m *Manager) Latest() (data []byte, seq uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.current, m.seq
}

// loop runs the periodic snapshot creation.
func (m *Manager) loop() {
	defer m.wg.Done()

	m.refresh()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.refresh()
		}
	}
}

// refresh creates a snapshot unless the history did not move since the last one.
func (m *Manager) refresh() {
	seq, err := m.head.EventSeq()
	if err != nil {
		logger.Error("read event sequence", "error", err)
		return
	}

	m.mu.RLock()
	unchanged := m.current != nil && seq == m.seq
	m.mu.RUnlock()

	if unchanged {
		return
	}

	start := time.Now()

	data, err := Create(m.db)
	if err != nil {
		logger.Error("create snapshot", "error", err)
		return
	}

	if err := m.persist(data); err != nil {
		logger.Error("persist snapshot", "error", err)
	}

	m.mu.Lock()
	m.current = data
	m.seq = seq
	m.mu.Unlock()

	logger.Debug("snapshot created", "seq", seq, "compressed", len(data), logger.Timed(start))
}

// persist atomically replaces latest.snap in the manager directory.
func (m *Manager) persist(data []byte) error {
	if m.dir == "" {
		return nil
	}

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("create snapshot directory:\n%w", err)
	}

	tmp := filepath.Join(m.dir, latestFile+".tmp")
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write snapshot:\n%w", err)
	}

	return os.Rename(tmp, filepath.Join(m.dir, latestFile))
}
