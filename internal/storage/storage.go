package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

const (
	// defaultSyncInterval is the default interval between WAL syncs.
	defaultSyncInterval = 100 * time.Millisecond
)

// Storage is the ledger's key-value store backed by Pebble.
// All writes go through atomic write batches, which may request a synced
// commit; a background goroutine periodically syncs the WAL to disk.
type Storage struct {
	db        *pebble.DB    // db is the underlying Pebble database
	stopSync  chan struct{} // stopSync signals the sync goroutine to stop
	wg        sync.WaitGroup
	closeOnce sync.Once // closeOnce makes Close idempotent
	closeErr  error
}

// New opens (or creates) a Storage instance at the given path.
func New(path string) (*Storage, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(16 << 20), // 16 MB cache
		MemTableSize:                8 << 20,                   // 8 MB memtable
		MemTableStopWritesThreshold: 2,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}

	s := &Storage{
		db:       db,
		stopSync: make(chan struct{}),
	}

	s.startSyncLoop()

	return s, nil
}

// Get retrieves the value for the given key.
// Returns nil if the key does not exist.
func (s *Storage) Get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	// Copy the value since it's invalid after closer.Close()
	result := make([]byte, len(value))
	copy(result, value)

	return result, nil
}

// Has reports whether the key exists.
func (s *Storage) Has(key []byte) (bool, error) {
	v, err := s.Get(key)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// WriteBatch accumulates writes that are applied atomically on Commit.
// Reads through the Storage do not observe pending writes.
type WriteBatch struct {
	batch *pebble.Batch // batch is the underlying Pebble batch
	err   error         // err is the first error recorded by Set
	size  int           // size counts queued operations
}

// NewWriteBatch starts an empty write batch.
func (s *Storage) NewWriteBatch() *WriteBatch {
	return &WriteBatch{batch: s.db.NewBatch()}
}

// Set queues a key-value write.
func (w *WriteBatch) Set(key, value []byte) {
	if w.err != nil {
		return
	}
	w.err = w.batch.Set(key, value, nil)
	w.size++
}

// Len returns the number of queued operations.
func (w *WriteBatch) Len() int {
	return w.size
}

// Commit applies every queued write or none of them.
// When durable is true the WAL is synced before returning.
func (w *WriteBatch) Commit(durable bool) error {
	if w.err != nil {
		return w.err
	}

	opts := pebble.NoSync
	if durable {
		opts = pebble.Sync
	}

	return w.batch.Commit(opts)
}

// Close releases the batch. Uncommitted writes are discarded.
func (w *WriteBatch) Close() {
	_ = w.batch.Close()
}

// Iterate calls fn for each key-value pair in the database.
// If fn returns an error, iteration stops and the error is returned.
// Keys are visited in lexicographic order.
func (s *Storage) Iterate(fn func(key, value []byte) error) error {
	return s.iterate(nil, fn)
}

// IterateFrom calls fn for keys in [start, prefix upper bound) in order.
func (s *Storage) IterateFrom(prefix, start []byte, fn func(key, value []byte) error) error {
	return s.iterate(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: prefixUpperBound(prefix),
	}, fn)
}

// ErrStop may be returned by iteration callbacks to stop without error.
var ErrStop = errors.New("stop iteration")

func (s *Storage) iterate(opts *pebble.IterOptions, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(opts)
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		if err := fn(iter.Key(), value); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}

	return iter.Error()
}

// prefixUpperBound computes the exclusive upper bound for a prefix scan.
// Increments the last byte; returns nil if prefix is all 0xFF (full range).
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}

	return nil // all 0xFF → unbounded
}

// Close stops the sync goroutine and closes the database.
// It performs a final sync before closing. Later calls return the first result.
func (s *Storage) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopSync)
		s.wg.Wait()

		if err := s.sync(); err != nil {
			s.closeErr = err
			return
		}

		s.closeErr = s.db.Close()
	})

	return s.closeErr
}

// startSyncLoop starts the background goroutine that periodically syncs the WAL.
func (s *Storage) startSyncLoop() {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(defaultSyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.sync()
			case <-s.stopSync:
				return
			}
		}
	}()
}

// sync forces a WAL sync to disk.
func (s *Storage) sync() error {
	return s.db.LogData(nil, pebble.Sync)
}
