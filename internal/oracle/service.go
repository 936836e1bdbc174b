// Package oracle is the external decryption service of the ledger.
//
// A Service holds the decryption key and the committee signing keys. It
// accepts ciphertext pairs, answers at once with a correlation id and later
// delivers the decrypted words with a committee proof through a Deliverer.
// Client and Server carry the same exchange over the QUIC transport.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"VeilSum/internal/fhe"
	"VeilSum/internal/ledger"
	"VeilSum/internal/logger"
	"VeilSum/internal/proof"
)

const (
	// defaultQueueSize is the number of tasks buffered before refusing new ones.
	defaultQueueSize = 256

	// maxDeliveryAttempts bounds retries of a delivery that failed in transit.
	maxDeliveryAttempts = 5

	// retryDelay is the initial delay between delivery attempts.
	retryDelay = 500 * time.Millisecond

	// deliveryTimeout bounds a single delivery attempt.
	deliveryTimeout = 10 * time.Second
)

// ErrQueueFull is returned when the service cannot accept more tasks.
var ErrQueueFull = errors.New("oracle queue full")

// Task is one pending decryption.
type Task struct {
	ID          string    // ID is the correlation id returned to the ledger
	Origin      []byte    // Origin is the transport key of the requesting ledger (nil in-process)
	Ciphertexts [][]byte  // Ciphertexts are the serialized sum and count
	Received    time.Time // Received is when the task was accepted
}

// Deliverer hands a finished decryption back to the ledger.
// Returning a ledger rejection stops retries.
type Deliverer interface {
	Deliver(ctx context.Context, task Task, cleartexts, proof []byte) error
}

// Config holds the configuration of a Service.
type Config struct {
	Decryptor fhe.Decryptor // Decryptor recovers plaintexts
	Signer    *proof.Signer // Signer produces committee proofs
	Delay     time.Duration // Delay is waited before each decryption
	QueueSize int           // QueueSize bounds pending tasks (default 256)
}

// Service is the decryption oracle.
type Service struct {
	decryptor fhe.Decryptor
	signer    *proof.Signer
	delay     time.Duration

	tasks chan Task // tasks feeds the worker

	deliverer   Deliverer
	delivererMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a stopped Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Decryptor == nil {
		return nil, fmt.Errorf("decryptor is required")
	}

	if cfg.Signer == nil {
		return nil, fmt.Errorf("committee signer is required")
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		decryptor: cfg.Decryptor,
		signer:    cfg.Signer,
		delay:     cfg.Delay,
		tasks:     make(chan Task, size),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// SetDeliverer sets where finished decryptions are sent.
func (s *Service) SetDeliverer(d Deliverer) {
	s.delivererMu.Lock()
	s.deliverer = d
	s.delivererMu.Unlock()
}

// Committee returns the verification view of the signing committee.
func (s *Service) Committee() *proof.Committee {
	return s.signer.Committee()
}

// Start launches the worker.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.worker()
}

// Close stops the worker. Queued tasks are dropped.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// RequestDecryption queues an in-process task and returns its id.
func (s *Service) RequestDecryption(_ context.Context, ciphertexts [][]byte) (string, error) {
	return s.Enqueue(nil, ciphertexts)
}

// Enqueue queues a task from origin and returns its id.
func (s *Service) Enqueue(origin []byte, ciphertexts [][]byte) (string, error) {
	if len(ciphertexts) != 2 {
		return "", fmt.Errorf("expected sum and count ciphertexts, got %d", len(ciphertexts))
	}

	if s.ctx.Err() != nil {
		return "", fmt.Errorf("oracle stopped")
	}

	task := Task{
		ID:          uuid.NewString(),
		Origin:      origin,
		Ciphertexts: ciphertexts,
		Received:    time.Now(),
	}

	select {
	case s.tasks <- task:
	default:
		return "", ErrQueueFull
	}

	logger.Debug("decryption task queued", "id", task.ID, "pending", len(s.tasks))

	return task.ID, nil
}

// worker processes tasks in arrival order.
func (s *Service) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case task := <-s.tasks:
			s.process(task)
		}
	}
}

// process decrypts, proves and delivers one task.
func (s *Service) process(task Task) {
	if s.delay > 0 {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.delay):
		}
	}

	log := logger.With("id", task.ID)
	start := time.Now()

	cleartexts, err := s.decrypt(task)
	if err != nil {
		log.Error("decryption failed", "error", err)
		return
	}

	p, err := s.signer.Prove(task.ID, cleartexts)
	if err != nil {
		log.Error("proof failed", "error", err)
		return
	}

	log.Debug("decryption proven", logger.Timed(start))

	s.deliver(task, cleartexts, p)
}

// decrypt recovers (sum, count) and lays them out as cleartext words.
func (s *Service) decrypt(task Task) ([]byte, error) {
	sum, err := s.decryptor.Decrypt(task.Ciphertexts[0])
	if err != nil {
		return nil, fmt.Errorf("decrypt sum:\n%w", err)
	}

	count, err := s.decryptor.Decrypt(task.Ciphertexts[1])
	if err != nil {
		return nil, fmt.Errorf("decrypt count:\n%w", err)
	}

	return ledger.EncodeCleartexts(sum, count)
}

// deliver sends the result, retrying transport failures with backoff.
func (s *Service) deliver(task Task, cleartexts, p []byte) {
	s.delivererMu.RLock()
	d := s.deliverer
	s.delivererMu.RUnlock()

	if d == nil {
		logger.Warn("no deliverer, dropping result", "id", task.ID)
		return
	}

	delay := retryDelay

	for attempt := 1; attempt <= maxDeliveryAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(s.ctx, deliveryTimeout)
		err := d.Deliver(ctx, task, cleartexts, p)
		cancel()

		if err == nil {
			logger.Info("decryption delivered", "id", task.ID, "latency", time.Since(task.Received))
			return
		}

		if ledger.IsRejection(err) {
			logger.Warn("delivery rejected", "id", task.ID, "kind", ledger.Kind(err))
			return
		}

		logger.Warn("delivery failed", "id", task.ID, "attempt", attempt, "error", err)

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
	}

	logger.Error("delivery abandoned", "id", task.ID, "attempts", maxDeliveryAttempts)
}

// Local delivers straight into an in-process ledger.
type Local struct {
	Ledger *ledger.Ledger
}

// Deliver implements Deliverer.
func (l Local) Deliver(_ context.Context, task Task, cleartexts, proof []byte) error {
	res, err := l.Ledger.Deliver(task.ID, cleartexts, proof)
	if err != nil {
		return err
	}

	logger.Debug("aggregate revealed", "id", res.RequestID, "batch", res.Batch, "sum", res.Sum, "count", res.Count)

	return nil
}
