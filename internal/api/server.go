// Package api serves the ledger over HTTP.
//
// Mutating routes require a signed request (see RequestDigest); the signer's
// public key is the ledger actor. Views are unauthenticated.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"VeilSum/internal/ledger"
	"VeilSum/internal/logger"
	"VeilSum/internal/metrics"
)

// SnapshotSource provides the latest store snapshot.
type SnapshotSource interface {
	Latest() (data []byte, seq uint64)
}

// Config holds the API server parameters.
type Config struct {
	Addr      string           // Addr is the HTTP listen address
	Ledger    *ledger.Ledger   // Ledger is the served state machine
	Metrics   *metrics.Metrics // Metrics records requests and serves /metrics (optional)
	Snapshots SnapshotSource   // Snapshots serves GET /snapshot (optional)
	Clock     func() time.Time // Clock validates request timestamps (defaults to time.Now)
}

// Server is the HTTP API server.
type Server struct {
	addr     string           // addr is the HTTP listen address
	ledger   *ledger.Ledger   // ledger executes the operations
	metrics  *metrics.Metrics // metrics records requests, may be nil
	snaps    SnapshotSource   // snaps provides snapshots, may be nil
	clock    func() time.Time // clock validates request timestamps
	stream   *stream          // stream pushes events to websocket clients
	handler  http.Handler     // handler is the routed and instrumented mux
	listener net.Listener     // listener is bound by Start
	server   *http.Server     // server is the underlying HTTP server
}

// New creates a new HTTP API server and subscribes it to the ledger events.
func New(cfg Config) (*Server, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	s := &Server{
		addr:    cfg.Addr,
		ledger:  cfg.Ledger,
		metrics: cfg.Metrics,
		snaps:   cfg.Snapshots,
		clock:   clock,
		stream:  newStream(),
	}

	if err := cfg.Ledger.Subscribe(ledger.TopicAll, s.stream.publish); err != nil {
		return nil, fmt.Errorf("subscribe event stream:\n%w", err)
	}

	s.handler = s.instrument(s.routes())

	return s, nil
}

// routes registers every endpoint.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /providers/{actor}", s.signed(s.handleGrantProvider))
	mux.HandleFunc("DELETE /providers/{actor}", s.signed(s.handleRevokeProvider))
	mux.HandleFunc("POST /pause", s.signed(s.handlePause))
	mux.HandleFunc("POST /unpause", s.signed(s.handleUnpause))
	mux.HandleFunc("PUT /cooldown", s.signed(s.handleSetCooldown))
	mux.HandleFunc("POST /owner", s.signed(s.handleTransferOwnership))
	mux.HandleFunc("POST /batches/{id}/open", s.signed(s.handleOpenBatch))
	mux.HandleFunc("POST /batches/{id}/close", s.signed(s.handleCloseBatch))
	mux.HandleFunc("POST /batches/{id}/submissions", s.signed(s.handleSubmit))
	mux.HandleFunc("POST /batches/{id}/aggregations", s.signed(s.handleRequestAggregation))

	mux.HandleFunc("GET /batches/{id}", s.handleBatch)
	mux.HandleFunc("GET /requests/{id}", s.handleRequest)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /events/ws", s.stream.serve)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /encryption-key", s.handleEncryptionKey)
	mux.HandleFunc("GET /snapshot", s.handleSnapshot)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return mux
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listen address and serves in a goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s:\n%w", s.addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:     s.handler,
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", ln.Addr().String())

		if err := s.server.Serve(ln); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.addr
}

// Stop closes the event streams and gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.stream.close()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// signedHandler serves an authenticated request.
type signedHandler func(w http.ResponseWriter, r *http.Request, caller ledger.Actor, body []byte)

// signed verifies the request signature before calling h.
func (s *Server) signed(h signedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, body, err := authenticate(r, s.clock())
		if err != nil {
			logger.Debug("rejected unsigned request", "path", r.URL.Path, "error", err)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error(), Kind: "Unauthenticated"})
			return
		}

		h(w, r, caller, body)
	}
}

// instrument records every request in the metrics.
func (s *Server) instrument(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}

		s.metrics.ObserveRequest(r.Method, route, rec.status, time.Since(start))
	})
}

// statusRecorder captures the response status.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}

	r.status = http.StatusSwitchingProtocols

	return h.Hijack()
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps a ledger error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrCooldownActive):
		return http.StatusTooManyRequests
	case errors.Is(err, ledger.ErrSystemPaused),
		errors.Is(err, ledger.ErrOracleUnavailable),
		errors.Is(err, ledger.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrInvalidParameter),
		errors.Is(err, ledger.ErrInvalidCiphertext),
		errors.Is(err, ledger.ErrInvalidProof),
		errors.Is(err, ledger.ErrMalformedCleartexts):
		return http.StatusBadRequest
	case ledger.IsRejection(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}

	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: ledger.Kind(err)})
}

// writeBadRequest writes a 400 for a malformed request.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: message, Kind: ledger.Kind(ledger.ErrInvalidParameter)})
}
