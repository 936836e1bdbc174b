package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"VeilSum/internal/fhe"
	"VeilSum/internal/ledger"
)

const (
	// defaultEventLimit is the page size of GET /events without a limit.
	defaultEventLimit = 100

	// maxEventLimit caps the page size of GET /events.
	maxEventLimit = 1000
)

// handleGrantProvider handles POST /providers/{actor}.
func (s *Server) handleGrantProvider(w http.ResponseWriter, r *http.Request, caller ledger.Actor, _ []byte) {
	target, err := ledger.ParseActor(r.PathValue("actor"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	s.respond(w, s.ledger.GrantProvider(caller, target))
}

// handleRevokeProvider handles DELETE /providers/{actor}.
func (s *Server) handleRevokeProvider(w http.ResponseWriter, r *http.Request, caller ledger.Actor, _ []byte) {
	target, err := ledger.ParseActor(r.PathValue("actor"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	s.respond(w, s.ledger.RevokeProvider(caller, target))
}

// handlePause handles POST /pause.
func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request, caller ledger.Actor, _ []byte) {
	s.respond(w, s.ledger.Pause(caller))
}

// handleUnpause handles POST /unpause.
func (s *Server) handleUnpause(w http.ResponseWriter, _ *http.Request, caller ledger.Actor, _ []byte) {
	s.respond(w, s.ledger.Unpause(caller))
}

// handleSetCooldown handles PUT /cooldown.
func (s *Server) handleSetCooldown(w http.ResponseWriter, _ *http.Request, caller ledger.Actor, body []byte) {
	var req struct {
		Seconds uint64 `json:"seconds"`
	}

	if err := json.Unmarshal(body, &req); err != nil {
		writeBadRequest(w, "invalid body: "+err.Error())
		return
	}

	s.respond(w, s.ledger.SetCooldown(caller, req.Seconds))
}

// handleTransferOwnership handles POST /owner.
func (s *Server) handleTransferOwnership(w http.ResponseWriter, _ *http.Request, caller ledger.Actor, body []byte) {
	var req struct {
		Owner string `json:"owner"`
	}

	if err := json.Unmarshal(body, &req); err != nil {
		writeBadRequest(w, "invalid body: "+err.Error())
		return
	}

	next, err := ledger.ParseActor(req.Owner)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	s.respond(w, s.ledger.TransferOwnership(caller, next))
}

// handleOpenBatch handles POST /batches/{id}/open.
func (s *Server) handleOpenBatch(w http.ResponseWriter, r *http.Request, caller ledger.Actor, _ []byte) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}

	s.respond(w, s.ledger.OpenBatch(caller, id))
}

// handleCloseBatch handles POST /batches/{id}/close.
func (s *Server) handleCloseBatch(w http.ResponseWriter, r *http.Request, caller ledger.Actor, _ []byte) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}

	s.respond(w, s.ledger.CloseBatch(caller, id))
}

// handleSubmit handles POST /batches/{id}/submissions.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, caller ledger.Actor, body []byte) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}

	var req struct {
		Ciphertext string `json:"ciphertext"`
	}

	if err := json.Unmarshal(body, &req); err != nil {
		writeBadRequest(w, "invalid body: "+err.Error())
		return
	}

	ct, err := hex.DecodeString(req.Ciphertext)
	if err != nil {
		writeBadRequest(w, "invalid ciphertext encoding")
		return
	}

	s.respond(w, s.ledger.Submit(caller, id, ct))
}

// handleRequestAggregation handles POST /batches/{id}/aggregations.
func (s *Server) handleRequestAggregation(w http.ResponseWriter, r *http.Request, caller ledger.Actor, _ []byte) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}

	requestID, fp, err := s.ledger.RequestAggregation(r.Context(), caller, id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, AggregationView{
		RequestID:   requestID,
		Fingerprint: fp.String(),
	})
}

// handleBatch handles GET /batches/{id}.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}

	st, err := s.ledger.Batch(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BatchView{
		ID:          uint64(id),
		Open:        st.Open,
		Sum:         hex.EncodeToString(st.Aggregate.Sum),
		Count:       hex.EncodeToString(st.Aggregate.Count),
		Fingerprint: st.Fingerprint.String(),
	})
}

// handleRequest handles GET /requests/{id}.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	req, found, err := s.ledger.Request(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	if !found {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown request", Kind: "NotFound"})
		return
	}

	writeJSON(w, http.StatusOK, newRequestView(req))
}

// handleEvents handles GET /events?from=&limit=.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	from, err := queryUint(r, "from", 1)
	if err != nil {
		writeBadRequest(w, "invalid from")
		return
	}

	limit, err := queryUint(r, "limit", defaultEventLimit)
	if err != nil || limit == 0 {
		writeBadRequest(w, "invalid limit")
		return
	}

	limit = min(limit, maxEventLimit)

	events, err := s.ledger.Events(from, int(limit))
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]EventView, 0, len(events))
	for _, e := range events {
		views = append(views, newEventView(e))
	}

	writeJSON(w, http.StatusOK, views)
}

// handleStatus handles GET /status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	owner, err := s.ledger.Owner()
	if err != nil {
		writeError(w, err)
		return
	}

	paused, err := s.ledger.Paused()
	if err != nil {
		writeError(w, err)
		return
	}

	cooldown, err := s.ledger.Cooldown()
	if err != nil {
		writeError(w, err)
		return
	}

	identity, err := s.ledger.Identity()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusView{
		Owner:    owner.String(),
		Paused:   paused,
		Cooldown: cooldown,
		Identity: identity.String(),
		Scheme:   s.ledger.Scheme().Name(),
	})
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleEncryptionKey handles GET /encryption-key.
func (s *Server) handleEncryptionKey(w http.ResponseWriter, _ *http.Request) {
	p, ok := s.ledger.Scheme().(*fhe.Paillier)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error: "scheme " + s.ledger.Scheme().Name() + " has no public key",
			Kind:  "NotFound",
		})
		return
	}

	writeJSON(w, http.StatusOK, p.PublicKey())
}

// handleSnapshot handles GET /snapshot.
func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	var data []byte
	var seq uint64

	if s.snaps != nil {
		data, seq = s.snaps.Latest()
	}

	if data == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no snapshot available", Kind: "NotFound"})
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(HeaderEventSeq, strconv.FormatUint(seq, 10))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// respond writes 204 on success or the mapped error.
func (s *Server) respond(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// batchID parses the {id} path value, writing a 400 on failure.
func batchID(w http.ResponseWriter, r *http.Request) (ledger.BatchID, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid batch id")
		return 0, false
	}

	return ledger.BatchID(id), true
}

// queryUint parses an optional unsigned query parameter.
func queryUint(r *http.Request, name string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}

	return strconv.ParseUint(raw, 10, 64)
}
