package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"VeilSum/internal/fhe"
	"VeilSum/internal/ledger"
	"VeilSum/internal/metrics"
	"VeilSum/internal/storage"
)

// seqOracle hands out sequential request ids.
type seqOracle struct {
	mu   sync.Mutex
	next int
}

func (o *seqOracle) RequestDecryption(context.Context, [][]byte) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.next++

	return fmt.Sprintf("req-%d", o.next), nil
}

// acceptAll accepts every proof.
type acceptAll struct{}

func (acceptAll) Verify(string, []byte, []byte) error { return nil }

// testAPI is a served ledger with an owner and one provider.
type testAPI struct {
	server   *Server
	http     *httptest.Server
	ledger   *ledger.Ledger
	owner    ed25519.PrivateKey
	provider ed25519.PrivateKey
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "ledger"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	l, err := ledger.New(ledger.Config{
		Storage:  db,
		Scheme:   fhe.Plain{},
		Oracle:   &seqOracle{},
		Verifier: acceptAll{},
	})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	a := &testAPI{ledger: l, owner: newKey(t), provider: newKey(t)}

	if err := l.Genesis(actorOf(a.owner), 60, ledger.Hash{0x42}); err != nil {
		t.Fatalf("genesis: %v", err)
	}

	a.server, err = New(Config{Ledger: l, Metrics: metrics.New()})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	a.http = httptest.NewServer(a.server.Handler())
	t.Cleanup(func() {
		a.server.Stop()
		a.http.Close()
	})

	return a
}

func newKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	return key
}

func actorOf(key ed25519.PrivateKey) ledger.Actor {
	var a ledger.Actor
	copy(a[:], key.Public().(ed25519.PublicKey))
	return a
}

// do sends a request, signed when key is not nil, and returns the status and body.
func (a *testAPI) do(t *testing.T, key ed25519.PrivateKey, method, path string, body any) (int, []byte) {
	t.Helper()

	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, a.http.URL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	if key != nil {
		Sign(req, key, time.Now(), data)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	return resp.StatusCode, out
}

// expect sends a request and fails unless it returns want.
func (a *testAPI) expect(t *testing.T, want int, key ed25519.PrivateKey, method, path string, body any) []byte {
	t.Helper()

	status, out := a.do(t, key, method, path, body)
	if status != want {
		t.Fatalf("%s %s: status %d, want %d: %s", method, path, status, want, out)
	}

	return out
}

// expectKind sends a request and checks the status and error kind.
func (a *testAPI) expectKind(t *testing.T, want int, kind string, key ed25519.PrivateKey, method, path string, body any) {
	t.Helper()

	out := a.expect(t, want, key, method, path, body)

	var resp errorResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}

	if resp.Kind != kind {
		t.Fatalf("%s %s: kind %q, want %q", method, path, resp.Kind, kind)
	}
}

func (a *testAPI) grantProvider(t *testing.T) {
	t.Helper()
	a.expect(t, http.StatusNoContent, a.owner, "POST", "/providers/"+actorOf(a.provider).String(), nil)
}

func (a *testAPI) submit(t *testing.T, key ed25519.PrivateKey, batch, value uint64) {
	t.Helper()

	body := map[string]string{"ciphertext": fmt.Sprintf("%x", fhe.Plain{}.Encrypt(value))}
	a.expect(t, http.StatusNoContent, key, "POST", fmt.Sprintf("/batches/%d/submissions", batch), body)
}

// TestHealthEndpoint verifies that /health answers without authentication.
func TestHealthEndpoint(t *testing.T) {
	a := newTestAPI(t)

	out := a.expect(t, http.StatusOK, nil, "GET", "/health", nil)

	var resp map[string]string
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

// TestSigned_Rejections verifies that mutating routes refuse unsigned,
// tampered and stale requests.
func TestSigned_Rejections(t *testing.T) {
	a := newTestAPI(t)

	a.expectKind(t, http.StatusUnauthorized, "Unauthenticated", nil, "POST", "/pause", nil)

	send := func(mutate func(*http.Request)) int {
		body := []byte(`{"seconds":5}`)

		req, err := http.NewRequest("PUT", a.http.URL+"/cooldown", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}

		Sign(req, a.owner, time.Now(), body)
		mutate(req)

		if req.Body, err = req.GetBody(); err != nil {
			t.Fatalf("get body: %v", err)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("do: %v", err)
		}
		resp.Body.Close()

		return resp.StatusCode
	}

	if status := send(func(*http.Request) {}); status != http.StatusNoContent {
		t.Fatalf("valid request: status %d", status)
	}

	tampered := send(func(r *http.Request) {
		data := []byte(`{"seconds":1}`)
		r.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil }
	})
	if tampered != http.StatusUnauthorized {
		t.Errorf("tampered body: status %d, want 401", tampered)
	}

	stale := send(func(r *http.Request) {
		Sign(r, a.owner, time.Now().Add(-time.Minute), []byte(`{"seconds":5}`))
	})
	if stale != http.StatusUnauthorized {
		t.Errorf("stale timestamp: status %d, want 401", stale)
	}

	impostor := send(func(r *http.Request) {
		r.Header.Set(HeaderActor, actorOf(a.provider).String())
	})
	if impostor != http.StatusUnauthorized {
		t.Errorf("foreign actor: status %d, want 401", impostor)
	}

	cooldown, err := a.ledger.Cooldown()
	if err != nil {
		t.Fatalf("cooldown: %v", err)
	}

	if cooldown != 5 {
		t.Errorf("cooldown = %d, want 5", cooldown)
	}
}

// TestAggregationFlow verifies the full provider and requester flow over HTTP.
func TestAggregationFlow(t *testing.T) {
	a := newTestAPI(t)
	a.grantProvider(t)

	a.expect(t, http.StatusNoContent, a.owner, "POST", "/batches/1/open", nil)
	a.submit(t, a.provider, 1, 10)

	second := newKey(t)
	a.expect(t, http.StatusNoContent, a.owner, "POST", "/providers/"+actorOf(second).String(), nil)
	a.submit(t, second, 1, 20)

	a.expect(t, http.StatusNoContent, a.owner, "POST", "/batches/1/close", nil)

	var batch BatchView
	if err := json.Unmarshal(a.expect(t, http.StatusOK, nil, "GET", "/batches/1", nil), &batch); err != nil {
		t.Fatalf("decode batch: %v", err)
	}

	if batch.Open {
		t.Error("batch should be closed")
	}

	var agg AggregationView
	out := a.expect(t, http.StatusAccepted, newKey(t), "POST", "/batches/1/aggregations", nil)
	if err := json.Unmarshal(out, &agg); err != nil {
		t.Fatalf("decode aggregation: %v", err)
	}

	if agg.Fingerprint != batch.Fingerprint {
		t.Errorf("request fingerprint %s differs from batch view %s", agg.Fingerprint, batch.Fingerprint)
	}

	cleartexts, err := ledger.EncodeCleartexts(big.NewInt(30), big.NewInt(2))
	if err != nil {
		t.Fatalf("encode cleartexts: %v", err)
	}

	if _, err := a.ledger.Deliver(agg.RequestID, cleartexts, []byte("proof")); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	var req RequestView
	if err := json.Unmarshal(a.expect(t, http.StatusOK, nil, "GET", "/requests/"+agg.RequestID, nil), &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}

	if !req.Processed || req.Sum != 30 || req.Count != 2 {
		t.Errorf("request = %+v, want processed 30/2", req)
	}

	a.expect(t, http.StatusNotFound, nil, "GET", "/requests/unknown", nil)
}

// TestErrorMapping verifies the HTTP status and kind of ledger rejections.
func TestErrorMapping(t *testing.T) {
	a := newTestAPI(t)
	a.grantProvider(t)
	outsider := newKey(t)

	a.expectKind(t, http.StatusForbidden, "NotAuthorized", outsider, "POST", "/pause", nil)
	a.expectKind(t, http.StatusConflict, "NotOpen", a.provider, "POST", "/batches/1/submissions",
		map[string]string{"ciphertext": fmt.Sprintf("%x", fhe.Plain{}.Encrypt(1))})
	a.expectKind(t, http.StatusBadRequest, "InvalidParameter", a.owner, "POST", "/batches/abc/open", nil)
	a.expectKind(t, http.StatusBadRequest, "InvalidParameter", a.owner, "POST", "/batches/0/open", nil)
	a.expectKind(t, http.StatusBadRequest, "InvalidParameter", a.owner, "PUT", "/cooldown", map[string]uint64{"seconds": 0})

	a.expect(t, http.StatusNoContent, a.owner, "POST", "/batches/1/open", nil)
	a.expectKind(t, http.StatusConflict, "BatchOpen", outsider, "POST", "/batches/1/aggregations", nil)

	a.submit(t, a.provider, 1, 1)
	a.expectKind(t, http.StatusTooManyRequests, "CooldownActive", a.provider, "POST", "/batches/1/submissions",
		map[string]string{"ciphertext": fmt.Sprintf("%x", fhe.Plain{}.Encrypt(1))})
	a.expectKind(t, http.StatusBadRequest, "InvalidParameter", a.provider, "POST", "/batches/1/submissions",
		map[string]string{"ciphertext": "zz"})

	fresh := newKey(t)
	a.expect(t, http.StatusNoContent, a.owner, "POST", "/providers/"+actorOf(fresh).String(), nil)
	a.expectKind(t, http.StatusBadRequest, "InvalidCiphertext", fresh, "POST", "/batches/1/submissions",
		map[string]string{"ciphertext": "00"})

	a.expect(t, http.StatusNoContent, a.owner, "POST", "/pause", nil)
	a.expectKind(t, http.StatusConflict, "AlreadyPaused", a.owner, "POST", "/pause", nil)
	a.expectKind(t, http.StatusServiceUnavailable, "SystemPaused", a.owner, "POST", "/batches/1/close", nil)
}

// TestEventsEndpoint verifies paging over the persisted event log.
func TestEventsEndpoint(t *testing.T) {
	a := newTestAPI(t)
	a.grantProvider(t)
	a.expect(t, http.StatusNoContent, a.owner, "POST", "/batches/7/open", nil)
	a.expect(t, http.StatusNoContent, a.owner, "POST", "/batches/7/close", nil)

	var all []EventView
	if err := json.Unmarshal(a.expect(t, http.StatusOK, nil, "GET", "/events", nil), &all); err != nil {
		t.Fatalf("decode events: %v", err)
	}

	kinds := []string{ledger.EventProviderChanged, ledger.EventBatchOpened, ledger.EventBatchClosed}
	if len(all) != len(kinds) {
		t.Fatalf("got %d events, want %d", len(all), len(kinds))
	}

	for i, e := range all {
		if e.Kind != kinds[i] || e.Seq != uint64(i+1) {
			t.Errorf("event %d = %s/%d, want %s/%d", i, e.Kind, e.Seq, kinds[i], i+1)
		}
	}

	if all[0].Subject != actorOf(a.provider).String() || !all[0].Flag {
		t.Errorf("provider event = %+v", all[0])
	}

	var page []EventView
	if err := json.Unmarshal(a.expect(t, http.StatusOK, nil, "GET", "/events?from=2&limit=1", nil), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}

	if len(page) != 1 || page[0].Kind != ledger.EventBatchOpened || page[0].Batch != 7 {
		t.Errorf("page = %+v", page)
	}

	a.expect(t, http.StatusBadRequest, nil, "GET", "/events?limit=0", nil)
}

// TestStatusAndKey verifies the node views.
func TestStatusAndKey(t *testing.T) {
	a := newTestAPI(t)

	var status StatusView
	if err := json.Unmarshal(a.expect(t, http.StatusOK, nil, "GET", "/status", nil), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}

	if status.Owner != actorOf(a.owner).String() || status.Cooldown != 60 || status.Paused || status.Scheme != "plain" {
		t.Errorf("status = %+v", status)
	}

	a.expect(t, http.StatusNotFound, nil, "GET", "/encryption-key", nil)
	a.expect(t, http.StatusNotFound, nil, "GET", "/snapshot", nil)

	out := a.expect(t, http.StatusOK, nil, "GET", "/metrics", nil)
	if !strings.Contains(string(out), `route="GET /status"`) {
		t.Errorf("metrics missing instrumented route:\n%s", out)
	}
}

// TestEventStream verifies that committed events reach websocket subscribers
// and that the kind filter applies.
func TestEventStream(t *testing.T) {
	a := newTestAPI(t)
	wsURL := "ws" + strings.TrimPrefix(a.http.URL, "http") + "/events/ws"

	all, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer all.Close()

	closed, _, err := websocket.DefaultDialer.Dial(wsURL+"?kind="+ledger.EventBatchClosed, nil)
	if err != nil {
		t.Fatalf("dial filtered: %v", err)
	}
	defer closed.Close()

	waitClients(t, a.server.stream, 2)

	a.expect(t, http.StatusNoContent, a.owner, "POST", "/batches/3/open", nil)
	a.expect(t, http.StatusNoContent, a.owner, "POST", "/batches/3/close", nil)

	for _, want := range []string{ledger.EventBatchOpened, ledger.EventBatchClosed} {
		if got := readEvent(t, all); got.Kind != want || got.Batch != 3 {
			t.Errorf("stream event = %+v, want %s", got, want)
		}
	}

	if got := readEvent(t, closed); got.Kind != ledger.EventBatchClosed {
		t.Errorf("filtered stream event = %s, want %s", got.Kind, ledger.EventBatchClosed)
	}
}

// fixedSnapshot serves a constant snapshot.
type fixedSnapshot struct{}

func (fixedSnapshot) Latest() ([]byte, uint64) { return []byte("snap"), 9 }

// TestSnapshotEndpoint verifies that the latest snapshot is served raw with
// its event sequence.
func TestSnapshotEndpoint(t *testing.T) {
	a := newTestAPI(t)
	a.server.snaps = fixedSnapshot{}

	resp, err := http.Get(a.http.URL + "/snapshot")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if string(body) != "snap" || resp.Header.Get(HeaderEventSeq) != "9" {
		t.Errorf("snapshot = %q seq %q", body, resp.Header.Get(HeaderEventSeq))
	}
}

func waitClients(t *testing.T, s *stream, n int) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		count := len(s.clients)
		s.mu.Unlock()

		if count >= n {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timeout waiting for %d stream clients", n)
}

func readEvent(t *testing.T, conn *websocket.Conn) EventView {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var e EventView
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read event: %v", err)
	}

	return e
}
