package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"VeilSum/internal/ledger"
)

// TestObserve verifies that outcomes are counted by operation and error kind.
func TestObserve(t *testing.T) {
	m := New()

	m.Observe("submit", nil)
	m.Observe("submit", ledger.ErrCooldownActive)
	m.Observe("submit", errors.New("disk full"))

	if v := testutil.ToFloat64(m.operations.WithLabelValues("submit", "ok")); v != 1 {
		t.Errorf("ok count = %v, want 1", v)
	}

	if v := testutil.ToFloat64(m.operations.WithLabelValues("submit", "CooldownActive")); v != 1 {
		t.Errorf("CooldownActive count = %v, want 1", v)
	}

	if v := testutil.ToFloat64(m.operations.WithLabelValues("submit", "Internal")); v != 1 {
		t.Errorf("Internal count = %v, want 1", v)
	}
}

// TestPendingGauge verifies that requests raise and completions lower the gauge.
func TestPendingGauge(t *testing.T) {
	m := New()

	m.onEvent(ledger.Event{Kind: ledger.EventDecryptionRequested})
	m.onEvent(ledger.Event{Kind: ledger.EventDecryptionRequested})
	m.onEvent(ledger.Event{Kind: ledger.EventDecryptionCompleted})

	if v := testutil.ToFloat64(m.pending); v != 1 {
		t.Errorf("pending = %v, want 1", v)
	}

	if v := testutil.ToFloat64(m.events.WithLabelValues(ledger.EventDecryptionRequested)); v != 2 {
		t.Errorf("requested events = %v, want 2", v)
	}
}

// TestHandler verifies that the registry is served in the text format.
func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodGet, "/status", http.StatusOK, 3*time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if !strings.Contains(string(body), `veilsum_api_requests_total{method="GET",route="/status",status="OK"} 1`) {
		t.Fatalf("missing api counter in:\n%s", body)
	}

	if !strings.Contains(string(body), "veilsum_ledger_pending_decryptions 0") {
		t.Errorf("missing pending gauge in:\n%s", body)
	}
}
