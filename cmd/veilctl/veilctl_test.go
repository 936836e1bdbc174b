package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"VeilSum/internal/api"
	"VeilSum/internal/fhe"
	"VeilSum/internal/ledger"
	"VeilSum/internal/storage"
)

// nopOracle issues a fixed request id.
type nopOracle struct{}

func (nopOracle) RequestDecryption(context.Context, [][]byte) (string, error) { return "req-1", nil }

// acceptAll accepts every proof.
type acceptAll struct{}

func (acceptAll) Verify(string, []byte, []byte) error { return nil }

// execute runs veilctl with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()

	return out.String(), err
}

// TestParseBatch verifies batch id argument parsing.
func TestParseBatch(t *testing.T) {
	if id, err := parseBatch("42"); err != nil || id != 42 {
		t.Errorf("parseBatch(42) = %d, %v", id, err)
	}

	for _, bad := range []string{"0", "-1", "x", ""} {
		if _, err := parseBatch(bad); err == nil {
			t.Errorf("parseBatch(%q) should fail", bad)
		}
	}
}

// TestCommands verifies an operator and provider session against a served
// ledger.
func TestCommands(t *testing.T) {
	dir := t.TempDir()
	ownerKey := filepath.Join(dir, "owner.key")
	providerKey := filepath.Join(dir, "provider.key")

	out, err := execute(t, "keygen", "--key", ownerKey)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}

	owner, err := ledger.ParseActor(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("parse owner: %v", err)
	}

	out, err = execute(t, "keygen", "--key", providerKey)
	if err != nil {
		t.Fatalf("keygen provider: %v", err)
	}
	provider := strings.TrimSpace(out)

	if _, err := execute(t, "keygen", "--key", ownerKey); err == nil {
		t.Error("keygen should refuse an existing key file")
	}

	key, err := fhe.GenerateKey(512, 3, 2)
	if err != nil {
		t.Fatalf("generate paillier key: %v", err)
	}

	db, err := storage.New(filepath.Join(dir, "db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	defer db.Close()

	l, err := ledger.New(ledger.Config{Storage: db, Scheme: key.Scheme(), Oracle: nopOracle{}, Verifier: acceptAll{}})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	if err := l.Genesis(owner, 60, ledger.Hash{0x01}); err != nil {
		t.Fatalf("genesis: %v", err)
	}

	srv, err := api.New(api.Config{Ledger: l})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	defer srv.Stop()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	steps := [][]string{
		{"grant", provider, "--key", ownerKey},
		{"open", "5", "--key", ownerKey},
		{"submit", "5", "12", "--key", providerKey},
		{"close", "5", "--key", ownerKey},
	}

	for _, step := range steps {
		if out, err := execute(t, append(step, "--node", ts.URL)...); err != nil {
			t.Fatalf("%v: %v\n%s", step, err, out)
		}
	}

	if _, err := execute(t, "pause", "--key", providerKey, "--node", ts.URL); err == nil {
		t.Error("pause by a provider should fail")
	}

	out, err = execute(t, "aggregate", "5", "--key", providerKey, "--node", ts.URL)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	var agg api.AggregationView
	if err := json.Unmarshal([]byte(out), &agg); err != nil {
		t.Fatalf("decode aggregate output: %v\n%s", err, out)
	}

	if agg.RequestID != "req-1" {
		t.Errorf("request id = %q, want req-1", agg.RequestID)
	}

	agg5, err := l.EncryptedAggregate(5)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	sum, err := key.Decrypt(agg5.Sum)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}

	if sum.Uint64() != 12 {
		t.Errorf("decrypted sum = %d, want 12", sum.Uint64())
	}
}
