// Package client is a Go client for the ledger node HTTP API.
package client

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"VeilSum/internal/api"
	"VeilSum/internal/fhe"
	"VeilSum/internal/ledger"
)

// Client connects to a ledger node via HTTP.
type Client struct {
	baseURL string             // baseURL is the node root, e.g. "http://127.0.0.1:8080"
	key     ed25519.PrivateKey // key signs mutating requests, may be nil for views
	http    *http.Client       // http is the underlying HTTP client

	schemeMu sync.Mutex    // schemeMu guards scheme
	scheme   *fhe.Paillier // scheme caches the node encryption key
}

// New creates a client for the node at nodeAddr ("host:port" or a URL).
// key may be nil when only views are used.
func New(nodeAddr string, key ed25519.PrivateKey) *Client {
	base := nodeAddr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		key:     key,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Actor returns the ledger identity of the signing key.
func (c *Client) Actor() ledger.Actor {
	var a ledger.Actor
	if c.key != nil {
		copy(a[:], c.key.Public().(ed25519.PublicKey))
	}
	return a
}

// GrantProvider allow-lists a provider. Owner only.
func (c *Client) GrantProvider(ctx context.Context, provider ledger.Actor) error {
	return c.do(ctx, http.MethodPost, "/providers/"+provider.String(), true, nil, nil)
}

// RevokeProvider removes a provider from the allowlist. Owner only.
func (c *Client) RevokeProvider(ctx context.Context, provider ledger.Actor) error {
	return c.do(ctx, http.MethodDelete, "/providers/"+provider.String(), true, nil, nil)
}

// Pause sets the pause switch. Owner only.
func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/pause", true, nil, nil)
}

// Unpause clears the pause switch. Owner only.
func (c *Client) Unpause(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/unpause", true, nil, nil)
}

// SetCooldown changes the rate-limit interval. Owner only.
func (c *Client) SetCooldown(ctx context.Context, seconds uint64) error {
	body := map[string]uint64{"seconds": seconds}
	return c.do(ctx, http.MethodPut, "/cooldown", true, body, nil)
}

// TransferOwnership hands the owner role to next. Owner only.
func (c *Client) TransferOwnership(ctx context.Context, next ledger.Actor) error {
	body := map[string]string{"owner": next.String()}
	return c.do(ctx, http.MethodPost, "/owner", true, body, nil)
}

// OpenBatch opens a collection window. Owner only.
func (c *Client) OpenBatch(ctx context.Context, id ledger.BatchID) error {
	return c.do(ctx, http.MethodPost, batchPath(id)+"/open", true, nil, nil)
}

// CloseBatch closes a collection window. Owner only.
func (c *Client) CloseBatch(ctx context.Context, id ledger.BatchID) error {
	return c.do(ctx, http.MethodPost, batchPath(id)+"/close", true, nil, nil)
}

// Submit sends an already encrypted reading. Provider only.
func (c *Client) Submit(ctx context.Context, id ledger.BatchID, ciphertext []byte) error {
	body := map[string]string{"ciphertext": hex.EncodeToString(ciphertext)}
	return c.do(ctx, http.MethodPost, batchPath(id)+"/submissions", true, body, nil)
}

// SubmitValue encrypts v under the node key and submits it. Provider only.
func (c *Client) SubmitValue(ctx context.Context, id ledger.BatchID, v uint64) error {
	ct, err := c.Encrypt(ctx, v)
	if err != nil {
		return err
	}

	return c.Submit(ctx, id, ct)
}

// RequestAggregation asks the oracle to decrypt a closed batch.
func (c *Client) RequestAggregation(ctx context.Context, id ledger.BatchID) (api.AggregationView, error) {
	var view api.AggregationView
	err := c.do(ctx, http.MethodPost, batchPath(id)+"/aggregations", true, nil, &view)
	return view, err
}

// Batch returns the lifecycle flag and encrypted aggregate of a batch.
func (c *Client) Batch(ctx context.Context, id ledger.BatchID) (api.BatchView, error) {
	var view api.BatchView
	err := c.do(ctx, http.MethodGet, batchPath(id), false, nil, &view)
	return view, err
}

// Request returns a decryption request record.
func (c *Client) Request(ctx context.Context, requestID string) (api.RequestView, error) {
	var view api.RequestView
	err := c.do(ctx, http.MethodGet, "/requests/"+url.PathEscape(requestID), false, nil, &view)
	return view, err
}

// WaitResult polls a request until the oracle delivered it or ctx ends.
func (c *Client) WaitResult(ctx context.Context, requestID string, interval time.Duration) (api.RequestView, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		view, err := c.Request(ctx, requestID)
		if err != nil {
			return view, err
		}

		if view.Processed {
			return view, nil
		}

		select {
		case <-ctx.Done():
			return view, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Events returns up to limit persisted events starting at sequence from.
func (c *Client) Events(ctx context.Context, from uint64, limit int) ([]api.EventView, error) {
	q := url.Values{}
	q.Set("from", fmt.Sprint(from))
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}

	var views []api.EventView
	err := c.do(ctx, http.MethodGet, "/events?"+q.Encode(), false, nil, &views)
	return views, err
}

// Status returns the global ledger configuration.
func (c *Client) Status(ctx context.Context) (api.StatusView, error) {
	var view api.StatusView
	err := c.do(ctx, http.MethodGet, "/status", false, nil, &view)
	return view, err
}

// Snapshot downloads the node's latest store snapshot and the event
// sequence it was taken at.
func (c *Client) Snapshot(ctx context.Context) ([]byte, uint64, error) {
	data, header, err := c.fetch(ctx, "/snapshot")
	if err != nil {
		return nil, 0, err
	}

	seq, err := strconv.ParseUint(header.Get(api.HeaderEventSeq), 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid %s header", api.HeaderEventSeq)
	}

	return data, seq, nil
}

// EncryptionKey fetches the node's Paillier public key.
func (c *Client) EncryptionKey(ctx context.Context) (*fhe.PublicKey, error) {
	var pk fhe.PublicKey
	if err := c.do(ctx, http.MethodGet, "/encryption-key", false, nil, &pk); err != nil {
		return nil, err
	}
	return &pk, nil
}

// Encrypt encrypts v under the node key, fetched once and cached.
func (c *Client) Encrypt(ctx context.Context, v uint64) ([]byte, error) {
	c.schemeMu.Lock()
	defer c.schemeMu.Unlock()

	if c.scheme == nil {
		pk, err := c.EncryptionKey(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch encryption key:\n%w", err)
		}
		c.scheme = fhe.NewPaillier(pk)
	}

	return c.scheme.Encrypt(v)
}

func batchPath(id ledger.BatchID) string {
	return fmt.Sprintf("/batches/%d", id)
}
