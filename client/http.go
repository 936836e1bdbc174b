package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"VeilSum/internal/api"
	"VeilSum/internal/ledger"
)

// APIError is a request refused by the node.
type APIError struct {
	Status  int    // Status is the HTTP status code
	Kind    string // Kind is the ledger error kind, e.g. "CooldownActive"
	Message string // Message is the node's error text
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d, kind %s)", e.Message, e.Status, e.Kind)
}

// Unwrap returns the matching ledger error so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	return ledger.FromKind(e.Kind)
}

// do performs a request against the node. The request is signed when signed
// is true; a JSON body is sent when body is not nil and the JSON response is
// decoded into result when result is not nil.
func (c *Client) do(ctx context.Context, method, path string, signed bool, body, result any) error {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal body:\n%w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("new request:\n%w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if signed {
		if c.key == nil {
			return fmt.Errorf("%s %s requires a signing key", method, path)
		}
		api.Sign(req, c.key, time.Now(), data)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s:\n%w", method, path, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode %s response:\n%w", path, err)
	}

	return nil
}

// fetch performs an unsigned GET and returns the raw body and headers.
func (c *Client) fetch(ctx context.Context, path string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("new request:\n%w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("GET %s:\n%w", path, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return nil, nil, decodeError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s response:\n%w", path, err)
	}

	return data, resp.Header, nil
}

// decodeError builds an APIError from a failed response.
func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}

	return &APIError{Status: resp.StatusCode, Kind: body.Kind, Message: body.Error}
}
