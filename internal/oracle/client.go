package oracle

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"sync/atomic"
	"time"

	"VeilSum/internal/ledger"
	"VeilSum/internal/logger"
	"VeilSum/internal/network"
)

// requestTimeout bounds the task round trip made while the ledger is locked.
const requestTimeout = 5 * time.Second

// Resolver is the ledger entry point for deliveries.
type Resolver interface {
	Deliver(requestID string, cleartexts, proof []byte) (ledger.Result, error)
}

// Client is the ledger side of a remote oracle. It forwards decryption tasks
// and serves deliveries coming back from the oracle's transport key only.
type Client struct {
	node      *network.Node
	addr      string
	oracleKey ed25519.PublicKey
	resolver  Resolver
	nonce     atomic.Uint64
}

// NewClient creates a client that talks to the oracle at addr.
func NewClient(node *network.Node, addr string, oracleKey ed25519.PublicKey, resolver Resolver) *Client {
	c := &Client{
		node:      node,
		addr:      addr,
		oracleKey: oracleKey,
		resolver:  resolver,
	}

	node.OnRequest(c.handleRequest)
	node.OnConnect(c.linkUp)
	node.OnDisconnect(c.linkDown)

	return c
}

// Connect dials the oracle. The transport redials it after a disconnect.
func (c *Client) Connect() error {
	if _, err := c.node.Connect(c.addr); err != nil {
		return fmt.Errorf("connect oracle:\n%w", err)
	}

	logger.Info("connected to oracle", "addr", c.addr)

	return nil
}

// RequestDecryption sends a task and returns the id assigned by the oracle.
func (c *Client) RequestDecryption(ctx context.Context, ciphertexts [][]byte) (string, error) {
	peer := c.node.GetPeer(c.oracleKey)
	if peer == nil {
		return "", fmt.Errorf("oracle not connected")
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	nonce := c.nonce.Add(1)

	resp, err := peer.Request(ctx, encodeTask(nonce, ciphertexts))
	if err != nil {
		return "", fmt.Errorf("send task:\n%w", err)
	}

	ack, err := decodeTaskAck(resp)
	if err != nil {
		return "", fmt.Errorf("decode task ack:\n%w", err)
	}

	if ack.Nonce != nonce {
		return "", fmt.Errorf("task ack nonce mismatch: got %d, want %d", ack.Nonce, nonce)
	}

	if ack.Error != "" {
		return "", fmt.Errorf("oracle refused task: %s", ack.Error)
	}

	return ack.RequestID, nil
}

// linkUp logs the oracle link coming up.
func (c *Client) linkUp(peer *network.Peer) {
	if bytes.Equal(peer.PublicKey(), c.oracleKey) {
		logger.Info("oracle link up", "addr", peer.Address())
	}
}

// linkDown logs the oracle link dropping. Requests fail with
// ErrOracleUnavailable until the transport redials.
func (c *Client) linkDown(peer *network.Peer) {
	if bytes.Equal(peer.PublicKey(), c.oracleKey) {
		logger.Warn("oracle link down", "addr", peer.Address())
	}
}

// handleRequest serves deliveries from the oracle.
func (c *Client) handleRequest(peer *network.Peer, data []byte) ([]byte, error) {
	if !bytes.Equal(peer.PublicKey(), c.oracleKey) {
		return nil, fmt.Errorf("request from non-oracle peer")
	}

	msgType, err := messageType(data)
	if err != nil {
		return nil, err
	}

	if msgType != msgTypeDelivery {
		return nil, fmt.Errorf("unexpected message type: 0x%02x", msgType)
	}

	d, err := decodeDelivery(data)
	if err != nil {
		return nil, fmt.Errorf("decode delivery:\n%w", err)
	}

	res, err := c.resolver.Deliver(d.RequestID, d.Cleartexts, d.Proof)
	if err != nil {
		logger.Warn("delivery rejected", "id", d.RequestID, "kind", ledger.Kind(err), "error", err)
	} else {
		logger.Info("aggregate revealed", "id", res.RequestID, "batch", res.Batch, "sum", res.Sum, "count", res.Count)
	}

	return encodeDeliveryAck(deliveryAck{RequestID: d.RequestID, ErrorKind: ledger.Kind(err)}), nil
}
