package network

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// generateTestKey generates a random ed25519 key pair for testing.
func generateTestKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	return priv
}

// startTestNode creates and starts a node on a random local port.
func startTestNode(t *testing.T, cfg Config) *Node {
	t.Helper()

	if cfg.PrivateKey == nil {
		cfg.PrivateKey = generateTestKey(t)
	}
	cfg.ListenAddr = "127.0.0.1:0"

	node, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("create node: %v", err)
	}

	if err := node.Start(); err != nil {
		t.Fatalf("start node: %v", err)
	}

	t.Cleanup(func() { node.Close() })

	return node
}

// TestNodeStartStop tests starting and stopping a node.
func TestNodeStartStop(t *testing.T) {
	node, err := NewNode(Config{
		PrivateKey: generateTestKey(t),
		ListenAddr: "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}

	if err := node.Start(); err != nil {
		t.Fatalf("start node: %v", err)
	}

	if node.Addr() == "" {
		t.Fatal("expected listen address after start")
	}

	if err := node.Close(); err != nil {
		t.Fatalf("close node: %v", err)
	}
}

// TestNewNodeValidation tests that required fields are enforced.
func TestNewNodeValidation(t *testing.T) {
	if _, err := NewNode(Config{ListenAddr: ":0"}); err == nil {
		t.Error("expected error without private key")
	}

	if _, err := NewNode(Config{PrivateKey: generateTestKey(t)}); err == nil {
		t.Error("expected error without listen address")
	}
}

// TestNodeConnect tests that both sides see the authenticated peer key.
func TestNodeConnect(t *testing.T) {
	serverKey := generateTestKey(t)
	server := startTestNode(t, Config{PrivateKey: serverKey})

	connected := make(chan ed25519.PublicKey, 1)
	server.OnConnect(func(p *Peer) {
		connected <- p.PublicKey()
	})

	clientKey := generateTestKey(t)
	client := startTestNode(t, Config{PrivateKey: clientKey})

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if !bytes.Equal(peer.PublicKey(), serverKey.Public().(ed25519.PublicKey)) {
		t.Error("client sees wrong server key")
	}

	select {
	case got := <-connected:
		if !bytes.Equal(got, clientKey.Public().(ed25519.PublicKey)) {
			t.Error("server sees wrong client key")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for server connect")
	}

	if client.GetPeer(serverKey.Public().(ed25519.PublicKey)) == nil {
		t.Error("GetPeer should return the connected server")
	}

	if client.GetPeer(generateTestKey(t).Public().(ed25519.PublicKey)) != nil {
		t.Error("GetPeer should return nil for unknown key")
	}
}

// TestAllowedPeers_ClientRejectsServer tests that a dialer refuses a server
// whose key is not allowed.
func TestAllowedPeers_ClientRejectsServer(t *testing.T) {
	server := startTestNode(t, Config{})

	client := startTestNode(t, Config{
		AllowedPeers: []ed25519.PublicKey{generateTestKey(t).Public().(ed25519.PublicKey)},
	})

	if _, err := client.Connect(server.Addr()); err == nil {
		t.Fatal("expected connect to an unknown server to fail")
	}

	if client.GetPeer(server.PublicKey()) != nil {
		t.Error("rejected server should not be registered as a peer")
	}
}

// TestAllowedPeers_ServerRejectsClient tests that a listener drops
// connections from keys it does not allow.
func TestAllowedPeers_ServerRejectsClient(t *testing.T) {
	server := startTestNode(t, Config{
		AllowedPeers: []ed25519.PublicKey{generateTestKey(t).Public().(ed25519.PublicKey)},
	})

	var handled atomic.Bool
	server.OnRequest(func(p *Peer, data []byte) ([]byte, error) {
		handled.Store(true)
		return data, nil
	})

	client := startTestNode(t, Config{})

	peer, err := client.Connect(server.Addr())
	if err != nil {
		return // rejected during the handshake
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := peer.Request(ctx, []byte("hello")); err == nil {
		t.Error("expected request over a rejected connection to fail")
	}

	if handled.Load() {
		t.Error("server handled a request from a rejected peer")
	}
}

// TestRequestResponse tests request/response in both directions over one
// connection.
func TestRequestResponse(t *testing.T) {
	server := startTestNode(t, Config{})
	server.OnRequest(func(p *Peer, data []byte) ([]byte, error) {
		return append([]byte("server:"), data...), nil
	})

	serverSide := make(chan *Peer, 1)
	server.OnConnect(func(p *Peer) { serverSide <- p })

	client := startTestNode(t, Config{})
	client.OnRequest(func(p *Peer, data []byte) ([]byte, error) {
		return append([]byte("client:"), data...), nil
	})

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	response, err := peer.Request(context.Background(), []byte("hello"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if !bytes.Equal(response, []byte("server:hello")) {
		t.Errorf("response mismatch: got %q", response)
	}

	var back *Peer
	select {
	case back = <-serverSide:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for server connect")
	}

	response, err = back.Request(context.Background(), []byte("ping"))
	if err != nil {
		t.Fatalf("reverse request: %v", err)
	}

	if !bytes.Equal(response, []byte("client:ping")) {
		t.Errorf("reverse response mismatch: got %q", response)
	}
}

// TestRequestHandlerError tests that a failing handler surfaces as a
// request error instead of a hang.
func TestRequestHandlerError(t *testing.T) {
	server := startTestNode(t, Config{})
	server.OnRequest(func(p *Peer, data []byte) ([]byte, error) {
		return nil, context.Canceled
	})

	client := startTestNode(t, Config{})

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := peer.Request(ctx, []byte("hello")); err == nil {
		t.Fatal("expected error from failing handler")
	}
}

// TestRequestTimeout tests request timeout handling.
func TestRequestTimeout(t *testing.T) {
	server := startTestNode(t, Config{})
	server.OnRequest(func(p *Peer, data []byte) ([]byte, error) {
		time.Sleep(500 * time.Millisecond)
		return []byte("late"), nil
	})

	client := startTestNode(t, Config{})

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := peer.Request(ctx, []byte("hello")); err == nil {
		t.Error("expected timeout error")
	}
}

// TestLargeMessage tests a request close to the message size limit.
func TestLargeMessage(t *testing.T) {
	server := startTestNode(t, Config{})
	server.OnRequest(func(p *Peer, data []byte) ([]byte, error) {
		return data, nil
	})

	client := startTestNode(t, Config{})

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	large := make([]byte, 1<<20)
	rand.Read(large)

	response, err := peer.Request(context.Background(), large)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if !bytes.Equal(response, large) {
		t.Error("large response mismatch")
	}
}

// TestNodeReconnect tests that a dialed peer is redialed after a restart.
func TestNodeReconnect(t *testing.T) {
	serverKey := generateTestKey(t)

	server, err := NewNode(Config{PrivateKey: serverKey, ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("create server: %v", err)
	}

	if err := server.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}

	client := startTestNode(t, Config{ReconnectDelay: 200 * time.Millisecond})

	if _, err := client.Connect(server.Addr()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	server.Close()

	// Restart on a different port and point the client at it.
	server2 := startTestNode(t, Config{PrivateKey: serverKey})

	reconnected := make(chan struct{})
	var once atomic.Bool
	server2.OnConnect(func(p *Peer) {
		if once.CompareAndSwap(false, true) {
			close(reconnected)
		}
	})

	client.dialAddrsMu.Lock()
	for k := range client.dialAddrs {
		client.dialAddrs[k] = server2.Addr()
	}
	client.dialAddrsMu.Unlock()

	select {
	case <-reconnected:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for reconnection")
	}
}

// TestMessageFraming tests the length-prefixed codec.
func TestMessageFraming(t *testing.T) {
	var buf bytes.Buffer

	if err := writeMessage(&buf, []byte("abc")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if buf.Len() != lengthPrefixSize+3 {
		t.Fatalf("framed length: got %d, want %d", buf.Len(), lengthPrefixSize+3)
	}

	got, err := readMessage(&buf)
	if err != nil || string(got) != "abc" {
		t.Fatalf("read: got %q err=%v", got, err)
	}

	if err := writeMessage(&buf, make([]byte, maxMessageSize)); err != nil {
		t.Fatalf("write at limit: %v", err)
	}

	if got, err := readMessage(&buf); err != nil || len(got) != maxMessageSize {
		t.Fatalf("read at limit: got %d bytes err=%v", len(got), err)
	}

	if err := writeMessage(&buf, make([]byte, maxMessageSize+1)); !errors.Is(err, errMessageTooLarge) {
		t.Errorf("oversized write: got %v, want errMessageTooLarge", err)
	}

	if _, err := readMessage(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff})); !errors.Is(err, errMessageTooLarge) {
		t.Errorf("oversized prefix: got %v, want errMessageTooLarge", err)
	}

	if _, err := readMessage(bytes.NewReader([]byte{0, 0, 0, 5, 'a'})); err == nil {
		t.Error("expected truncated payload to fail")
	}
}

// TestLoadOrGenerateKey tests key persistence.
func TestLoadOrGenerateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")

	first, err := LoadOrGenerateKey(path)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	second, err := LoadOrGenerateKey(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !first.Equal(second) {
		t.Error("reloaded key differs")
	}

	pub, err := ParsePublicKey(" " + hex.EncodeToString(first.Public().(ed25519.PublicKey)) + "\n")
	if err != nil {
		t.Fatalf("parse public key: %v", err)
	}

	if !pub.Equal(first.Public()) {
		t.Error("parsed public key differs")
	}
}

// TestLinkCertificateIdentity verifies that the link certificate certifies the
// node key and that the identity is recovered from a peer's chain.
func TestLinkCertificateIdentity(t *testing.T) {
	priv := generateTestKey(t)

	cert, err := generateCertificate(priv)
	if err != nil {
		t.Fatalf("generate certificate: %v", err)
	}

	if cert.Leaf == nil {
		t.Fatal("certificate has no parsed leaf")
	}

	got, err := extractPublicKey(tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert.Leaf}})
	if err != nil {
		t.Fatalf("extract public key: %v", err)
	}

	if !got.Equal(priv.Public()) {
		t.Error("extracted key does not match the node key")
	}

	if _, err := extractPublicKey(tls.ConnectionState{}); err == nil {
		t.Error("expected an empty chain to fail")
	}
}
