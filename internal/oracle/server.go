package oracle

import (
	"context"
	"encoding/hex"
	"fmt"

	"VeilSum/internal/ledger"
	"VeilSum/internal/logger"
	"VeilSum/internal/network"
)

// Server exposes a Service over the transport and delivers results back to
// the ledger node that asked for them.
type Server struct {
	node    *network.Node
	service *Service
}

// NewServer wires service to node.
func NewServer(node *network.Node, service *Service) *Server {
	s := &Server{node: node, service: service}

	node.OnRequest(s.handleRequest)
	node.OnConnect(func(p *network.Peer) {
		logger.Info("ledger node connected", "peer", hex.EncodeToString(p.PublicKey())[:16], "addr", p.Address())
	})
	node.OnDisconnect(func(p *network.Peer) {
		logger.Info("ledger node disconnected", "peer", hex.EncodeToString(p.PublicKey())[:16])
	})
	service.SetDeliverer(s)

	return s
}

// handleRequest serves decryption tasks.
func (s *Server) handleRequest(peer *network.Peer, data []byte) ([]byte, error) {
	msgType, err := messageType(data)
	if err != nil {
		return nil, err
	}

	if msgType != msgTypeTask {
		return nil, fmt.Errorf("unexpected message type: 0x%02x", msgType)
	}

	nonce, ciphertexts, err := decodeTask(data)
	if err != nil {
		return nil, fmt.Errorf("decode task:\n%w", err)
	}

	ack := taskAck{Nonce: nonce}

	id, err := s.service.Enqueue(peer.PublicKey(), ciphertexts)
	if err != nil {
		ack.Error = err.Error()
	} else {
		ack.RequestID = id
	}

	return encodeTaskAck(ack), nil
}

// Deliver sends a result to the originating ledger node. A rejected delivery
// comes back as the ledger error of the same kind.
func (s *Server) Deliver(ctx context.Context, task Task, cleartexts, proof []byte) error {
	peer := s.node.GetPeer(task.Origin)
	if peer == nil {
		return fmt.Errorf("ledger node not connected")
	}

	resp, err := peer.Request(ctx, encodeDelivery(delivery{
		RequestID:  task.ID,
		Cleartexts: cleartexts,
		Proof:      proof,
	}))
	if err != nil {
		return fmt.Errorf("send delivery:\n%w", err)
	}

	ack, err := decodeDeliveryAck(resp)
	if err != nil {
		return fmt.Errorf("decode delivery ack:\n%w", err)
	}

	if ack.ErrorKind == "" {
		return nil
	}

	if rejection := ledger.FromKind(ack.ErrorKind); rejection != nil {
		return rejection
	}

	logger.Debug("ledger failed delivery", "id", task.ID, "kind", ack.ErrorKind)

	return fmt.Errorf("ledger error: %s", ack.ErrorKind)
}
