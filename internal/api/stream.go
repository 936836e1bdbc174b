package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"VeilSum/internal/ledger"
	"VeilSum/internal/logger"
)

const (
	// clientBuffer is the number of events queued per websocket client.
	// A client that falls further behind is disconnected.
	clientBuffer = 64

	// writeTimeout bounds a single websocket write.
	writeTimeout = 10 * time.Second

	// pingInterval is the websocket keepalive period.
	pingInterval = 30 * time.Second
)

// stream fans committed ledger events out to websocket clients.
type stream struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

// streamClient is one websocket subscriber.
type streamClient struct {
	conn  *websocket.Conn
	kind  string        // kind filters events, empty for all
	send  chan []byte   // send queues encoded events
	done  chan struct{} // done is closed when the client is dropped
	once  sync.Once
}

func newStream() *stream {
	return &stream{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*streamClient]struct{}),
	}
}

// publish queues e for every client. It never blocks: it runs while the
// ledger is locked.
func (s *stream) publish(e ledger.Event) {
	data, err := json.Marshal(newEventView(e))
	if err != nil {
		logger.Error("encode event", "seq", e.Seq, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		if c.kind != "" && c.kind != e.Kind {
			continue
		}

		select {
		case c.send <- data:
		default:
			logger.Warn("dropping slow event subscriber", "addr", c.conn.RemoteAddr().String())
			s.drop(c)
		}
	}
}

// serve handles GET /events/ws?kind=.
func (s *stream) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &streamClient{
		conn: conn,
		kind: r.URL.Query().Get("kind"),
		send: make(chan []byte, clientBuffer),
		done: make(chan struct{}),
	}

	if !s.add(c) {
		conn.Close()
		return
	}

	logger.Debug("event subscriber connected", "addr", conn.RemoteAddr().String())

	go s.writeLoop(c)
	s.readLoop(c)
}

func (s *stream) add(c *streamClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	s.clients[c] = struct{}{}

	return true
}

// drop removes c and closes its connection. Callers hold s.mu.
func (s *stream) drop(c *streamClient) {
	delete(s.clients, c)

	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (s *stream) remove(c *streamClient) {
	s.mu.Lock()
	s.drop(c)
	s.mu.Unlock()
}

// readLoop discards client frames until the connection fails.
func (s *stream) readLoop(c *streamClient) {
	defer s.remove(c)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("event subscriber closed", "error", err)
			}
			return
		}
	}
}

// writeLoop is the only writer of c.conn.
func (s *stream) writeLoop(c *streamClient) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.remove(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.remove(c)
				return
			}

		case <-c.done:
			return
		}
	}
}

// close disconnects every client and refuses new ones.
func (s *stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for c := range s.clients {
		s.drop(c)
	}
}
