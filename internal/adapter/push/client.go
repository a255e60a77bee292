package push

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/quizforge/quizforge/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMsgSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// Client is one live stream for one recipient. The send channel is
// written from both the hub loop and this client's readPump, so every
// write and the close go through the mu/closed guard.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	recipient string

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// trySend queues data for the write pump unless the stream has been
// dropped or its buffer is full. Reports whether the frame was queued.
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel exactly once; later trySend calls
// become no-ops instead of panics.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// inboundFrame is the client-to-server message shape. Only the type
// matters; everything else is ignored.
type inboundFrame struct {
	Type string `json:"type"`
}

// ServeWS upgrades the connection, registers the stream, and greets it
// with connection_established.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, recipient string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &Client{
		hub:       h,
		conn:      conn,
		recipient: recipient,
		send:      make(chan []byte, 64),
	}
	select {
	case h.register <- c:
	case <-h.done:
		// Hub already stopped; nobody will ever service this stream.
		_ = conn.Close()
		return
	}

	c.enqueue(domain.Event{
		Type:    domain.EventConnectionEstablished,
		Message: "Connected to question generation updates",
	})

	go c.writePump()
	go c.readPump()
}

// enqueue serializes an event straight onto this stream, bypassing the
// hub loop. Used for direct replies (greeting, pong, jobs_status).
func (c *Client) enqueue(event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	c.trySend(data)
}

// writePump drains the send channel onto the wire and keeps the
// connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes client frames until the connection dies, answering
// ping and jobs_status queries inline.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case "ping":
			c.enqueue(domain.Event{
				Type:      domain.EventPong,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
		case "jobs_status":
			var jobs []*domain.GenerationJob
			if lister := c.hub.jobLister(); lister != nil {
				jobs = lister.JobsFor(c.recipient)
			}
			c.enqueue(domain.Event{Type: domain.EventJobsStatus, Jobs: jobs})
		}
	}
}
