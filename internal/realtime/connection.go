// ABOUTME: Server side of one WebSocket connection with a buffered write loop
// ABOUTME: Slow readers are disconnected instead of blocking the hub

package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/coven-inbox/internal/identity"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 64 << 10

	// sendBufferSize is the per-connection outbound queue.
	sendBufferSize = 64
)

var (
	errConnClosed   = errors.New("connection closed")
	errBufferFull   = errors.New("connection send buffer full")
	errNotConnected = errors.New("not connected")
)

// Conn is one authenticated WebSocket connection held by the hub.
type Conn struct {
	ID          string
	Participant identity.Participant

	ws     *websocket.Conn
	send   chan []byte
	once   sync.Once
	closed chan struct{}
}

func newConn(p identity.Participant, ws *websocket.Conn) *Conn {
	return &Conn{
		ID:          uuid.NewString(),
		Participant: p,
		ws:          ws,
		send:        make(chan []byte, sendBufferSize),
		closed:      make(chan struct{}),
	}
}

// Send queues a payload. A full buffer closes the connection.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errBufferFull
	}
}

// Close sends a close frame and tears the socket down. Safe to call more
// than once.
func (c *Conn) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(writeWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Conn) write(kind int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, payload)
}
