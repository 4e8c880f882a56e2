// ABOUTME: Reconnecting WebSocket client implementing the bridge transport
// ABOUTME: Reports connected on the first dial and reconnected after every later one

package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-inbox/internal/bridge"
	"github.com/2389/coven-inbox/internal/chat"
)

const (
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// URL of the hub endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// Token is sent as a bearer token on every dial.
	Token      string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Dialer     *websocket.Dialer
	Logger     *slog.Logger
}

// Client is a bridge.Transport over a WebSocket hub.
type Client struct {
	url        string
	token      string
	minBackoff time.Duration
	maxBackoff time.Duration
	dialer     *websocket.Dialer
	logger     *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewClient creates a client. Nothing is dialed until Run.
func NewClient(opts ClientOptions) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = defaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(defaultMaxBackoff, opts.MinBackoff)
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	return &Client{
		url:        opts.URL,
		token:      opts.Token,
		minBackoff: opts.MinBackoff,
		maxBackoff: opts.MaxBackoff,
		dialer:     opts.Dialer,
		logger:     opts.Logger.With("component", "realtime_client"),
	}
}

// Run dials the hub and keeps the connection alive until ctx is cancelled,
// backing off exponentially between attempts.
func (c *Client) Run(ctx context.Context, out chan<- bridge.Event) error {
	backoff := c.minBackoff
	connected := false

	for {
		ws, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Debug("dial failed", "error", err, "retry_in", backoff)
			c.emit(ctx, out, bridge.Event{Kind: bridge.EventError, Err: err})
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}

		backoff = c.minBackoff
		kind := bridge.EventConnected
		if connected {
			kind = bridge.EventReconnected
		}
		connected = true

		c.setConn(ws)
		c.emit(ctx, out, bridge.Event{Kind: kind})
		err = c.read(ctx, ws, out)
		c.setConn(nil)
		_ = ws.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.emit(ctx, out, bridge.Event{Kind: bridge.EventDisconnected, Err: err})
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
	}
}

// JoinRoom implements bridge.Transport.
func (c *Client) JoinRoom(_ context.Context, room string) error {
	return c.write(Frame{Type: FrameJoin, Room: room})
}

// LeaveRoom implements bridge.Transport.
func (c *Client) LeaveRoom(_ context.Context, room string) error {
	return c.write(Frame{Type: FrameLeave, Room: room})
}

// Broadcast implements bridge.Transport.
func (c *Client) Broadcast(_ context.Context, room string, msg chat.WireMessage) error {
	return c.write(Frame{Type: FrameBroadcast, Room: room, Message: &msg})
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	ws, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", c.url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	return ws, nil
}

func (c *Client) read(ctx context.Context, ws *websocket.Conn, out chan<- bridge.Event) error {
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		f, err := decodeFrame(data)
		if err != nil {
			c.emit(ctx, out, bridge.Event{Kind: bridge.EventError, Err: fmt.Errorf("decode frame: %w", err)})
			continue
		}
		switch f.Type {
		case FrameMessage:
			c.emit(ctx, out, bridge.Event{Kind: bridge.EventMessage, Room: f.Room, Message: f.Message})
		case FrameNotification:
			c.emit(ctx, out, bridge.Event{Kind: bridge.EventNotification, Notification: f.Notification})
		case FrameError:
			c.emit(ctx, out, bridge.Event{Kind: bridge.EventError, Err: fmt.Errorf("hub %s (room %q): %s", f.Code, f.Room, f.Error)})
		default:
			c.logger.Debug("frame", "type", f.Type, "room", f.Room)
		}
	}
}

func (c *Client) write(f Frame) error {
	c.mu.Lock()
	ws := c.conn
	c.mu.Unlock()
	if ws == nil {
		return errNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.WriteJSON(f)
}

func (c *Client) setConn(ws *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = ws
}

func (c *Client) emit(ctx context.Context, out chan<- bridge.Event, ev bridge.Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
