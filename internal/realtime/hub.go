// ABOUTME: WebSocket hub: room membership, fan-out of messages and per-user notifications
// ABOUTME: Room access and client broadcasts are checked by an Authorizer before anything is relayed

package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/identity"
)

var (
	// ErrForbidden rejects a join or broadcast for a room the participant
	// is not a member of.
	ErrForbidden = errors.New("forbidden")
	// ErrAlreadyRelayed marks a broadcast the hub has already fanned out.
	// It is dropped without an error frame.
	ErrAlreadyRelayed = errors.New("already relayed")
)

// Authorizer decides what a connected participant may do.
type Authorizer interface {
	// AuthorizeRoom returns nil when p may subscribe to room.
	AuthorizeRoom(ctx context.Context, p identity.Participant, room string) error
	// Relay checks a client broadcast and returns the stored message to fan
	// out in its place.
	Relay(ctx context.Context, p identity.Participant, room string, msg chat.WireMessage) (chat.Message, error)
}

const hubRequestTimeout = 5 * time.Second

// Hub tracks live connections and the rooms they joined. A participant may
// hold several connections; each gets every notification.
type Hub struct {
	mu          sync.RWMutex
	conns       map[string]*Conn
	users       map[identity.Participant]map[string]*Conn
	rooms       map[string]map[string]*Conn
	memberships map[string]map[string]struct{} // connID -> rooms
	closed      bool

	auth     Authorizer
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(auth Authorizer, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:       make(map[string]*Conn),
		users:       make(map[identity.Participant]map[string]*Conn),
		rooms:       make(map[string]map[string]*Conn),
		memberships: make(map[string]map[string]struct{}),
		auth:        auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients authenticate with a bearer token, not cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "hub"),
	}
}

// ServeWS upgrades the request and serves frames for participant p until the
// client goes away. The caller has already authenticated p.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, p identity.Participant) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	conn := newConn(p, ws)
	if !h.attach(conn) {
		conn.Close(websocket.CloseGoingAway, "hub closed")
		return
	}
	go conn.writeLoop()
	defer func() {
		h.detach(conn)
		conn.Close(websocket.CloseNormalClosure, "session closed")
	}()

	h.logger.Debug("connection attached", "conn_id", conn.ID, "participant", p.String())

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	h.reply(conn, Frame{Type: FrameConnected})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.logger.Debug("connection read failed", "conn_id", conn.ID, "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		f, err := decodeFrame(data)
		if err != nil {
			h.reply(conn, errorFrame("", "bad_request", "invalid frame"))
			continue
		}
		h.handleFrame(r.Context(), conn, f)
	}
}

func (h *Hub) handleFrame(ctx context.Context, conn *Conn, f Frame) {
	if f.Room == "" {
		h.reply(conn, errorFrame("", "bad_request", "room is required"))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, hubRequestTimeout)
	defer cancel()

	switch f.Type {
	case FrameJoin:
		if err := h.auth.AuthorizeRoom(ctx, conn.Participant, f.Room); err != nil {
			h.replyErr(conn, f.Room, err)
			return
		}
		h.join(f.Room, conn)
		h.reply(conn, Frame{Type: FrameJoined, Room: f.Room})

	case FrameLeave:
		h.leave(f.Room, conn)
		h.reply(conn, Frame{Type: FrameLeft, Room: f.Room})

	case FrameBroadcast:
		if f.Message == nil {
			h.reply(conn, errorFrame(f.Room, "bad_request", "message is required"))
			return
		}
		msg, err := h.auth.Relay(ctx, conn.Participant, f.Room, *f.Message)
		if errors.Is(err, ErrAlreadyRelayed) {
			h.logger.Debug("duplicate broadcast ignored", "room", f.Room, "message_id", f.Message.ID)
			return
		}
		if err != nil {
			h.replyErr(conn, f.Room, err)
			return
		}
		h.Publish(f.Room, msg, conn.ID)

	default:
		h.reply(conn, errorFrame(f.Room, "unsupported_type", "unknown frame type"))
	}
}

// Publish sends msg to every connection in room except excludeConnID and
// returns how many connections accepted it. Slow connections are dropped
// rather than waited for.
func (h *Hub) Publish(room string, msg chat.Message, excludeConnID string) int {
	wire := chat.EncodeMessage(msg)
	payload, err := encodeFrame(Frame{Type: FrameMessage, Room: room, Message: &wire})
	if err != nil {
		h.logger.Error("encoding message frame", "error", err)
		return 0
	}

	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.rooms[room]))
	for id, c := range h.rooms[room] {
		if id != excludeConnID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	return h.deliver(targets, payload, "room", room)
}

// Notify sends a user-level notification to every connection of p.
func (h *Hub) Notify(p identity.Participant, n chat.Notification) int {
	payload, err := encodeFrame(Frame{Type: FrameNotification, Notification: &n})
	if err != nil {
		h.logger.Error("encoding notification frame", "error", err)
		return 0
	}

	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.users[p]))
	for _, c := range h.users[p] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	return h.deliver(targets, payload, "participant", p.String())
}

// RoomSize returns the number of connections subscribed to room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Connections returns the number of live connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects everyone. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*Conn)
	h.users = make(map[identity.Participant]map[string]*Conn)
	h.rooms = make(map[string]map[string]*Conn)
	h.memberships = make(map[string]map[string]struct{})
	h.closed = true
	h.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutdown")
	}
	h.logger.Debug("hub closed", "connections", len(conns))
}

func (h *Hub) deliver(targets []*Conn, payload []byte, scope, key string) int {
	delivered := 0
	for _, c := range targets {
		if err := c.Send(payload); err != nil {
			h.logger.Debug("dropped frame for slow connection", scope, key, "conn_id", c.ID, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) attach(conn *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn.ID] = conn
	if h.users[conn.Participant] == nil {
		h.users[conn.Participant] = make(map[string]*Conn)
	}
	h.users[conn.Participant][conn.ID] = conn
	return true
}

func (h *Hub) detach(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn.ID]; !ok {
		return
	}
	delete(h.conns, conn.ID)
	if subs := h.users[conn.Participant]; subs != nil {
		delete(subs, conn.ID)
		if len(subs) == 0 {
			delete(h.users, conn.Participant)
		}
	}
	for room := range h.memberships[conn.ID] {
		h.leaveLocked(room, conn.ID)
	}
	delete(h.memberships, conn.ID)
	h.logger.Debug("connection detached", "conn_id", conn.ID)
}

func (h *Hub) join(room string, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn.ID]; !ok {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Conn)
	}
	h.rooms[room][conn.ID] = conn
	if h.memberships[conn.ID] == nil {
		h.memberships[conn.ID] = make(map[string]struct{})
	}
	h.memberships[conn.ID][room] = struct{}{}
}

func (h *Hub) leave(room string, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, conn.ID)
}

func (h *Hub) leaveLocked(room, connID string) {
	if members := h.rooms[room]; members != nil {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms := h.memberships[connID]; rooms != nil {
		delete(rooms, room)
	}
}

func (h *Hub) reply(conn *Conn, f Frame) {
	payload, err := encodeFrame(f)
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}

func (h *Hub) replyErr(conn *Conn, room string, err error) {
	code := "bad_request"
	if errors.Is(err, ErrForbidden) {
		code = "forbidden"
	}
	h.reply(conn, errorFrame(room, code, err.Error()))
}
