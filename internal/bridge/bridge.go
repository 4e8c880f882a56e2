// ABOUTME: Adapter between a publish/subscribe transport and the chat session
// ABOUTME: Drives the connection state machine and validates inbound events at ingestion

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/coven-inbox/internal/chat"
)

// eventBuffer is the channel buffer between the transport and the bridge loop.
const eventBuffer = 64

// Transport is the external real-time channel. Run connects, keeps the
// connection alive and writes every lifecycle change and inbound frame to
// out until ctx is cancelled. It must not close out.
type Transport interface {
	Run(ctx context.Context, out chan<- Event) error
	JoinRoom(ctx context.Context, room string) error
	LeaveRoom(ctx context.Context, room string) error
	Broadcast(ctx context.Context, room string, msg chat.WireMessage) error
}

// Change reports a connection lifecycle transition to the sink.
type Change struct {
	State State
	// Reconnected is set when the connection came back after a loss, as
	// opposed to the first successful connect.
	Reconnected bool
	// Err is the transport error behind a degraded state, if any.
	Err error
}

// Sink receives validated events. The session implements it by enqueuing
// each call on its event loop, so implementations must not block for long.
type Sink interface {
	HandleConnection(change Change)
	HandleMessage(msg chat.Message)
	HandleUnreadCount(n int)
}

// Bridge consumes a Transport and forwards its events to a Sink.
type Bridge struct {
	transport Transport
	logger    *slog.Logger

	mu        sync.RWMutex
	state     State
	connected bool // at least one successful connect
}

// New creates a bridge. Pass nil logger for default.
func New(transport Transport, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		transport: transport,
		logger:    logger.With("component", "bridge"),
	}
}

// State returns the current connection state.
func (b *Bridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Run starts the transport and forwards its events to sink until ctx is
// cancelled or the transport gives up. The sink always sees a final
// Disconnected change.
func (b *Bridge) Run(ctx context.Context, sink Sink) error {
	events := make(chan Event, eventBuffer)
	done := make(chan error, 1)

	b.transition(sink, Change{State: Connecting})
	go func() {
		done <- b.transport.Run(ctx, events)
	}()

	for {
		select {
		case ev := <-events:
			b.handle(sink, ev)
		case err := <-done:
			// Deliver whatever the transport queued before it returned.
		drain:
			for {
				select {
				case ev := <-events:
					b.handle(sink, ev)
				default:
					break drain
				}
			}
			b.transition(sink, Change{State: Disconnected, Err: err})
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// JoinRoom subscribes to a conversation room. It fails fast with
// chat.ErrTransport while the channel is down.
func (b *Bridge) JoinRoom(ctx context.Context, room string) error {
	if err := b.ready("join", room); err != nil {
		return err
	}
	if err := b.transport.JoinRoom(ctx, room); err != nil {
		return fmt.Errorf("join %s: %w: %w", room, chat.ErrTransport, err)
	}
	return nil
}

// LeaveRoom unsubscribes from a conversation room.
func (b *Bridge) LeaveRoom(ctx context.Context, room string) error {
	if err := b.ready("leave", room); err != nil {
		return err
	}
	if err := b.transport.LeaveRoom(ctx, room); err != nil {
		return fmt.Errorf("leave %s: %w: %w", room, chat.ErrTransport, err)
	}
	return nil
}

// Broadcast publishes a confirmed message to a room.
func (b *Bridge) Broadcast(ctx context.Context, room string, msg chat.Message) error {
	if err := b.ready("broadcast", room); err != nil {
		return err
	}
	if err := b.transport.Broadcast(ctx, room, chat.EncodeMessage(msg)); err != nil {
		return fmt.Errorf("broadcast %s: %w: %w", room, chat.ErrTransport, err)
	}
	return nil
}

func (b *Bridge) ready(op, room string) error {
	if s := b.State(); s != Connected {
		return fmt.Errorf("%s %s: %w: %s", op, room, chat.ErrTransport, s)
	}
	return nil
}

func (b *Bridge) handle(sink Sink, ev Event) {
	switch ev.Kind {
	case EventConnected, EventReconnected:
		b.mu.Lock()
		again := b.connected || ev.Kind == EventReconnected
		b.connected = true
		b.mu.Unlock()
		b.transition(sink, Change{State: Connected, Reconnected: again})

	case EventDisconnected:
		b.logger.Warn("transport connection lost", "error", ev.Err)
		b.transition(sink, Change{State: Reconnecting, Err: ev.Err})

	case EventError:
		b.logger.Warn("transport error", "error", ev.Err)
		sink.HandleConnection(Change{State: b.State(), Err: fmt.Errorf("%w: %w", chat.ErrTransport, ev.Err)})

	case EventMessage:
		if ev.Message == nil {
			return
		}
		b.forwardMessage(sink, *ev.Message, ev.Room)

	case EventNotification:
		if ev.Notification == nil {
			return
		}
		n := ev.Notification
		switch n.Kind {
		case chat.NotifyMessage:
			if n.Message != nil {
				b.forwardMessage(sink, *n.Message, "")
			}
		case chat.NotifyUnread:
			if n.UnreadCount != nil {
				sink.HandleUnreadCount(max(*n.UnreadCount, 0))
			}
		default:
			b.logger.Debug("ignoring notification", "kind", n.Kind)
		}
	}
}

func (b *Bridge) forwardMessage(sink Sink, w chat.WireMessage, room string) {
	msg, err := w.Decode()
	if err != nil {
		b.logger.Warn("dropping invalid message", "room", room, "message_id", w.ID, "error", err)
		return
	}
	sink.HandleMessage(msg)
}

func (b *Bridge) transition(sink Sink, change Change) {
	b.mu.Lock()
	prev := b.state
	b.state = change.State
	b.mu.Unlock()

	if prev != change.State {
		b.logger.Debug("connection state", "from", prev, "to", change.State, "reconnected", change.Reconnected)
	}
	sink.HandleConnection(change)
}
