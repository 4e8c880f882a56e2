// ABOUTME: Connection states and transport event types
// ABOUTME: Events carry wire payloads; decoding happens in the bridge

package bridge

import "github.com/2389/coven-inbox/internal/chat"

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// EventKind enumerates what a transport can report.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventReconnected
	EventDisconnected
	EventError
	EventMessage
	EventNotification
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventReconnected:
		return "reconnected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	case EventMessage:
		return "message"
	case EventNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Event is one item written by a Transport.
type Event struct {
	Kind EventKind
	// Room is the room a message was broadcast to.
	Room         string
	Message      *chat.WireMessage
	Notification *chat.Notification
	Err          error
}
