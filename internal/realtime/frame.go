// ABOUTME: JSON frames exchanged over the real-time WebSocket
// ABOUTME: Clients send join/leave/broadcast; the hub sends message/notification/acks/errors

package realtime

import (
	"encoding/json"

	"github.com/2389/coven-inbox/internal/chat"
)

// FrameType names a frame on the wire.
type FrameType string

const (
	// Client to hub.
	FrameJoin      FrameType = "join"
	FrameLeave     FrameType = "leave"
	FrameBroadcast FrameType = "broadcast"

	// Hub to client.
	FrameConnected    FrameType = "connected"
	FrameJoined       FrameType = "joined"
	FrameLeft         FrameType = "left"
	FrameMessage      FrameType = "message"
	FrameNotification FrameType = "notification"
	FrameError        FrameType = "error"
)

// Frame is the single envelope used in both directions.
type Frame struct {
	Type         FrameType          `json:"type"`
	Room         string             `json:"room,omitempty"`
	Message      *chat.WireMessage  `json:"message,omitempty"`
	Notification *chat.Notification `json:"notification,omitempty"`
	Code         string             `json:"code,omitempty"`
	Error        string             `json:"error,omitempty"`
}

func encodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

func decodeFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}

func errorFrame(room, code, msg string) Frame {
	return Frame{Type: FrameError, Room: room, Code: code, Error: msg}
}
