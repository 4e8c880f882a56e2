// ABOUTME: Events consumed by the session loop
// ABOUTME: Commands carry a reply channel; completions carry the epoch they were issued under

package session

import (
	"github.com/2389/coven-inbox/internal/bridge"
	"github.com/2389/coven-inbox/internal/chat"
)

// event is anything the loop applies.
type event interface {
	eventName() string
}

// Commands from callers.

type selectCmd struct {
	id    string
	reply chan error
}

type deselectCmd struct {
	reply chan error
}

type sendCmd struct {
	content string
	reply   chan error
}

type markReadCmd struct {
	ids   []int64
	reply chan error
}

type refreshCmd struct {
	reply chan error
}

// Inputs from the real-time bridge.

type connectionEvt struct {
	change bridge.Change
}

type inboundEvt struct {
	msg chat.Message
}

type unreadPushEvt struct {
	count int
}

// Completions of asynchronous requests.

type refreshDone struct {
	seq   uint64
	convs []chat.Conversation
	err   error
}

type historyDone struct {
	epoch          uint64
	conversationID string
	msgs           []chat.Message
	err            error
}

type sendDone struct {
	epoch          uint64
	conversationID string
	msg            chat.Message
	err            error
}

type markReadDone struct {
	epoch          uint64
	conversationID string
	ids            []int64
	err            error
}

type unreadCountDone struct {
	seq   uint64
	count int
	err   error
}

type transportFailed struct {
	op  string
	err error
}

func (selectCmd) eventName() string       { return "select" }
func (deselectCmd) eventName() string     { return "deselect" }
func (sendCmd) eventName() string         { return "send" }
func (markReadCmd) eventName() string     { return "mark_read" }
func (refreshCmd) eventName() string      { return "refresh" }
func (connectionEvt) eventName() string   { return "connection" }
func (inboundEvt) eventName() string      { return "inbound" }
func (unreadPushEvt) eventName() string   { return "unread_push" }
func (refreshDone) eventName() string     { return "refresh_done" }
func (historyDone) eventName() string     { return "history_done" }
func (sendDone) eventName() string        { return "send_done" }
func (markReadDone) eventName() string    { return "mark_read_done" }
func (unreadCountDone) eventName() string { return "unread_count_done" }
func (transportFailed) eventName() string { return "transport_failed" }
