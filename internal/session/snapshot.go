// ABOUTME: Immutable view of session state handed to readers
// ABOUTME: Slices are copies; readers may keep a snapshot as long as they like

package session

import (
	"github.com/samber/lo"

	"github.com/2389/coven-inbox/internal/bridge"
	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/identity"
)

// Snapshot is the state of a session at one point in its event sequence.
type Snapshot struct {
	Self identity.Participant
	// Conversations is the directory, most recently active first.
	Conversations []chat.Conversation
	// Active is the id of the selected conversation, empty when none.
	Active string
	// Messages of the active conversation in send order.
	Messages []chat.Message
	// UnreadTotal is the participant's unread total across conversations.
	UnreadTotal int

	Loading    bool
	Sending    bool
	Refreshing bool

	Connection bridge.State
	Degraded   bool
	// Err is the last request failure; it wraps chat.ErrNetwork.
	Err error
}

// ActiveConversation returns the directory entry of the active
// conversation.
func (s Snapshot) ActiveConversation() (chat.Conversation, bool) {
	if s.Active == "" {
		return chat.Conversation{}, false
	}
	return s.Conversation(s.Active)
}

// Conversation returns a directory entry by id.
func (s Snapshot) Conversation(id string) (chat.Conversation, bool) {
	return lo.Find(s.Conversations, func(c chat.Conversation) bool { return c.ID == id })
}

// DirectoryUnread sums the per-conversation unread counters.
func (s Snapshot) DirectoryUnread() int {
	return lo.SumBy(s.Conversations, func(c chat.Conversation) int { return c.UnreadCount })
}
