// ABOUTME: Domain types for conversations and messages between participants
// ABOUTME: Messages are immutable apart from the one-way unread to read transition

package chat

import (
	"strconv"
	"time"

	"github.com/2389/coven-inbox/internal/identity"
)

// JobRef ties a conversation or message to a job engagement. Job ids are
// positive; NoJob means the conversation is not scoped to a job.
type JobRef int64

// NoJob is the absent job reference.
const NoJob JobRef = 0

// Valid reports whether the reference points at a job.
func (j JobRef) Valid() bool { return j > 0 }

// Ptr returns the wire form of the reference (nil when absent).
func (j JobRef) Ptr() *int64 {
	if !j.Valid() {
		return nil
	}
	v := int64(j)
	return &v
}

// JobFromPtr is the inverse of Ptr. Non-positive values mean no job.
func JobFromPtr(v *int64) JobRef {
	if v == nil || *v <= 0 {
		return NoJob
	}
	return JobRef(*v)
}

func (j JobRef) String() string {
	if !j.Valid() {
		return "none"
	}
	return strconv.FormatInt(int64(j), 10)
}

// Message is a single chat message between two participants.
type Message struct {
	ID        int64
	Job       JobRef
	Sender    identity.Participant
	Receiver  identity.Participant
	Content   string
	SentAt    time.Time
	Read      bool
	ReadAt    *time.Time
	Moderated bool
}

// MarkRead returns a copy of m in the read state. A message that is already
// read keeps its original read timestamp.
func (m Message) MarkRead(at time.Time) Message {
	if m.Read {
		return m
	}
	m.Read = true
	t := at
	m.ReadAt = &t
	return m
}

// AddressedTo reports whether p is the receiver of m.
func (m Message) AddressedTo(p identity.Participant) bool {
	return !p.IsZero() && m.Receiver == p
}

// IdentityKey identifies a message by its server id.
func (m Message) IdentityKey() string {
	return "id:" + strconv.FormatInt(m.ID, 10)
}

// EchoKey identifies the logical message independently of its id, so the
// same message delivered once as a send response and once as a broadcast
// can be recognised.
func (m Message) EchoKey() string {
	return "echo:" + m.Sender.String() + "|" + strconv.FormatInt(m.SentAt.UnixNano(), 10) + "|" + m.Content
}

// SameEcho reports whether a and b are the same logical message: equal
// content, timestamp and sender.
func SameEcho(a, b Message) bool {
	return a.Content == b.Content && a.SentAt.Equal(b.SentAt) && a.Sender == b.Sender
}

// Profile is the display metadata of a counterparty.
type Profile struct {
	DisplayName string
	AvatarURL   string
}

// Preview is the last-message snapshot kept on a conversation.
type Preview struct {
	MessageID int64
	Sender    identity.Participant
	Content   string
	SentAt    time.Time
}

// PreviewOf builds the last-message snapshot for m.
func PreviewOf(m Message) *Preview {
	return &Preview{
		MessageID: m.ID,
		Sender:    m.Sender,
		Content:   m.Content,
		SentAt:    m.SentAt,
	}
}

// Conversation is a thread between the current participant and a
// counterparty, optionally scoped to a job.
type Conversation struct {
	ID           string
	Job          JobRef
	Counterparty identity.Participant
	Profile      Profile
	LastMessage  *Preview
	UnreadCount  int
	LastActivity time.Time
}

// Key is the (counterparty, job) pair that is unique within a directory.
type Key struct {
	Counterparty identity.Participant
	Job          JobRef
}

// Key returns the directory uniqueness key of c.
func (c Conversation) Key() Key {
	return Key{Counterparty: c.Counterparty, Job: c.Job}
}

// HistoryQuery selects the messages of one conversation from the history
// service: by job when the conversation has one, else by counterparty.
type HistoryQuery struct {
	Job          JobRef
	Counterparty identity.Participant
}

// QueryFor returns the history query that loads c.
func QueryFor(c Conversation) HistoryQuery {
	return HistoryQuery{Job: c.Job, Counterparty: c.Counterparty}
}

// NotificationKind enumerates the user-level notifications.
type NotificationKind string

const (
	// NotifyMessage carries a new message for a room the client may not
	// have joined.
	NotifyMessage NotificationKind = "message"
	// NotifyUnread tells the client its unread total changed.
	NotifyUnread NotificationKind = "unread"
)
