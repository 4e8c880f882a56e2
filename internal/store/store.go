// ABOUTME: Store interface and data types for coven-inbox gateway persistence
// ABOUTME: Conversations are keyed by participant pair and job; messages carry read state

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/identity"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrNotAddressed is returned when a mark-read batch contains a message that
// is not addressed to the reader. Nothing in the batch is updated.
var ErrNotAddressed = errors.New("message not addressed to reader")

// ErrSelfConversation is returned when both sides of a conversation are the
// same participant.
var ErrSelfConversation = errors.New("conversation with self")

// DefaultHistoryLimit caps ListMessages when the caller passes no limit.
const DefaultHistoryLimit = 200

// Conversation is a thread between two participants, optionally scoped to a
// job. A and B are stored in canonical order so each (pair, job) exists once.
type Conversation struct {
	ID        string
	Job       chat.JobRef
	A         identity.Participant
	B         identity.Participant
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Includes reports whether p is one side of c.
func (c *Conversation) Includes(p identity.Participant) bool {
	return !p.IsZero() && (c.A == p || c.B == p)
}

// Counterparty returns the side of c that is not p.
func (c *Conversation) Counterparty(p identity.Participant) identity.Participant {
	if c.A == p {
		return c.B
	}
	return c.A
}

// StoredMessage is a message together with the conversation it belongs to.
type StoredMessage struct {
	chat.Message
	ConversationID string
}

// Profile is the display metadata of a participant.
type Profile struct {
	Participant identity.Participant
	DisplayName string
	AvatarURL   string
	UpdatedAt   time.Time
}

// Store defines the persistence operations of the gateway.
type Store interface {
	// EnsureConversation returns the conversation of the pair for job,
	// creating it if needed.
	EnsureConversation(ctx context.Context, a, b identity.Participant, job chat.JobRef) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// ListConversations returns the directory of p, most recent activity
	// first, with unread counts and last-message previews.
	ListConversations(ctx context.Context, p identity.Participant) ([]chat.Conversation, error)
	// IsMember reports whether p is a side of conversation id.
	IsMember(ctx context.Context, conversationID string, p identity.Participant) (bool, error)

	// CreateMessage stores m in the conversation and returns it with its
	// server-assigned id.
	CreateMessage(ctx context.Context, conversationID string, m chat.Message) (chat.Message, error)
	GetMessage(ctx context.Context, id int64) (*StoredMessage, error)
	// ListMessages returns the history of p selected by q, oldest first.
	// At most limit of the most recent messages are returned.
	ListMessages(ctx context.Context, p identity.Participant, q chat.HistoryQuery, limit int) ([]chat.Message, error)

	// MarkRead marks ids as read by reader in a single transaction and
	// returns how many changed state. Every id must exist and be addressed
	// to reader.
	MarkRead(ctx context.Context, reader identity.Participant, ids []int64, at time.Time) (int, error)
	UnreadCount(ctx context.Context, p identity.Participant) (int, error)
	UnreadMessages(ctx context.Context, p identity.Participant) ([]chat.Message, error)

	UpsertProfile(ctx context.Context, profile Profile) error
	GetProfile(ctx context.Context, p identity.Participant) (*Profile, error)

	Close() error
}

// canonicalPair orders a and b so that the same pair always maps to the same
// row.
func canonicalPair(a, b identity.Participant) (identity.Participant, identity.Participant) {
	if a.String() > b.String() {
		return b, a
	}
	return a, b
}
