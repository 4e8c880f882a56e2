// ABOUTME: Resolves which directory conversation an inbound message belongs to
// ABOUTME: Job reference wins over counterparty identity; foreign events never match

package conversation

import (
	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/identity"
)

// Outcome classifies a resolution.
type Outcome int

const (
	// Unknown means no directory entry matches; the caller refreshes the
	// directory instead of fabricating an entry.
	Unknown Outcome = iota
	// Matched means ConversationID names the matching entry.
	Matched
	// Foreign means neither side of the message is the current participant.
	Foreign
	// SelfChat means both sides are the current participant. Rejected.
	SelfChat
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case Foreign:
		return "foreign"
	case SelfChat:
		return "self_chat"
	default:
		return "unknown"
	}
}

// Direction of a message relative to the current participant.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

// Resolution is the result of Resolve.
type Resolution struct {
	Outcome        Outcome
	ConversationID string
	Direction      Direction
	// Counterparty is the other side of the message.
	Counterparty identity.Participant
	// ByJob is set when the match came from job reference equality.
	ByJob bool
}

// Resolver matches messages against a directory from the point of view of
// one participant.
type Resolver struct {
	self identity.Participant
}

// NewResolver creates a resolver for the current participant.
func NewResolver(self identity.Participant) Resolver {
	return Resolver{self: self}
}

// Self returns the participant the resolver works for.
func (r Resolver) Self() identity.Participant { return r.self }

// Resolve maps msg to a conversation in dir.
func (r Resolver) Resolve(msg chat.Message, dir Directory) Resolution {
	if r.self.IsZero() {
		return Resolution{Outcome: Foreign}
	}

	isSender := msg.Sender == r.self
	isReceiver := msg.Receiver == r.self
	switch {
	case isSender && isReceiver:
		return Resolution{Outcome: SelfChat}
	case !isSender && !isReceiver:
		return Resolution{Outcome: Foreign}
	}

	res := Resolution{Outcome: Unknown, Direction: Inbound, Counterparty: msg.Sender}
	if isSender {
		res.Direction = Outbound
		res.Counterparty = msg.Receiver
	}

	if msg.Job.Valid() {
		for _, c := range dir.entries {
			if c.Job == msg.Job {
				res.Outcome = Matched
				res.ConversationID = c.ID
				res.ByJob = true
				return res
			}
		}
	}

	// Entries are ordered by activity, so the first counterparty hit is the
	// most recent one; an exact job match still takes precedence over it.
	fallback := ""
	for _, c := range dir.entries {
		if c.Counterparty != res.Counterparty {
			continue
		}
		if c.Job == msg.Job {
			res.Outcome = Matched
			res.ConversationID = c.ID
			return res
		}
		if fallback == "" {
			fallback = c.ID
		}
	}
	if fallback != "" {
		res.Outcome = Matched
		res.ConversationID = fallback
	}
	return res
}
