// ABOUTME: Ordered message list of the active conversation with duplicate suppression
// ABOUTME: A value type; Append and Merge return a new store and leave the input intact

package messages

import (
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/identity"
)

// Store holds the messages of one conversation in ascending send order.
// Messages with equal timestamps keep their arrival order. A message is a
// duplicate of a stored one when the ids match or when content, timestamp
// and sender all match (a send response and its broadcast echo).
type Store struct {
	conversationID string
	msgs           []chat.Message
}

// New builds a store from a history response. Duplicates inside the
// response are dropped.
func New(conversationID string, history []chat.Message) Store {
	s := Store{conversationID: conversationID}
	sorted := slices.Clone(history)
	slices.SortStableFunc(sorted, func(a, b chat.Message) int {
		return a.SentAt.Compare(b.SentAt)
	})
	for _, m := range sorted {
		if s.contains(m) {
			continue
		}
		s.msgs = append(s.msgs, m)
	}
	return s
}

// ConversationID returns the conversation the store belongs to. Empty for
// the zero store.
func (s Store) ConversationID() string { return s.conversationID }

// Len returns the number of messages.
func (s Store) Len() int { return len(s.msgs) }

// Messages returns a copy of the messages in display order.
func (s Store) Messages() []chat.Message { return slices.Clone(s.msgs) }

// Last returns the newest message.
func (s Store) Last() (chat.Message, bool) {
	if len(s.msgs) == 0 {
		return chat.Message{}, false
	}
	return s.msgs[len(s.msgs)-1], true
}

// Contains reports whether m, or an echo of it, is already stored.
func (s Store) Contains(m chat.Message) bool { return s.contains(m) }

// Append inserts m at its position in send order. It reports false and
// returns s unchanged when m is a duplicate.
func (s Store) Append(m chat.Message) (Store, bool) {
	if s.contains(m) {
		return s, false
	}
	// Insert after every message sent at or before m so equal timestamps keep
	// arrival order.
	idx, _ := slices.BinarySearchFunc(s.msgs, m.SentAt, func(e chat.Message, t time.Time) int {
		if e.SentAt.After(t) {
			return 1
		}
		return -1
	})
	msgs := make([]chat.Message, 0, len(s.msgs)+1)
	msgs = append(msgs, s.msgs[:idx]...)
	msgs = append(msgs, m)
	msgs = append(msgs, s.msgs[idx:]...)
	return Store{conversationID: s.conversationID, msgs: msgs}, true
}

// Merge appends every message of batch that is not already stored and
// returns the new store and the number of messages added.
func (s Store) Merge(batch []chat.Message) (Store, int) {
	added := 0
	for _, m := range batch {
		var ok bool
		if s, ok = s.Append(m); ok {
			added++
		}
	}
	return s, added
}

// MarkRead transitions the listed messages to read. Messages already read
// keep their original read timestamp; unknown ids are ignored.
func (s Store) MarkRead(ids []int64, at time.Time) Store {
	if len(ids) == 0 || len(s.msgs) == 0 {
		return s
	}
	want := lo.SliceToMap(ids, func(id int64) (int64, struct{}) { return id, struct{}{} })
	msgs := slices.Clone(s.msgs)
	for i := range msgs {
		if _, ok := want[msgs[i].ID]; ok {
			msgs[i] = msgs[i].MarkRead(at)
		}
	}
	return Store{conversationID: s.conversationID, msgs: msgs}
}

// UnreadFor returns the ids of unread messages addressed to p, in display
// order.
func (s Store) UnreadFor(p identity.Participant) []int64 {
	return lo.FilterMap(s.msgs, func(m chat.Message, _ int) (int64, bool) {
		return m.ID, !m.Read && m.ID > 0 && m.AddressedTo(p)
	})
}

func (s Store) contains(m chat.Message) bool {
	return slices.ContainsFunc(s.msgs, func(e chat.Message) bool {
		if m.ID > 0 && e.ID == m.ID {
			return true
		}
		return chat.SameEcho(e, m)
	})
}
