// ABOUTME: Conversation directory kept ordered by last activity
// ABOUTME: A value type; every mutation returns a new directory and leaves the input intact

package conversation

import (
	"cmp"
	"slices"

	"github.com/samber/lo"

	"github.com/2389/coven-inbox/internal/chat"
)

// Directory is the ordered list of conversations of the current participant.
// Entries are unique per (counterparty, job) and sorted by last activity,
// most recent first.
type Directory struct {
	entries []chat.Conversation
}

// NewDirectory builds a directory from an authoritative listing. Entries
// sharing a (counterparty, job) key collapse into the most recently active
// one.
func NewDirectory(convs []chat.Conversation) Directory {
	byKey := make(map[chat.Key]int, len(convs))
	entries := make([]chat.Conversation, 0, len(convs))
	for _, c := range convs {
		c.UnreadCount = max(c.UnreadCount, 0)
		if i, ok := byKey[c.Key()]; ok {
			if c.LastActivity.After(entries[i].LastActivity) {
				entries[i] = c
			}
			continue
		}
		byKey[c.Key()] = len(entries)
		entries = append(entries, c)
	}
	sortByActivity(entries)
	return Directory{entries: entries}
}

// Len returns the number of conversations.
func (d Directory) Len() int { return len(d.entries) }

// Get returns the conversation with the given id.
func (d Directory) Get(id string) (chat.Conversation, bool) {
	return lo.Find(d.entries, func(c chat.Conversation) bool { return c.ID == id })
}

// ListOrderedByActivity returns a copy of the entries, most recent first.
func (d Directory) ListOrderedByActivity() []chat.Conversation {
	return slices.Clone(d.entries)
}

// TotalUnread sums the unread counters of all entries.
func (d Directory) TotalUnread() int {
	return lo.SumBy(d.entries, func(c chat.Conversation) int { return c.UnreadCount })
}

// ApplyInbound records a message received from the counterparty. The unread
// counter grows by one only when countUnread is set; the caller decides that
// from the read-receipt rules.
func (d Directory) ApplyInbound(id string, msg chat.Message, countUnread bool) Directory {
	return d.update(id, func(c *chat.Conversation) {
		touch(c, msg)
		if countUnread {
			c.UnreadCount++
		}
	})
}

// ApplyOutbound records a message sent by the current participant.
func (d Directory) ApplyOutbound(id string, msg chat.Message) Directory {
	return d.update(id, func(c *chat.Conversation) {
		touch(c, msg)
	})
}

// SetUnread overwrites the unread counter of one conversation.
func (d Directory) SetUnread(id string, n int) Directory {
	return d.update(id, func(c *chat.Conversation) {
		c.UnreadCount = max(n, 0)
	})
}

// DecrementUnread lowers the unread counter by n, never below zero.
func (d Directory) DecrementUnread(id string, n int) Directory {
	return d.update(id, func(c *chat.Conversation) {
		c.UnreadCount = max(c.UnreadCount-n, 0)
	})
}

// update copies the entries, applies fn to the entry with the given id and
// restores the ordering. Unknown ids return d unchanged.
func (d Directory) update(id string, fn func(*chat.Conversation)) Directory {
	_, idx, ok := lo.FindIndexOf(d.entries, func(c chat.Conversation) bool { return c.ID == id })
	if !ok {
		return d
	}
	entries := slices.Clone(d.entries)
	fn(&entries[idx])
	sortByActivity(entries)
	return Directory{entries: entries}
}

// touch overwrites the last-message snapshot when msg is at least as new as
// the current one, whatever its read state. Older messages delivered out of
// order leave the snapshot alone.
func touch(c *chat.Conversation, msg chat.Message) {
	if c.LastMessage != nil && msg.SentAt.Before(c.LastMessage.SentAt) {
		return
	}
	c.LastMessage = chat.PreviewOf(msg)
	if !msg.SentAt.Before(c.LastActivity) {
		c.LastActivity = msg.SentAt
	}
}

func sortByActivity(entries []chat.Conversation) {
	slices.SortStableFunc(entries, func(a, b chat.Conversation) int {
		if c := b.LastActivity.Compare(a.LastActivity); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
