// ABOUTME: Tests for directory ordering, uniqueness and unread bookkeeping
// ABOUTME: Every mutation must leave the original directory untouched

package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/identity"
)

func ids(d Directory) []string {
	out := make([]string, 0, d.Len())
	for _, c := range d.ListOrderedByActivity() {
		out = append(out, c.ID)
	}
	return out
}

func TestNewDirectory_OrdersByActivity(t *testing.T) {
	d := NewDirectory([]chat.Conversation{
		conv("old", chat.NoJob, customer5, base),
		conv("new", chat.NoJob, customer6, base.Add(time.Hour)),
		conv("b-tie", 3, customer5, base.Add(time.Minute)),
		conv("a-tie", 4, customer5, base.Add(time.Minute)),
	})
	assert.Equal(t, []string{"new", "a-tie", "b-tie", "old"}, ids(d))
}

func TestNewDirectory_CollapsesDuplicateKeys(t *testing.T) {
	d := NewDirectory([]chat.Conversation{
		conv("stale", 7, customer5, base),
		conv("fresh", 7, customer5, base.Add(time.Hour)),
		conv("other", 8, customer5, base),
	})
	require.Equal(t, 2, d.Len())
	_, ok := d.Get("stale")
	assert.False(t, ok)
	_, ok = d.Get("fresh")
	assert.True(t, ok)
}

func TestNewDirectory_ClampsNegativeUnread(t *testing.T) {
	c := conv("C1", chat.NoJob, customer5, base)
	c.UnreadCount = -4
	d := NewDirectory([]chat.Conversation{c})
	got, _ := d.Get("C1")
	assert.Equal(t, 0, got.UnreadCount)
}

func TestApplyInbound_UpdatesPreviewUnreadAndOrder(t *testing.T) {
	d := NewDirectory([]chat.Conversation{
		conv("C1", chat.NoJob, customer5, base),
		conv("C2", chat.NoJob, customer6, base.Add(time.Minute)),
	})
	require.Equal(t, []string{"C2", "C1"}, ids(d))

	m := msg(10, chat.NoJob, customer5, self, "Hi", base.Add(time.Hour))
	next := d.ApplyInbound("C1", m, true)

	got, ok := next.Get("C1")
	require.True(t, ok)
	assert.Equal(t, 1, got.UnreadCount)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "Hi", got.LastMessage.Content)
	assert.Equal(t, m.SentAt, got.LastActivity)
	assert.Equal(t, []string{"C1", "C2"}, ids(next))

	// The input directory is untouched.
	orig, _ := d.Get("C1")
	assert.Equal(t, 0, orig.UnreadCount)
	assert.Nil(t, orig.LastMessage)
	assert.Equal(t, []string{"C2", "C1"}, ids(d))
}

func TestApplyInbound_ActiveConversationDoesNotCount(t *testing.T) {
	d := NewDirectory([]chat.Conversation{conv("C1", chat.NoJob, customer5, base)})
	next := d.ApplyInbound("C1", msg(1, chat.NoJob, customer5, self, "Hi", base.Add(time.Second)), false)

	got, _ := next.Get("C1")
	assert.Equal(t, 0, got.UnreadCount)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "Hi", got.LastMessage.Content)
}

func TestApplyOutbound_TouchesPreviewOnly(t *testing.T) {
	c := conv("C1", chat.NoJob, customer5, base)
	c.UnreadCount = 2
	d := NewDirectory([]chat.Conversation{c})

	next := d.ApplyOutbound("C1", msg(5, chat.NoJob, self, customer5, "Hello", base.Add(time.Minute)))
	got, _ := next.Get("C1")
	assert.Equal(t, 2, got.UnreadCount)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, self, got.LastMessage.Sender)
}

func TestTouch_OlderMessageKeepsPreview(t *testing.T) {
	d := NewDirectory([]chat.Conversation{conv("C1", chat.NoJob, customer5, base)})
	d = d.ApplyInbound("C1", msg(2, chat.NoJob, customer5, self, "newer", base.Add(time.Hour)), true)
	d = d.ApplyInbound("C1", msg(1, chat.NoJob, customer5, self, "older", base.Add(time.Minute)), true)

	got, _ := d.Get("C1")
	assert.Equal(t, "newer", got.LastMessage.Content)
	assert.Equal(t, base.Add(time.Hour), got.LastActivity)
	assert.Equal(t, 2, got.UnreadCount, "late messages still count as unread")
}

func TestUnreadCounters(t *testing.T) {
	c1 := conv("C1", chat.NoJob, customer5, base)
	c1.UnreadCount = 3
	c2 := conv("C2", 7, identity.Provider(4), base)
	c2.UnreadCount = 2
	d := NewDirectory([]chat.Conversation{c1, c2})
	assert.Equal(t, 5, d.TotalUnread())

	d = d.DecrementUnread("C1", 10)
	got, _ := d.Get("C1")
	assert.Equal(t, 0, got.UnreadCount)

	d = d.SetUnread("C2", -1)
	got, _ = d.Get("C2")
	assert.Equal(t, 0, got.UnreadCount)
	assert.Equal(t, 0, d.TotalUnread())
}

func TestUpdate_UnknownIDIsNoop(t *testing.T) {
	d := NewDirectory([]chat.Conversation{conv("C1", chat.NoJob, customer5, base)})
	next := d.ApplyInbound("missing", msg(1, chat.NoJob, customer5, self, "Hi", base), true)
	assert.Equal(t, d, next)
}

func TestOrderingHoldsAfterMutations(t *testing.T) {
	d := NewDirectory([]chat.Conversation{
		conv("C1", chat.NoJob, customer5, base),
		conv("C2", chat.NoJob, customer6, base.Add(time.Second)),
		conv("C3", 9, customer6, base.Add(2*time.Second)),
	})
	steps := []struct {
		id string
		at time.Duration
	}{
		{"C1", 10 * time.Second},
		{"C3", 5 * time.Second},
		{"C2", 20 * time.Second},
		{"C1", 3 * time.Second},
	}
	for i, s := range steps {
		d = d.ApplyInbound(s.id, msg(int64(i+1), chat.NoJob, customer5, self, "x", base.Add(s.at)), true)
		list := d.ListOrderedByActivity()
		for k := 1; k < len(list); k++ {
			assert.False(t, list[k].LastActivity.After(list[k-1].LastActivity),
				"step %d: %s after %s", i, list[k].ID, list[k-1].ID)
		}
	}
	assert.Equal(t, []string{"C2", "C1", "C3"}, ids(d))
}
