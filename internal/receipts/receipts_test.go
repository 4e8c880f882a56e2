// ABOUTME: Tests for unread counting decisions and batched mark-read
// ABOUTME: Uses a recording marker to check call counts and batches

package receipts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/conversation"
	"github.com/2389/coven-inbox/internal/identity"
	"github.com/2389/coven-inbox/internal/messages"
)

type recordingMarker struct {
	mu    sync.Mutex
	calls [][]int64
	err   error
}

func (m *recordingMarker) MarkRead(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, ids)
	return m.err
}

var (
	self     = identity.Provider(9)
	customer = identity.Customer(5)
	t0       = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
)

func inbound(id int64) chat.Message {
	return chat.Message{ID: id, Sender: customer, Receiver: self, Content: "hi", SentAt: t0.Add(time.Duration(id) * time.Second)}
}

func matched(id string, dir conversation.Direction) conversation.Resolution {
	return conversation.Resolution{Outcome: conversation.Matched, ConversationID: id, Direction: dir}
}

func TestOnMessageArrived(t *testing.T) {
	s := New(self, &recordingMarker{}, nil)

	tests := []struct {
		name   string
		msg    chat.Message
		res    conversation.Resolution
		active string
		want   Decision
	}{
		{"inbound to inactive counts", inbound(1), matched("C1", conversation.Inbound), "C2", Decision{CountUnread: true}},
		{"inbound with nothing active counts", inbound(1), matched("C1", conversation.Inbound), "", Decision{CountUnread: true}},
		{"inbound to active is read now", inbound(1), matched("C1", conversation.Inbound), "C1", Decision{MarkReadNow: true}},
		{"outbound never counts", chat.Message{ID: 2, Sender: self, Receiver: customer}, matched("C1", conversation.Outbound), "C2", Decision{}},
		{"unknown never counts", inbound(1), conversation.Resolution{Outcome: conversation.Unknown}, "", Decision{}},
		{"foreign never counts", inbound(1), conversation.Resolution{Outcome: conversation.Foreign}, "", Decision{}},
		{"already read", inbound(1).MarkRead(t0), matched("C1", conversation.Inbound), "C2", Decision{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.OnMessageArrived(tt.msg, tt.res, tt.active))
		})
	}
}

func TestPending_OnlyUnreadAddressedToSelf(t *testing.T) {
	s := New(self, &recordingMarker{}, nil)
	store := messages.New("C1", []chat.Message{
		inbound(3),
		inbound(1),
		inbound(2).MarkRead(t0),
		{ID: 4, Sender: self, Receiver: customer, Content: "mine", SentAt: t0.Add(4 * time.Second)},
	})
	assert.Equal(t, []int64{1, 3}, s.Pending(store))
}

func TestMarkRead_SingleBatchedCall(t *testing.T) {
	m := &recordingMarker{}
	s := New(self, m, nil)

	confirmed, err := s.MarkRead(context.Background(), []int64{3, 1, 3, 2, 0})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, confirmed)
	require.Len(t, m.calls, 1)
	assert.Equal(t, []int64{1, 2, 3}, m.calls[0])
}

func TestMarkRead_EmptyBatchMakesNoCall(t *testing.T) {
	m := &recordingMarker{}
	s := New(self, m, nil)

	confirmed, err := s.MarkRead(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, confirmed)
	assert.Empty(t, m.calls)
}

func TestMarkRead_FailureWrapsNetwork(t *testing.T) {
	m := &recordingMarker{err: errors.New("connection reset")}
	s := New(self, m, nil)

	confirmed, err := s.MarkRead(context.Background(), []int64{1})
	require.ErrorIs(t, err, chat.ErrNetwork)
	assert.Nil(t, confirmed)
}

func TestConfirm(t *testing.T) {
	c := chat.Conversation{ID: "C1", Counterparty: customer, UnreadCount: 3, LastActivity: t0}
	dir := conversation.NewDirectory([]chat.Conversation{c})

	zeroed := Confirm(dir, "C1", []int64{1, 2}, true)
	got, _ := zeroed.Get("C1")
	assert.Equal(t, 0, got.UnreadCount, "current selection drops to exactly zero")

	partial := Confirm(dir, "C1", []int64{1, 2}, false)
	got, _ = partial.Get("C1")
	assert.Equal(t, 1, got.UnreadCount)

	clamped := Confirm(dir, "C1", []int64{1, 2, 3, 4, 5}, false)
	got, _ = clamped.Get("C1")
	assert.Equal(t, 0, got.UnreadCount)
}

func TestFailedMarkReadLeavesCountUntouched(t *testing.T) {
	c := chat.Conversation{ID: "C1", Counterparty: customer, UnreadCount: 2, LastActivity: t0}
	dir := conversation.NewDirectory([]chat.Conversation{c})
	s := New(self, &recordingMarker{err: chat.ErrNetwork}, nil)

	confirmed, err := s.MarkRead(context.Background(), []int64{1, 2})
	require.Error(t, err)
	if len(confirmed) > 0 {
		dir = Confirm(dir, "C1", confirmed, true)
	}
	got, _ := dir.Get("C1")
	assert.Equal(t, 2, got.UnreadCount)
}
