// ABOUTME: Behavioural tests for the session loop
// ABOUTME: Covers inbound routing, stale completions, read receipts and reconnect reconciliation

package session

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-inbox/internal/bridge"
	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/identity"
)

func TestNew_RequiresSelfAndBackend(t *testing.T) {
	_, err := New(Options{Backend: newFakeBackend()})
	require.ErrorIs(t, err, chat.ErrValidation)
	_, err = New(Options{Self: self})
	require.ErrorIs(t, err, chat.ErrValidation)
}

func TestRun_Twice(t *testing.T) {
	s := start(t, newFakeBackend(), nil)
	assert.ErrorIs(t, s.Run(context.Background()), ErrRunning)
}

func TestInbound_ScenarioA(t *testing.T) {
	fb := newFakeBackend(conv("C1", chat.NoJob, customer5, 0, base))
	s := start(t, fb, nil)

	s.HandleMessage(inbound(1, chat.NoJob, customer5, "Hi", base.Add(time.Minute)))

	waitFor(t, s, func(snap Snapshot) bool { return unreadOf(snap, "C1") == 1 })
	snap := s.Snapshot()
	assert.Equal(t, "Hi", lastContent(snap, "C1"))
	assert.Equal(t, 8, snap.UnreadTotal)
	assert.Empty(t, snap.Messages, "inactive conversations are not buffered")
}

func TestInbound_ScenarioB_JobReferenceAfterReassignment(t *testing.T) {
	fb := newFakeBackend(
		conv("C1", 42, customer5, 0, base),
		conv("C2", chat.NoJob, customer6, 0, base.Add(time.Minute)),
	)
	s := start(t, fb, nil)

	s.HandleMessage(inbound(1, 42, customer6, "job update", base.Add(time.Hour)))

	waitFor(t, s, func(snap Snapshot) bool { return unreadOf(snap, "C1") == 1 })
	snap := s.Snapshot()
	assert.Equal(t, 0, unreadOf(snap, "C2"))
	assert.Equal(t, "C1", snap.Conversations[0].ID, "C1 moved to the top")
}

func TestSend_ScenarioC_StaleResponseStaysOut(t *testing.T) {
	c2 := conv("C2", chat.NoJob, customer5, 0, base)
	c3 := conv("C3", chat.NoJob, customer6, 0, base.Add(time.Minute))
	fb := newFakeBackend(c2, c3)
	fb.history[chat.QueryFor(c3)] = []chat.Message{inbound(50, chat.NoJob, customer6, "from C3", base).MarkRead(base)}
	gate := make(chan struct{})
	fb.sendGate = gate
	s := start(t, fb, nil)
	ctx := context.Background()

	require.NoError(t, s.Select(ctx, "C2"))
	waitFor(t, s, func(snap Snapshot) bool { return !snap.Loading })

	require.NoError(t, s.Send(ctx, "Hello"))
	waitFor(t, s, func(snap Snapshot) bool { return snap.Sending })

	require.NoError(t, s.Select(ctx, "C3"))
	waitFor(t, s, func(snap Snapshot) bool { return snap.Active == "C3" && !snap.Loading && len(snap.Messages) == 1 })

	close(gate)
	waitFor(t, s, func(snap Snapshot) bool { return !snap.Sending })

	snap := s.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "from C3", snap.Messages[0].Content)
	assert.Equal(t, "Hello", lastContent(snap, "C2"), "the confirmed send still updates its own conversation")
	assert.NoError(t, snap.Err)
}

func TestInbound_ScenarioD_TwoMessagesCountTwice(t *testing.T) {
	fb := newFakeBackend(
		conv("C1", chat.NoJob, customer5, 0, base),
		conv("C2", chat.NoJob, customer6, 0, base),
	)
	fb.history[chat.QueryFor(conv("C2", chat.NoJob, customer6, 0, base))] = nil
	s := start(t, fb, nil)
	require.NoError(t, s.Select(context.Background(), "C2"))

	// Delivered out of order.
	s.HandleMessage(inbound(2, chat.NoJob, customer5, "second", base.Add(2*time.Minute)))
	s.HandleMessage(inbound(1, chat.NoJob, customer5, "first", base.Add(time.Minute)))

	waitFor(t, s, func(snap Snapshot) bool { return unreadOf(snap, "C1") == 2 })
	assert.Equal(t, "second", lastContent(s.Snapshot(), "C1"))
}

func TestInbound_DuplicateDeliveryCountsOnce(t *testing.T) {
	fb := newFakeBackend(conv("C1", chat.NoJob, customer5, 0, base), conv("C9", chat.NoJob, customer7, 0, base))
	s := start(t, fb, nil)

	m := inbound(1, chat.NoJob, customer5, "Hi", base.Add(time.Minute))
	s.HandleMessage(m)
	s.HandleMessage(m)
	// A sentinel on another conversation proves both deliveries were applied.
	s.HandleMessage(inbound(2, chat.NoJob, customer7, "sentinel", base.Add(2*time.Minute)))

	waitFor(t, s, func(snap Snapshot) bool { return unreadOf(snap, "C9") == 1 })
	assert.Equal(t, 1, unreadOf(s.Snapshot(), "C1"))
}

func TestInbound_ActiveConversationIsReadOnArrival(t *testing.T) {
	c1 := conv("C1", chat.NoJob, customer5, 0, base)
	fb := newFakeBackend(c1)
	s := start(t, fb, nil)
	require.NoError(t, s.Select(context.Background(), "C1"))
	waitFor(t, s, func(snap Snapshot) bool { return !snap.Loading })

	s.HandleMessage(inbound(11, chat.NoJob, customer5, "live", base.Add(time.Minute)))

	waitFor(t, s, func(snap Snapshot) bool { return len(snap.Messages) == 1 && snap.Messages[0].Read })
	assert.Equal(t, 0, unreadOf(s.Snapshot(), "C1"))
	assert.Equal(t, [][]int64{{11}}, fb.marks())
}

func TestInbound_ForeignAndSelfChatIgnored(t *testing.T) {
	fb := newFakeBackend(conv("C1", 42, customer5, 0, base))
	s := start(t, fb, nil)

	s.HandleMessage(chat.Message{ID: 1, Job: 42, Sender: customer5, Receiver: identity.Provider(10), Content: "not ours", SentAt: base})
	s.HandleMessage(chat.Message{ID: 2, Job: 42, Sender: self, Receiver: self, Content: "me", SentAt: base})
	s.HandleUnreadCount(3) // marker event processed after both messages

	waitFor(t, s, func(snap Snapshot) bool { return snap.UnreadTotal == 3 })
	snap := s.Snapshot()
	assert.Equal(t, 0, unreadOf(snap, "C1"))
	assert.Empty(t, lastContent(snap, "C1"))
	assert.Equal(t, 1, fb.lists(), "no refresh for foreign events")
}

func TestInbound_UnknownConversationRefreshes(t *testing.T) {
	fb := newFakeBackend(conv("C1", chat.NoJob, customer5, 0, base))
	s := start(t, fb, nil)

	fb.mu.Lock()
	fb.convs = append(fb.convs, conv("C2", chat.NoJob, customer6, 1, base.Add(time.Hour)))
	fb.mu.Unlock()
	s.HandleMessage(inbound(5, chat.NoJob, customer6, "new here", base.Add(time.Hour)))

	waitFor(t, s, func(snap Snapshot) bool { _, ok := snap.Conversation("C2"); return ok })
	assert.Equal(t, 2, fb.lists())
	assert.Equal(t, 1, unreadOf(s.Snapshot(), "C2"))
}

func TestSelect_MarksLoadedUnreadInOneBatch(t *testing.T) {
	c1 := conv("C1", chat.NoJob, customer5, 2, base)
	fb := newFakeBackend(c1)
	fb.history[chat.QueryFor(c1)] = []chat.Message{
		inbound(3, chat.NoJob, customer5, "c", base.Add(3*time.Second)),
		inbound(1, chat.NoJob, customer5, "a", base.Add(time.Second)).MarkRead(base),
		inbound(2, chat.NoJob, customer5, "b", base.Add(2*time.Second)),
		{ID: 4, Sender: self, Receiver: customer5, Content: "mine", SentAt: base.Add(4 * time.Second)},
	}
	s := start(t, fb, nil)

	require.NoError(t, s.Select(context.Background(), "C1"))

	waitFor(t, s, func(snap Snapshot) bool { return unreadOf(snap, "C1") == 0 })
	assert.Equal(t, [][]int64{{2, 3}}, fb.marks())

	snap := s.Snapshot()
	require.Len(t, snap.Messages, 4)
	assert.Equal(t, []string{"a", "b", "c", "mine"}, []string{
		snap.Messages[0].Content, snap.Messages[1].Content, snap.Messages[2].Content, snap.Messages[3].Content,
	})
	waitFor(t, s, func(snap Snapshot) bool { return snap.Messages[1].Read && snap.Messages[2].Read })
}

func TestSelect_NothingUnreadMakesNoCall(t *testing.T) {
	c1 := conv("C1", chat.NoJob, customer5, 0, base)
	fb := newFakeBackend(c1)
	fb.history[chat.QueryFor(c1)] = []chat.Message{inbound(1, chat.NoJob, customer5, "a", base).MarkRead(base)}
	s := start(t, fb, nil)

	require.NoError(t, s.Select(context.Background(), "C1"))
	waitFor(t, s, func(snap Snapshot) bool { return !snap.Loading && len(snap.Messages) == 1 })
	assert.Empty(t, fb.marks())
}

func TestSelect_MarkReadFailureKeepsCount(t *testing.T) {
	c1 := conv("C1", chat.NoJob, customer5, 2, base)
	fb := newFakeBackend(c1)
	fb.history[chat.QueryFor(c1)] = []chat.Message{
		inbound(1, chat.NoJob, customer5, "a", base.Add(time.Second)),
		inbound(2, chat.NoJob, customer5, "b", base.Add(2*time.Second)),
	}
	fb.markErr = errors.New("503 service unavailable")
	s := start(t, fb, nil)

	require.NoError(t, s.Select(context.Background(), "C1"))

	waitFor(t, s, func(snap Snapshot) bool { return snap.Err != nil })
	snap := s.Snapshot()
	assert.ErrorIs(t, snap.Err, chat.ErrNetwork)
	assert.Equal(t, 2, unreadOf(snap, "C1"))
	assert.False(t, snap.Messages[0].Read)
}

func TestSelect_UnknownConversationRejected(t *testing.T) {
	s := start(t, newFakeBackend(conv("C1", chat.NoJob, customer5, 0, base)), nil)
	assert.ErrorIs(t, s.Select(context.Background(), "nope"), chat.ErrValidation)
}

func TestSelect_StaleHistoryDiscarded(t *testing.T) {
	c1 := conv("C1", chat.NoJob, customer5, 0, base)
	c2 := conv("C2", chat.NoJob, customer6, 0, base)
	fb := newFakeBackend(c1, c2)
	fb.history[chat.QueryFor(c1)] = []chat.Message{inbound(1, chat.NoJob, customer5, "old selection", base).MarkRead(base)}
	fb.history[chat.QueryFor(c2)] = []chat.Message{inbound(2, chat.NoJob, customer6, "current", base).MarkRead(base)}
	gate := make(chan struct{})
	fb.historyGates[chat.QueryFor(c1)] = gate
	logs := newRecordingHandler()
	s := startWith(t, fb, Options{Logger: slog.New(logs)})
	ctx := context.Background()

	require.NoError(t, s.Select(ctx, "C1"))
	require.NoError(t, s.Select(ctx, "C2"))
	waitFor(t, s, func(snap Snapshot) bool { return !snap.Loading && len(snap.Messages) == 1 })

	close(gate)
	// Let the gated load complete, then check it never landed.
	require.Eventually(t, func() bool { return fb.returned() == 2 }, time.Second, 5*time.Millisecond)
	s.HandleUnreadCount(1)
	waitFor(t, s, func(snap Snapshot) bool { return snap.UnreadTotal == 1 })

	snap := s.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "current", snap.Messages[0].Content)
	assert.Equal(t, "C2", snap.Active)

	require.Eventually(t, func() bool { return len(logs.reasons("history discarded")) == 1 }, time.Second, 5*time.Millisecond)
	reasons := logs.reasons("history discarded")
	err, ok := reasons[0].(error)
	require.True(t, ok)
	assert.ErrorIs(t, err, chat.ErrStale)
}

func TestSend_Validation(t *testing.T) {
	fb := newFakeBackend(conv("C1", chat.NoJob, customer5, 0, base))
	s := start(t, fb, nil)
	ctx := context.Background()

	assert.ErrorIs(t, s.Send(ctx, "hello"), chat.ErrValidation, "no active conversation")
	require.NoError(t, s.Select(ctx, "C1"))
	assert.ErrorIs(t, s.Send(ctx, "   "), chat.ErrValidation)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.Empty(t, fb.sent)
}

func TestSend_AppendsBroadcastsAndSuppressesEcho(t *testing.T) {
	c1 := conv("C1", 42, customer5, 0, base)
	fb := newFakeBackend(c1)
	rooms := &fakeRooms{}
	s := start(t, fb, rooms)
	ctx := context.Background()
	s.HandleConnection(bridge.Change{State: bridge.Connected})
	waitFor(t, s, func(snap Snapshot) bool { return snap.Connection == bridge.Connected && !snap.Refreshing })

	require.NoError(t, s.Select(ctx, "C1"))
	require.NoError(t, s.Send(ctx, "  Hello  "))
	waitFor(t, s, func(snap Snapshot) bool { return len(snap.Messages) == 1 && !snap.Sending })

	sent := s.Snapshot().Messages[0]
	assert.Equal(t, "Hello", sent.Content)
	assert.Equal(t, chat.JobRef(42), sent.Job)
	assert.Equal(t, customer5, sent.Receiver)

	// The hub echoes the message back to the room.
	s.HandleMessage(sent)
	s.HandleUnreadCount(2)
	waitFor(t, s, func(snap Snapshot) bool { return snap.UnreadTotal == 2 })
	assert.Len(t, s.Snapshot().Messages, 1)

	require.Eventually(t, func() bool {
		rooms.mu.Lock()
		defer rooms.mu.Unlock()
		return len(rooms.broadcasts) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, rooms.joins(), "C1")
}

func TestSend_FailureSetsError(t *testing.T) {
	fb := newFakeBackend(conv("C1", chat.NoJob, customer5, 0, base))
	fb.sendErr = errors.New("timeout")
	s := start(t, fb, nil)
	ctx := context.Background()

	require.NoError(t, s.Select(ctx, "C1"))
	require.NoError(t, s.Send(ctx, "Hello"))

	waitFor(t, s, func(snap Snapshot) bool { return snap.Err != nil && !snap.Sending })
	snap := s.Snapshot()
	assert.ErrorIs(t, snap.Err, chat.ErrNetwork)
	assert.Empty(t, snap.Messages)
	assert.Empty(t, lastContent(snap, "C1"))
}

func TestReconnect_ExactlyOneRefresh(t *testing.T) {
	c1 := conv("C1", chat.NoJob, customer5, 0, base)
	fb := newFakeBackend(c1)
	rooms := &fakeRooms{}
	s := start(t, fb, rooms)
	require.NoError(t, s.Select(context.Background(), "C1"))
	waitFor(t, s, func(snap Snapshot) bool { return !snap.Loading })
	require.Equal(t, 1, fb.lists())
	historyBefore := fb.histories()

	s.HandleConnection(bridge.Change{State: bridge.Reconnecting, Err: errors.New("EOF")})
	waitFor(t, s, func(snap Snapshot) bool { return snap.Degraded })

	// Missed while down.
	fb.mu.Lock()
	fb.history[chat.QueryFor(c1)] = []chat.Message{inbound(9, chat.NoJob, customer5, "missed", base.Add(time.Minute))}
	fb.mu.Unlock()

	s.HandleConnection(bridge.Change{State: bridge.Connected, Reconnected: true})
	waitFor(t, s, func(snap Snapshot) bool {
		return !snap.Degraded && !snap.Refreshing && !snap.Loading && len(snap.Messages) == 1
	})

	// The reloaded message is settled by a mark-read; nothing else refreshes.
	waitFor(t, s, func(snap Snapshot) bool { return snap.Messages[0].Read })
	assert.Equal(t, 2, fb.lists())
	assert.Equal(t, historyBefore+1, fb.histories())
	assert.Equal(t, "missed", s.Snapshot().Messages[0].Content)
	require.Eventually(t, func() bool { return len(rooms.joins()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"C1"}, rooms.joins())
}

func TestTransportErrorDegradesWithoutRefresh(t *testing.T) {
	fb := newFakeBackend(conv("C1", chat.NoJob, customer5, 0, base))
	s := start(t, fb, nil)
	s.HandleConnection(bridge.Change{State: bridge.Connected})
	waitFor(t, s, func(snap Snapshot) bool { return snap.Connection == bridge.Connected && !snap.Refreshing })
	lists := fb.lists()

	s.HandleConnection(bridge.Change{State: bridge.Connected, Err: chat.ErrTransport})
	waitFor(t, s, func(snap Snapshot) bool { return snap.Degraded })
	assert.Equal(t, lists, fb.lists())
	assert.NoError(t, s.Snapshot().Err, "transport failures never surface as request errors")
}

func TestTransportError_ClearedByNextFrame(t *testing.T) {
	fb := newFakeBackend(conv("C1", chat.NoJob, customer5, 0, base))
	s := start(t, fb, nil)
	s.HandleConnection(bridge.Change{State: bridge.Connected})
	waitFor(t, s, func(snap Snapshot) bool { return snap.Connection == bridge.Connected && !snap.Refreshing })

	s.HandleConnection(bridge.Change{State: bridge.Connected, Err: chat.ErrTransport})
	waitFor(t, s, func(snap Snapshot) bool { return snap.Degraded })

	s.HandleMessage(inbound(1, chat.NoJob, customer5, "still here", base.Add(time.Minute)))
	waitFor(t, s, func(snap Snapshot) bool { return unreadOf(snap, "C1") == 1 })
	assert.False(t, s.Snapshot().Degraded)

	s.HandleConnection(bridge.Change{State: bridge.Connected, Err: chat.ErrTransport})
	waitFor(t, s, func(snap Snapshot) bool { return snap.Degraded })
	s.HandleUnreadCount(3)
	waitFor(t, s, func(snap Snapshot) bool { return snap.UnreadTotal == 3 })
	assert.False(t, s.Snapshot().Degraded)
}

func TestInbound_WhileReconnectingStaysDegraded(t *testing.T) {
	fb := newFakeBackend(conv("C1", chat.NoJob, customer5, 0, base))
	s := start(t, fb, nil)
	s.HandleConnection(bridge.Change{State: bridge.Reconnecting, Err: errors.New("EOF")})
	waitFor(t, s, func(snap Snapshot) bool { return snap.Degraded })

	s.HandleMessage(inbound(1, chat.NoJob, customer5, "late frame", base.Add(time.Minute)))
	waitFor(t, s, func(snap Snapshot) bool { return unreadOf(snap, "C1") == 1 })
	assert.True(t, s.Snapshot().Degraded)
}

func TestMarkRead_RequiresActiveConversation(t *testing.T) {
	s := start(t, newFakeBackend(conv("C1", chat.NoJob, customer5, 0, base)), nil)
	ctx := context.Background()
	assert.ErrorIs(t, s.MarkRead(ctx, []int64{1}), chat.ErrValidation)
	assert.ErrorIs(t, s.MarkRead(ctx, []int64{0}), chat.ErrValidation)
}

func TestRefresh_Manual(t *testing.T) {
	fb := newFakeBackend(conv("C1", chat.NoJob, customer5, 0, base))
	s := start(t, fb, nil)
	require.NoError(t, s.Refresh(context.Background()))
	require.Eventually(t, func() bool { return fb.lists() == 2 }, time.Second, 5*time.Millisecond)
}

func TestUnreadMessages_PassThrough(t *testing.T) {
	c1 := conv("C1", chat.NoJob, customer5, 1, base)
	fb := newFakeBackend(c1)
	fb.history[chat.QueryFor(c1)] = []chat.Message{inbound(1, chat.NoJob, customer5, "a", base)}
	s := start(t, fb, nil)

	msgs, err := s.UnreadMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1), msgs[0].ID)
}

func TestCommandsAfterStop(t *testing.T) {
	s, err := New(Options{Self: self, Backend: newFakeBackend()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)

	assert.ErrorIs(t, s.Refresh(context.Background()), ErrClosed)
}

func TestChanges_Coalesce(t *testing.T) {
	s := start(t, newFakeBackend(conv("C1", chat.NoJob, customer5, 0, base)), nil)
	s.HandleUnreadCount(1)
	s.HandleUnreadCount(2)
	waitFor(t, s, func(snap Snapshot) bool { return snap.UnreadTotal == 2 })

	select {
	case <-s.Changes():
	default:
		t.Fatal("expected a pending change signal")
	}
	select {
	case <-s.Changes():
		t.Fatal("signals should coalesce")
	default:
	}
}
