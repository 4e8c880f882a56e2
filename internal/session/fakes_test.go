// ABOUTME: Hand-written fakes for session tests: a scriptable backend and a room recorder
// ABOUTME: Gates let a test hold a request in flight while it changes the selection

package session

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/identity"
)

var (
	self      = identity.Provider(9)
	customer5 = identity.Customer(5)
	customer6 = identity.Customer(6)
	customer7 = identity.Customer(7)
	base      = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
)

type fakeBackend struct {
	mu sync.Mutex

	convs   []chat.Conversation
	history map[chat.HistoryQuery][]chat.Message
	unread  int

	historyGates map[chat.HistoryQuery]chan struct{}
	sendGate     chan struct{}
	markErr      error
	sendErr      error

	listCalls       int
	historyCalls    int
	historyReturned int
	markCalls       [][]int64
	sent            []chat.SendRequest
	nextID          int64
}

func newFakeBackend(convs ...chat.Conversation) *fakeBackend {
	return &fakeBackend{
		convs:        convs,
		history:      make(map[chat.HistoryQuery][]chat.Message),
		historyGates: make(map[chat.HistoryQuery]chan struct{}),
		unread:       7,
		nextID:       1000,
	}
}

func (f *fakeBackend) ListConversations(context.Context) ([]chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	out := make([]chat.Conversation, len(f.convs))
	copy(out, f.convs)
	return out, nil
}

func (f *fakeBackend) GetMessages(ctx context.Context, q chat.HistoryQuery) ([]chat.Message, error) {
	f.mu.Lock()
	f.historyCalls++
	gate := f.historyGates[q]
	msgs := append([]chat.Message(nil), f.history[q]...)
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.historyReturned++
	f.mu.Unlock()
	return msgs, nil
}

func (f *fakeBackend) Send(ctx context.Context, req chat.SendRequest) (chat.Message, error) {
	f.mu.Lock()
	gate := f.sendGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return chat.Message{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	if f.sendErr != nil {
		return chat.Message{}, f.sendErr
	}
	f.nextID++
	return chat.Message{
		ID:       f.nextID,
		Job:      req.Job,
		Sender:   self,
		Receiver: req.Receiver,
		Content:  req.Content,
		SentAt:   base.Add(time.Duration(f.nextID) * time.Second),
	}, nil
}

func (f *fakeBackend) MarkRead(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls = append(f.markCalls, append([]int64(nil), ids...))
	return f.markErr
}

func (f *fakeBackend) UnreadCount(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread, nil
}

func (f *fakeBackend) UnreadMessages(context.Context) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chat.Message
	for _, msgs := range f.history {
		for _, m := range msgs {
			if !m.Read && m.AddressedTo(self) {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (f *fakeBackend) lists() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeBackend) marks() [][]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]int64(nil), f.markCalls...)
}

func (f *fakeBackend) histories() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.historyCalls
}

func (f *fakeBackend) returned() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.historyReturned
}

type fakeRooms struct {
	mu         sync.Mutex
	joined     []string
	left       []string
	broadcasts []chat.Message
}

func (r *fakeRooms) JoinRoom(_ context.Context, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined = append(r.joined, room)
	return nil
}

func (r *fakeRooms) LeaveRoom(_ context.Context, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = append(r.left, room)
	return nil
}

func (r *fakeRooms) Broadcast(_ context.Context, _ string, msg chat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, msg)
	return nil
}

func (r *fakeRooms) joins() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.joined...)
}

func conv(id string, job chat.JobRef, counterparty identity.Participant, unread int, at time.Time) chat.Conversation {
	return chat.Conversation{ID: id, Job: job, Counterparty: counterparty, UnreadCount: unread, LastActivity: at}
}

func inbound(id int64, job chat.JobRef, from identity.Participant, content string, at time.Time) chat.Message {
	return chat.Message{ID: id, Job: job, Sender: from, Receiver: self, Content: content, SentAt: at}
}

// start runs a session against fb and waits for the startup listing and
// unread count to land.
func start(t *testing.T, fb *fakeBackend, rooms Rooms) *Session {
	t.Helper()
	return startWith(t, fb, Options{Rooms: rooms})
}

func startWith(t *testing.T, fb *fakeBackend, opts Options) *Session {
	t.Helper()
	opts.Self = self
	opts.Backend = fb
	opts.Now = func() time.Time { return base.Add(time.Hour) }
	s, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	fb.mu.Lock()
	wantConvs, wantUnread := len(fb.convs), fb.unread
	fb.mu.Unlock()
	waitFor(t, s, func(snap Snapshot) bool {
		return len(snap.Conversations) == wantConvs && snap.UnreadTotal == wantUnread && !snap.Refreshing
	})
	return s
}

func waitFor(t *testing.T, s *Session, cond func(Snapshot) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(s.Snapshot()) }, 2*time.Second, 5*time.Millisecond)
}

func unreadOf(snap Snapshot, id string) int {
	c, _ := snap.Conversation(id)
	return c.UnreadCount
}

func lastContent(snap Snapshot, id string) string {
	c, ok := snap.Conversation(id)
	if !ok || c.LastMessage == nil {
		return ""
	}
	return c.LastMessage.Content
}

// recordingHandler keeps every log record so tests can inspect attributes.
type recordingHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
}

func newRecordingHandler() recordingHandler {
	return recordingHandler{mu: &sync.Mutex{}, records: &[]slog.Record{}}
}

func (h recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, r.Clone())
	return nil
}

func (h recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h recordingHandler) WithGroup(string) slog.Handler      { return h }

// reasons returns the "reason" attribute of every record whose message is msg.
func (h recordingHandler) reasons(msg string) []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []any
	for _, r := range *h.records {
		if r.Message != msg {
			continue
		}
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "reason" {
				out = append(out, a.Value.Any())
			}
			return true
		})
	}
	return out
}
