// ABOUTME: Chat session owning all conversation state behind a single event loop
// ABOUTME: Callers enqueue commands and read immutable snapshots; nothing else mutates state

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/2389/coven-inbox/internal/bridge"
	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/conversation"
	"github.com/2389/coven-inbox/internal/dedupe"
	"github.com/2389/coven-inbox/internal/identity"
	"github.com/2389/coven-inbox/internal/messages"
	"github.com/2389/coven-inbox/internal/receipts"
)

const (
	defaultQueueSize      = 256
	defaultRequestTimeout = 15 * time.Second
)

var (
	// ErrClosed is returned by commands issued after Run has returned.
	ErrClosed = errors.New("session closed")
	// ErrRunning is returned by a second call to Run.
	ErrRunning = errors.New("session already running")
)

// Backend is the request/response path to the history service.
type Backend interface {
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	GetMessages(ctx context.Context, q chat.HistoryQuery) ([]chat.Message, error)
	Send(ctx context.Context, req chat.SendRequest) (chat.Message, error)
	MarkRead(ctx context.Context, ids []int64) error
	UnreadCount(ctx context.Context) (int, error)
	UnreadMessages(ctx context.Context) ([]chat.Message, error)
}

// Rooms is the room side of the real-time channel. *bridge.Bridge
// implements it.
type Rooms interface {
	JoinRoom(ctx context.Context, room string) error
	LeaveRoom(ctx context.Context, room string) error
	Broadcast(ctx context.Context, room string, msg chat.Message) error
}

// Options configures a Session.
type Options struct {
	Self    identity.Participant
	Backend Backend
	// Rooms is optional; without it the session runs on the
	// request/response path only.
	Rooms  Rooms
	Logger *slog.Logger

	RequestTimeout time.Duration
	QueueSize      int
	DedupeTTL      time.Duration
	DedupeSize     int

	// Now is used for read timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Session is the explicitly owned chat state of one participant.
type Session struct {
	self     identity.Participant
	backend  Backend
	rooms    Rooms
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
	resolver conversation.Resolver
	receipts *receipts.Synchronizer
	seen     *dedupe.Cache

	events  chan event
	done    chan struct{}
	running atomic.Bool
	snap    atomic.Pointer[Snapshot]
	changes chan struct{}

	// Owned by the Run goroutine.
	st  state
	ctx context.Context
}

// New creates a session. Call Run to start processing.
func New(opts Options) (*Session, error) {
	if opts.Self.IsZero() {
		return nil, fmt.Errorf("%w: session needs a participant", chat.ErrValidation)
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("%w: session needs a backend", chat.ErrValidation)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger.With("component", "session", "self", opts.Self.String())

	s := &Session{
		self:     opts.Self,
		backend:  opts.Backend,
		rooms:    opts.Rooms,
		logger:   logger,
		timeout:  opts.RequestTimeout,
		now:      opts.Now,
		resolver: conversation.NewResolver(opts.Self),
		receipts: receipts.New(opts.Self, opts.Backend, opts.Logger),
		seen:     dedupe.New(opts.DedupeTTL, opts.DedupeSize),
		events:   make(chan event, opts.QueueSize),
		done:     make(chan struct{}),
		changes:  make(chan struct{}, 1),
	}
	s.st.conn = bridge.Disconnected
	s.publish()
	return s, nil
}

// Run processes events until ctx is cancelled. It loads the directory and
// the unread total first.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer s.seen.Close()
	defer close(s.done)

	s.ctx = ctx
	s.logger.Info("session started")
	s.refresh("startup")
	s.fetchUnreadCount()
	s.publish()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session stopped")
			return nil
		case ev := <-s.events:
			s.apply(ev)
			s.publish()
		}
	}
}

// Snapshot returns the latest published state.
func (s *Session) Snapshot() Snapshot {
	return *s.snap.Load()
}

// Changes signals after each state change. Signals coalesce: a reader that
// falls behind sees one pending signal and reads the latest Snapshot.
func (s *Session) Changes() <-chan struct{} {
	return s.changes
}

// Select makes a conversation active and loads its history. The returned
// error only covers acceptance; network failures surface in Snapshot.Err.
func (s *Session) Select(ctx context.Context, conversationID string) error {
	return s.command(ctx, func(reply chan error) event {
		return selectCmd{id: conversationID, reply: reply}
	})
}

// Deselect clears the active conversation.
func (s *Session) Deselect(ctx context.Context) error {
	return s.command(ctx, func(reply chan error) event {
		return deselectCmd{reply: reply}
	})
}

// Send sends content to the active conversation. Empty content and a
// missing selection are rejected with chat.ErrValidation before any
// network call.
func (s *Session) Send(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content is required", chat.ErrValidation)
	}
	return s.command(ctx, func(reply chan error) event {
		return sendCmd{content: content, reply: reply}
	})
}

// MarkRead marks messages of the active conversation read in one batch.
func (s *Session) MarkRead(ctx context.Context, ids []int64) error {
	if err := chat.ValidateIDs(ids); err != nil {
		return err
	}
	return s.command(ctx, func(reply chan error) event {
		return markReadCmd{ids: ids, reply: reply}
	})
}

// Refresh reloads the directory from the listing service.
func (s *Session) Refresh(ctx context.Context) error {
	return s.command(ctx, func(reply chan error) event {
		return refreshCmd{reply: reply}
	})
}

// UnreadMessages fetches every unread message addressed to the participant.
// It reads from the service directly and does not touch session state.
func (s *Session) UnreadMessages(ctx context.Context) ([]chat.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	msgs, err := s.backend.UnreadMessages(ctx)
	if err != nil {
		return nil, networkError("unread messages", err)
	}
	return msgs, nil
}

// HandleConnection implements bridge.Sink.
func (s *Session) HandleConnection(change bridge.Change) {
	s.enqueue(connectionEvt{change: change})
}

// HandleMessage implements bridge.Sink.
func (s *Session) HandleMessage(msg chat.Message) {
	s.enqueue(inboundEvt{msg: msg})
}

// HandleUnreadCount implements bridge.Sink.
func (s *Session) HandleUnreadCount(n int) {
	s.enqueue(unreadPushEvt{count: n})
}

func (s *Session) command(ctx context.Context, build func(chan error) event) error {
	reply := make(chan error, 1)
	select {
	case s.events <- build(reply):
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue delivers an event to the loop unless the session has stopped.
func (s *Session) enqueue(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) publish() {
	snap := s.st.snapshot(s.self)
	s.snap.Store(&snap)
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// state is everything the loop owns. Directory and Store are values, so a
// published snapshot never aliases state the loop will modify.
type state struct {
	dir    conversation.Directory
	active string
	store  messages.Store
	// epoch increments on every selection change.
	epoch uint64

	refreshIssued  uint64
	refreshApplied uint64
	refreshing     int
	refreshQueued  bool

	unreadIssued uint64
	unreadTotal  int

	loading bool
	sending int
	conn    bridge.State
	// degraded is set while the real-time channel is unusable.
	degraded bool
	err      error
}

func (st *state) snapshot(self identity.Participant) Snapshot {
	return Snapshot{
		Self:          self,
		Conversations: st.dir.ListOrderedByActivity(),
		Active:        st.active,
		Messages:      st.store.Messages(),
		UnreadTotal:   st.unreadTotal,
		Loading:       st.loading,
		Sending:       st.sending > 0,
		Refreshing:    st.refreshing > 0,
		Connection:    st.conn,
		Degraded:      st.degraded,
		Err:           st.err,
	}
}
