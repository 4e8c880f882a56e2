// ABOUTME: Event handlers run by the session loop, one event at a time
// ABOUTME: Completions tagged with an old selection epoch never touch the active conversation

package session

import (
	"fmt"
	"strings"

	"github.com/2389/coven-inbox/internal/bridge"
	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/conversation"
	"github.com/2389/coven-inbox/internal/messages"
	"github.com/2389/coven-inbox/internal/receipts"
)

func (s *Session) apply(ev event) {
	switch e := ev.(type) {
	case selectCmd:
		e.reply <- s.doSelect(e.id)
	case deselectCmd:
		s.doDeselect()
		e.reply <- nil
	case sendCmd:
		e.reply <- s.doSend(e.content)
	case markReadCmd:
		e.reply <- s.doMarkRead(e.ids)
	case refreshCmd:
		s.st.err = nil
		s.refresh("requested")
		e.reply <- nil

	case connectionEvt:
		s.onConnection(e.change)
	case inboundEvt:
		s.liveFrame()
		s.onInbound(e.msg)
	case unreadPushEvt:
		s.liveFrame()
		// Supersedes any count request still in flight.
		s.st.unreadIssued++
		s.st.unreadTotal = max(e.count, 0)

	case refreshDone:
		s.onRefreshDone(e)
	case historyDone:
		s.onHistoryDone(e)
	case sendDone:
		s.onSendDone(e)
	case markReadDone:
		s.onMarkReadDone(e)
	case unreadCountDone:
		s.onUnreadCountDone(e)
	case transportFailed:
		s.logger.Warn("real-time operation failed", "op", e.op, "error", e.err)
		s.st.degraded = true

	default:
		s.logger.Error("unhandled session event", "event", ev.eventName())
	}
}

func (s *Session) doSelect(id string) error {
	conv, ok := s.st.dir.Get(id)
	if !ok {
		return fmt.Errorf("%w: unknown conversation %q", chat.ErrValidation, id)
	}
	if id == s.st.active {
		return nil
	}
	if prev := s.st.active; prev != "" {
		s.leaveRoom(prev)
	}
	s.st.epoch++
	s.st.active = id
	s.st.store = messages.New(id, nil)
	s.st.loading = true
	s.st.err = nil
	s.logger.Debug("conversation selected", "conversation_id", id, "epoch", s.st.epoch)

	s.joinRoom(id)
	s.loadHistory(conv)
	return nil
}

func (s *Session) doDeselect() {
	if s.st.active == "" {
		return
	}
	s.leaveRoom(s.st.active)
	s.st.epoch++
	s.st.active = ""
	s.st.store = messages.Store{}
	s.st.loading = false
}

func (s *Session) doSend(content string) error {
	if s.st.active == "" {
		return fmt.Errorf("%w: no active conversation", chat.ErrValidation)
	}
	conv, ok := s.st.dir.Get(s.st.active)
	if !ok {
		return fmt.Errorf("%w: active conversation %q left the directory", chat.ErrValidation, s.st.active)
	}
	req := chat.SendRequest{
		Content:  strings.TrimSpace(content),
		Job:      conv.Job,
		Receiver: conv.Counterparty,
	}
	if err := req.Validate(); err != nil {
		return err
	}
	s.st.sending++
	s.st.err = nil
	s.send(conv.ID, req)
	return nil
}

func (s *Session) doMarkRead(ids []int64) error {
	if s.st.active == "" {
		return fmt.Errorf("%w: no active conversation", chat.ErrValidation)
	}
	s.st.err = nil
	s.markRead(s.st.active, ids)
	return nil
}

func (s *Session) onConnection(change bridge.Change) {
	s.st.conn = change.State
	if change.Err != nil {
		s.st.degraded = true
		if change.State == bridge.Connected {
			// An error report from a live connection, not a transition.
			return
		}
	}

	switch change.State {
	case bridge.Connected:
		s.st.degraded = false
		s.logger.Info("real-time channel up", "reconnected", change.Reconnected)
		// Deltas missed while down cannot be replayed, so rebuild from the
		// listing service.
		s.refresh("connected")
		s.fetchUnreadCount()
		if s.st.active != "" {
			s.joinRoom(s.st.active)
			if conv, ok := s.st.dir.Get(s.st.active); ok {
				s.st.loading = true
				s.loadHistory(conv)
			}
		}
	case bridge.Reconnecting, bridge.Disconnected:
		s.st.degraded = true
	}
}

// liveFrame clears a degraded flag left by an error report once the live
// channel delivers a frame again.
func (s *Session) liveFrame() {
	if s.st.conn == bridge.Connected && s.st.degraded {
		s.logger.Debug("real-time channel delivering again")
		s.st.degraded = false
	}
}

// discard drops a completion that no longer matches the session state.
func (s *Session) discard(what string, attrs ...any) {
	s.logger.Debug(what+" discarded", append(attrs, "reason", chat.ErrStale)...)
}

func (s *Session) onInbound(msg chat.Message) {
	if s.seen.SeenMessage(msg) {
		s.logger.Debug("duplicate delivery dropped", "message_id", msg.ID)
		return
	}

	res := s.resolver.Resolve(msg, s.st.dir)
	switch res.Outcome {
	case conversation.Foreign:
		s.logger.Debug("foreign message dropped", "message_id", msg.ID)
	case conversation.SelfChat:
		s.logger.Warn("self-addressed message rejected", "message_id", msg.ID)
	case conversation.Unknown:
		s.logger.Debug("message for unknown conversation", "message_id", msg.ID, "counterparty", res.Counterparty.String())
		s.requestRefresh()
	case conversation.Matched:
		s.applyMatched(msg, res)
	}
}

func (s *Session) applyMatched(msg chat.Message, res conversation.Resolution) {
	d := s.receipts.OnMessageArrived(msg, res, s.st.active)
	if res.Direction == conversation.Inbound {
		s.st.dir = s.st.dir.ApplyInbound(res.ConversationID, msg, d.CountUnread)
		if d.CountUnread {
			s.st.unreadTotal++
		}
	} else {
		s.st.dir = s.st.dir.ApplyOutbound(res.ConversationID, msg)
	}

	if res.ConversationID != s.st.active {
		return
	}
	var inserted bool
	s.st.store, inserted = s.st.store.Append(msg)
	if inserted && d.MarkReadNow {
		s.markRead(res.ConversationID, []int64{msg.ID})
	}
}

// requestRefresh coalesces refreshes caused by unknown conversations: while
// one is in flight, at most one more is queued.
func (s *Session) requestRefresh() {
	if s.st.refreshing > 0 {
		s.st.refreshQueued = true
		return
	}
	s.refresh("unknown conversation")
}

func (s *Session) onRefreshDone(e refreshDone) {
	s.st.refreshing = max(s.st.refreshing-1, 0)
	defer func() {
		if s.st.refreshQueued && s.st.refreshing == 0 {
			s.st.refreshQueued = false
			s.refresh("queued")
		}
	}()

	if e.seq < s.st.refreshApplied {
		s.discard("directory listing", "seq", e.seq, "applied", s.st.refreshApplied)
		return
	}
	if e.err != nil {
		s.st.err = e.err
		return
	}
	s.st.refreshApplied = e.seq
	s.st.dir = conversation.NewDirectory(e.convs)

	// A listing can still count messages already loaded in the active
	// conversation; settle them.
	if conv, ok := s.st.dir.Get(s.st.active); ok && conv.UnreadCount > 0 && !s.st.loading {
		s.markRead(conv.ID, s.receipts.Pending(s.st.store))
	}
}

func (s *Session) onHistoryDone(e historyDone) {
	if e.epoch != s.st.epoch || e.conversationID != s.st.active {
		s.discard("history", "conversation_id", e.conversationID, "epoch", e.epoch, "current", s.st.epoch)
		return
	}
	s.st.loading = false
	if e.err != nil {
		s.st.err = e.err
		return
	}
	for _, m := range e.msgs {
		s.seen.MarkMessage(m)
	}
	// Keep anything delivered in real time while the load was in flight.
	s.st.store, _ = messages.New(e.conversationID, e.msgs).Merge(s.st.store.Messages())
	s.markRead(e.conversationID, s.receipts.Pending(s.st.store))
}

func (s *Session) onSendDone(e sendDone) {
	s.st.sending = max(s.st.sending-1, 0)
	if e.err != nil {
		s.st.err = e.err
		return
	}

	s.seen.MarkMessage(e.msg)
	// The preview belongs to the conversation the message was sent to,
	// whatever is selected now.
	s.st.dir = s.st.dir.ApplyOutbound(e.conversationID, e.msg)
	if e.epoch == s.st.epoch && e.conversationID == s.st.active {
		s.st.store, _ = s.st.store.Append(e.msg)
	} else {
		s.discard("send response for the active conversation", "conversation_id", e.conversationID, "message_id", e.msg.ID)
	}
	s.broadcast(e.conversationID, e.msg)
}

func (s *Session) onMarkReadDone(e markReadDone) {
	current := e.epoch == s.st.epoch && e.conversationID == s.st.active
	if e.err != nil {
		if current {
			s.st.err = e.err
		} else {
			s.discard("mark-read failure", "conversation_id", e.conversationID, "error", e.err)
		}
		return
	}
	s.st.dir = receipts.Confirm(s.st.dir, e.conversationID, e.ids, current)
	if e.conversationID == s.st.active {
		s.st.store = s.st.store.MarkRead(e.ids, s.now())
	}
	s.fetchUnreadCount()
}

func (s *Session) onUnreadCountDone(e unreadCountDone) {
	if e.seq != s.st.unreadIssued {
		s.discard("unread count", "seq", e.seq)
		return
	}
	if e.err != nil {
		s.st.err = e.err
		return
	}
	s.st.unreadTotal = max(e.count, 0)
}
