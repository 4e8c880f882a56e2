// ABOUTME: Asynchronous collaborator calls issued by the session loop
// ABOUTME: Each call runs in its own goroutine and reports back through the event queue

package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/coven-inbox/internal/bridge"
	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/receipts"
)

// async runs fn with a per-request timeout and enqueues its result, if
// any. Must be called from the loop.
func (s *Session) async(fn func(ctx context.Context) event) {
	parent := s.ctx
	go func() {
		ctx, cancel := context.WithTimeout(parent, s.timeout)
		defer cancel()
		if ev := fn(ctx); ev != nil {
			s.enqueue(ev)
		}
	}()
}

func (s *Session) refresh(reason string) {
	s.st.refreshIssued++
	s.st.refreshing++
	seq := s.st.refreshIssued
	s.logger.Debug("refreshing directory", "reason", reason, "seq", seq)

	s.async(func(ctx context.Context) event {
		convs, err := s.backend.ListConversations(ctx)
		return refreshDone{seq: seq, convs: convs, err: networkError("list conversations", err)}
	})
}

func (s *Session) fetchUnreadCount() {
	s.st.unreadIssued++
	seq := s.st.unreadIssued
	s.async(func(ctx context.Context) event {
		n, err := s.backend.UnreadCount(ctx)
		return unreadCountDone{seq: seq, count: n, err: networkError("unread count", err)}
	})
}

func (s *Session) loadHistory(conv chat.Conversation) {
	epoch, q := s.st.epoch, chat.QueryFor(conv)
	s.async(func(ctx context.Context) event {
		msgs, err := s.backend.GetMessages(ctx, q)
		return historyDone{epoch: epoch, conversationID: conv.ID, msgs: msgs, err: networkError("load messages", err)}
	})
}

func (s *Session) send(conversationID string, req chat.SendRequest) {
	epoch := s.st.epoch
	s.async(func(ctx context.Context) event {
		msg, err := s.backend.Send(ctx, req)
		return sendDone{epoch: epoch, conversationID: conversationID, msg: msg, err: networkError("send", err)}
	})
}

// markRead issues one batched mark-read; an empty batch is dropped here.
func (s *Session) markRead(conversationID string, ids []int64) {
	batch := receipts.Batch(ids)
	if len(batch) == 0 {
		return
	}
	epoch := s.st.epoch
	s.async(func(ctx context.Context) event {
		confirmed, err := s.receipts.MarkRead(ctx, batch)
		return markReadDone{epoch: epoch, conversationID: conversationID, ids: confirmed, err: err}
	})
}

func (s *Session) joinRoom(room string) {
	if s.rooms == nil || s.st.conn != bridge.Connected {
		return
	}
	s.async(func(ctx context.Context) event {
		if err := s.rooms.JoinRoom(ctx, room); err != nil {
			return transportFailed{op: "join", err: err}
		}
		return nil
	})
}

func (s *Session) leaveRoom(room string) {
	if s.rooms == nil || s.st.conn != bridge.Connected {
		return
	}
	s.async(func(ctx context.Context) event {
		if err := s.rooms.LeaveRoom(ctx, room); err != nil {
			return transportFailed{op: "leave", err: err}
		}
		return nil
	})
}

func (s *Session) broadcast(room string, msg chat.Message) {
	if s.rooms == nil || s.st.conn != bridge.Connected {
		return
	}
	s.async(func(ctx context.Context) event {
		if err := s.rooms.Broadcast(ctx, room, msg); err != nil {
			return transportFailed{op: "broadcast", err: err}
		}
		return nil
	})
}

// networkError tags a collaborator failure with chat.ErrNetwork unless it
// already carries a classification.
func networkError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, chat.ErrNetwork) || errors.Is(err, chat.ErrValidation) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, chat.ErrNetwork, err)
}
