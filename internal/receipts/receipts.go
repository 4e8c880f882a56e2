// ABOUTME: Read-receipt rules: when unread counters grow and how mark-read is batched
// ABOUTME: Unread counts only drop after the server confirms a mark-read

package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/samber/lo"

	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/conversation"
	"github.com/2389/coven-inbox/internal/identity"
	"github.com/2389/coven-inbox/internal/messages"
)

// Marker issues the read-marking call to the history service.
type Marker interface {
	MarkRead(ctx context.Context, ids []int64) error
}

// Decision tells the caller what to do with a resolved inbound message.
type Decision struct {
	// CountUnread increments the conversation's unread counter.
	CountUnread bool
	// MarkReadNow asks for an immediate single-id mark-read; the message
	// landed in the conversation the participant is looking at.
	MarkReadNow bool
}

// Synchronizer applies the unread rules for one participant.
type Synchronizer struct {
	self   identity.Participant
	marker Marker
	logger *slog.Logger
}

// New creates a synchronizer. Pass nil logger for default.
func New(self identity.Participant, marker Marker, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		self:   self,
		marker: marker,
		logger: logger.With("component", "receipts"),
	}
}

// OnMessageArrived decides how a matched message affects unread state.
// Outbound messages never count. Inbound messages count unless their
// conversation is the active one, in which case they are read on arrival.
func (s *Synchronizer) OnMessageArrived(msg chat.Message, res conversation.Resolution, activeID string) Decision {
	if res.Outcome != conversation.Matched || res.Direction != conversation.Inbound {
		return Decision{}
	}
	if msg.Read || !msg.AddressedTo(s.self) {
		return Decision{}
	}
	if res.ConversationID == activeID {
		return Decision{MarkReadNow: msg.ID > 0}
	}
	return Decision{CountUnread: true}
}

// Pending returns the ids of loaded messages that are unread and addressed
// to the participant, de-duplicated and sorted.
func (s *Synchronizer) Pending(store messages.Store) []int64 {
	return Batch(store.UnreadFor(s.self))
}

// MarkRead issues one batched mark-read call for ids and returns the batch
// that was confirmed. An empty batch makes no call. A failure is
// all-or-nothing: nothing is confirmed and the error wraps chat.ErrNetwork.
func (s *Synchronizer) MarkRead(ctx context.Context, ids []int64) ([]int64, error) {
	batch := Batch(ids)
	if len(batch) == 0 {
		return nil, nil
	}
	if err := chat.ValidateIDs(batch); err != nil {
		return nil, err
	}
	if err := s.marker.MarkRead(ctx, batch); err != nil {
		s.logger.Debug("mark read failed", "count", len(batch), "error", err)
		if errors.Is(err, chat.ErrNetwork) {
			return nil, fmt.Errorf("mark read: %w", err)
		}
		return nil, fmt.Errorf("mark read: %w: %w", chat.ErrNetwork, err)
	}
	return batch, nil
}

// Confirm applies a successful mark-read of confirmed ids in conversation
// id. When the batch was issued for the current selection the counter drops
// to exactly zero; a completion for a selection that has since changed only
// subtracts what was confirmed.
func Confirm(dir conversation.Directory, id string, confirmed []int64, current bool) conversation.Directory {
	if current {
		return dir.SetUnread(id, 0)
	}
	return dir.DecrementUnread(id, len(confirmed))
}

// Batch normalizes ids for a mark-read call: non-positive ids dropped,
// duplicates removed, ascending order.
func Batch(ids []int64) []int64 {
	out := lo.Uniq(lo.Filter(ids, func(id int64, _ int) bool { return id > 0 }))
	slices.Sort(out)
	return out
}
