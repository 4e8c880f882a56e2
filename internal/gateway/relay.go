// ABOUTME: Hub authorization backed by the store, with deduplicated client relays
// ABOUTME: A broadcast is only fanned out if it matches a stored message sent by the caller

package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/identity"
	"github.com/2389/coven-inbox/internal/realtime"
	"github.com/2389/coven-inbox/internal/store"
)

var _ realtime.Authorizer = (*Gateway)(nil)

// relayKey names a message fanned out to a room.
func relayKey(room string, messageID int64) string {
	return "relay:" + room + ":" + strconv.FormatInt(messageID, 10)
}

// AuthorizeRoom lets p join the room of a conversation it is a side of.
func (g *Gateway) AuthorizeRoom(ctx context.Context, p identity.Participant, room string) error {
	member, err := g.store.IsMember(ctx, room, p)
	if err != nil {
		g.logger.Error("failed to check room membership", "room", room, "participant", p.String(), "error", err)
		return fmt.Errorf("checking membership: %w", err)
	}
	if !member {
		return fmt.Errorf("%w: not a member of %s", realtime.ErrForbidden, room)
	}
	return nil
}

// Relay checks a client broadcast against the store and returns the stored
// copy. The same message is relayed at most once per room; duplicates
// return realtime.ErrAlreadyRelayed.
func (g *Gateway) Relay(ctx context.Context, p identity.Participant, room string, msg chat.WireMessage) (chat.Message, error) {
	if err := g.AuthorizeRoom(ctx, p, room); err != nil {
		return chat.Message{}, err
	}
	if msg.ID <= 0 {
		return chat.Message{}, fmt.Errorf("%w: message id is required", chat.ErrValidation)
	}

	key := relayKey(room, msg.ID)
	if g.relayed.Seen(key) {
		return chat.Message{}, realtime.ErrAlreadyRelayed
	}

	stored, err := g.store.GetMessage(ctx, msg.ID)
	if errors.Is(err, store.ErrNotFound) {
		return chat.Message{}, fmt.Errorf("%w: unknown message %d", chat.ErrValidation, msg.ID)
	}
	if err != nil {
		return chat.Message{}, fmt.Errorf("loading message: %w", err)
	}
	if stored.ConversationID != room || stored.Sender != p {
		return chat.Message{}, fmt.Errorf("%w: message %d does not belong to the caller in %s", realtime.ErrForbidden, msg.ID, room)
	}

	// Mark only after the checks passed so a rejected attempt can be retried.
	if g.relayed.CheckAndMark(key) {
		return chat.Message{}, realtime.ErrAlreadyRelayed
	}
	g.logger.Debug("relaying client broadcast", "room", room, "message_id", msg.ID)
	return stored.Message, nil
}
