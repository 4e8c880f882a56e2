// ABOUTME: HTTP API handlers for conversations, history, sending and read receipts
// ABOUTME: Every route but /health runs as the participant carried by the bearer token

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/2389/coven-inbox/internal/api"
	"github.com/2389/coven-inbox/internal/auth"
	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/identity"
	"github.com/2389/coven-inbox/internal/store"
)

const (
	maxHistoryLimit = 1000
	maxBodySize     = 64 << 10
)

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: message})
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing response failed", "error", err)
	}
}

// caller returns the authenticated participant, replying 401 when absent.
func (g *Gateway) caller(w http.ResponseWriter, r *http.Request) (identity.Participant, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "unauthenticated")
	}
	return p, ok
}

// decodeBody decodes a JSON request body of at most maxBodySize bytes.
func decodeBody(r io.Reader, v any) error {
	dec := json.NewDecoder(io.LimitReader(r, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// handleListConversations handles GET /api/conversations.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := g.caller(w, r)
	if !ok {
		return
	}

	convs, err := g.store.ListConversations(r.Context(), p)
	if err != nil {
		g.logger.Error("failed to list conversations", "participant", p.String(), "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := api.ConversationList{Conversations: make([]chat.WireConversation, 0, len(convs))}
	for _, c := range convs {
		resp.Conversations = append(resp.Conversations, chat.EncodeConversation(c, p))
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleMessages routes /api/messages by method.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.handleHistory(w, r)
	case http.MethodPost:
		g.handleSend(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// parseHistoryQuery reads job_id, customer_id, provider_id and limit.
func parseHistoryQuery(r *http.Request) (chat.HistoryQuery, int, error) {
	values := r.URL.Query()

	optionalID := func(name string) (*int64, error) {
		raw := values.Get(name)
		if raw == "" {
			return nil, nil
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", name)
		}
		return &v, nil
	}

	var q chat.HistoryQuery
	job, err := optionalID("job_id")
	if err != nil {
		return q, 0, err
	}
	q.Job = chat.JobFromPtr(job)

	customerID, err := optionalID("customer_id")
	if err != nil {
		return q, 0, err
	}
	providerID, err := optionalID("provider_id")
	if err != nil {
		return q, 0, err
	}
	if customerID != nil || providerID != nil {
		q.Counterparty, err = identity.FromFields(customerID, providerID)
		if err != nil {
			return q, 0, err
		}
	}
	if !q.Job.Valid() && q.Counterparty.IsZero() {
		return q, 0, errors.New("job_id or one of customer_id, provider_id is required")
	}

	limit := store.DefaultHistoryLimit
	if raw := values.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return q, 0, errors.New("limit must be a positive integer")
		}
		limit = min(parsed, maxHistoryLimit)
	}
	return q, limit, nil
}

// handleHistory handles GET /api/messages.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := g.caller(w, r)
	if !ok {
		return
	}
	q, limit, err := parseHistoryQuery(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := g.store.ListMessages(r.Context(), p, q, limit)
	if errors.Is(err, chat.ErrValidation) {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		g.logger.Error("failed to list messages", "participant", p.String(), "job_id", int64(q.Job), "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, encodeMessages(msgs))
}

// handleSend handles POST /api/messages. The stored message is published
// to the conversation room and pushed to every connection of the receiver.
//
// Responsibilities:
//  1. Decode and validate the body
//  2. Find or create the conversation of the pair and job
//  3. Apply moderation to the content
//  4. Store the message
//  5. Fan out over the hub and push the receiver's new unread total
func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	sender, ok := g.caller(w, r)
	if !ok {
		return
	}

	var body chat.WireSendRequest
	if err := decodeBody(r.Body, &body); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := body.Decode()
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Receiver == sender {
		g.sendJSONError(w, http.StatusBadRequest, "cannot send a message to yourself")
		return
	}

	ctx := r.Context()
	conv, err := g.store.EnsureConversation(ctx, sender, req.Receiver, req.Job)
	if err != nil {
		g.logger.Error("failed to resolve conversation", "sender", sender.String(), "receiver", req.Receiver.String(), "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	moderated := g.moderator.Moderate(req.Content)
	if moderated.Moderated {
		g.logger.Info("message moderated", "sender", sender.String(), "conversation_id", conv.ID, "matches", len(moderated.Words))
	}

	msg, err := g.store.CreateMessage(ctx, conv.ID, chat.Message{
		Job:       req.Job,
		Sender:    sender,
		Receiver:  req.Receiver,
		Content:   moderated.Text,
		SentAt:    g.now(),
		Moderated: moderated.Moderated,
	})
	if err != nil {
		g.logger.Error("failed to store message", "conversation_id", conv.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.fanOut(ctx, conv.ID, msg)
	g.sendJSON(w, http.StatusCreated, chat.EncodeMessage(msg))
}

// fanOut publishes msg to its room, then notifies the receiver. The relay
// key is marked so that a client re-broadcast of msg is dropped.
func (g *Gateway) fanOut(ctx context.Context, room string, msg chat.Message) {
	g.relayed.Mark(relayKey(room, msg.ID))
	delivered := g.hub.Publish(room, msg, "")

	wire := chat.EncodeMessage(msg)
	notified := g.hub.Notify(msg.Receiver, chat.Notification{Kind: chat.NotifyMessage, Message: &wire})
	g.notifyUnread(ctx, msg.Receiver)

	g.logger.Debug("message fanned out",
		"conversation_id", room,
		"message_id", msg.ID,
		"room_deliveries", delivered,
		"receiver_connections", notified,
	)
}

// notifyUnread pushes the current unread total of p to its connections.
func (g *Gateway) notifyUnread(ctx context.Context, p identity.Participant) {
	n, err := g.store.UnreadCount(ctx, p)
	if err != nil {
		g.logger.Warn("failed to count unread for notification", "participant", p.String(), "error", err)
		return
	}
	g.hub.Notify(p, chat.Notification{Kind: chat.NotifyUnread, UnreadCount: &n})
}

// handleMarkRead handles POST /api/messages/read. The batch is applied in
// one transaction; any unknown or foreign id rejects all of it.
func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := g.caller(w, r)
	if !ok {
		return
	}

	var body chat.WireMarkReadRequest
	if err := decodeBody(r.Body, &body); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body.MessageIDs) == 0 {
		g.sendJSONError(w, http.StatusBadRequest, "message_ids is required")
		return
	}

	updated, err := g.store.MarkRead(r.Context(), p, body.MessageIDs, g.now())
	switch {
	case errors.Is(err, chat.ErrValidation):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "message not found")
		return
	case errors.Is(err, store.ErrNotAddressed):
		g.sendJSONError(w, http.StatusForbidden, "message not addressed to caller")
		return
	case err != nil:
		g.logger.Error("failed to mark messages read", "participant", p.String(), "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if updated > 0 {
		g.notifyUnread(r.Context(), p)
	}
	g.sendJSON(w, http.StatusOK, api.MarkReadResult{Updated: updated})
}

// handleUnreadCount handles GET /api/unread/count.
func (g *Gateway) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := g.caller(w, r)
	if !ok {
		return
	}

	n, err := g.store.UnreadCount(r.Context(), p)
	if err != nil {
		g.logger.Error("failed to count unread", "participant", p.String(), "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, chat.WireUnreadCount{Count: n})
}

// handleUnread handles GET /api/unread.
func (g *Gateway) handleUnread(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := g.caller(w, r)
	if !ok {
		return
	}

	msgs, err := g.store.UnreadMessages(r.Context(), p)
	if err != nil {
		g.logger.Error("failed to list unread", "participant", p.String(), "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, encodeMessages(msgs))
}

// handleProfile handles PUT /api/profile.
func (g *Gateway) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := g.caller(w, r)
	if !ok {
		return
	}

	var body api.ProfileUpdate
	if err := decodeBody(r.Body, &body); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(body.DisplayName)
	if name == "" {
		g.sendJSONError(w, http.StatusBadRequest, "display_name is required")
		return
	}

	err := g.store.UpsertProfile(r.Context(), store.Profile{
		Participant: p,
		DisplayName: name,
		AvatarURL:   strings.TrimSpace(body.AvatarURL),
	})
	if err != nil {
		g.logger.Error("failed to update profile", "participant", p.String(), "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWebSocket handles GET /ws.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	p, ok := g.caller(w, r)
	if !ok {
		return
	}
	g.hub.ServeWS(w, r, p)
}

func encodeMessages(msgs []chat.Message) api.MessageList {
	out := api.MessageList{Messages: make([]chat.WireMessage, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, chat.EncodeMessage(m))
	}
	return out
}
