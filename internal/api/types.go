// ABOUTME: Response envelopes of the gateway HTTP API shared by client and server
// ABOUTME: Request bodies and single items use the wire types from the chat package

package api

import "github.com/2389/coven-inbox/internal/chat"

// ConversationList is the body of GET /api/conversations.
type ConversationList struct {
	Conversations []chat.WireConversation `json:"conversations"`
}

// MessageList is the body of GET /api/messages and GET /api/unread.
type MessageList struct {
	Messages []chat.WireMessage `json:"messages"`
}

// MarkReadResult is the body returned by POST /api/messages/read.
type MarkReadResult struct {
	Updated int `json:"updated"`
}

// ProfileUpdate is the body of PUT /api/profile.
type ProfileUpdate struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Paths served by the gateway.
const (
	PathConversations = "/api/conversations"
	PathMessages      = "/api/messages"
	PathMarkRead      = "/api/messages/read"
	PathUnreadCount   = "/api/unread/count"
	PathUnread        = "/api/unread"
	PathProfile       = "/api/profile"
	PathHealth        = "/health"
	PathWebSocket     = "/ws"
)
