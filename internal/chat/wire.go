// ABOUTME: JSON wire types exchanged with the gateway API and the real-time hub
// ABOUTME: Decode validates identities so only well-formed events enter the core

package chat

import (
	"fmt"
	"time"

	"github.com/2389/coven-inbox/internal/identity"
)

// WireMessage is a message as carried by the HTTP API and the hub. Identities
// use two optional sibling fields of which exactly one must be set.
type WireMessage struct {
	ID                 int64      `json:"id"`
	JobID              *int64     `json:"job_id,omitempty"`
	SenderCustomerID   *int64     `json:"sender_customer_id,omitempty"`
	SenderProviderID   *int64     `json:"sender_provider_id,omitempty"`
	ReceiverCustomerID *int64     `json:"receiver_customer_id,omitempty"`
	ReceiverProviderID *int64     `json:"receiver_provider_id,omitempty"`
	Content            string     `json:"content"`
	CreatedAt          time.Time  `json:"created_at"`
	IsRead             bool       `json:"is_read"`
	ReadAt             *time.Time `json:"read_at,omitempty"`
	IsModerated        bool       `json:"is_moderated"`
}

// Decode converts w into a Message, rejecting malformed identities.
func (w WireMessage) Decode() (Message, error) {
	if w.ID <= 0 {
		return Message{}, fmt.Errorf("%w: message id %d", ErrValidation, w.ID)
	}
	sender, err := identity.FromFields(w.SenderCustomerID, w.SenderProviderID)
	if err != nil {
		return Message{}, fmt.Errorf("%w: message %d sender: %v", ErrValidation, w.ID, err)
	}
	receiver, err := identity.FromFields(w.ReceiverCustomerID, w.ReceiverProviderID)
	if err != nil {
		return Message{}, fmt.Errorf("%w: message %d receiver: %v", ErrValidation, w.ID, err)
	}
	m := Message{
		ID:        w.ID,
		Job:       JobFromPtr(w.JobID),
		Sender:    sender,
		Receiver:  receiver,
		Content:   w.Content,
		SentAt:    w.CreatedAt,
		Read:      w.IsRead || w.ReadAt != nil,
		ReadAt:    w.ReadAt,
		Moderated: w.IsModerated,
	}
	return m, nil
}

// EncodeMessage is the inverse of WireMessage.Decode.
func EncodeMessage(m Message) WireMessage {
	w := WireMessage{
		ID:          m.ID,
		JobID:       m.Job.Ptr(),
		Content:     m.Content,
		CreatedAt:   m.SentAt,
		IsRead:      m.Read,
		ReadAt:      m.ReadAt,
		IsModerated: m.Moderated,
	}
	w.SenderCustomerID, w.SenderProviderID = m.Sender.Fields()
	w.ReceiverCustomerID, w.ReceiverProviderID = m.Receiver.Fields()
	return w
}

// DecodeMessages decodes a batch, failing on the first malformed entry.
func DecodeMessages(ws []WireMessage) ([]Message, error) {
	out := make([]Message, 0, len(ws))
	for _, w := range ws {
		m, err := w.Decode()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// WireConversation is a directory entry as listed by the gateway, seen from
// the requesting participant.
type WireConversation struct {
	ID                     string       `json:"id"`
	JobID                  *int64       `json:"job_id,omitempty"`
	CounterpartyCustomerID *int64       `json:"counterparty_customer_id,omitempty"`
	CounterpartyProviderID *int64       `json:"counterparty_provider_id,omitempty"`
	DisplayName            string       `json:"display_name,omitempty"`
	AvatarURL              string       `json:"avatar_url,omitempty"`
	LastMessage            *WireMessage `json:"last_message,omitempty"`
	UnreadCount            int          `json:"unread_count"`
	LastActivity           time.Time    `json:"last_activity"`
}

// Decode converts w into a Conversation.
func (w WireConversation) Decode() (Conversation, error) {
	if w.ID == "" {
		return Conversation{}, fmt.Errorf("%w: conversation id is required", ErrValidation)
	}
	counterparty, err := identity.FromFields(w.CounterpartyCustomerID, w.CounterpartyProviderID)
	if err != nil {
		return Conversation{}, fmt.Errorf("%w: conversation %s counterparty: %v", ErrValidation, w.ID, err)
	}
	c := Conversation{
		ID:           w.ID,
		Job:          JobFromPtr(w.JobID),
		Counterparty: counterparty,
		Profile:      Profile{DisplayName: w.DisplayName, AvatarURL: w.AvatarURL},
		UnreadCount:  max(w.UnreadCount, 0),
		LastActivity: w.LastActivity,
	}
	if w.LastMessage != nil {
		last, err := w.LastMessage.Decode()
		if err != nil {
			return Conversation{}, fmt.Errorf("conversation %s last message: %w", w.ID, err)
		}
		c.LastMessage = PreviewOf(last)
		if last.SentAt.After(c.LastActivity) {
			c.LastActivity = last.SentAt
		}
	}
	return c, nil
}

// EncodeConversation builds the wire form of c. The preview only carries
// what the directory keeps, so the receiver is set to self.
func EncodeConversation(c Conversation, self identity.Participant) WireConversation {
	w := WireConversation{
		ID:           c.ID,
		JobID:        c.Job.Ptr(),
		DisplayName:  c.Profile.DisplayName,
		AvatarURL:    c.Profile.AvatarURL,
		UnreadCount:  c.UnreadCount,
		LastActivity: c.LastActivity,
	}
	w.CounterpartyCustomerID, w.CounterpartyProviderID = c.Counterparty.Fields()
	if c.LastMessage != nil {
		receiver := self
		if c.LastMessage.Sender == self {
			receiver = c.Counterparty
		}
		last := EncodeMessage(Message{
			ID:       c.LastMessage.MessageID,
			Job:      c.Job,
			Sender:   c.LastMessage.Sender,
			Receiver: receiver,
			Content:  c.LastMessage.Content,
			SentAt:   c.LastMessage.SentAt,
		})
		w.LastMessage = &last
	}
	return w
}

// WireSendRequest is the body of POST /api/messages.
type WireSendRequest struct {
	Content            string `json:"content"`
	JobID              *int64 `json:"job_id,omitempty"`
	ReceiverCustomerID *int64 `json:"receiver_customer_id,omitempty"`
	ReceiverProviderID *int64 `json:"receiver_provider_id,omitempty"`
}

// EncodeSendRequest builds the wire form of r.
func EncodeSendRequest(r SendRequest) WireSendRequest {
	w := WireSendRequest{Content: r.Content, JobID: r.Job.Ptr()}
	w.ReceiverCustomerID, w.ReceiverProviderID = r.Receiver.Fields()
	return w
}

// Decode converts and validates w.
func (w WireSendRequest) Decode() (SendRequest, error) {
	receiver, err := identity.FromFields(w.ReceiverCustomerID, w.ReceiverProviderID)
	if err != nil {
		return SendRequest{}, fmt.Errorf("%w: receiver: %v", ErrValidation, err)
	}
	r := SendRequest{Content: w.Content, Job: JobFromPtr(w.JobID), Receiver: receiver}
	if err := r.Validate(); err != nil {
		return SendRequest{}, err
	}
	return r, nil
}

// WireMarkReadRequest is the body of POST /api/messages/read.
type WireMarkReadRequest struct {
	MessageIDs []int64 `json:"message_ids"`
}

// WireUnreadCount is the response of GET /api/unread/count.
type WireUnreadCount struct {
	Count int `json:"count"`
}

// Notification is a user-level push from the hub.
type Notification struct {
	Kind        NotificationKind `json:"kind"`
	Message     *WireMessage     `json:"message,omitempty"`
	UnreadCount *int             `json:"unread_count,omitempty"`
}
