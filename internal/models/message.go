package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind distinguishes what a message body carries.
type MessageKind string

const (
	KindText               MessageKind = "text"
	KindImage              MessageKind = "image"
	KindFile               MessageKind = "file"
	KindAppointmentRequest MessageKind = "appointment_request"
)

// Valid reports whether k is a known message kind.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindFile, KindAppointmentRequest:
		return true
	}
	return false
}

// Attachment is a reference to externally stored content. Bodies never
// carry inline binary; image/file messages point at a URL.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Message represents a single message exchanged between two users.
type Message struct {
	ID          uuid.UUID    `json:"id"`
	SenderID    uuid.UUID    `json:"sender_id"`
	ReceiverID  uuid.UUID    `json:"receiver_id"`
	Body        string       `json:"body"`
	Kind        MessageKind  `json:"kind"`
	IsSystem    bool         `json:"is_system"`
	IsRead      bool         `json:"is_read"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   *time.Time   `json:"updated_at,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// Denormalized participant references, populated on list queries.
	Sender   *ParticipantSummary `json:"sender,omitempty"`
	Receiver *ParticipantSummary `json:"receiver,omitempty"`
}

// OtherParty returns whichever of sender/receiver is not userID.
func (m *Message) OtherParty(userID uuid.UUID) uuid.UUID {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// UnreadFor reports whether the message counts against userID's unread
// total: addressed to them and not yet read.
func (m *Message) UnreadFor(userID uuid.UUID) bool {
	return m.ReceiverID == userID && !m.IsRead
}

// SendMessageRequest is the payload for posting a message into a
// conversation.
type SendMessageRequest struct {
	Body        string       `json:"body" binding:"required"`
	Kind        MessageKind  `json:"kind,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// CreateConversationRequest starts (or resolves) a conversation with
// another user.
type CreateConversationRequest struct {
	OtherUserID uuid.UUID `json:"other_user_id" binding:"required"`
}
