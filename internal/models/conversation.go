package models

import (
	"time"
)

// Conversation is the aggregate view over all messages between exactly two
// participants. It is derived from the message table; the conversations row
// kept by the store is an index for lookup and authorization, not a second
// source of truth.
type Conversation struct {
	ID            string              `json:"id"`
	Therapist     *ParticipantSummary `json:"therapist"`
	Client        *ParticipantSummary `json:"client"`
	LastMessage   *Message            `json:"last_message,omitempty"`
	LastMessageAt time.Time           `json:"last_message_at"`
	UnreadCount   int                 `json:"unread_count"`
	Active        bool                `json:"active"`
}
