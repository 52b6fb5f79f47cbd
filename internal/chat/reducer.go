package chat

import (
	"github.com/google/uuid"

	"github.com/theraline/theraline/internal/models"
)

// Live-update events. A locally completed send and a remote store
// notification are the same event shape, folded through the same reducers,
// so replaying or duplicating an event never causes visible duplication.

// EventType identifies what happened to a message row.
type EventType string

const (
	EventMessageInserted EventType = "message_inserted"
	EventMessageUpdated  EventType = "message_updated"
)

// Event is a change notification for a single message, scoped to its
// derived conversation.
type Event struct {
	Type           EventType       `json:"type"`
	ConversationID string          `json:"conversation_id"`
	Message        *models.Message `json:"message"`
}

// Publisher accepts events for distribution. Implemented by the live
// bridge, the websocket hub and the optional kafka mirror.
type Publisher interface {
	Publish(ev Event)
}

// MergeMessage folds msg into an in-memory message list ordered by created
// timestamp. If a message with the same id is already present, the read
// flag of the incoming copy wins and nothing is appended; otherwise the
// message is inserted at its chronological position. The input slice is
// not mutated.
func MergeMessage(list []*models.Message, msg *models.Message) []*models.Message {
	if msg == nil {
		return list
	}

	for i, existing := range list {
		if existing.ID == msg.ID {
			out := make([]*models.Message, len(list))
			copy(out, list)
			out[i] = msg
			return out
		}
	}

	out := make([]*models.Message, 0, len(list)+1)
	inserted := false
	for _, existing := range list {
		if !inserted && msg.CreatedAt.Before(existing.CreatedAt) {
			out = append(out, msg)
			inserted = true
		}
		out = append(out, existing)
	}
	if !inserted {
		out = append(out, msg)
	}

	return out
}

// PatchRead flips the read flag on the matching message, if present. A
// miss is a no-op; the message may simply not be loaded locally.
func PatchRead(list []*models.Message, messageID uuid.UUID, read bool) []*models.Message {
	for i, existing := range list {
		if existing.ID != messageID || existing.IsRead == read {
			continue
		}
		out := make([]*models.Message, len(list))
		copy(out, list)
		patched := *existing
		patched.IsRead = read
		out[i] = &patched
		return out
	}
	return list
}

// ApplyEvent folds one event into a message list. Idempotent: applying the
// same event twice yields the same list.
func ApplyEvent(list []*models.Message, ev Event) []*models.Message {
	if ev.Message == nil {
		return list
	}

	switch ev.Type {
	case EventMessageInserted:
		return MergeMessage(list, ev.Message)
	case EventMessageUpdated:
		return PatchRead(list, ev.Message.ID, ev.Message.IsRead)
	}

	return list
}
