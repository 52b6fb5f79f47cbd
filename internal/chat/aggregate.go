package chat

import (
	"sort"

	"github.com/google/uuid"

	"github.com/theraline/theraline/internal/models"
)

// BuildConversations folds a user's flat message list into per-pair
// conversation summaries. It is a pure function: the store query supplies
// every message where the user is sender or receiver, and this derives one
// conversation per distinct other party, with the latest message, the
// unread count scoped to userID, and the therapist/client slots assigned
// by role tag rather than by send direction.
//
// The result is sorted by last activity, newest first, and contains no
// duplicate ids.
func BuildConversations(userID uuid.UUID, messages []*models.Message) []*models.Conversation {
	groups := make(map[string]*models.Conversation)

	for _, msg := range messages {
		id, err := DeriveConversationID(msg.SenderID, msg.ReceiverID)
		if err != nil {
			// A self-addressed row violates the data model; skip it
			// rather than poisoning the whole list.
			continue
		}

		conv, ok := groups[id]
		if !ok {
			conv = &models.Conversation{ID: id, Active: true}
			assignSlots(conv, msg.Sender, msg.Receiver)
			groups[id] = conv
		}

		if conv.LastMessage == nil || msg.CreatedAt.After(conv.LastMessageAt) {
			conv.LastMessage = msg
			conv.LastMessageAt = msg.CreatedAt
		}

		if msg.UnreadFor(userID) {
			conv.UnreadCount++
		}

		// Later messages may carry summaries an earlier row lacked.
		if conv.Therapist == nil || conv.Client == nil {
			assignSlots(conv, msg.Sender, msg.Receiver)
		}
	}

	conversations := make([]*models.Conversation, 0, len(groups))
	for _, conv := range groups {
		conversations = append(conversations, conv)
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].LastMessageAt.After(conversations[j].LastMessageAt)
	})

	return conversations
}

// assignSlots places each participant summary into the slot matching its
// role tag. Slot assignment never depends on who sent the message.
func assignSlots(conv *models.Conversation, participants ...*models.ParticipantSummary) {
	for _, p := range participants {
		if p == nil {
			continue
		}
		switch p.Role {
		case models.RoleTherapist:
			if conv.Therapist == nil {
				conv.Therapist = p
			}
		case models.RoleClient:
			if conv.Client == nil {
				conv.Client = p
			}
		}
	}
}
