package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/theraline/theraline/internal/logger"
	"github.com/theraline/theraline/internal/models"
)

var log = logger.New("chat")

// Store is the slice of the database layer the messaging service needs.
type Store interface {
	GetUserByID(id uuid.UUID) (*models.User, error)
	GetMessagesByUser(userID uuid.UUID) ([]*models.Message, error)
	GetMessagesBetween(userID1, userID2 uuid.UUID) ([]*models.Message, error)
	GetMessageByID(messageID uuid.UUID) (*models.Message, error)
	CreateMessage(senderID, receiverID uuid.UUID, body string, kind models.MessageKind, attachments []models.Attachment) (*models.Message, error)
	MarkMessageAsRead(messageID uuid.UUID) error
	UpsertConversation(userID1, userID2 uuid.UUID) error
	TouchConversation(userID1, userID2 uuid.UUID) error
}

// SummaryCache is a read-model cache for aggregated conversation lists.
// Cache failures are never surfaced; the store remains the system of
// record.
type SummaryCache interface {
	GetConversations(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, bool)
	SetConversations(ctx context.Context, userID uuid.UUID, conversations []*models.Conversation)
	Invalidate(ctx context.Context, userIDs ...uuid.UUID)
}

// Service implements the messaging operations: conversation aggregation,
// message access, read-state tracking and provisional conversation
// creation. Transient store failures are wrapped, not retried; the caller
// owns retry.
type Service struct {
	store  Store
	cache  SummaryCache
	events Publisher
}

// NewService wires the service. cache and events may be nil.
func NewService(store Store, cache SummaryCache, events Publisher) *Service {
	return &Service{store: store, cache: cache, events: events}
}

// LoadConversations aggregates the user's messages into conversation
// summaries, newest activity first.
func (s *Service) LoadConversations(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, error) {
	if userID == uuid.Nil {
		return nil, ErrUnauthorized
	}

	if s.cache != nil {
		if conversations, ok := s.cache.GetConversations(ctx, userID); ok {
			return conversations, nil
		}
	}

	messages, err := s.store.GetMessagesByUser(userID)
	if err != nil {
		return nil, &RetrievalError{Err: err}
	}

	conversations := BuildConversations(userID, messages)

	if s.cache != nil {
		s.cache.SetConversations(ctx, userID, conversations)
	}

	return conversations, nil
}

// LoadMessages returns the full message history of one conversation in
// chronological order and drains the caller's unread messages in it. A
// failed mark-read leaves that message unread and is logged, never fatal
// to the load; the unread count may transiently overstate until the next
// open.
func (s *Service) LoadMessages(ctx context.Context, userID uuid.UUID, conversationID string) ([]*models.Message, error) {
	a, b, err := s.authorizeParticipant(userID, conversationID)
	if err != nil {
		return nil, err
	}

	messages, err := s.store.GetMessagesBetween(a, b)
	if err != nil {
		return nil, &RetrievalError{Err: err}
	}

	s.drainUnread(ctx, userID, conversationID, messages)

	return messages, nil
}

// drainUnread marks every fetched message addressed to userID as read.
// Order between individual calls does not matter; each is idempotent.
func (s *Service) drainUnread(ctx context.Context, userID uuid.UUID, conversationID string, messages []*models.Message) {
	drained := 0
	for _, msg := range messages {
		if !msg.UnreadFor(userID) {
			continue
		}

		if err := s.store.MarkMessageAsRead(msg.ID); err != nil {
			log.Warn("failed to mark message %s as read: %v", msg.ID, err)
			continue
		}

		msg.IsRead = true
		drained++
		s.publish(Event{
			Type:           EventMessageUpdated,
			ConversationID: conversationID,
			Message:        msg,
		})
	}

	if drained > 0 {
		s.invalidate(ctx, messages[0].SenderID, messages[0].ReceiverID)
		log.Debug("drained %d unread messages in %s for user %s", drained, conversationID, userID)
	}
}

// SendMessage persists a new message from userID into the conversation.
// The receiver is whichever participant the caller is not.
func (s *Service) SendMessage(ctx context.Context, userID uuid.UUID, conversationID, body string, kind models.MessageKind, attachments []models.Attachment) (*models.Message, error) {
	a, b, err := s.authorizeParticipant(userID, conversationID)
	if err != nil {
		return nil, err
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrInvalidMessage
	}

	if kind == "" {
		kind = models.KindText
	}
	if !kind.Valid() {
		return nil, ErrInvalidMessage
	}

	receiverID := a
	if receiverID == userID {
		receiverID = b
	}

	message, err := s.store.CreateMessage(userID, receiverID, body, kind, attachments)
	if err != nil {
		return nil, &SendError{Err: err}
	}

	if err := s.store.TouchConversation(a, b); err != nil {
		// Last-activity advances via the message row either way.
		log.Warn("failed to touch conversation %s: %v", conversationID, err)
	}

	s.invalidate(ctx, userID, receiverID)
	s.publish(Event{
		Type:           EventMessageInserted,
		ConversationID: conversationID,
		Message:        message,
	})

	return message, nil
}

// CreateConversation resolves the canonical conversation id for the caller
// and another user, materializing the server-side conversation row if it
// does not exist yet. Idempotent: an existing pair resolves to the same
// id.
func (s *Service) CreateConversation(ctx context.Context, userID, otherUserID uuid.UUID) (string, error) {
	if userID == uuid.Nil {
		return "", ErrUnauthorized
	}

	conversationID, err := DeriveConversationID(userID, otherUserID)
	if err != nil {
		return "", err
	}

	if _, err := s.store.GetUserByID(otherUserID); err != nil {
		return "", &RetrievalError{Err: err}
	}

	if err := s.store.UpsertConversation(userID, otherUserID); err != nil {
		return "", &RetrievalError{Err: err}
	}

	return conversationID, nil
}

// MarkRead marks a single message as read. Only the receiver may mark.
// Marking an already-read message is a no-op success.
func (s *Service) MarkRead(ctx context.Context, userID, messageID uuid.UUID) error {
	if userID == uuid.Nil {
		return ErrUnauthorized
	}

	message, err := s.store.GetMessageByID(messageID)
	if err != nil {
		return &RetrievalError{Err: err}
	}

	if message.ReceiverID != userID {
		return ErrForbidden
	}

	if message.IsRead {
		return nil
	}

	if err := s.store.MarkMessageAsRead(messageID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	message.IsRead = true
	s.invalidate(ctx, message.SenderID, message.ReceiverID)

	if conversationID, err := DeriveConversationID(message.SenderID, message.ReceiverID); err == nil {
		s.publish(Event{
			Type:           EventMessageUpdated,
			ConversationID: conversationID,
			Message:        message,
		})
	}

	return nil
}

// authorizeParticipant validates the conversation id and checks that
// userID is one of its two participants.
func (s *Service) authorizeParticipant(userID uuid.UUID, conversationID string) (uuid.UUID, uuid.UUID, error) {
	if userID == uuid.Nil {
		return uuid.Nil, uuid.Nil, ErrUnauthorized
	}

	a, b, err := SplitConversationID(conversationID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	if userID != a && userID != b {
		return uuid.Nil, uuid.Nil, ErrForbidden
	}

	return a, b, nil
}

func (s *Service) publish(ev Event) {
	if s.events != nil {
		s.events.Publish(ev)
	}
}

func (s *Service) invalidate(ctx context.Context, userIDs ...uuid.UUID) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, userIDs...)
	}
}
