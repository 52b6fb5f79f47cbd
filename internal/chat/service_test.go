package chat

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/theraline/theraline/internal/models"
)

// MockStore implements the Store interface for testing
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetUserByID(id uuid.UUID) (*models.User, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockStore) GetMessagesByUser(userID uuid.UUID) ([]*models.Message, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Message), args.Error(1)
}

func (m *MockStore) GetMessagesBetween(userID1, userID2 uuid.UUID) ([]*models.Message, error) {
	args := m.Called(userID1, userID2)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Message), args.Error(1)
}

func (m *MockStore) GetMessageByID(messageID uuid.UUID) (*models.Message, error) {
	args := m.Called(messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockStore) CreateMessage(senderID, receiverID uuid.UUID, body string, kind models.MessageKind, attachments []models.Attachment) (*models.Message, error) {
	args := m.Called(senderID, receiverID, body, kind, attachments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockStore) MarkMessageAsRead(messageID uuid.UUID) error {
	args := m.Called(messageID)
	return args.Error(0)
}

func (m *MockStore) UpsertConversation(userID1, userID2 uuid.UUID) error {
	args := m.Called(userID1, userID2)
	return args.Error(0)
}

func (m *MockStore) TouchConversation(userID1, userID2 uuid.UUID) error {
	args := m.Called(userID1, userID2)
	return args.Error(0)
}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	events []Event
}

func (p *recordingPublisher) Publish(ev Event) {
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) byType(t EventType) []Event {
	var out []Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func TestLoadConversationsRequiresIdentity(t *testing.T) {
	service := NewService(new(MockStore), nil, nil)

	_, err := service.LoadConversations(context.Background(), uuid.Nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestLoadConversationsWrapsStoreFailure(t *testing.T) {
	store := new(MockStore)
	userID := uuid.New()
	store.On("GetMessagesByUser", userID).Return(nil, errors.New("connection refused")).Once()

	service := NewService(store, nil, nil)

	_, err := service.LoadConversations(context.Background(), userID)

	var retrieval *RetrievalError
	require.ErrorAs(t, err, &retrieval)
	store.AssertExpectations(t)
}

func TestSendMessageRejectsEmptyBody(t *testing.T) {
	store := new(MockStore)
	userID, otherID := uuid.New(), uuid.New()
	conversationID, err := DeriveConversationID(userID, otherID)
	require.NoError(t, err)

	service := NewService(store, nil, nil)

	for _, body := range []string{"", "   ", "\n\t "} {
		_, err := service.SendMessage(context.Background(), userID, conversationID, body, models.KindText, nil)
		assert.ErrorIs(t, err, ErrInvalidMessage)
	}

	store.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessageRejectsUnknownKind(t *testing.T) {
	store := new(MockStore)
	userID, otherID := uuid.New(), uuid.New()
	conversationID, err := DeriveConversationID(userID, otherID)
	require.NoError(t, err)

	service := NewService(store, nil, nil)

	_, err = service.SendMessage(context.Background(), userID, conversationID, "hello", "carrier_pigeon", nil)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestSendMessageForbiddenForNonParticipant(t *testing.T) {
	store := new(MockStore)
	conversationID, err := DeriveConversationID(uuid.New(), uuid.New())
	require.NoError(t, err)

	service := NewService(store, nil, nil)

	_, err = service.SendMessage(context.Background(), uuid.New(), conversationID, "hello", models.KindText, nil)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSendMessageMalformedConversationID(t *testing.T) {
	service := NewService(new(MockStore), nil, nil)

	_, err := service.SendMessage(context.Background(), uuid.New(), "not-a-conversation", "hello", models.KindText, nil)
	assert.ErrorIs(t, err, ErrMalformedConversationID)
}

func TestSendMessageResolvesReceiverAndPublishes(t *testing.T) {
	store := new(MockStore)
	publisher := &recordingPublisher{}
	userID, otherID := uuid.New(), uuid.New()
	conversationID, err := DeriveConversationID(userID, otherID)
	require.NoError(t, err)

	sent := &models.Message{
		ID:         uuid.New(),
		SenderID:   userID,
		ReceiverID: otherID,
		Body:       "hello",
		Kind:       models.KindText,
		CreatedAt:  time.Now().UTC(),
	}
	store.On("CreateMessage", userID, otherID, "hello", models.KindText, []models.Attachment(nil)).Return(sent, nil).Once()
	store.On("TouchConversation", mock.Anything, mock.Anything).Return(nil).Once()

	service := NewService(store, nil, publisher)

	message, err := service.SendMessage(context.Background(), userID, conversationID, "  hello  ", models.KindText, nil)
	require.NoError(t, err)
	assert.Equal(t, otherID, message.ReceiverID, "receiver is the other participant")

	inserted := publisher.byType(EventMessageInserted)
	require.Len(t, inserted, 1)
	assert.Equal(t, conversationID, inserted[0].ConversationID)
	store.AssertExpectations(t)
}

func TestSendMessageCarriesEveryAttachment(t *testing.T) {
	client := &models.User{ID: uuid.New(), Username: "asha", Role: models.RoleClient}
	therapist := &models.User{ID: uuid.New(), Username: "dr-lane", Role: models.RoleTherapist}
	store := newFakeStore(client, therapist)

	service := NewService(store, nil, nil)
	ctx := context.Background()

	conversationID, err := DeriveConversationID(client.ID, therapist.ID)
	require.NoError(t, err)

	attachments := []models.Attachment{
		{URL: "https://files.example.com/intake.pdf", Name: "intake.pdf", MimeType: "application/pdf"},
		{URL: "https://files.example.com/consent.pdf", Name: "consent.pdf", MimeType: "application/pdf"},
	}

	sent, err := service.SendMessage(ctx, client.ID, conversationID, "forms attached", models.KindFile, attachments)
	require.NoError(t, err)
	assert.Equal(t, attachments, sent.Attachments, "no attachment may be dropped on the way to the store")

	// And they survive a reload of the conversation history.
	messages, err := service.LoadMessages(ctx, therapist.ID, conversationID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, attachments, messages[0].Attachments)
}

func TestSendMessageWrapsStoreFailure(t *testing.T) {
	store := new(MockStore)
	userID, otherID := uuid.New(), uuid.New()
	conversationID, err := DeriveConversationID(userID, otherID)
	require.NoError(t, err)

	store.On("CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("write timeout")).Once()

	service := NewService(store, nil, nil)

	_, err = service.SendMessage(context.Background(), userID, conversationID, "hello", models.KindText, nil)

	var send *SendError
	require.ErrorAs(t, err, &send)
}

func TestMarkReadIdempotent(t *testing.T) {
	store := new(MockStore)
	userID, senderID := uuid.New(), uuid.New()
	message := &models.Message{
		ID:         uuid.New(),
		SenderID:   senderID,
		ReceiverID: userID,
		IsRead:     true,
	}
	store.On("GetMessageByID", message.ID).Return(message, nil).Twice()

	service := NewService(store, nil, nil)

	// Marking an already-read message twice succeeds both times and
	// never hits the store update.
	assert.NoError(t, service.MarkRead(context.Background(), userID, message.ID))
	assert.NoError(t, service.MarkRead(context.Background(), userID, message.ID))
	store.AssertNotCalled(t, "MarkMessageAsRead", mock.Anything)
}

func TestMarkReadOnlyReceiverMayMark(t *testing.T) {
	store := new(MockStore)
	senderID := uuid.New()
	message := &models.Message{
		ID:         uuid.New(),
		SenderID:   senderID,
		ReceiverID: uuid.New(),
	}
	store.On("GetMessageByID", message.ID).Return(message, nil).Once()

	service := NewService(store, nil, nil)

	err := service.MarkRead(context.Background(), senderID, message.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestMarkReadPublishesUpdate(t *testing.T) {
	store := new(MockStore)
	publisher := &recordingPublisher{}
	userID, senderID := uuid.New(), uuid.New()
	message := &models.Message{
		ID:         uuid.New(),
		SenderID:   senderID,
		ReceiverID: userID,
	}
	store.On("GetMessageByID", message.ID).Return(message, nil).Once()
	store.On("MarkMessageAsRead", message.ID).Return(nil).Once()

	service := NewService(store, nil, publisher)

	require.NoError(t, service.MarkRead(context.Background(), userID, message.ID))

	updated := publisher.byType(EventMessageUpdated)
	require.Len(t, updated, 1)
	assert.True(t, updated[0].Message.IsRead)
	store.AssertExpectations(t)
}

func TestCreateConversationProvisional(t *testing.T) {
	store := new(MockStore)
	userID, otherID := uuid.New(), uuid.New()
	other := &models.User{ID: otherID, Username: "dr-lane", Role: models.RoleTherapist}
	store.On("GetUserByID", otherID).Return(other, nil).Once()
	store.On("UpsertConversation", userID, otherID).Return(nil).Once()

	service := NewService(store, nil, nil)

	conversationID, err := service.CreateConversation(context.Background(), userID, otherID)
	require.NoError(t, err)

	expected, err := DeriveConversationID(userID, otherID)
	require.NoError(t, err)
	assert.Equal(t, expected, conversationID, "provisional id equals the derived canonical id")
	store.AssertExpectations(t)
}

func TestCreateConversationRejectsSelf(t *testing.T) {
	service := NewService(new(MockStore), nil, nil)
	userID := uuid.New()

	_, err := service.CreateConversation(context.Background(), userID, userID)
	assert.ErrorIs(t, err, ErrInvalidParticipants)
}

// fakeStore is an in-memory Store for multi-step scenarios where mark-read
// side effects must be visible to later queries.
type fakeStore struct {
	users    map[uuid.UUID]*models.User
	messages []*models.Message
	convRows map[string]time.Time
}

func newFakeStore(users ...*models.User) *fakeStore {
	s := &fakeStore{
		users:    make(map[uuid.UUID]*models.User),
		convRows: make(map[string]time.Time),
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeStore) GetUserByID(id uuid.UUID) (*models.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	return user, nil
}

func (s *fakeStore) addMessage(senderID, receiverID uuid.UUID, body string, at time.Time, read bool) *models.Message {
	msg := &models.Message{
		ID:         uuid.New(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		Kind:       models.KindText,
		IsRead:     read,
		CreatedAt:  at,
		Sender:     s.users[senderID].Summary(),
		Receiver:   s.users[receiverID].Summary(),
	}
	s.messages = append(s.messages, msg)
	return msg
}

func (s *fakeStore) GetMessagesByUser(userID uuid.UUID) ([]*models.Message, error) {
	var out []*models.Message
	for _, msg := range s.messages {
		if msg.SenderID == userID || msg.ReceiverID == userID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) GetMessagesBetween(userID1, userID2 uuid.UUID) ([]*models.Message, error) {
	var out []*models.Message
	for _, msg := range s.messages {
		if (msg.SenderID == userID1 && msg.ReceiverID == userID2) ||
			(msg.SenderID == userID2 && msg.ReceiverID == userID1) {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) GetMessageByID(messageID uuid.UUID) (*models.Message, error) {
	for _, msg := range s.messages {
		if msg.ID == messageID {
			return msg, nil
		}
	}
	return nil, errors.New("message not found")
}

func (s *fakeStore) CreateMessage(senderID, receiverID uuid.UUID, body string, kind models.MessageKind, attachments []models.Attachment) (*models.Message, error) {
	msg := s.addMessage(senderID, receiverID, body, time.Now().UTC(), false)
	msg.Kind = kind
	msg.Attachments = attachments
	return msg, nil
}

func (s *fakeStore) MarkMessageAsRead(messageID uuid.UUID) error {
	for _, msg := range s.messages {
		if msg.ID == messageID {
			msg.IsRead = true
			return nil
		}
	}
	return errors.New("message not found")
}

func (s *fakeStore) UpsertConversation(userID1, userID2 uuid.UUID) error {
	id, err := DeriveConversationID(userID1, userID2)
	if err != nil {
		return err
	}
	if _, ok := s.convRows[id]; !ok {
		s.convRows[id] = time.Now().UTC()
	}
	return nil
}

func (s *fakeStore) TouchConversation(userID1, userID2 uuid.UUID) error {
	id, err := DeriveConversationID(userID1, userID2)
	if err != nil {
		return err
	}
	s.convRows[id] = time.Now().UTC()
	return nil
}

func TestOpeningConversationDrainsUnread(t *testing.T) {
	client := &models.User{ID: uuid.New(), Username: "asha", Role: models.RoleClient}
	therapist := &models.User{ID: uuid.New(), Username: "dr-lane", Role: models.RoleTherapist}
	store := newFakeStore(client, therapist)

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	store.addMessage(client.ID, therapist.ID, "hi", base, false)
	store.addMessage(therapist.ID, client.ID, "hello", base.Add(time.Minute), false)
	t3 := store.addMessage(client.ID, therapist.ID, "thursday?", base.Add(2*time.Minute), false)

	publisher := &recordingPublisher{}
	service := NewService(store, nil, publisher)
	ctx := context.Background()

	conversations, err := service.LoadConversations(ctx, therapist.ID)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, 2, conversations[0].UnreadCount)
	assert.Equal(t, t3.ID, conversations[0].LastMessage.ID)

	// The therapist opens the conversation: history comes back in
	// chronological order and their unread messages drain.
	messages, err := service.LoadMessages(ctx, therapist.ID, conversations[0].ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "hi", messages[0].Body)
	assert.Equal(t, "thursday?", messages[2].Body)

	conversations, err = service.LoadConversations(ctx, therapist.ID)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, 0, conversations[0].UnreadCount, "unread count drains once the conversation is opened")

	// The client's own message to the therapist stays untouched from the
	// client's perspective except for read receipts.
	assert.Len(t, publisher.byType(EventMessageUpdated), 2)

	// Draining is idempotent: reopening marks nothing further.
	publisher.events = nil
	_, err = service.LoadMessages(ctx, therapist.ID, conversations[0].ID)
	require.NoError(t, err)
	assert.Empty(t, publisher.byType(EventMessageUpdated))
}

func TestProvisionalConversationBecomesRealAfterFirstSend(t *testing.T) {
	client := &models.User{ID: uuid.New(), Username: "asha", Role: models.RoleClient}
	therapist := &models.User{ID: uuid.New(), Username: "dr-lane", Role: models.RoleTherapist}
	store := newFakeStore(client, therapist)

	service := NewService(store, nil, nil)
	ctx := context.Background()

	conversationID, err := service.CreateConversation(ctx, client.ID, therapist.ID)
	require.NoError(t, err)

	expected, err := DeriveConversationID(client.ID, therapist.ID)
	require.NoError(t, err)
	assert.Equal(t, expected, conversationID)

	// No history yet, so the list is still empty.
	conversations, err := service.LoadConversations(ctx, client.ID)
	require.NoError(t, err)
	assert.Empty(t, conversations)

	// Calling again resolves to the same id.
	again, err := service.CreateConversation(ctx, client.ID, therapist.ID)
	require.NoError(t, err)
	assert.Equal(t, conversationID, again)

	_, err = service.SendMessage(ctx, client.ID, conversationID, "hi, are you taking new clients?", models.KindText, nil)
	require.NoError(t, err)

	conversations, err = service.LoadConversations(ctx, client.ID)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, conversationID, conversations[0].ID)
	require.NotNil(t, conversations[0].LastMessage)
	assert.Equal(t, "hi, are you taking new clients?", conversations[0].LastMessage.Body)
}

// stubCache is a SummaryCache that always hits.
type stubCache struct {
	data        map[uuid.UUID][]*models.Conversation
	invalidated []uuid.UUID
}

func (c *stubCache) GetConversations(_ context.Context, userID uuid.UUID) ([]*models.Conversation, bool) {
	conversations, ok := c.data[userID]
	return conversations, ok
}

func (c *stubCache) SetConversations(_ context.Context, userID uuid.UUID, conversations []*models.Conversation) {
	c.data[userID] = conversations
}

func (c *stubCache) Invalidate(_ context.Context, userIDs ...uuid.UUID) {
	c.invalidated = append(c.invalidated, userIDs...)
}

func TestLoadConversationsServedFromCache(t *testing.T) {
	store := new(MockStore)
	userID := uuid.New()
	cached := []*models.Conversation{{ID: "conv_cached"}}
	cache := &stubCache{data: map[uuid.UUID][]*models.Conversation{userID: cached}}

	service := NewService(store, cache, nil)

	conversations, err := service.LoadConversations(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, cached, conversations)
	store.AssertNotCalled(t, "GetMessagesByUser", mock.Anything)
}

func TestSendMessageInvalidatesBothParticipants(t *testing.T) {
	client := &models.User{ID: uuid.New(), Username: "asha", Role: models.RoleClient}
	therapist := &models.User{ID: uuid.New(), Username: "dr-lane", Role: models.RoleTherapist}
	store := newFakeStore(client, therapist)
	cache := &stubCache{data: make(map[uuid.UUID][]*models.Conversation)}

	service := NewService(store, cache, nil)

	conversationID, err := DeriveConversationID(client.ID, therapist.ID)
	require.NoError(t, err)

	_, err = service.SendMessage(context.Background(), client.ID, conversationID, "hello", models.KindText, nil)
	require.NoError(t, err)

	assert.ElementsMatch(t, []uuid.UUID{client.ID, therapist.ID}, cache.invalidated)
}
