package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/theraline/theraline/internal/chat"
	"github.com/theraline/theraline/internal/database"
	"github.com/theraline/theraline/internal/logger"
	"github.com/theraline/theraline/internal/models"
)

var log = logger.New("api")

// ConversationHandler exposes the messaging core over HTTP.
type ConversationHandler struct {
	Service *chat.Service
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(service *chat.Service) *ConversationHandler {
	return &ConversationHandler{Service: service}
}

// writeChatError maps the service error taxonomy onto HTTP statuses.
func writeChatError(c *gin.Context, err error) {
	var retrieval *chat.RetrievalError
	var send *chat.SendError

	switch {
	case errors.Is(err, chat.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	case errors.Is(err, chat.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a participant in this conversation"})
	case errors.Is(err, chat.ErrInvalidParticipants):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid participants"})
	case errors.Is(err, chat.ErrMalformedConversationID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed conversation ID"})
	case errors.Is(err, chat.ErrInvalidMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message body must not be empty"})
	case errors.Is(err, database.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
	case errors.Is(err, database.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	case errors.As(err, &retrieval), errors.As(err, &send):
		log.Error("store operation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Temporary failure, please retry"})
	default:
		log.Error("unexpected error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func requestUserID(c *gin.Context) (uuid.UUID, bool) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return uuid.Nil, false
	}
	return userID.(uuid.UUID), true
}

// ListConversations returns the caller's conversation summaries, newest
// activity first.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	conversations, err := h.Service.LoadConversations(c.Request.Context(), userID)
	if err != nil {
		writeChatError(c, err)
		return
	}

	c.JSON(http.StatusOK, conversations)
}

// CreateConversation resolves (and materializes) the canonical
// conversation id for the caller and another user.
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	var req models.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conversationID, err := h.Service.CreateConversation(c.Request.Context(), userID, req.OtherUserID)
	if err != nil {
		writeChatError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"conversation_id": conversationID})
}

// ListMessages returns one conversation's history in chronological order.
// Fetching drains the caller's unread messages in the conversation.
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	conversationID := c.Param("conversationID")

	messages, err := h.Service.LoadMessages(c.Request.Context(), userID, conversationID)
	if err != nil {
		writeChatError(c, err)
		return
	}

	if messages == nil {
		messages = []*models.Message{}
	}
	c.JSON(http.StatusOK, messages)
}

// SendMessage posts a message into a conversation.
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	conversationID := c.Param("conversationID")

	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.Service.SendMessage(c.Request.Context(), userID, conversationID, req.Body, req.Kind, req.Attachments)
	if err != nil {
		writeChatError(c, err)
		return
	}

	c.JSON(http.StatusCreated, message)
}

// MarkMessageAsRead marks a single message as read. Idempotent.
func (h *ConversationHandler) MarkMessageAsRead(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	messageID, err := uuid.Parse(c.Param("messageID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message ID"})
		return
	}

	if err := h.Service.MarkRead(c.Request.Context(), userID, messageID); err != nil {
		writeChatError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Message marked as read"})
}
