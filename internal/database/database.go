package database

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/theraline/theraline/internal/models"
)

// DBInterface is the full storage surface of the application. The chat
// service consumes a subset of it; auth and directory handlers use the
// user methods.
type DBInterface interface {
	// User methods
	CreateUser(username, email, passwordHash string, role models.Role) (*models.User, error)
	GetUserByEmail(email string) (*models.User, error)
	GetUserByID(id uuid.UUID) (*models.User, error)
	UpdateLastSeen(userID uuid.UUID) error
	ListUsersByRole(role models.Role, excludeUserID uuid.UUID) ([]*models.User, error)

	// Message methods
	CreateMessage(senderID, receiverID uuid.UUID, body string, kind models.MessageKind, attachments []models.Attachment) (*models.Message, error)
	GetMessagesByUser(userID uuid.UUID) ([]*models.Message, error)
	GetMessageByID(messageID uuid.UUID) (*models.Message, error)
	GetMessagesBetween(userID1, userID2 uuid.UUID) ([]*models.Message, error)
	MarkMessageAsRead(messageID uuid.UUID) error

	// Conversation index methods. The row is an index over the
	// participant pair, kept for lookup and authorization; summaries are
	// always derived from the message table.
	UpsertConversation(userID1, userID2 uuid.UUID) error
	TouchConversation(userID1, userID2 uuid.UUID) error

	Close() error
}

type DatabaseType string

const (
	PostgreSQL DatabaseType = "postgres"
)

func NewDatabase(dbType DatabaseType, connStr string) (DBInterface, error) {
	switch dbType {
	case PostgreSQL:
		return NewPostgresDB(connStr)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}
