package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/theraline/theraline/internal/chat"
	"github.com/theraline/theraline/internal/models"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrMessageNotFound   = errors.New("message not found")
)

type PostgresDB struct {
	*sql.DB
}

func NewPostgresDB(connStr string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PostgresDB{db}, nil
}

func (db *PostgresDB) CreateUser(username, email, passwordHash string, role models.Role) (*models.User, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM users WHERE username = $1 OR email = $2",
		username, email).Scan(&count)
	if err != nil {
		return nil, err
	}

	if count > 0 {
		return nil, ErrUserAlreadyExists
	}

	user := &models.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
		LastSeen:     time.Now().UTC(),
	}

	_, err = db.Exec(
		"INSERT INTO users (id, username, email, password_hash, role, created_at, last_seen) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		user.ID, user.Username, user.Email, user.PasswordHash, user.Role, user.CreatedAt, user.LastSeen,
	)
	if err != nil {
		return nil, err
	}

	return user, nil
}

func (db *PostgresDB) GetUserByEmail(email string) (*models.User, error) {
	user := &models.User{}

	err := db.QueryRow(`
		SELECT id, username, email, password_hash, role,
		       COALESCE(display_name, ''), COALESCE(avatar_url, ''),
		       created_at, last_seen
		FROM users WHERE email = $1`, email).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role,
		&user.DisplayName, &user.AvatarURL, &user.CreatedAt, &user.LastSeen)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}

	if err != nil {
		return nil, err
	}

	return user, nil
}

func (db *PostgresDB) GetUserByID(id uuid.UUID) (*models.User, error) {
	var user models.User
	err := db.QueryRow(`
		SELECT id, username, email, password_hash, role,
		       COALESCE(display_name, ''), COALESCE(avatar_url, ''),
		       created_at, last_seen
		FROM users WHERE id = $1`,
		id).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.DisplayName,
		&user.AvatarURL,
		&user.CreatedAt,
		&user.LastSeen,
	)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (db *PostgresDB) UpdateLastSeen(userID uuid.UUID) error {
	result, err := db.Exec("UPDATE users SET last_seen = $1 WHERE id = $2",
		time.Now().UTC(), userID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrUserNotFound
	}

	return nil
}

// ListUsersByRole returns the directory of users holding a role, excluding
// the requesting user. Clients browse therapists and vice versa.
func (db *PostgresDB) ListUsersByRole(role models.Role, excludeUserID uuid.UUID) ([]*models.User, error) {
	rows, err := db.Query(`
		SELECT id, username, email, password_hash, role,
		       COALESCE(display_name, ''), COALESCE(avatar_url, ''),
		       created_at, last_seen
		FROM users
		WHERE role = $1 AND id != $2
		ORDER BY username`,
		role, excludeUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var user models.User
		err := rows.Scan(
			&user.ID,
			&user.Username,
			&user.Email,
			&user.PasswordHash,
			&user.Role,
			&user.DisplayName,
			&user.AvatarURL,
			&user.CreatedAt,
			&user.LastSeen,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}

		users = append(users, &user)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	return users, nil
}

func (db *PostgresDB) CreateMessage(senderID, receiverID uuid.UUID, body string, kind models.MessageKind, attachments []models.Attachment) (*models.Message, error) {
	if _, err := db.GetUserByID(senderID); err != nil {
		return nil, err
	}

	if _, err := db.GetUserByID(receiverID); err != nil {
		return nil, err
	}

	message := &models.Message{
		ID:          uuid.New(),
		SenderID:    senderID,
		ReceiverID:  receiverID,
		Body:        body,
		Kind:        kind,
		Attachments: attachments,
		CreatedAt:   time.Now().UTC(),
		IsRead:      false,
	}

	// The whole list goes into one jsonb column; a nil slice stores NULL.
	var attachmentsJSON []byte
	if len(attachments) > 0 {
		var err error
		attachmentsJSON, err = json.Marshal(attachments)
		if err != nil {
			return nil, err
		}
	}

	_, err := db.Exec(
		`INSERT INTO messages (id, sender_id, receiver_id, body, kind, is_system, is_read, created_at, attachments)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		message.ID, message.SenderID, message.ReceiverID, message.Body, message.Kind,
		message.IsSystem, message.IsRead, message.CreatedAt, attachmentsJSON,
	)
	if err != nil {
		return nil, err
	}

	return message, nil
}

const messageColumns = `
	m.id, m.sender_id, m.receiver_id, m.body, m.kind, m.is_system, m.is_read,
	m.created_at, m.updated_at, m.attachments,
	COALESCE(s.display_name, s.username), COALESCE(s.avatar_url, ''), s.role,
	COALESCE(r.display_name, r.username), COALESCE(r.avatar_url, ''), r.role`

const messageJoins = `
	FROM messages m
	JOIN users s ON s.id = m.sender_id
	JOIN users r ON r.id = m.receiver_id`

func scanMessage(scanner interface{ Scan(...interface{}) error }) (*models.Message, error) {
	var msg models.Message
	var updatedAt sql.NullTime
	var attachmentsJSON []byte
	sender := &models.ParticipantSummary{}
	receiver := &models.ParticipantSummary{}

	err := scanner.Scan(
		&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Body, &msg.Kind, &msg.IsSystem, &msg.IsRead,
		&msg.CreatedAt, &updatedAt, &attachmentsJSON,
		&sender.DisplayName, &sender.AvatarURL, &sender.Role,
		&receiver.DisplayName, &receiver.AvatarURL, &receiver.Role,
	)
	if err != nil {
		return nil, err
	}

	if updatedAt.Valid {
		msg.UpdatedAt = &updatedAt.Time
	}
	if len(attachmentsJSON) > 0 {
		if err := json.Unmarshal(attachmentsJSON, &msg.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments for %s: %w", msg.ID, err)
		}
	}

	sender.ID = msg.SenderID
	receiver.ID = msg.ReceiverID
	msg.Sender = sender
	msg.Receiver = receiver

	return &msg, nil
}

// GetMessagesByUser returns every message the user sent or received with
// denormalized participant summaries, newest first. This is the single
// query the conversation aggregator runs over.
func (db *PostgresDB) GetMessagesByUser(userID uuid.UUID) ([]*models.Message, error) {
	rows, err := db.Query(
		"SELECT"+messageColumns+messageJoins+`
		WHERE m.sender_id = $1 OR m.receiver_id = $1
		ORDER BY m.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

func (db *PostgresDB) GetMessageByID(messageID uuid.UUID) (*models.Message, error) {
	row := db.QueryRow(
		"SELECT"+messageColumns+messageJoins+`
		WHERE m.id = $1`,
		messageID,
	)

	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}

	return msg, nil
}

// GetMessagesBetween returns the full history of the pair in chronological
// display order, oldest first.
func (db *PostgresDB) GetMessagesBetween(userID1, userID2 uuid.UUID) ([]*models.Message, error) {
	rows, err := db.Query(
		"SELECT"+messageColumns+messageJoins+`
		WHERE (m.sender_id = $1 AND m.receiver_id = $2) OR (m.sender_id = $2 AND m.receiver_id = $1)
		ORDER BY m.created_at ASC`,
		userID1, userID2,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

func (db *PostgresDB) MarkMessageAsRead(messageID uuid.UUID) error {
	now := time.Now().UTC()
	result, err := db.Exec(
		"UPDATE messages SET is_read = true, updated_at = $1 WHERE id = $2",
		now, messageID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrMessageNotFound
	}

	return nil
}

// UpsertConversation materializes the conversation index row for a pair.
// The row is keyed by the derived canonical id, so the upsert is naturally
// idempotent regardless of argument order.
func (db *PostgresDB) UpsertConversation(userID1, userID2 uuid.UUID) error {
	conversationID, err := chat.DeriveConversationID(userID1, userID2)
	if err != nil {
		return err
	}

	lo, hi, err := chat.SplitConversationID(conversationID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = db.Exec(
		`INSERT INTO conversations (id, participant_lo, participant_hi, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (id) DO NOTHING`,
		conversationID, lo, hi, now,
	)
	return err
}

// TouchConversation advances the index row's last-activity timestamp.
func (db *PostgresDB) TouchConversation(userID1, userID2 uuid.UUID) error {
	conversationID, err := chat.DeriveConversationID(userID1, userID2)
	if err != nil {
		return err
	}

	_, err = db.Exec(
		"UPDATE conversations SET updated_at = $1 WHERE id = $2",
		time.Now().UTC(), conversationID,
	)
	return err
}

func (db *PostgresDB) Close() error {
	return db.DB.Close()
}
