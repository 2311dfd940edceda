package repository

import (
	"database/sql"
	"fmt"

	"github.com/tullo/chats/internal/database"
	"github.com/tullo/chats/internal/models"
)

const messageSelect = `
	SELECT m.id, m.conversation_id, m.body, m.status, m.created_at,
	       u.id, u.email, u.username, u.first_name, u.last_name, u.created_at, u.updated_at
	FROM messages m
	INNER JOIN users u ON m.sender_id = u.id
`

type MessageRepository struct {
	db *database.DB
}

func NewMessageRepository(db *database.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner, msg *models.Message) error {
	return row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.Message,
		&msg.Status,
		&msg.CreatedAt,
		&msg.Sender.ID,
		&msg.Sender.Email,
		&msg.Sender.Username,
		&msg.Sender.FirstName,
		&msg.Sender.LastName,
		&msg.Sender.CreatedAt,
		&msg.Sender.UpdatedAt,
	)
}

// Create creates a new message
func (r *MessageRepository) Create(message *models.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, body, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(
		query,
		message.ID,
		message.ConversationID,
		message.Sender.ID,
		message.Message,
		message.Status,
		message.CreatedAt,
	).Scan(&message.ID, &message.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	return nil
}

// GetByID retrieves a message by ID
func (r *MessageRepository) GetByID(id string) (*models.Message, error) {
	message := &models.Message{}
	err := scanMessage(r.db.QueryRow(messageSelect+` WHERE m.id = $1`, id), message)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return message, nil
}

// GetByConversationID retrieves the thread of a conversation, oldest first
func (r *MessageRepository) GetByConversationID(conversationID string) ([]models.Message, error) {
	query := messageSelect + `
		WHERE m.conversation_id = $1
		ORDER BY m.created_at ASC, m.id ASC
	`

	rows, err := r.db.Query(query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		if err := scanMessage(rows, &msg); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// GetLatest retrieves the newest message of a conversation, nil when empty
func (r *MessageRepository) GetLatest(conversationID string) (*models.Message, error) {
	query := messageSelect + `
		WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT 1
	`

	message := &models.Message{}
	err := scanMessage(r.db.QueryRow(query, conversationID), message)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest message: %w", err)
	}

	return message, nil
}

// UpdateStatus moves a message to a new status
func (r *MessageRepository) UpdateStatus(id, status string) error {
	result, err := r.db.Exec(`UPDATE messages SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkConversationRead marks every message the reader received as Read and
// returns the ids that changed
func (r *MessageRepository) MarkConversationRead(conversationID, readerID string) ([]string, error) {
	query := `
		UPDATE messages
		SET status = 'Read', updated_at = NOW()
		WHERE conversation_id = $1 AND sender_id <> $2 AND status <> 'Read'
		RETURNING id
	`

	ids := []string{}
	if err := r.db.Select(&ids, query, conversationID, readerID); err != nil {
		return nil, fmt.Errorf("failed to mark conversation as read: %w", err)
	}

	return ids, nil
}

// MarkConversationUnread flags the newest received message as Delivered so
// the conversation counts as unread again. Returns the changed id, empty if
// the reader has received nothing.
func (r *MessageRepository) MarkConversationUnread(conversationID, readerID string) (string, error) {
	query := `
		UPDATE messages
		SET status = 'Delivered', updated_at = NOW()
		WHERE id = (
			SELECT id FROM messages
			WHERE conversation_id = $1 AND sender_id <> $2
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)
		RETURNING id
	`

	var id string
	err := r.db.QueryRow(query, conversationID, readerID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to mark conversation as unread: %w", err)
	}

	return id, nil
}

// Delete deletes a message
func (r *MessageRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}
