package repository

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/tullo/chats/internal/database"
	"github.com/tullo/chats/internal/models"
)

type ConversationRepository struct {
	db *database.DB
}

func NewConversationRepository(db *database.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// GetForUser retrieves a conversation with the unread count of userID
func (r *ConversationRepository) GetForUser(id, userID string) (*models.Conversation, error) {
	query := `
		SELECT c.id, c.status, c.blocked_by, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m
		        WHERE m.conversation_id = c.id AND m.sender_id <> $2 AND m.status <> 'Read')
		FROM conversations c
		WHERE c.id = $1
	`

	conversation := &models.Conversation{}
	err := r.db.QueryRow(query, id, userID).Scan(
		&conversation.ID,
		&conversation.Status,
		&conversation.BlockedBy,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
		&conversation.UnreadCount,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return conversation, nil
}

// GetByUserID retrieves all conversations of a user, most recently active first
func (r *ConversationRepository) GetByUserID(userID string) ([]models.Conversation, error) {
	query := `
		SELECT c.id, c.status, c.blocked_by, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m
		        WHERE m.conversation_id = c.id AND m.sender_id <> $1 AND m.status <> 'Read')
		FROM conversations c
		INNER JOIN conversation_members cm ON c.id = cm.conversation_id
		WHERE cm.user_id = $1
		ORDER BY c.updated_at DESC, c.created_at ASC
	`

	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversations: %w", err)
	}
	defer rows.Close()

	conversations := []models.Conversation{}
	for rows.Next() {
		var conv models.Conversation
		err := rows.Scan(
			&conv.ID,
			&conv.Status,
			&conv.BlockedBy,
			&conv.CreatedAt,
			&conv.UpdatedAt,
			&conv.UnreadCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}

	return conversations, rows.Err()
}

// GetMembers retrieves both participants of a conversation
func (r *ConversationRepository) GetMembers(conversationID string) ([]models.User, error) {
	query := `
		SELECT u.id, u.email, u.username, u.first_name, u.last_name, u.password_hash, u.created_at, u.updated_at
		FROM users u
		INNER JOIN conversation_members cm ON u.id = cm.user_id
		WHERE cm.conversation_id = $1
		ORDER BY cm.joined_at, u.id
	`

	members := []models.User{}
	if err := r.db.Select(&members, query, conversationID); err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}

	return members, nil
}

// IsMember checks if a user is a member of a conversation
func (r *ConversationRepository) IsMember(conversationID, userID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM conversation_members
			WHERE conversation_id = $1 AND user_id = $2
		)
	`

	var exists bool
	err := r.db.QueryRow(query, conversationID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}

	return exists, nil
}

// FindDirect returns the id of the conversation between two users
func (r *ConversationRepository) FindDirect(user1ID, user2ID string) (string, error) {
	query := `
		SELECT c.id
		FROM conversations c
		INNER JOIN conversation_members cm1 ON c.id = cm1.conversation_id
		INNER JOIN conversation_members cm2 ON c.id = cm2.conversation_id
		WHERE cm1.user_id = $1
		AND cm2.user_id = $2
		ORDER BY c.created_at
		LIMIT 1
	`

	var id string
	err := r.db.QueryRow(query, user1ID, user2ID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to find conversation: %w", err)
	}

	return id, nil
}

// GetOrCreateDirectConversation gets or creates the conversation between two
// users. Creation is serialized per pair with an advisory lock.
func (r *ConversationRepository) GetOrCreateDirectConversation(user1ID, user2ID, status string, blockedBy *string) (string, bool, error) {
	id, err := r.FindDirect(user1ID, user2ID)
	if err == nil {
		return id, false, nil
	}
	if err != ErrNotFound {
		return "", false, err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return "", false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`SELECT pg_advisory_xact_lock(hashtext($1))`, pairKey(user1ID, user2ID)); err != nil {
		return "", false, fmt.Errorf("failed to lock conversation pair: %w", err)
	}

	// Re-check under the lock
	err = tx.QueryRow(`
		SELECT c.id
		FROM conversations c
		INNER JOIN conversation_members cm1 ON c.id = cm1.conversation_id
		INNER JOIN conversation_members cm2 ON c.id = cm2.conversation_id
		WHERE cm1.user_id = $1 AND cm2.user_id = $2
		LIMIT 1
	`, user1ID, user2ID).Scan(&id)
	if err == nil {
		return id, false, tx.Commit()
	}
	if err != sql.ErrNoRows {
		return "", false, fmt.Errorf("failed to check existing conversation: %w", err)
	}

	id = uuid.NewString()
	_, err = tx.Exec(
		`INSERT INTO conversations (id, status, blocked_by, created_at, updated_at) VALUES ($1, $2, $3, NOW(), NOW())`,
		id, status, blockedBy,
	)
	if err != nil {
		return "", false, fmt.Errorf("failed to create conversation: %w", err)
	}

	for _, userID := range []string{user1ID, user2ID} {
		_, err = tx.Exec(
			`INSERT INTO conversation_members (id, conversation_id, user_id, joined_at) VALUES ($1, $2, $3, NOW())`,
			uuid.NewString(), id, userID,
		)
		if err != nil {
			return "", false, fmt.Errorf("failed to add member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return id, true, nil
}

// Touch bumps updated_at so the conversation sorts as recently active
func (r *ConversationRepository) Touch(id string) error {
	_, err := r.db.Exec(`UPDATE conversations SET updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

// SetBlockState updates the status of the conversation between two users
func (r *ConversationRepository) SetBlockState(user1ID, user2ID, status string, blockedBy *string) (string, error) {
	id, err := r.FindDirect(user1ID, user2ID)
	if err == ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	_, err = r.db.Exec(
		`UPDATE conversations SET status = $2, blocked_by = $3 WHERE id = $1`,
		id, status, blockedBy,
	)
	if err != nil {
		return "", fmt.Errorf("failed to update conversation status: %w", err)
	}

	return id, nil
}

// Delete removes a conversation and, through the cascade, its messages
func (r *ConversationRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
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

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}
