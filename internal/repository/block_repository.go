package repository

import (
	"fmt"

	"github.com/tullo/chats/internal/database"
	"github.com/tullo/chats/internal/models"
)

type BlockRepository struct {
	db *database.DB
}

func NewBlockRepository(db *database.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

// Block records blocker -> blocked. Blocking twice is a no-op.
func (r *BlockRepository) Block(blockerID, blockedID string) error {
	query := `
		INSERT INTO user_blocks (blocker_id, blocked_id, blocked_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (blocker_id, blocked_id) DO NOTHING
	`

	if _, err := r.db.Exec(query, blockerID, blockedID); err != nil {
		return fmt.Errorf("failed to block user: %w", err)
	}

	return nil
}

// Unblock removes blocker -> blocked. Unblocking an absent relation is a no-op.
func (r *BlockRepository) Unblock(blockerID, blockedID string) error {
	_, err := r.db.Exec(`DELETE FROM user_blocks WHERE blocker_id = $1 AND blocked_id = $2`, blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("failed to unblock user: %w", err)
	}

	return nil
}

// Between returns the relations in either direction between two users
func (r *BlockRepository) Between(user1ID, user2ID string) ([]models.BlockRelation, error) {
	query := `
		SELECT blocker_id, blocked_id, blocked_at
		FROM user_blocks
		WHERE (blocker_id = $1 AND blocked_id = $2)
		OR (blocker_id = $2 AND blocked_id = $1)
	`

	relations := []models.BlockRelation{}
	if err := r.db.Select(&relations, query, user1ID, user2ID); err != nil {
		return nil, fmt.Errorf("failed to get block relations: %w", err)
	}

	return relations, nil
}

// ListBlocked returns the users blockerID has blocked, newest first
func (r *BlockRepository) ListBlocked(blockerID string) ([]models.BlockedUser, error) {
	query := `
		SELECT u.id, u.email, u.username, u.first_name, u.last_name, u.password_hash,
		       u.created_at, u.updated_at, b.blocked_at
		FROM user_blocks b
		INNER JOIN users u ON u.id = b.blocked_id
		WHERE b.blocker_id = $1
		ORDER BY b.blocked_at DESC
	`

	users := []models.BlockedUser{}
	if err := r.db.Select(&users, query, blockerID); err != nil {
		return nil, fmt.Errorf("failed to list blocked users: %w", err)
	}

	return users, nil
}
