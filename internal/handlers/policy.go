package handlers

import (
	"log"

	"github.com/tullo/chats/internal/cache"
	"github.com/tullo/chats/internal/models"
	"github.com/tullo/chats/internal/repository"
)

// blockStore is the authoritative block table
type blockStore interface {
	Between(user1ID, user2ID string) ([]models.BlockRelation, error)
	ListBlocked(blockerID string) ([]models.BlockedUser, error)
}

// blockCache holds per-user copies of the block table
type blockCache interface {
	IsBlockedCached(blockerID, blockedID string) (bool, bool, error)
	BlockListGeneration(blockerID string) (int64, error)
	CacheBlockList(blockerID string, generation int64, blockedIDs []string) (bool, error)
	InvalidateBlockList(blockerID string) error
}

// BlockPolicy answers who blocked whom between two users. Redis holds a
// per-user copy of the block list; Postgres stays authoritative.
type BlockPolicy struct {
	blocks   blockStore
	convRepo *repository.ConversationRepository
	cache    blockCache
}

func NewBlockPolicy(
	blockRepo *repository.BlockRepository,
	convRepo *repository.ConversationRepository,
	redis *cache.RedisClient,
) *BlockPolicy {
	p := &BlockPolicy{
		blocks:   blockRepo,
		convRepo: convRepo,
	}
	if redis != nil {
		p.cache = redis
	}
	return p
}

// Direction resolves the block direction as seen by me
func (p *BlockPolicy) Direction(me, other string) (models.Direction, error) {
	if p.cache != nil {
		if dir, ok := p.cachedDirection(me, other); ok {
			return dir, nil
		}
	}

	relations, err := p.blocks.Between(me, other)
	if err != nil {
		return models.NotBlocked, err
	}

	if p.cache != nil {
		p.warm(me)
		p.warm(other)
	}

	return models.BlockDirection(relations, me, other), nil
}

func (p *BlockPolicy) cachedDirection(me, other string) (models.Direction, bool) {
	mine, known, err := p.cache.IsBlockedCached(me, other)
	if err != nil || !known {
		return models.NotBlocked, false
	}
	if mine {
		return models.YouBlockedThem, true
	}

	theirs, known, err := p.cache.IsBlockedCached(other, me)
	if err != nil || !known {
		return models.NotBlocked, false
	}
	if theirs {
		return models.TheyBlockedYou, true
	}
	return models.NotBlocked, true
}

// warm loads a user's block list into the cache
func (p *BlockPolicy) warm(blockerID string) {
	if _, err := p.ListBlocked(blockerID); err != nil {
		log.Printf("Failed to load block list of %s: %v", blockerID, err)
	}
}

// ListBlocked reads a user's block list from the database and refreshes the
// cached copy. The cache generation is read first so that a block change
// landing between the read and the write leaves the cache empty.
func (p *BlockPolicy) ListBlocked(blockerID string) ([]models.BlockedUser, error) {
	var gen int64
	cacheable := p.cache != nil
	if cacheable {
		var err error
		if gen, err = p.cache.BlockListGeneration(blockerID); err != nil {
			log.Printf("Failed to read block list generation of %s: %v", blockerID, err)
			cacheable = false
		}
	}

	blocked, err := p.blocks.ListBlocked(blockerID)
	if err != nil {
		return nil, err
	}
	if !cacheable {
		return blocked, nil
	}

	ids := make([]string, 0, len(blocked))
	for _, b := range blocked {
		ids = append(ids, b.ID)
	}
	if _, err := p.cache.CacheBlockList(blockerID, gen, ids); err != nil {
		log.Printf("Failed to cache block list of %s: %v", blockerID, err)
	}
	return blocked, nil
}

// Invalidate drops the cached block list of blockerID
func (p *BlockPolicy) Invalidate(blockerID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.InvalidateBlockList(blockerID); err != nil {
		log.Printf("Failed to invalidate block list of %s: %v", blockerID, err)
	}
}

// Sync recomputes the status of the conversation between me and other after
// a block change. It returns the conversation id, empty when none exists.
func (p *BlockPolicy) Sync(me, other string) (string, models.Direction, error) {
	relations, err := p.blocks.Between(me, other)
	if err != nil {
		return "", models.NotBlocked, err
	}

	dir := models.BlockDirection(relations, me, other)
	status, blockedBy := conversationState(dir, me, other)

	convID, err := p.convRepo.SetBlockState(me, other, status, blockedBy)
	if err != nil {
		return "", dir, err
	}
	return convID, dir, nil
}

// conversationState maps a block direction to the conversation status and
// blocked_by columns
func conversationState(dir models.Direction, me, other string) (string, *string) {
	switch dir {
	case models.YouBlockedThem:
		return models.ConversationBlocked, &me
	case models.TheyBlockedYou:
		return models.ConversationBlocked, &other
	}
	return models.ConversationActive, nil
}
