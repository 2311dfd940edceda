package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tullo/chats/internal/cache"
	"github.com/tullo/chats/internal/middleware"
	"github.com/tullo/chats/internal/models"
	"github.com/tullo/chats/internal/repository"
)

type BlockHandler struct {
	blockRepo *repository.BlockRepository
	userRepo  *repository.UserRepository
	policy    *BlockPolicy
	redis     *cache.RedisClient
}

func NewBlockHandler(
	blockRepo *repository.BlockRepository,
	userRepo *repository.UserRepository,
	policy *BlockPolicy,
	redis *cache.RedisClient,
) *BlockHandler {
	return &BlockHandler{
		blockRepo: blockRepo,
		userRepo:  userRepo,
		policy:    policy,
		redis:     redis,
	}
}

// BlockUser blocks the user in the path. Blocking twice succeeds.
func (h *BlockHandler) BlockUser(c *gin.Context) {
	h.setBlocked(c, true)
}

// UnblockUser lifts a block. Unblocking a user who is not blocked succeeds.
func (h *BlockHandler) UnblockUser(c *gin.Context) {
	h.setBlocked(c, false)
}

func (h *BlockHandler) setBlocked(c *gin.Context, blocked bool) {
	targetID, ok := pathID(c, "id", "user")
	if !ok {
		return
	}

	uid := middleware.CurrentUserID(c)
	if targetID == uid {
		ErrorResponse(c, http.StatusBadRequest, "Cannot block yourself")
		return
	}

	if _, err := h.userRepo.GetByID(targetID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			ErrorResponse(c, http.StatusNotFound, "User not found")
			return
		}
		ErrorResponse(c, http.StatusInternalServerError, "Failed to update block")
		return
	}

	var err error
	if blocked {
		err = h.blockRepo.Block(uid, targetID)
	} else {
		err = h.blockRepo.Unblock(uid, targetID)
	}
	if err != nil {
		log.Printf("Failed to update block %s -> %s: %v", uid, targetID, err)
		ErrorResponse(c, http.StatusInternalServerError, "Failed to update block")
		return
	}
	h.policy.Invalidate(uid)

	conversationID, direction, err := h.policy.Sync(uid, targetID)
	if err != nil {
		log.Printf("Failed to update conversation state %s/%s: %v", uid, targetID, err)
	}

	publish(h.redis, models.EventBlockUpdated, models.WSBlockPayload{
		BlockerID: uid,
		BlockedID: targetID,
		Blocked:   blocked,
	}, uid, targetID)

	message := "User unblocked"
	if blocked {
		message = "User blocked"
	}
	c.JSON(http.StatusOK, gin.H{
		"message":         message,
		"blocked":         blocked,
		"conversation_id": conversationID,
		"code":            string(direction),
	})
}

// ListBlocked returns the users the caller has blocked
func (h *BlockHandler) ListBlocked(c *gin.Context) {
	uid := middleware.CurrentUserID(c)

	blocked, err := h.policy.ListBlocked(uid)
	if err != nil {
		log.Printf("Failed to list blocked users of %s: %v", uid, err)
		ErrorResponse(c, http.StatusInternalServerError, "Failed to get blocked users")
		return
	}

	c.JSON(http.StatusOK, blocked)
}
