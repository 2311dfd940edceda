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

type ConversationHandler struct {
	convRepo *repository.ConversationRepository
	msgRepo  *repository.MessageRepository
	redis    *cache.RedisClient
}

func NewConversationHandler(
	convRepo *repository.ConversationRepository,
	msgRepo *repository.MessageRepository,
	redis *cache.RedisClient,
) *ConversationHandler {
	return &ConversationHandler{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		redis:    redis,
	}
}

// GetConversations returns all conversations for the current user
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	uid := middleware.CurrentUserID(c)

	conversations, err := h.convRepo.GetByUserID(uid)
	if err != nil {
		log.Printf("Failed to list conversations of %s: %v", uid, err)
		ErrorResponse(c, http.StatusInternalServerError, "Failed to get conversations")
		return
	}

	// Load participants and latest message for each conversation
	for i := range conversations {
		if err := h.hydrate(&conversations[i]); err != nil {
			log.Printf("Failed to load conversation %s: %v", conversations[i].ID, err)
			ErrorResponse(c, http.StatusInternalServerError, "Failed to get conversations")
			return
		}
	}

	c.JSON(http.StatusOK, conversations)
}

func (h *ConversationHandler) hydrate(conv *models.Conversation) error {
	members, err := h.convRepo.GetMembers(conv.ID)
	if err != nil {
		return err
	}
	conv.Participants = members

	latest, err := h.msgRepo.GetLatest(conv.ID)
	if err != nil {
		return err
	}
	conv.LatestMessage = latest
	return nil
}

// member answers 404 unless the caller takes part in the conversation.
// Non-members get the same answer as a missing conversation.
func (h *ConversationHandler) member(c *gin.Context, conversationID, uid string) bool {
	isMember, err := h.convRepo.IsMember(conversationID, uid)
	if err != nil {
		log.Printf("Failed to check membership of %s in %s: %v", uid, conversationID, err)
		ErrorResponse(c, http.StatusInternalServerError, "Failed to get conversation")
		return false
	}
	if !isMember {
		ErrorResponse(c, http.StatusNotFound, "Conversation not found")
		return false
	}
	return true
}

// GetThread returns the messages of a conversation, oldest first. A blocked
// conversation still returns its messages together with the block marker.
func (h *ConversationHandler) GetThread(c *gin.Context) {
	conversationID, ok := pathID(c, "id", "conversation")
	if !ok {
		return
	}

	uid := middleware.CurrentUserID(c)
	if !h.member(c, conversationID, uid) {
		return
	}

	conversation, err := h.convRepo.GetForUser(conversationID, uid)
	if errors.Is(err, repository.ErrNotFound) {
		ErrorResponse(c, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to get conversation")
		return
	}

	messages, err := h.msgRepo.GetByConversationID(conversationID)
	if err != nil {
		log.Printf("Failed to get messages of %s: %v", conversationID, err)
		ErrorResponse(c, http.StatusInternalServerError, "Failed to get messages")
		return
	}

	c.JSON(http.StatusOK, models.Thread{
		Messages:  messages,
		Status:    conversation.Status,
		BlockedBy: conversation.BlockedBy,
	})
}

// UpdateStatus marks a conversation read or unread for the caller
func (h *ConversationHandler) UpdateStatus(c *gin.Context) {
	conversationID, ok := pathID(c, "id", "conversation")
	if !ok {
		return
	}

	action := c.Query("action")
	if action != models.ActionRead && action != models.ActionUnread {
		ErrorResponse(c, http.StatusBadRequest, "action must be read or unread")
		return
	}

	uid := middleware.CurrentUserID(c)
	if !h.member(c, conversationID, uid) {
		return
	}

	members, err := h.convRepo.GetMembers(conversationID)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to update conversation")
		return
	}

	if action == models.ActionUnread {
		messageID, err := h.msgRepo.MarkConversationUnread(conversationID, uid)
		if err != nil {
			log.Printf("Failed to mark %s unread: %v", conversationID, err)
			ErrorResponse(c, http.StatusInternalServerError, "Failed to update conversation")
			return
		}
		if messageID != "" {
			publish(h.redis, models.EventMessageStatus, models.WSMessageStatusPayload{
				MessageID:      messageID,
				ConversationID: conversationID,
				Status:         models.StatusDelivered,
			}, memberIDs(members)...)
		}
		c.JSON(http.StatusOK, gin.H{"status": models.ActionUnread})
		return
	}

	ids, err := h.msgRepo.MarkConversationRead(conversationID, uid)
	if err != nil {
		log.Printf("Failed to mark %s read: %v", conversationID, err)
		ErrorResponse(c, http.StatusInternalServerError, "Failed to update conversation")
		return
	}

	publish(h.redis, models.EventConversationRead, models.WSConversationPayload{
		ConversationID: conversationID,
		UserID:         uid,
	}, memberIDs(members)...)

	c.JSON(http.StatusOK, gin.H{"status": models.ActionRead, "updated": len(ids)})
}

// DeleteConversation removes a conversation and its messages
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	conversationID, ok := pathID(c, "id", "conversation")
	if !ok {
		return
	}

	uid := middleware.CurrentUserID(c)
	if !h.member(c, conversationID, uid) {
		return
	}

	members, err := h.convRepo.GetMembers(conversationID)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to delete conversation")
		return
	}

	err = h.convRepo.Delete(conversationID)
	if errors.Is(err, repository.ErrNotFound) {
		ErrorResponse(c, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		log.Printf("Failed to delete conversation %s: %v", conversationID, err)
		ErrorResponse(c, http.StatusInternalServerError, "Failed to delete conversation")
		return
	}

	publish(h.redis, models.EventConversationDeleted, models.WSConversationPayload{
		ConversationID: conversationID,
		UserID:         uid,
	}, memberIDs(members)...)

	c.JSON(http.StatusOK, gin.H{"message": "Conversation deleted"})
}
