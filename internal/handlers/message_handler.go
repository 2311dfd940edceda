package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tullo/chats/internal/cache"
	"github.com/tullo/chats/internal/middleware"
	"github.com/tullo/chats/internal/models"
	"github.com/tullo/chats/internal/repository"
)

// sendBurst is the Redis token bucket size for sends
const sendBurst = 10

type MessageHandler struct {
	msgRepo  *repository.MessageRepository
	convRepo *repository.ConversationRepository
	userRepo *repository.UserRepository
	policy   *BlockPolicy
	redis    *cache.RedisClient
	sendRate int
}

func NewMessageHandler(
	msgRepo *repository.MessageRepository,
	convRepo *repository.ConversationRepository,
	userRepo *repository.UserRepository,
	policy *BlockPolicy,
	redis *cache.RedisClient,
	sendRate int,
) *MessageHandler {
	return &MessageHandler{
		msgRepo:  msgRepo,
		convRepo: convRepo,
		userRepo: userRepo,
		policy:   policy,
		redis:    redis,
		sendRate: sendRate,
	}
}

// SendMessage sends a message to another user, creating the conversation
// between the two on first contact
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := models.ValidateBody(req.Message); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	uid := middleware.CurrentUserID(c)
	otherID := strings.TrimSpace(req.OtherUserID)
	if _, err := uuid.Parse(otherID); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid user ID")
		return
	}
	if otherID == uid {
		ErrorResponse(c, http.StatusBadRequest, "Cannot send a message to yourself")
		return
	}

	sender, err := h.userRepo.GetByID(uid)
	if err != nil {
		ErrorResponse(c, http.StatusUnauthorized, "User not found")
		return
	}
	if _, err := h.userRepo.GetByID(otherID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			ErrorResponse(c, http.StatusNotFound, "User not found")
			return
		}
		ErrorResponse(c, http.StatusInternalServerError, "Failed to send message")
		return
	}

	direction, err := h.policy.Direction(uid, otherID)
	if err != nil {
		log.Printf("Failed to check block relation %s -> %s: %v", uid, otherID, err)
		ErrorResponse(c, http.StatusInternalServerError, "Failed to send message")
		return
	}
	if direction != models.NotBlocked {
		PolicyResponse(c, direction)
		return
	}

	if h.redis != nil {
		allowed, err := h.redis.AllowAction(uid, "send", h.sendRate, sendBurst)
		if err != nil {
			log.Printf("Rate limiter unavailable: %v", err)
		} else if !allowed {
			ErrorResponse(c, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
	}

	conversationID, created, err := h.convRepo.GetOrCreateDirectConversation(uid, otherID, models.ConversationActive, nil)
	if err != nil {
		log.Printf("Failed to get conversation %s/%s: %v", uid, otherID, err)
		ErrorResponse(c, http.StatusInternalServerError, "Failed to send message")
		return
	}
	if created {
		log.Printf("Conversation %s created between %s and %s", conversationID, uid, otherID)
	}

	status := models.StatusSent
	if h.redis != nil && h.redis.IsUserOnline(otherID) {
		status = models.StatusDelivered
	}

	message := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         *sender,
		Message:        req.Message,
		Status:         status,
		CreatedAt:      time.Now(),
	}

	if err := h.msgRepo.Create(message); err != nil {
		log.Printf("Failed to create message: %v", err)
		ErrorResponse(c, http.StatusInternalServerError, "Failed to send message")
		return
	}

	if err := h.convRepo.Touch(conversationID); err != nil {
		log.Printf("Failed to touch conversation %s: %v", conversationID, err)
	}

	publish(h.redis, models.EventMessageNew, message, uid, otherID)

	c.JSON(http.StatusCreated, message)
}

// UpdateStatus moves a received message forward to Delivered or Read
func (h *MessageHandler) UpdateStatus(c *gin.Context) {
	messageID, ok := pathID(c, "id", "message")
	if !ok {
		return
	}

	var req models.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if !models.ValidStatus(req.Status) {
		ErrorResponse(c, http.StatusBadRequest, "Invalid status")
		return
	}

	uid := middleware.CurrentUserID(c)

	message, ok := h.visibleMessage(c, messageID, uid)
	if !ok {
		return
	}

	if message.Sender.ID == uid {
		ErrorResponse(c, http.StatusForbidden, "Only the recipient can update the message status")
		return
	}

	if !models.CanTransition(message.Status, req.Status) {
		ErrorResponse(c, http.StatusConflict, "Message status cannot go back from "+message.Status)
		return
	}

	if req.Status != message.Status {
		if err := h.msgRepo.UpdateStatus(messageID, req.Status); err != nil {
			ErrorResponse(c, http.StatusInternalServerError, "Failed to update message status")
			return
		}
		message.Status = req.Status

		publish(h.redis, models.EventMessageStatus, models.WSMessageStatusPayload{
			MessageID:      message.ID,
			ConversationID: message.ConversationID,
			Status:         message.Status,
		}, message.Sender.ID, uid)
	}

	c.JSON(http.StatusOK, message)
}

// DeleteMessage hard-deletes a message. Only its sender may do so.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := pathID(c, "id", "message")
	if !ok {
		return
	}

	uid := middleware.CurrentUserID(c)

	message, ok := h.visibleMessage(c, messageID, uid)
	if !ok {
		return
	}

	if message.Sender.ID != uid {
		ErrorResponse(c, http.StatusForbidden, "Only the sender can delete this message")
		return
	}

	members, err := h.convRepo.GetMembers(message.ConversationID)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to delete message")
		return
	}

	err = h.msgRepo.Delete(messageID)
	if errors.Is(err, repository.ErrNotFound) {
		ErrorResponse(c, http.StatusNotFound, "Message not found")
		return
	}
	if err != nil {
		log.Printf("Failed to delete message %s: %v", messageID, err)
		ErrorResponse(c, http.StatusInternalServerError, "Failed to delete message")
		return
	}

	publish(h.redis, models.EventMessageDeleted, models.WSMessageDeletedPayload{
		MessageID:      messageID,
		ConversationID: message.ConversationID,
	}, memberIDs(members)...)

	c.JSON(http.StatusOK, gin.H{"message": "Message deleted"})
}

// visibleMessage loads a message of a conversation uid takes part in
func (h *MessageHandler) visibleMessage(c *gin.Context, messageID, uid string) (*models.Message, bool) {
	message, err := h.msgRepo.GetByID(messageID)
	if errors.Is(err, repository.ErrNotFound) {
		ErrorResponse(c, http.StatusNotFound, "Message not found")
		return nil, false
	}
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to get message")
		return nil, false
	}

	isMember, err := h.convRepo.IsMember(message.ConversationID, uid)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to get message")
		return nil, false
	}
	if !isMember {
		ErrorResponse(c, http.StatusNotFound, "Message not found")
		return nil, false
	}

	return message, true
}
