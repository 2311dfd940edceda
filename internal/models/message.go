package models

import (
	"fmt"
	"strings"
	"time"
)

// MaxMessageLength bounds a message body in characters.
const MaxMessageLength = 10000

// Message statuses
const (
	StatusSent      = "Sent"
	StatusDelivered = "Delivered"
	StatusRead      = "Read"
)

type Message struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	Sender         User      `json:"sender"`
	Message        string    `json:"message" db:"body"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	Status         string    `json:"status" db:"status"`
}

// IsInbound reports whether the message was sent by someone other than userID.
func (m *Message) IsInbound(userID string) bool {
	return m.Sender.ID != userID
}

// IsRead reports whether the message reached the Read status.
func (m *Message) IsRead() bool {
	return m.Status == StatusRead
}

// ValidStatus reports whether s is one of the message statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusSent, StatusDelivered, StatusRead:
		return true
	}
	return false
}

// statusRank orders statuses so transitions never go backwards.
func statusRank(s string) int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// CanTransition reports whether a message in status from may move to to.
func CanTransition(from, to string) bool {
	return statusRank(to) >= statusRank(from) && ValidStatus(to)
}

// ValidateBody checks a message body before it is sent.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("message cannot be empty")
	}
	if len([]rune(body)) > MaxMessageLength {
		return fmt.Errorf("message exceeds %d characters", MaxMessageLength)
	}
	return nil
}

type SendMessageRequest struct {
	OtherUserID string `json:"other_user_id" binding:"required"`
	Message     string `json:"message" binding:"required,max=10000"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}
