package models

import (
	"time"
)

// Conversation statuses
const (
	ConversationActive  = "active"
	ConversationBlocked = "blocked"
)

// Conversation is a two-party thread summary as seen by one participant.
// UnreadCount and LatestMessage are computed for that participant.
type Conversation struct {
	ID            string    `json:"id" db:"id"`
	Participants  []User    `json:"participants"`
	UnreadCount   int       `json:"unread_count" db:"unread_count"`
	LatestMessage *Message  `json:"latest_message,omitempty"`
	Status        string    `json:"status" db:"status"`
	BlockedBy     *string   `json:"blocked_by,omitempty" db:"blocked_by"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

type ConversationMember struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	UserID         string    `json:"user_id" db:"user_id"`
	JoinedAt       time.Time `json:"joined_at" db:"joined_at"`
}

// OtherParticipant returns the participant that is not userID. The second
// return value is false when no such participant is known.
func (c *Conversation) OtherParticipant(userID string) (User, bool) {
	for _, p := range c.Participants {
		if p.ID != userID {
			return p, true
		}
	}
	return User{}, false
}

// HasParticipant reports whether userID takes part in the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// IsBlocked reports whether the conversation is in the blocked state.
func (c *Conversation) IsBlocked() bool {
	return c.Status == ConversationBlocked
}

// Thread is the wire envelope of a conversation's messages.
type Thread struct {
	Messages  []Message `json:"messages"`
	Status    string    `json:"status"`
	BlockedBy *string   `json:"blocked_by,omitempty"`
}

// ConversationAction values for the read/unread endpoint
const (
	ActionRead   = "read"
	ActionUnread = "unread"
)
