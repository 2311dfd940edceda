package models

// WebSocket event types
const (
	EventMessageNew          = "message.new"
	EventMessageStatus       = "message.status"
	EventMessageDeleted      = "message.deleted"
	EventConversationRead    = "conversation.read"
	EventConversationDeleted = "conversation.deleted"
	EventBlockUpdated        = "block.updated"
	EventError               = "error"
)

// WSMessage is the envelope pushed to clients. Recipients is only used
// between server instances to route the event and is stripped before
// delivery.
type WSMessage struct {
	Event      string      `json:"event"`
	Payload    interface{} `json:"payload"`
	Recipients []string    `json:"recipients,omitempty"`
}

type WSMessageDeletedPayload struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

type WSMessageStatusPayload struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
}

type WSConversationPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

type WSBlockPayload struct {
	BlockerID string `json:"blocker_id"`
	BlockedID string `json:"blocked_id"`
	Blocked   bool   `json:"blocked"`
}

type WSErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
