package chatclient

import (
	"time"
	"unicode/utf8"

	"github.com/aquilax/truncate"
	"github.com/dustin/go-humanize"
	"github.com/tullo/chats/internal/models"
)

const (
	// PreviewLength is the number of characters kept in a preview
	PreviewLength = 30

	// NoMessagesPreview is shown for a conversation without messages
	NoMessagesPreview = "No messages yet"
)

// Status icons of outbound messages
var statusIcons = map[string]string{
	models.StatusSent:      "✓",
	models.StatusDelivered: "✓✓",
	models.StatusRead:      "✓✓ read",
}

// ConversationRow is one line of the conversation list
type ConversationRow struct {
	ID        string
	Title     string
	Preview   string
	Timestamp string
	Unread    int
	Blocked   bool
}

// MessageRow is one message of a thread view
type MessageRow struct {
	ID         string
	Sender     string
	Body       string
	Timestamp  string
	StatusIcon string
	Outbound   bool
	CanDelete  bool
}

// Preview shortens a message body for the conversation list
func Preview(body string) string {
	if utf8.RuneCountInString(body) <= PreviewLength {
		return body
	}
	return truncate.Truncate(body, PreviewLength, "", truncate.PositionEnd) + "..."
}

// RelativeTime renders t relative to now, "now" for future times
func RelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	if t.After(now) {
		t = now
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// NewConversationRow renders a conversation as seen by me
func NewConversationRow(me models.User, conv models.Conversation, now time.Time) ConversationRow {
	row := ConversationRow{
		ID:      conv.ID,
		Title:   "Unknown user",
		Preview: NoMessagesPreview,
		Unread:  conv.UnreadCount,
		Blocked: conv.IsBlocked(),
	}
	if other, ok := conv.OtherParticipant(me.ID); ok {
		row.Title = other.DisplayName()
	}
	if m := conv.LatestMessage; m != nil {
		row.Preview = Preview(m.Message)
		row.Timestamp = RelativeTime(m.CreatedAt, now)
	}
	return row
}

// NewMessageRow renders a message as seen by me
func NewMessageRow(me models.User, msg models.Message, now time.Time) MessageRow {
	outbound := !msg.IsInbound(me.ID)
	row := MessageRow{
		ID:        msg.ID,
		Sender:    msg.Sender.DisplayName(),
		Body:      msg.Message,
		Timestamp: RelativeTime(msg.CreatedAt, now),
		Outbound:  outbound,
		CanDelete: outbound,
	}
	if outbound {
		row.StatusIcon = statusIcons[msg.Status]
	}
	return row
}

// MessageRows renders a thread oldest first
func MessageRows(me models.User, thread Thread, now time.Time) []MessageRow {
	rows := make([]MessageRow, 0, len(thread.Messages))
	for _, m := range thread.Messages {
		rows = append(rows, NewMessageRow(me, m, now))
	}
	return rows
}
