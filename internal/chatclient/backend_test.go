package chatclient

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tullo/chats/internal/models"
)

var (
	alice = models.User{ID: "user-1", Username: "alice", FirstName: "Alice", LastName: "Liddell", Email: "alice@example.com"}
	bob   = models.User{ID: "user-2", Username: "bob", Email: "bob@example.com"}
	carol = models.User{ID: "user-7", Username: "carol", Email: "carol@example.com"}

	baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fakeConversation struct {
	id           string
	participants []string
	status       string
	blockedBy    *string
}

// fakeBackend is an in-memory chat backend acting on behalf of one user
type fakeBackend struct {
	mu sync.Mutex

	me       string
	users    map[string]models.User
	convs    map[string]*fakeConversation
	order    []string
	messages map[string][]models.Message
	blocks   map[[2]string]bool
	seq      int

	calls map[string]int

	// failure injection
	failList error
	failMark error
	failSend error
	omitCode bool

	// threadGate, when set, holds GetThread until closed or ctx is done
	threadGate    chan struct{}
	threadStarted chan string
}

func newFakeBackend(me models.User, others ...models.User) *fakeBackend {
	b := &fakeBackend{
		me:       me.ID,
		users:    map[string]models.User{me.ID: me},
		convs:    make(map[string]*fakeConversation),
		messages: make(map[string][]models.Message),
		blocks:   make(map[[2]string]bool),
		calls:    make(map[string]int),
	}
	for _, u := range others {
		b.users[u.ID] = u
	}
	return b
}

func (b *fakeBackend) called(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

func (b *fakeBackend) totalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.calls {
		total += n
	}
	return total
}

// addConversation creates a conversation between me and other
func (b *fakeBackend) addConversation(id, other string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.convs[id] = &fakeConversation{id: id, participants: []string{b.me, other}, status: models.ConversationActive}
	b.order = append(b.order, id)
}

// addMessage appends a message to a conversation and returns its id
func (b *fakeBackend) addMessage(conversationID, senderID, body, status string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appendMessage(conversationID, senderID, body, status).ID
}

func (b *fakeBackend) appendMessage(conversationID, senderID, body, status string) models.Message {
	b.seq++
	msg := models.Message{
		ID:             fmt.Sprintf("msg-%d", b.seq),
		ConversationID: conversationID,
		Sender:         b.users[senderID],
		Message:        body,
		Status:         status,
		CreatedAt:      baseTime.Add(time.Duration(b.seq) * time.Minute),
	}
	b.messages[conversationID] = append(b.messages[conversationID], msg)
	return msg
}

// setBlock records blocker -> blocked and updates their conversation
func (b *fakeBackend) setBlock(blocker, blocked string, on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setBlockLocked(blocker, blocked, on)
}

func (b *fakeBackend) setBlockLocked(blocker, blocked string, on bool) {
	if on {
		b.blocks[[2]string{blocker, blocked}] = true
	} else {
		delete(b.blocks, [2]string{blocker, blocked})
	}

	dir := b.direction(blocker, blocked)
	for _, c := range b.convs {
		if !c.has(blocker) || !c.has(blocked) {
			continue
		}
		switch dir {
		case models.YouBlockedThem:
			by := blocker
			c.status, c.blockedBy = models.ConversationBlocked, &by
		case models.TheyBlockedYou:
			by := blocked
			c.status, c.blockedBy = models.ConversationBlocked, &by
		default:
			c.status, c.blockedBy = models.ConversationActive, nil
		}
	}
}

func (b *fakeBackend) direction(me, other string) models.Direction {
	var relations []models.BlockRelation
	for pair := range b.blocks {
		relations = append(relations, models.BlockRelation{BlockerID: pair[0], BlockedID: pair[1]})
	}
	return models.BlockDirection(relations, me, other)
}

func (c *fakeConversation) has(userID string) bool {
	for _, p := range c.participants {
		if p == userID {
			return true
		}
	}
	return false
}

func notFound(what string) error {
	return &Error{Kind: NotFound, Status: 404, Message: what + " not found"}
}

func (b *fakeBackend) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["list"]++

	if b.failList != nil {
		return nil, b.failList
	}

	out := []models.Conversation{}
	for _, id := range b.order {
		c, ok := b.convs[id]
		if !ok || !c.has(b.me) {
			continue
		}
		conv := models.Conversation{ID: c.id, Status: c.status, BlockedBy: c.blockedBy}
		for _, p := range c.participants {
			conv.Participants = append(conv.Participants, b.users[p])
		}
		msgs := b.messages[id]
		for _, m := range msgs {
			if m.IsInbound(b.me) && !m.IsRead() {
				conv.UnreadCount++
			}
		}
		if n := len(msgs); n > 0 {
			latest := msgs[n-1]
			conv.LatestMessage = &latest
		}
		out = append(out, conv)
	}
	return out, nil
}

func (b *fakeBackend) GetThread(ctx context.Context, conversationID string) (*models.Thread, error) {
	b.mu.Lock()
	b.calls["thread"]++
	gate, started := b.threadGate, b.threadStarted
	b.mu.Unlock()

	if started != nil {
		started <- conversationID
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, newError(TransportFailure, "request cancelled", ctx.Err())
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.convs[conversationID]
	if !ok {
		return nil, notFound("conversation")
	}
	return &models.Thread{
		Messages:  append([]models.Message{}, b.messages[conversationID]...),
		Status:    c.status,
		BlockedBy: c.blockedBy,
	}, nil
}

func (b *fakeBackend) SendMessage(ctx context.Context, otherUserID, body string) (*models.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["send"]++

	if b.failSend != nil {
		return nil, b.failSend
	}
	if _, ok := b.users[otherUserID]; !ok {
		return nil, notFound("user")
	}

	if dir := b.direction(b.me, otherUserID); dir != models.NotBlocked {
		e := &Error{Kind: PolicyRejection, Status: 403, Message: dir.Banner()}
		if !b.omitCode {
			e.Direction = dir
		}
		return nil, e
	}

	var conv *fakeConversation
	for _, id := range b.order {
		if c, ok := b.convs[id]; ok && c.has(b.me) && c.has(otherUserID) {
			conv = c
			break
		}
	}
	if conv == nil {
		id := fmt.Sprintf("conv-new-%d", len(b.order)+1)
		conv = &fakeConversation{id: id, participants: []string{b.me, otherUserID}, status: models.ConversationActive}
		b.convs[id] = conv
		b.order = append(b.order, id)
	}

	msg := b.appendMessage(conv.id, b.me, body, models.StatusSent)
	return &msg, nil
}

func (b *fakeBackend) DeleteMessage(ctx context.Context, messageID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["deleteMessage"]++

	for convID, msgs := range b.messages {
		for i, m := range msgs {
			if m.ID == messageID {
				b.messages[convID] = append(msgs[:i], msgs[i+1:]...)
				return nil
			}
		}
	}
	return notFound("message")
}

func (b *fakeBackend) MarkConversation(ctx context.Context, conversationID, action string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["mark"]++

	if b.failMark != nil {
		return b.failMark
	}
	if _, ok := b.convs[conversationID]; !ok {
		return notFound("conversation")
	}

	msgs := b.messages[conversationID]
	switch action {
	case models.ActionRead:
		for i := range msgs {
			if msgs[i].IsInbound(b.me) {
				msgs[i].Status = models.StatusRead
			}
		}
	case models.ActionUnread:
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].IsInbound(b.me) {
				msgs[i].Status = models.StatusDelivered
				break
			}
		}
	}
	return nil
}

func (b *fakeBackend) DeleteConversation(ctx context.Context, conversationID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["deleteConversation"]++

	if _, ok := b.convs[conversationID]; !ok {
		return notFound("conversation")
	}
	delete(b.convs, conversationID)
	delete(b.messages, conversationID)
	return nil
}

func (b *fakeBackend) BlockUser(ctx context.Context, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["block"]++

	if _, ok := b.users[userID]; !ok {
		return notFound("user")
	}
	b.setBlockLocked(b.me, userID, true)
	return nil
}

func (b *fakeBackend) UnblockUser(ctx context.Context, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["unblock"]++

	if _, ok := b.users[userID]; !ok {
		return notFound("user")
	}
	b.setBlockLocked(b.me, userID, false)
	return nil
}

func (b *fakeBackend) ListBlocked(ctx context.Context) ([]models.BlockedUser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["listBlocked"]++

	out := []models.BlockedUser{}
	for pair := range b.blocks {
		if pair[0] == b.me {
			out = append(out, models.BlockedUser{User: b.users[pair[1]], BlockedAt: baseTime})
		}
	}
	return out, nil
}

func (b *fakeBackend) SearchUsers(ctx context.Context, q string) ([]models.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["search"]++

	// The fake does not exclude the caller so client side filtering is exercised
	out := []models.User{}
	for _, u := range b.users {
		if strings.Contains(strings.ToLower(u.Username+" "+u.Email+" "+u.ID), strings.ToLower(q)) {
			out = append(out, u)
		}
	}
	return out, nil
}
