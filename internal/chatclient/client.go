package chatclient

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/badoux/checkmail"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/tullo/chats/internal/models"
)

// Client ties the conversation store, thread cache, block service and read
// synchronizer to one backend and tracks the active conversation of each
// local user. It is safe for concurrent use.
type Client struct {
	backend Backend

	Store   *ConversationStore
	Threads *ThreadCache
	Blocks  *BlockService
	Reads   *ReadSync

	mu     sync.Mutex
	active map[string]*selection
}

// selection is the conversation a user currently looks at
type selection struct {
	conversationID string
	cancel         context.CancelFunc
}

// New creates a client over backend
func New(backend Backend) *Client {
	store := NewConversationStore(backend)
	threads := NewThreadCache(backend)
	return &Client{
		backend: backend,
		Store:   store,
		Threads: threads,
		Blocks:  NewBlockService(backend),
		Reads:   NewReadSync(backend, store, threads),
		active:  make(map[string]*selection),
	}
}

// Conversations fetches and returns the conversation list of me
func (c *Client) Conversations(ctx context.Context, me models.User) []models.Conversation {
	conversations, err := c.Store.Refresh(ctx, me)
	if err != nil {
		return conversations
	}
	for _, conv := range conversations {
		if other, ok := conv.OtherParticipant(me.ID); ok {
			c.Blocks.Observe(me, other.ID, conv.Status, conv.BlockedBy)
		}
	}
	return conversations
}

// Open selects a conversation, loads its thread and marks it read. Any
// fetch still running for the previous selection is cancelled. When the
// selection changes before this call completes ErrStale is returned.
func (c *Client) Open(ctx context.Context, me models.User, conversationID string) (Thread, error) {
	if strings.TrimSpace(conversationID) == "" {
		return Thread{}, validationError("conversation id is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sel := &selection{conversationID: conversationID, cancel: cancel}

	c.mu.Lock()
	if prev, ok := c.active[me.ID]; ok {
		prev.cancel()
	}
	c.active[me.ID] = sel
	c.mu.Unlock()

	thread, err := c.Reads.Open(ctx, me, conversationID)
	if !c.isSelected(me, sel) {
		jww.DEBUG.Printf("[CHAT] Discarding stale thread %s", conversationID)
		return Thread{}, ErrStale
	}

	conv, ok := c.Store.Get(me, conversationID)
	other, found := conv.OtherParticipant(me.ID)
	if !ok || !found {
		return thread, err
	}
	if err == nil {
		c.observeThread(me, other.ID, thread.Block)
	}
	if thread.Block != nil && thread.Block.Direction == models.NotBlocked {
		thread.Block.Direction = c.Blocks.Direction(me, other.ID, &conv)
	}
	return thread, err
}

// observeThread feeds the block state of a loaded thread to the block
// service
func (c *Client) observeThread(me models.User, otherID string, block *BlockMarker) {
	switch {
	case block == nil:
		c.Blocks.Observe(me, otherID, models.ConversationActive, nil)
	case block.BlockedBy != "":
		c.Blocks.Observe(me, otherID, models.ConversationBlocked, &block.BlockedBy)
	case block.Direction == models.TheyBlockedYou:
		c.Blocks.NoteBlockedBy(me, otherID, true)
	}
}

func (c *Client) isSelected(me models.User, sel *selection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[me.ID] == sel
}

// Active returns the selected conversation of me, empty when none
func (c *Client) Active(me models.User) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sel, ok := c.active[me.ID]; ok {
		return sel.conversationID
	}
	return ""
}

// Close clears the selection of me and cancels its fetch
func (c *Client) Close(me models.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sel, ok := c.active[me.ID]; ok {
		sel.cancel()
		delete(c.active, me.ID)
	}
}

// Send delivers body to otherUserID. The message is appended locally only
// after the backend accepted it.
func (c *Client) Send(ctx context.Context, me models.User, otherUserID, body string) (models.Message, error) {
	return c.send(ctx, me, otherUserID, body, nil)
}

// StartConversation sends the first message to a user found by search
func (c *Client) StartConversation(ctx context.Context, me models.User, other models.User, body string) (models.Message, error) {
	return c.send(ctx, me, other.ID, body, &other)
}

func (c *Client) send(ctx context.Context, me models.User, otherUserID, body string, other *models.User) (models.Message, error) {
	if err := models.ValidateBody(body); err != nil {
		return models.Message{}, validationError(err.Error())
	}
	otherUserID = strings.TrimSpace(otherUserID)
	if otherUserID == "" {
		return models.Message{}, validationError("recipient is required")
	}
	if otherUserID == me.ID {
		return models.Message{}, validationError("cannot send a message to yourself")
	}

	msg, err := c.backend.SendMessage(ctx, otherUserID, body)
	if err != nil {
		if IsKind(err, PolicyRejection) {
			c.recordRejection(me, otherUserID, err)
		}
		return models.Message{}, err
	}

	// An accepted send means neither side blocks the other right now
	c.Blocks.Observe(me, otherUserID, models.ConversationActive, nil)
	conv, known := c.Store.FindWith(me, otherUserID)
	if known && conv.IsBlocked() {
		c.setBlockState(me, otherUserID, false)
	}

	if other == nil && known {
		if p, found := conv.OtherParticipant(me.ID); found {
			other = &p
		}
	}
	if other == nil {
		other = &models.User{ID: otherUserID}
	}

	c.Threads.AppendSent(me, msg.ConversationID, *msg)
	c.Store.UpsertLatestMessage(me, msg.ConversationID, *msg, other)
	return *msg, nil
}

// recordRejection fills in a missing direction and marks the conversation
// with the other user as blocked
func (c *Client) recordRejection(me models.User, otherUserID string, err error) {
	var e *Error
	if !errors.As(err, &e) {
		return
	}

	conv, known := c.Store.FindWith(me, otherUserID)
	switch e.Direction {
	case models.NotBlocked:
		if c.Blocks.IsBlockedByMe(me, otherUserID) {
			e.Direction = models.YouBlockedThem
		} else {
			// Without an explicit code the only side we cannot see is theirs
			e.Direction = models.TheyBlockedYou
		}
		jww.DEBUG.Printf("[CHAT] Inferred block direction %s for %s", e.Direction, otherUserID)
	case models.TheyBlockedYou:
		c.Blocks.NoteBlockedBy(me, otherUserID, true)
	case models.YouBlockedThem:
		c.Blocks.remember(me.ID, models.BlockedUser{User: models.User{ID: otherUserID}, BlockedAt: time.Now()})
	}

	blockedBy := otherUserID
	if e.Direction == models.YouBlockedThem {
		blockedBy = me.ID
	}
	c.Store.SetStatusWith(me, otherUserID, models.ConversationBlocked, &blockedBy)
	if known {
		c.Threads.SetBlock(me, conv.ID, &BlockMarker{Direction: e.Direction, BlockedBy: blockedBy})
	}
}

// DeleteMessage deletes a message sent by me. A message that is already
// gone counts as deleted.
func (c *Client) DeleteMessage(ctx context.Context, me models.User, messageID string) error {
	if strings.TrimSpace(messageID) == "" {
		return validationError("message id is required")
	}
	if msg, ok := c.Threads.Find(me, messageID); ok && msg.Sender.ID != me.ID {
		return validationError("only the sender can delete this message")
	}

	if err := c.backend.DeleteMessage(ctx, messageID); err != nil && !IsKind(err, NotFound) {
		return err
	}

	c.forgetMessage(me, messageID)
	return nil
}

// forgetMessage removes a message locally and moves the conversation
// preview to the new tail of the thread
func (c *Client) forgetMessage(me models.User, messageID string) {
	conversationID, tail, ok := c.Threads.Remove(me, messageID)
	if ok {
		c.Store.ReplaceLatest(me, conversationID, messageID, tail)
		return
	}
	// Thread not cached: the new tail is unknown until the next fetch
	if conversationID, ok := c.Store.FindByLatest(me, messageID); ok {
		c.Store.ReplaceLatest(me, conversationID, messageID, nil)
	}
}

// DeleteConversation deletes a conversation. A conversation that is already
// gone counts as deleted.
func (c *Client) DeleteConversation(ctx context.Context, me models.User, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return validationError("conversation id is required")
	}

	if err := c.backend.DeleteConversation(ctx, conversationID); err != nil && !IsKind(err, NotFound) {
		return err
	}

	c.forgetConversation(me, conversationID)
	return nil
}

func (c *Client) forgetConversation(me models.User, conversationID string) {
	c.Store.Remove(me, conversationID)
	c.Threads.Drop(me, conversationID)
	c.Reads.Forget(me, conversationID)

	c.mu.Lock()
	if sel, ok := c.active[me.ID]; ok && sel.conversationID == conversationID {
		sel.cancel()
		delete(c.active, me.ID)
	}
	c.mu.Unlock()
}

// Block blocks a user and marks the conversation with them blocked
func (c *Client) Block(ctx context.Context, me models.User, userID string) error {
	if err := c.Blocks.Block(ctx, me, userID); err != nil {
		return err
	}
	c.setBlockState(me, userID, c.theyBlock(me, userID))
	return nil
}

// Unblock lifts a block and restores the conversation unless the other
// user is known to block me
func (c *Client) Unblock(ctx context.Context, me models.User, userID string) error {
	if err := c.Blocks.Unblock(ctx, me, userID); err != nil {
		return err
	}
	c.setBlockState(me, userID, c.theyBlock(me, userID))
	return nil
}

// theyBlock reports whether userID is known to block me
func (c *Client) theyBlock(me models.User, userID string) bool {
	var conv *models.Conversation
	if found, ok := c.Store.FindWith(me, userID); ok {
		conv = &found
	}
	return c.Blocks.HasBlockedMe(me, userID, conv)
}

// setBlockState recomputes the status of the conversations with userID
func (c *Client) setBlockState(me models.User, userID string, theyBlock bool) {
	var marker *BlockMarker
	status := models.ConversationActive
	var blockedBy *string

	switch {
	case c.Blocks.IsBlockedByMe(me, userID):
		status, blockedBy = models.ConversationBlocked, &me.ID
		marker = &BlockMarker{Direction: models.YouBlockedThem, BlockedBy: me.ID}
	case theyBlock:
		status, blockedBy = models.ConversationBlocked, &userID
		marker = &BlockMarker{Direction: models.TheyBlockedYou, BlockedBy: userID}
	}

	for _, id := range c.Store.SetStatusWith(me, userID, status, blockedBy) {
		c.Threads.SetBlock(me, id, marker)
	}
}

// SearchUsers looks users up by name, username or email. me is never part
// of the result.
func (c *Client) SearchUsers(ctx context.Context, me models.User, q string) ([]models.User, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, validationError("search query is required")
	}
	if strings.Contains(q, "@") {
		if err := checkmail.ValidateFormat(q); err != nil {
			return nil, validationError("invalid email address")
		}
	}

	users, err := c.backend.SearchUsers(ctx, q)
	if err != nil {
		return nil, err
	}

	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.ID != me.ID {
			out = append(out, u)
		}
	}
	return out, nil
}

// MarkUnread flags a conversation unread again
func (c *Client) MarkUnread(ctx context.Context, me models.User, conversationID string) error {
	return c.Reads.MarkUnread(ctx, me, conversationID)
}

// Poll refreshes the conversation list every interval until ctx is done.
// Each refresh is passed to onUpdate when it is not nil.
func (c *Client) Poll(ctx context.Context, me models.User, interval time.Duration, onUpdate func([]models.Conversation)) error {
	if interval <= 0 {
		return validationError("poll interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			conversations := c.Conversations(ctx, me)
			if onUpdate != nil {
				onUpdate(conversations)
			}
		}
	}
}
