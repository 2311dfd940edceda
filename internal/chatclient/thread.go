package chatclient

import (
	"context"
	"sync"

	"github.com/tullo/chats/internal/models"
)

// BlockMarker is attached to a thread that cannot receive new messages
type BlockMarker struct {
	Direction models.Direction
	BlockedBy string
}

// Banner is the text shown above a blocked thread
func (b *BlockMarker) Banner() string {
	if b == nil {
		return ""
	}
	if b.Direction == models.NotBlocked {
		return "Messaging is unavailable in this conversation."
	}
	return b.Direction.Banner()
}

// Thread is the local view of one conversation's messages, oldest first
type Thread struct {
	ConversationID string
	Messages       []models.Message
	Block          *BlockMarker
}

// ThreadCache keeps the message threads of each local user
type ThreadCache struct {
	backend Backend

	mu      sync.Mutex
	seq     uint64
	threads map[threadKey]*threadState
}

type threadKey struct {
	me             string
	conversationID string
}

type threadState struct {
	messages []models.Message

	// appended maps locally appended message ids to their write sequence
	appended map[string]uint64
	block    *BlockMarker
}

// NewThreadCache creates an empty cache backed by backend
func NewThreadCache(backend Backend) *ThreadCache {
	return &ThreadCache{
		backend: backend,
		threads: make(map[threadKey]*threadState),
	}
}

func (c *ThreadCache) state(me, conversationID string) *threadState {
	key := threadKey{me: me, conversationID: conversationID}
	st, ok := c.threads[key]
	if !ok {
		st = &threadState{appended: make(map[string]uint64)}
		c.threads[key] = st
	}
	return st
}

func (c *ThreadCache) snapshot(me, conversationID string) Thread {
	t := Thread{ConversationID: conversationID, Messages: []models.Message{}}
	if st, ok := c.threads[threadKey{me: me, conversationID: conversationID}]; ok {
		t.Messages = append(t.Messages, st.messages...)
		if st.block != nil {
			b := *st.block
			t.Block = &b
		}
	}
	return t
}

// Load fetches a thread. A blocked conversation is not an error: the
// visible messages are returned with a block marker. On other failures
// the cached messages are returned along with the error.
func (c *ThreadCache) Load(ctx context.Context, me models.User, conversationID string) (Thread, error) {
	c.mu.Lock()
	c.seq++
	start := c.seq
	c.mu.Unlock()

	fetched, err := c.backend.GetThread(ctx, conversationID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		if IsKind(err, PolicyRejection) {
			st := c.state(me.ID, conversationID)
			st.block = &BlockMarker{Direction: DirectionOf(err)}
			return c.snapshot(me.ID, conversationID), nil
		}
		if IsKind(err, NotFound) {
			delete(c.threads, threadKey{me: me.ID, conversationID: conversationID})
		}
		return c.snapshot(me.ID, conversationID), err
	}

	st := c.state(me.ID, conversationID)
	merged := make([]models.Message, 0, len(fetched.Messages))
	present := make(map[string]bool, len(fetched.Messages))
	for _, m := range fetched.Messages {
		present[m.ID] = true
		merged = append(merged, m)
	}
	// Keep sends confirmed while the fetch was in flight
	for _, m := range st.messages {
		if seq, ok := st.appended[m.ID]; ok && seq > start && !present[m.ID] {
			merged = append(merged, m)
		}
	}
	st.messages = merged
	for id, seq := range st.appended {
		if seq <= start {
			delete(st.appended, id)
		}
	}

	st.block = nil
	if fetched.Status == models.ConversationBlocked {
		st.block = &BlockMarker{Direction: directionFromBlockedBy(me.ID, fetched.BlockedBy)}
		if fetched.BlockedBy != nil {
			st.block.BlockedBy = *fetched.BlockedBy
		}
	}

	return c.snapshot(me.ID, conversationID), nil
}

func directionFromBlockedBy(me string, blockedBy *string) models.Direction {
	switch {
	case blockedBy == nil || *blockedBy == "":
		return models.NotBlocked
	case *blockedBy == me:
		return models.YouBlockedThem
	default:
		return models.TheyBlockedYou
	}
}

// AppendSent appends a message the backend accepted. It returns false when
// the message is already present.
func (c *ThreadCache) AppendSent(me models.User, conversationID string, msg models.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state(me.ID, conversationID)
	if st.has(msg.ID) {
		return false
	}
	c.seq++
	st.messages = append(st.messages, msg)
	st.appended[msg.ID] = c.seq
	return true
}

// Apply appends a pushed message to a thread that is already cached
func (c *ThreadCache) Apply(me models.User, msg models.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.threads[threadKey{me: me.ID, conversationID: msg.ConversationID}]
	if !ok || st.has(msg.ID) {
		return false
	}
	c.seq++
	st.messages = append(st.messages, msg)
	st.appended[msg.ID] = c.seq
	return true
}

func (st *threadState) has(messageID string) bool {
	for _, m := range st.messages {
		if m.ID == messageID {
			return true
		}
	}
	return false
}

// Find looks a message up in the cached threads of me
func (c *ThreadCache) Find(me models.User, messageID string) (models.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, st := range c.threads {
		if key.me != me.ID {
			continue
		}
		for _, m := range st.messages {
			if m.ID == messageID {
				return m, true
			}
		}
	}
	return models.Message{}, false
}

// Remove deletes a message without reordering the rest. It returns the
// conversation and its new tail, nil when the thread is now empty.
func (c *ThreadCache) Remove(me models.User, messageID string) (string, *models.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, st := range c.threads {
		if key.me != me.ID {
			continue
		}
		for i, m := range st.messages {
			if m.ID != messageID {
				continue
			}
			st.messages = append(st.messages[:i], st.messages[i+1:]...)
			delete(st.appended, messageID)

			var tail *models.Message
			if n := len(st.messages); n > 0 {
				last := st.messages[n-1]
				tail = &last
			}
			return key.conversationID, tail, true
		}
	}
	return "", nil, false
}

// Messages returns the cached messages of a thread, oldest first
func (c *ThreadCache) Messages(me models.User, conversationID string) []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshot(me.ID, conversationID).Messages
}

// Snapshot returns the cached thread without fetching
func (c *ThreadCache) Snapshot(me models.User, conversationID string) Thread {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshot(me.ID, conversationID)
}

// MarkInboundRead flips every message me received in the thread to Read
func (c *ThreadCache) MarkInboundRead(me models.User, conversationID string) int {
	return c.markRead(me, conversationID, true)
}

// MarkOutboundRead flips every message me sent in the thread to Read
func (c *ThreadCache) MarkOutboundRead(me models.User, conversationID string) int {
	return c.markRead(me, conversationID, false)
}

func (c *ThreadCache) markRead(me models.User, conversationID string, inbound bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.threads[threadKey{me: me.ID, conversationID: conversationID}]
	if !ok {
		return 0
	}

	changed := 0
	for i := range st.messages {
		m := &st.messages[i]
		if m.IsInbound(me.ID) == inbound && !m.IsRead() {
			m.Status = models.StatusRead
			changed++
		}
	}
	return changed
}

// SetStatus moves a cached message forward to status
func (c *ThreadCache) SetStatus(me models.User, messageID, status string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, st := range c.threads {
		if key.me != me.ID {
			continue
		}
		for i := range st.messages {
			m := &st.messages[i]
			if m.ID == messageID {
				if !models.CanTransition(m.Status, status) {
					return false
				}
				m.Status = status
				return true
			}
		}
	}
	return false
}

// SetBlock replaces the block marker of a thread, nil clears it
func (c *ThreadCache) SetBlock(me models.User, conversationID string, block *BlockMarker) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.threads[threadKey{me: me.ID, conversationID: conversationID}]
	if !ok {
		return
	}
	if block == nil {
		st.block = nil
		return
	}
	b := *block
	st.block = &b
}

// Drop forgets a thread
func (c *ThreadCache) Drop(me models.User, conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.threads, threadKey{me: me.ID, conversationID: conversationID})
}
