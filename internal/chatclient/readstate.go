package chatclient

import (
	"context"
	"sync"

	jww "github.com/spf13/jwalterweatherman"
	"github.com/tullo/chats/internal/models"
)

// ReadState is the read progress of one conversation for one user
type ReadState int

const (
	Unread ReadState = iota
	Opening
	Read
)

func (s ReadState) String() string {
	switch s {
	case Opening:
		return "opening"
	case Read:
		return "read"
	}
	return "unread"
}

// ReadSync issues read marks when a conversation is opened and keeps the
// store counters and thread statuses consistent with them
type ReadSync struct {
	backend Backend
	store   *ConversationStore
	threads *ThreadCache

	mu     sync.Mutex
	states map[threadKey]ReadState
}

// NewReadSync wires the synchronizer to the store and thread cache
func NewReadSync(backend Backend, store *ConversationStore, threads *ThreadCache) *ReadSync {
	return &ReadSync{
		backend: backend,
		store:   store,
		threads: threads,
		states:  make(map[threadKey]ReadState),
	}
}

func (r *ReadSync) setState(me, conversationID string, state ReadState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[threadKey{me: me, conversationID: conversationID}] = state
}

// State returns the read state of a conversation for me
func (r *ReadSync) State(me models.User, conversationID string) ReadState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[threadKey{me: me.ID, conversationID: conversationID}]
}

// Open loads the thread and marks it read. A failed read mark is logged and
// leaves the counter untouched; the thread is still returned.
func (r *ReadSync) Open(ctx context.Context, me models.User, conversationID string) (Thread, error) {
	r.setState(me.ID, conversationID, Opening)

	thread, err := r.threads.Load(ctx, me, conversationID)
	if err != nil {
		r.setState(me.ID, conversationID, Unread)
		return thread, err
	}

	// Selection may have moved on while the thread loaded
	if err := ctx.Err(); err != nil {
		r.setState(me.ID, conversationID, Unread)
		return thread, newError(TransportFailure, "open cancelled", err)
	}

	if err := r.MarkRead(ctx, me, conversationID); err != nil {
		jww.WARN.Printf("[CHAT] Failed to mark conversation %s read: %+v",
			conversationID, err)
		r.advance(me, thread)
		return thread, nil
	}

	thread = r.threads.Snapshot(me, conversationID)
	r.advance(me, thread)
	return thread, nil
}

// advance moves the conversation preview to the tail of a loaded thread
// when the list has not caught up yet
func (r *ReadSync) advance(me models.User, thread Thread) {
	if n := len(thread.Messages); n > 0 {
		r.store.AdvanceLatest(me, thread.ConversationID, thread.Messages[n-1])
	}
}

// MarkRead issues the read mark without fetching the thread. On success
// the unread counter is zeroed and inbound messages flip to Read.
func (r *ReadSync) MarkRead(ctx context.Context, me models.User, conversationID string) error {
	if err := r.backend.MarkConversation(ctx, conversationID, models.ActionRead); err != nil {
		r.setState(me.ID, conversationID, Unread)
		return err
	}

	// Both updates happen under the synchronizer lock so concurrent read
	// marks of the same user apply in order
	r.mu.Lock()
	defer r.mu.Unlock()

	r.store.SetUnread(me, conversationID, 0)
	r.threads.MarkInboundRead(me, conversationID)
	r.states[threadKey{me: me.ID, conversationID: conversationID}] = Read
	return nil
}

// MarkUnread flags the conversation unread again. The counter becomes at
// least one.
func (r *ReadSync) MarkUnread(ctx context.Context, me models.User, conversationID string) error {
	if err := r.backend.MarkConversation(ctx, conversationID, models.ActionUnread); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if conv, ok := r.store.Get(me, conversationID); ok && conv.UnreadCount < 1 {
		r.store.SetUnread(me, conversationID, 1)
	}
	r.states[threadKey{me: me.ID, conversationID: conversationID}] = Unread
	return nil
}

// Forget drops the read state of a conversation
func (r *ReadSync) Forget(me models.User, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, threadKey{me: me.ID, conversationID: conversationID})
}
