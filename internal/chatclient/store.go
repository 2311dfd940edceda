package chatclient

import (
	"context"
	"sort"
	"sync"

	jww "github.com/spf13/jwalterweatherman"
	"github.com/tullo/chats/internal/models"
)

// ConversationStore holds the conversation list of each local user and
// reconciles it with the backend
type ConversationStore struct {
	backend Backend

	mu    sync.Mutex
	seq   uint64
	users map[string]*conversationSet
}

type conversationSet struct {
	// order records first-seen order, the tie breaker when sorting
	order []string
	byID  map[string]*conversationEntry
}

type conversationEntry struct {
	conv models.Conversation

	// sequence numbers of the last local writes, compared against the
	// sequence taken when a fetch began
	createdSeq uint64
	latestSeq  uint64
	unreadSeq  uint64
}

// NewConversationStore creates an empty store backed by backend
func NewConversationStore(backend Backend) *ConversationStore {
	return &ConversationStore{
		backend: backend,
		users:   make(map[string]*conversationSet),
	}
}

// tick returns the next write sequence. Caller holds mu.
func (s *ConversationStore) tick() uint64 {
	s.seq++
	return s.seq
}

// begin marks the start of a fetch
func (s *ConversationStore) begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick()
}

func (s *ConversationStore) set(me string) *conversationSet {
	set, ok := s.users[me]
	if !ok {
		set = &conversationSet{byID: make(map[string]*conversationEntry)}
		s.users[me] = set
	}
	return set
}

func (set *conversationSet) add(conv models.Conversation, seq uint64) *conversationEntry {
	e := &conversationEntry{conv: conv, createdSeq: seq}
	set.byID[conv.ID] = e
	set.order = append(set.order, conv.ID)
	return e
}

func (set *conversationSet) remove(id string) bool {
	if _, ok := set.byID[id]; !ok {
		return false
	}
	delete(set.byID, id)
	for i, o := range set.order {
		if o == id {
			set.order = append(set.order[:i], set.order[i+1:]...)
			break
		}
	}
	return true
}

// List fetches the conversations of me and returns the merged list, most
// recent activity first. Backend failures are logged and the last known
// list is returned.
func (s *ConversationStore) List(ctx context.Context, me models.User) []models.Conversation {
	conversations, _ := s.Refresh(ctx, me)
	return conversations
}

// Refresh is List that also returns the backend error. The returned list
// is the last known one when err is not nil.
func (s *ConversationStore) Refresh(ctx context.Context, me models.User) ([]models.Conversation, error) {
	start := s.begin()

	fetched, err := s.backend.ListConversations(ctx)
	if err != nil {
		jww.WARN.Printf("[CHAT] Failed to list conversations of %s, "+
			"showing last known list: %+v", me.ID, err)
		return s.Snapshot(me), err
	}

	s.Merge(me, fetched, start)
	return s.Snapshot(me), nil
}

// Merge reconciles a fetched list that was requested at sequence start.
// Fetched values win, except for local writes made after the fetch began:
// newer latest messages, unread resets and conversations created locally
// are kept.
func (s *ConversationStore) Merge(me models.User, fetched []models.Conversation, start uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.set(me.ID)
	seen := make(map[string]bool, len(fetched))

	for _, conv := range fetched {
		seen[conv.ID] = true
		conv.LatestMessage = copyMessage(conv.LatestMessage)

		e, ok := set.byID[conv.ID]
		if !ok {
			set.add(conv, 0)
			continue
		}

		if e.latestSeq > start && newerMessage(e.conv.LatestMessage, conv.LatestMessage) {
			conv.LatestMessage = e.conv.LatestMessage
		}
		if e.unreadSeq > start {
			conv.UnreadCount = e.conv.UnreadCount
		}
		e.conv = conv
	}

	for _, id := range append([]string(nil), set.order...) {
		if seen[id] {
			continue
		}
		if set.byID[id].createdSeq > start {
			continue
		}
		set.remove(id)
	}
}

// Snapshot returns the known conversations of me without fetching
func (s *ConversationStore) Snapshot(me models.User) []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.users[me.ID]
	if !ok {
		return []models.Conversation{}
	}

	rank := make(map[string]int, len(set.order))
	out := make([]models.Conversation, 0, len(set.order))
	for i, id := range set.order {
		rank[id] = i
		out = append(out, cloneConversation(set.byID[id].conv))
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LatestMessage, out[j].LatestMessage
		switch {
		case a == nil && b == nil:
			return rank[out[i].ID] < rank[out[j].ID]
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.CreatedAt.Equal(b.CreatedAt):
			return a.CreatedAt.After(b.CreatedAt)
		}
		return rank[out[i].ID] < rank[out[j].ID]
	})

	return out
}

// TotalUnread sums the unread counters of me
func (s *ConversationStore) TotalUnread(me models.User) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	if set, ok := s.users[me.ID]; ok {
		for _, e := range set.byID {
			total += e.conv.UnreadCount
		}
	}
	return total
}

// Get returns one conversation of me
func (s *ConversationStore) Get(me models.User, conversationID string) (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.users[me.ID]; ok {
		if e, ok := set.byID[conversationID]; ok {
			return cloneConversation(e.conv), true
		}
	}
	return models.Conversation{}, false
}

// FindWith returns the conversation of me with otherUserID
func (s *ConversationStore) FindWith(me models.User, otherUserID string) (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.users[me.ID]; ok {
		for _, id := range set.order {
			conv := set.byID[id].conv
			if other, ok := conv.OtherParticipant(me.ID); ok && other.ID == otherUserID {
				return cloneConversation(conv), true
			}
		}
	}
	return models.Conversation{}, false
}

// UpsertLatestMessage replaces the latest message pointer of a
// conversation. An unknown conversation is created with the sender and,
// when known, the other party as participants.
func (s *ConversationStore) UpsertLatestMessage(me models.User, conversationID string, msg models.Message, other *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.tick()
	set := s.set(me.ID)
	e, ok := set.byID[conversationID]
	if !ok {
		participants := []models.User{msg.Sender}
		if other != nil && other.ID != msg.Sender.ID {
			participants = append(participants, *other)
		} else if msg.Sender.ID != me.ID {
			participants = append(participants, me)
		}
		e = set.add(models.Conversation{
			ID:           conversationID,
			Participants: participants,
			Status:       models.ConversationActive,
			CreatedAt:    msg.CreatedAt,
			UpdatedAt:    msg.CreatedAt,
		}, seq)
	}

	e.conv.LatestMessage = copyMessage(&msg)
	if msg.CreatedAt.After(e.conv.UpdatedAt) {
		e.conv.UpdatedAt = msg.CreatedAt
	}
	e.latestSeq = seq
}

// AdvanceLatest moves the latest message of a known conversation to msg
// when msg is newer
func (s *ConversationStore) AdvanceLatest(me models.User, conversationID string, msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.users[me.ID]
	if !ok {
		return false
	}
	e, ok := set.byID[conversationID]
	if !ok || !newerMessage(&msg, e.conv.LatestMessage) {
		return false
	}

	e.conv.LatestMessage = copyMessage(&msg)
	if msg.CreatedAt.After(e.conv.UpdatedAt) {
		e.conv.UpdatedAt = msg.CreatedAt
	}
	e.latestSeq = s.tick()
	return true
}

// ReplaceLatest swaps the latest message of a conversation for tail when
// the current latest message is removedID. A nil tail leaves the
// conversation without messages.
func (s *ConversationStore) ReplaceLatest(me models.User, conversationID, removedID string, tail *models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.users[me.ID]
	if !ok {
		return false
	}
	e, ok := set.byID[conversationID]
	if !ok || e.conv.LatestMessage == nil || e.conv.LatestMessage.ID != removedID {
		return false
	}

	e.conv.LatestMessage = copyMessage(tail)
	e.latestSeq = s.tick()
	return true
}

// FindByLatest returns the conversation whose latest message is messageID
func (s *ConversationStore) FindByLatest(me models.User, messageID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.users[me.ID]; ok {
		for id, e := range set.byID {
			if e.conv.LatestMessage != nil && e.conv.LatestMessage.ID == messageID {
				return id, true
			}
		}
	}
	return "", false
}

// SetLatestStatus updates the status of the latest message when it is messageID
func (s *ConversationStore) SetLatestStatus(me models.User, messageID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.users[me.ID]; ok {
		for _, e := range set.byID {
			if m := e.conv.LatestMessage; m != nil && m.ID == messageID && models.CanTransition(m.Status, status) {
				m.Status = status
			}
		}
	}
}

// SetUnread sets the unread counter of a conversation
func (s *ConversationStore) SetUnread(me models.User, conversationID string, n int) {
	if n < 0 {
		n = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.users[me.ID]; ok {
		if e, ok := set.byID[conversationID]; ok {
			e.conv.UnreadCount = n
			e.unreadSeq = s.tick()
		}
	}
}

// AddUnread increments the unread counter of a conversation
func (s *ConversationStore) AddUnread(me models.User, conversationID string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.users[me.ID]; ok {
		if e, ok := set.byID[conversationID]; ok {
			e.conv.UnreadCount += delta
			if e.conv.UnreadCount < 0 {
				e.conv.UnreadCount = 0
			}
			e.unreadSeq = s.tick()
		}
	}
}

// Remove drops a conversation of me
func (s *ConversationStore) Remove(me models.User, conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.users[me.ID]; ok {
		return set.remove(conversationID)
	}
	return false
}

// SetStatus updates the block state of a conversation
func (s *ConversationStore) SetStatus(me models.User, conversationID, status string, blockedBy *string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.users[me.ID]; ok {
		if e, ok := set.byID[conversationID]; ok {
			e.conv.Status = status
			e.conv.BlockedBy = copyString(blockedBy)
		}
	}
}

// SetStatusWith updates the block state of every conversation of me with
// otherUserID and returns their ids
func (s *ConversationStore) SetStatusWith(me models.User, otherUserID, status string, blockedBy *string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	if set, ok := s.users[me.ID]; ok {
		for _, id := range set.order {
			e := set.byID[id]
			if other, ok := e.conv.OtherParticipant(me.ID); ok && other.ID == otherUserID {
				e.conv.Status = status
				e.conv.BlockedBy = copyString(blockedBy)
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// newerMessage reports whether a is strictly newer than b
func newerMessage(a, b *models.Message) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func copyMessage(m *models.Message) *models.Message {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func cloneConversation(conv models.Conversation) models.Conversation {
	conv.Participants = append([]models.User(nil), conv.Participants...)
	conv.LatestMessage = copyMessage(conv.LatestMessage)
	conv.BlockedBy = copyString(conv.BlockedBy)
	return conv
}
