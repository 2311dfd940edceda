package chatclient

import (
	"context"
	"sort"
	"sync"
	"time"

	jww "github.com/spf13/jwalterweatherman"
	"github.com/tullo/chats/internal/models"
)

// BlockService tracks the users each local user has blocked
type BlockService struct {
	backend Backend

	mu      sync.Mutex
	blocked map[string]map[string]models.BlockedUser

	// blockedMe holds what the backend told us about other users blocking
	// me: rejections with a direction and pushed block events
	blockedMe map[string]map[string]bool
}

// NewBlockService creates a service backed by backend
func NewBlockService(backend Backend) *BlockService {
	return &BlockService{
		backend:   backend,
		blocked:   make(map[string]map[string]models.BlockedUser),
		blockedMe: make(map[string]map[string]bool),
	}
}

func (s *BlockService) set(me string) map[string]models.BlockedUser {
	set, ok := s.blocked[me]
	if !ok {
		set = make(map[string]models.BlockedUser)
		s.blocked[me] = set
	}
	return set
}

// Block blocks userID. Blocking an already blocked user succeeds.
func (s *BlockService) Block(ctx context.Context, me models.User, userID string) error {
	if userID == "" || userID == me.ID {
		return validationError("cannot block this user")
	}

	if err := s.backend.BlockUser(ctx, userID); err != nil {
		return err
	}

	s.remember(me.ID, models.BlockedUser{User: models.User{ID: userID}, BlockedAt: time.Now()})
	return nil
}

func (s *BlockService) remember(me string, user models.BlockedUser) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.set(me)
	if _, ok := set[user.ID]; !ok {
		set[user.ID] = user
	}
}

func (s *BlockService) forget(me, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.set(me), userID)
}

// Unblock lifts a block. Unblocking a user who is not blocked succeeds.
func (s *BlockService) Unblock(ctx context.Context, me models.User, userID string) error {
	if userID == "" || userID == me.ID {
		return validationError("cannot unblock this user")
	}

	err := s.backend.UnblockUser(ctx, userID)
	if err != nil && !IsKind(err, NotFound) {
		return err
	}

	s.forget(me.ID, userID)
	return nil
}

// IsBlockedByMe answers from the locally held block list
func (s *BlockService) IsBlockedByMe(me models.User, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.blocked[me.ID][userID]
	return ok
}

// NoteBlockedBy records that userID blocked or unblocked me
func (s *BlockService) NoteBlockedBy(me models.User, userID string, blocked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.blockedMe[me.ID]
	if !ok {
		set = make(map[string]bool)
		s.blockedMe[me.ID] = set
	}
	set[userID] = blocked
}

// Observe reconciles what is known about userID blocking me with the
// conversation status the backend reported. Any status other than blocked
// by userID drops the note; a blocked status without blocked_by is left
// alone.
func (s *BlockService) Observe(me models.User, userID, status string, blockedBy *string) {
	if status == models.ConversationBlocked {
		if blockedBy == nil || *blockedBy == "" {
			return
		}
		if *blockedBy == userID {
			s.NoteBlockedBy(me, userID, true)
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blockedMe[me.ID], userID)
}

// HasBlockedMe reports whether userID blocked me. The backend does not
// expose the other side's block list, so without an explicit signal the
// answer is inferred from the conversation status.
func (s *BlockService) HasBlockedMe(me models.User, userID string, conv *models.Conversation) bool {
	s.mu.Lock()
	blocked, known := s.blockedMe[me.ID][userID]
	s.mu.Unlock()
	if known {
		return blocked
	}

	if conv == nil || !conv.IsBlocked() {
		return false
	}
	if conv.BlockedBy != nil && *conv.BlockedBy != "" {
		return *conv.BlockedBy == userID
	}
	return !s.IsBlockedByMe(me, userID)
}

// Direction resolves the block direction between me and userID from local
// knowledge. A block by me takes precedence.
func (s *BlockService) Direction(me models.User, userID string, conv *models.Conversation) models.Direction {
	if s.IsBlockedByMe(me, userID) {
		return models.YouBlockedThem
	}
	if s.HasBlockedMe(me, userID, conv) {
		return models.TheyBlockedYou
	}
	return models.NotBlocked
}

// ListBlocked refreshes and returns the block list of me, most recent
// first. On failure the last known list is returned.
func (s *BlockService) ListBlocked(ctx context.Context, me models.User) []models.BlockedUser {
	fetched, err := s.backend.ListBlocked(ctx)
	if err != nil {
		jww.WARN.Printf("[CHAT] Failed to list blocked users of %s: %+v", me.ID, err)
		return s.Known(me)
	}

	set := make(map[string]models.BlockedUser, len(fetched))
	for _, b := range fetched {
		set[b.ID] = b
	}

	s.mu.Lock()
	s.blocked[me.ID] = set
	s.mu.Unlock()

	return s.Known(me)
}

// Known returns the locally held block list of me
func (s *BlockService) Known(me models.User) []models.BlockedUser {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.BlockedUser, 0, len(s.blocked[me.ID]))
	for _, b := range s.blocked[me.ID] {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BlockedAt.Equal(out[j].BlockedAt) {
			return out[i].BlockedAt.After(out[j].BlockedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Apply records a block change pushed by the backend
func (s *BlockService) Apply(me models.User, event models.WSBlockPayload) {
	if event.BlockedID == me.ID {
		s.NoteBlockedBy(me, event.BlockerID, event.Blocked)
		return
	}
	if event.BlockerID != me.ID {
		return
	}
	if event.Blocked {
		s.remember(me.ID, models.BlockedUser{User: models.User{ID: event.BlockedID}, BlockedAt: time.Now()})
	} else {
		s.forget(me.ID, event.BlockedID)
	}
}
