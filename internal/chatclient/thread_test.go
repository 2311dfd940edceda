package chatclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tullo/chats/internal/models"
)

// rejectingBackend answers thread fetches with a block rejection
type rejectingBackend struct {
	*fakeBackend
	direction models.Direction
}

func (b *rejectingBackend) GetThread(ctx context.Context, conversationID string) (*models.Thread, error) {
	return nil, &Error{Kind: PolicyRejection, Status: 403, Direction: b.direction, Message: b.direction.Banner()}
}

func TestLoadOldestFirst(t *testing.T) {
	backend := newFakeBackend(alice, bob)
	backend.addConversation("conv-1", bob.ID)
	backend.addMessage("conv-1", bob.ID, "one", models.StatusRead)
	backend.addMessage("conv-1", alice.ID, "two", models.StatusRead)
	backend.addMessage("conv-1", bob.ID, "three", models.StatusDelivered)

	cache := NewThreadCache(backend)
	thread, err := cache.Load(context.Background(), alice, "conv-1")
	require.NoError(t, err)
	assert.Nil(t, thread.Block)

	require.Len(t, thread.Messages, 3)
	for i := 1; i < len(thread.Messages); i++ {
		assert.True(t, thread.Messages[i-1].CreatedAt.Before(thread.Messages[i].CreatedAt))
	}
	assert.Equal(t, "three", thread.Messages[2].Message)
}

func TestLoadKeepsSendsConfirmedDuringFetch(t *testing.T) {
	backend := newFakeBackend(alice, bob)
	backend.addConversation("conv-1", bob.ID)
	backend.addMessage("conv-1", bob.ID, "one", models.StatusRead)
	backend.threadGate = make(chan struct{})
	backend.threadStarted = make(chan string, 1)

	cache := NewThreadCache(backend)

	done := make(chan Thread, 1)
	go func() {
		thread, err := cache.Load(context.Background(), alice, "conv-1")
		assert.NoError(t, err)
		done <- thread
	}()
	<-backend.threadStarted

	sent := *message("local-1", "conv-1", alice, "sent while loading", 30)
	require.True(t, cache.AppendSent(alice, "conv-1", sent))
	close(backend.threadGate)

	thread := <-done
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, "one", thread.Messages[0].Message)
	assert.Equal(t, "local-1", thread.Messages[1].ID)

	// Once a later fetch has run the backend is authoritative again
	backend.threadGate = nil
	thread, err := cache.Load(context.Background(), alice, "conv-1")
	require.NoError(t, err)
	assert.Len(t, thread.Messages, 1)
}

func TestAppendSentDeduplicates(t *testing.T) {
	cache := NewThreadCache(newFakeBackend(alice))
	msg := *message("m1", "conv-1", alice, "hi", 1)

	assert.True(t, cache.AppendSent(alice, "conv-1", msg))
	assert.False(t, cache.AppendSent(alice, "conv-1", msg))
	assert.Len(t, cache.Messages(alice, "conv-1"), 1)
}

func TestApplyOnlyTouchesCachedThreads(t *testing.T) {
	cache := NewThreadCache(newFakeBackend(alice))
	msg := *message("m1", "conv-1", bob, "hi", 1)

	assert.False(t, cache.Apply(alice, msg))
	assert.Empty(t, cache.Messages(alice, "conv-1"))

	cache.AppendSent(alice, "conv-1", *message("m0", "conv-1", alice, "hey", 0))
	assert.True(t, cache.Apply(alice, msg))
	assert.False(t, cache.Apply(alice, msg))
	assert.Len(t, cache.Messages(alice, "conv-1"), 2)
}

func TestRemoveReturnsNewTail(t *testing.T) {
	cache := NewThreadCache(newFakeBackend(alice))
	cache.AppendSent(alice, "conv-1", *message("m1", "conv-1", alice, "one", 1))
	cache.AppendSent(alice, "conv-1", *message("m2", "conv-1", alice, "two", 2))
	cache.AppendSent(alice, "conv-1", *message("m3", "conv-1", alice, "three", 3))

	convID, tail, ok := cache.Remove(alice, "m2")
	require.True(t, ok)
	assert.Equal(t, "conv-1", convID)
	assert.Equal(t, "m3", tail.ID)

	_, tail, ok = cache.Remove(alice, "m3")
	require.True(t, ok)
	assert.Equal(t, "m1", tail.ID)

	_, tail, ok = cache.Remove(alice, "m1")
	require.True(t, ok)
	assert.Nil(t, tail)

	_, _, ok = cache.Remove(alice, "m1")
	assert.False(t, ok)
}

func TestLoadBlockedEnvelope(t *testing.T) {
	backend := newFakeBackend(alice, bob)
	backend.addConversation("conv-1", bob.ID)
	backend.addMessage("conv-1", bob.ID, "before the block", models.StatusRead)
	backend.setBlock(bob.ID, alice.ID, true)

	cache := NewThreadCache(backend)
	thread, err := cache.Load(context.Background(), alice, "conv-1")
	require.NoError(t, err)
	require.Len(t, thread.Messages, 1)
	require.NotNil(t, thread.Block)
	assert.Equal(t, models.TheyBlockedYou, thread.Block.Direction)
	assert.Equal(t, bob.ID, thread.Block.BlockedBy)
	assert.Contains(t, thread.Block.Banner(), "blocked you")
}

func TestLoadPolicyRejectionIsNotAnError(t *testing.T) {
	backend := &rejectingBackend{fakeBackend: newFakeBackend(alice, bob), direction: models.YouBlockedThem}
	cache := NewThreadCache(backend)
	cache.AppendSent(alice, "conv-1", *message("m1", "conv-1", alice, "kept", 1))

	thread, err := cache.Load(context.Background(), alice, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, thread.Block)
	assert.Equal(t, models.YouBlockedThem, thread.Block.Direction)
	assert.Len(t, thread.Messages, 1)
}

func TestLoadNotFoundDropsThread(t *testing.T) {
	cache := NewThreadCache(newFakeBackend(alice))
	cache.AppendSent(alice, "gone", *message("m1", "gone", alice, "hi", 1))

	_, err := cache.Load(context.Background(), alice, "gone")
	assert.True(t, IsKind(err, NotFound))
	assert.Empty(t, cache.Messages(alice, "gone"))
}

func TestBannerWithoutDirection(t *testing.T) {
	var nilMarker *BlockMarker
	assert.Equal(t, "", nilMarker.Banner())
	assert.NotEmpty(t, (&BlockMarker{}).Banner())
}
