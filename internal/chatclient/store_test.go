package chatclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tullo/chats/internal/models"
)

func message(id, convID string, sender models.User, body string, minute int) *models.Message {
	return &models.Message{
		ID:             id,
		ConversationID: convID,
		Sender:         sender,
		Message:        body,
		Status:         models.StatusSent,
		CreatedAt:      baseTime.Add(time.Duration(minute) * time.Minute),
	}
}

func conversation(id string, other models.User, latest *models.Message, unread int) models.Conversation {
	return models.Conversation{
		ID:            id,
		Participants:  []models.User{alice, other},
		LatestMessage: latest,
		UnreadCount:   unread,
		Status:        models.ConversationActive,
	}
}

func ids(convs []models.Conversation) []string {
	out := make([]string, 0, len(convs))
	for _, c := range convs {
		out = append(out, c.ID)
	}
	return out
}

func TestSnapshotOrdering(t *testing.T) {
	store := NewConversationStore(newFakeBackend(alice))

	fetched := []models.Conversation{
		conversation("empty-1", bob, nil, 0),
		conversation("old", bob, message("m1", "old", bob, "a", 1), 0),
		conversation("tie-1", carol, message("m2", "tie-1", carol, "b", 5), 0),
		conversation("newest", carol, message("m3", "newest", carol, "c", 9), 0),
		conversation("empty-2", carol, nil, 0),
		conversation("tie-2", bob, message("m4", "tie-2", bob, "d", 5), 0),
	}
	store.Merge(alice, fetched, store.begin())

	assert.Equal(t,
		[]string{"newest", "tie-1", "tie-2", "old", "empty-1", "empty-2"},
		ids(store.Snapshot(alice)))
}

func TestTotalUnread(t *testing.T) {
	store := NewConversationStore(newFakeBackend(alice))
	store.Merge(alice, []models.Conversation{
		conversation("c1", bob, nil, 2),
		conversation("c2", carol, nil, 0),
		conversation("c3", carol, nil, 5),
	}, store.begin())

	assert.Equal(t, 7, store.TotalUnread(alice))
	assert.Equal(t, 0, store.TotalUnread(bob), "state is partitioned per user")

	store.SetUnread(alice, "c3", 0)
	assert.Equal(t, 2, store.TotalUnread(alice))
	store.AddUnread(alice, "c1", -5)
	assert.Equal(t, 0, store.TotalUnread(alice))
}

func TestListFailureReturnsLastKnown(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend(alice, bob)
	backend.addConversation("conv-1", bob.ID)
	backend.addMessage("conv-1", bob.ID, "hi", models.StatusDelivered)

	store := NewConversationStore(backend)
	first := store.List(ctx, alice)
	require.Len(t, first, 1)

	backend.failList = newError(TransportFailure, "backend unreachable", errors.New("timeout"))
	again := store.List(ctx, alice)
	assert.Equal(t, first, again)
	assert.Equal(t, 2, backend.called("list"))
}

func TestListFailureWithoutStateIsEmpty(t *testing.T) {
	backend := newFakeBackend(alice)
	backend.failList = errors.New("boom")

	store := NewConversationStore(backend)
	convs := store.List(context.Background(), alice)
	assert.NotNil(t, convs)
	assert.Empty(t, convs)
}

func TestMergeKeepsWritesMadeDuringFetch(t *testing.T) {
	store := NewConversationStore(newFakeBackend(alice))
	store.Merge(alice, []models.Conversation{
		conversation("c1", bob, message("m1", "c1", bob, "old", 1), 3),
	}, store.begin())

	start := store.begin()

	// Local writes land while the fetch is in flight
	store.UpsertLatestMessage(alice, "c1", *message("m2", "c1", alice, "fresh", 2), &bob)
	store.SetUnread(alice, "c1", 0)
	store.UpsertLatestMessage(alice, "c-new", *message("m3", "c-new", alice, "hello", 3), &carol)

	// The fetch answers with the state from before those writes
	store.Merge(alice, []models.Conversation{
		conversation("c1", bob, message("m1", "c1", bob, "old", 1), 3),
	}, start)

	c1, ok := store.Get(alice, "c1")
	require.True(t, ok)
	assert.Equal(t, "m2", c1.LatestMessage.ID)
	assert.Equal(t, 0, c1.UnreadCount)

	_, ok = store.Get(alice, "c-new")
	assert.True(t, ok, "conversation created during the fetch is kept")

	// A fetch begun after the writes is authoritative
	store.Merge(alice, []models.Conversation{
		conversation("c1", bob, message("m1", "c1", bob, "old", 1), 1),
	}, store.begin())

	c1, _ = store.Get(alice, "c1")
	assert.Equal(t, "m1", c1.LatestMessage.ID)
	assert.Equal(t, 1, c1.UnreadCount)
	_, ok = store.Get(alice, "c-new")
	assert.False(t, ok)
}

func TestUpsertLatestMessageCreatesConversation(t *testing.T) {
	store := NewConversationStore(newFakeBackend(alice))

	store.UpsertLatestMessage(alice, "c1", *message("m1", "c1", bob, "knock knock", 1), &bob)

	conv, ok := store.Get(alice, "c1")
	require.True(t, ok)
	assert.Equal(t, models.ConversationActive, conv.Status)
	assert.True(t, conv.HasParticipant(alice.ID))
	other, ok := conv.OtherParticipant(alice.ID)
	require.True(t, ok)
	assert.Equal(t, bob.ID, other.ID)
	assert.Equal(t, "knock knock", conv.LatestMessage.Message)

	// An older message does not move the timestamp back
	store.UpsertLatestMessage(alice, "c1", *message("m0", "c1", alice, "earlier", 0), nil)
	conv, _ = store.Get(alice, "c1")
	assert.Equal(t, baseTime.Add(time.Minute), conv.UpdatedAt)
}

func TestSnapshotIsACopy(t *testing.T) {
	store := NewConversationStore(newFakeBackend(alice))
	store.UpsertLatestMessage(alice, "c1", *message("m1", "c1", bob, "original", 1), &bob)

	snap := store.Snapshot(alice)
	snap[0].LatestMessage.Message = "changed"
	snap[0].Participants[0].ID = "someone"

	conv, _ := store.Get(alice, "c1")
	assert.Equal(t, "original", conv.LatestMessage.Message)
	assert.True(t, conv.HasParticipant(bob.ID))
}

func TestSetLatestStatusNeverDowngrades(t *testing.T) {
	store := NewConversationStore(newFakeBackend(alice))
	store.UpsertLatestMessage(alice, "c1", *message("m1", "c1", alice, "hi", 1), &bob)

	store.SetLatestStatus(alice, "m1", models.StatusRead)
	store.SetLatestStatus(alice, "m1", models.StatusDelivered)

	conv, _ := store.Get(alice, "c1")
	assert.Equal(t, models.StatusRead, conv.LatestMessage.Status)
}
