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

func TestOpenZeroesUnreadAndFlipsInbound(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend(alice, bob)
	backend.addConversation("conv-1", bob.ID)
	backend.addMessage("conv-1", bob.ID, "hi", models.StatusDelivered)
	backend.addMessage("conv-1", alice.ID, "hey", models.StatusSent)
	backend.addMessage("conv-1", bob.ID, "how are you?", models.StatusSent)

	client := New(backend)
	convs := client.Conversations(ctx, alice)
	require.Len(t, convs, 1)
	require.Equal(t, 2, convs[0].UnreadCount)
	require.Equal(t, 2, client.Store.TotalUnread(alice))

	thread, err := client.Open(ctx, alice, "conv-1")
	require.NoError(t, err)
	require.Len(t, thread.Messages, 3)

	conv, ok := client.Store.Get(alice, "conv-1")
	require.True(t, ok)
	assert.Equal(t, 0, conv.UnreadCount)
	assert.Equal(t, 0, client.Store.TotalUnread(alice))
	assert.Equal(t, Read, client.Reads.State(alice, "conv-1"))

	for _, m := range thread.Messages {
		if m.IsInbound(alice.ID) {
			assert.Equal(t, models.StatusRead, m.Status, "inbound %s", m.ID)
		} else {
			assert.Equal(t, models.StatusSent, m.Status, "outbound %s", m.ID)
		}
	}
}

func TestOpenWithFailedReadMarkKeepsCounter(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend(alice, bob)
	backend.addConversation("conv-1", bob.ID)
	backend.addMessage("conv-1", bob.ID, "ping", models.StatusDelivered)
	backend.failMark = newError(TransportFailure, "backend unreachable", errors.New("connection refused"))

	client := New(backend)
	client.Conversations(ctx, alice)

	thread, err := client.Open(ctx, alice, "conv-1")
	require.NoError(t, err)
	require.Len(t, thread.Messages, 1)
	assert.Equal(t, models.StatusDelivered, thread.Messages[0].Status)

	conv, _ := client.Store.Get(alice, "conv-1")
	assert.Equal(t, 1, conv.UnreadCount)
	assert.Equal(t, Unread, client.Reads.State(alice, "conv-1"))
}

func TestMarkUnreadSetsCounter(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend(alice, bob)
	backend.addConversation("conv-1", bob.ID)
	backend.addMessage("conv-1", bob.ID, "ping", models.StatusDelivered)

	client := New(backend)
	client.Conversations(ctx, alice)
	_, err := client.Open(ctx, alice, "conv-1")
	require.NoError(t, err)

	require.NoError(t, client.MarkUnread(ctx, alice, "conv-1"))
	conv, _ := client.Store.Get(alice, "conv-1")
	assert.Equal(t, 1, conv.UnreadCount)
	assert.Equal(t, Unread, client.Reads.State(alice, "conv-1"))
}

func TestDeletingLatestMessageMovesPreview(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend(alice, bob)
	backend.addConversation("conv-9", bob.ID)
	backend.addMessage("conv-9", bob.ID, "first message", models.StatusRead)
	second := backend.addMessage("conv-9", alice.ID, "second message", models.StatusSent)

	client := New(backend)
	client.Conversations(ctx, alice)
	_, err := client.Open(ctx, alice, "conv-9")
	require.NoError(t, err)

	require.NoError(t, client.DeleteMessage(ctx, alice, second))

	var row ConversationRow
	for _, conv := range client.Store.Snapshot(alice) {
		if conv.ID == "conv-9" {
			row = NewConversationRow(alice, conv, baseTime.Add(time.Hour))
		}
	}
	assert.Equal(t, "conv-9", row.ID)
	assert.Equal(t, "first message", row.Preview)

	// A refresh agrees with the local state
	convs := client.Conversations(ctx, alice)
	require.Len(t, convs, 1)
	require.NotNil(t, convs[0].LatestMessage)
	assert.Equal(t, "first message", convs[0].LatestMessage.Message)
}

func TestDeletingOnlyMessageLeavesNoMessages(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend(alice, bob)
	backend.addConversation("conv-1", bob.ID)
	only := backend.addMessage("conv-1", alice.ID, "oops", models.StatusSent)

	client := New(backend)
	client.Conversations(ctx, alice)
	_, err := client.Open(ctx, alice, "conv-1")
	require.NoError(t, err)

	require.NoError(t, client.DeleteMessage(ctx, alice, only))

	conv, ok := client.Store.Get(alice, "conv-1")
	require.True(t, ok)
	assert.Nil(t, conv.LatestMessage)
	assert.Equal(t, NoMessagesPreview, NewConversationRow(alice, conv, baseTime).Preview)
}

func TestDeleteUncachedLatestClearsPreview(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend(alice, bob)
	backend.addConversation("conv-1", bob.ID)
	backend.addMessage("conv-1", alice.ID, "one", models.StatusSent)
	latest := backend.addMessage("conv-1", alice.ID, "two", models.StatusSent)

	client := New(backend)
	client.Conversations(ctx, alice)

	require.NoError(t, client.DeleteMessage(ctx, alice, latest))

	conv, _ := client.Store.Get(alice, "conv-1")
	assert.Nil(t, conv.LatestMessage, "no dangling reference to a deleted message")
}

func TestDeleteMessageNotFoundIsSuccess(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend(alice, bob)
	client := New(backend)

	assert.NoError(t, client.DeleteMessage(ctx, alice, "gone"))
	assert.NoError(t, client.DeleteConversation(ctx, alice, "gone"))
}

func TestDeleteMessageOnlyBySender(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend(alice, bob)
	backend.addConversation("conv-1", bob.ID)
	theirs := backend.addMessage("conv-1", bob.ID, "mine to keep", models.StatusDelivered)

	client := New(backend)
	_, err := client.Open(ctx, alice, "conv-1")
	require.NoError(t, err)

	err = client.DeleteMessage(ctx, alice, theirs)
	assert.True(t, IsKind(err, ValidationFailure))
	assert.Equal(t, 0, backend.called("deleteMessage"))
	assert.Len(t, client.Threads.Messages(alice, "conv-1"), 1)
}

func TestDeleteConversationRemovesLocalState(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend(alice, bob)
	backend.addConversation("conv-1", bob.ID)
	backend.addMessage("conv-1", bob.ID, "hello", models.StatusDelivered)

	client := New(backend)
	client.Conversations(ctx, alice)
	_, err := client.Open(ctx, alice, "conv-1")
	require.NoError(t, err)

	require.NoError(t, client.DeleteConversation(ctx, alice, "conv-1"))

	_, ok := client.Store.Get(alice, "conv-1")
	assert.False(t, ok)
	assert.Empty(t, client.Threads.Messages(alice, "conv-1"))
	assert.Empty(t, client.Active(alice))
}

func TestStartConversationViaSearch(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend(alice, bob, carol)
	client := New(backend)

	users, err := client.SearchUsers(ctx, alice, "user-7")
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "user-7", users[0].ID)

	msg, err := client.StartConversation(ctx, alice, users[0], "Hello!")
	require.NoError(t, err)

	convs := client.Store.Snapshot(alice)
	require.Len(t, convs, 1)
	conv := convs[0]
	assert.Equal(t, msg.ConversationID, conv.ID)
	other, ok := conv.OtherParticipant(alice.ID)
	require.True(t, ok)
	assert.Equal(t, "user-7", other.ID)

	messages := client.Threads.Messages(alice, conv.ID)
	require.Len(t, messages, 1)
	assert.Equal(t, alice.ID, messages[0].Sender.ID)
	assert.Equal(t, "Hello!", messages[0].Message)

	// The backend agrees after a refresh
	convs = client.Conversations(ctx, alice)
	require.Len(t, convs, 1)
	thread, err := client.Open(ctx, alice, convs[0].ID)
	require.NoError(t, err)
	require.Len(t, thread.Messages, 1)
	assert.Equal(t, alice.ID, thread.Messages[0].Sender.ID)
	assert.Equal(t, "Hello!", thread.Messages[0].Message)
}

func TestSearchValidation(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend(alice, bob)
	client := New(backend)

	_, err := client.SearchUsers(ctx, alice, "   ")
	assert.True(t, IsKind(err, ValidationFailure))

	_, err = client.SearchUsers(ctx, alice, "bob@")
	assert.True(t, IsKind(err, ValidationFailure))
	assert.Equal(t, 0, backend.called("search"))

	users, err := client.SearchUsers(ctx, alice, "example.com")
	require.NoError(t, err)
	for _, u := range users {
		assert.NotEqual(t, alice.ID, u.ID)
	}
	assert.Len(t, users, 1)
}

func TestSendValidationBeforeNetwork(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend(alice, bob)
	client := New(backend)

	tests := []struct {
		name string
		to   string
		body string
	}{
		{"empty body", bob.ID, ""},
		{"blank body", bob.ID, "  \n\t"},
		{"too long", bob.ID, string(make([]rune, models.MaxMessageLength+1))},
		{"no recipient", "", "hi"},
		{"to self", alice.ID, "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Send(ctx, alice, tt.to, tt.body)
			assert.True(t, IsKind(err, ValidationFailure), "got %v", err)
		})
	}
	assert.Equal(t, 0, backend.totalCalls())
}

func TestSendFailureDoesNotAppend(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend(alice, bob)
	backend.addConversation("conv-1", bob.ID)
	backend.addMessage("conv-1", bob.ID, "hi", models.StatusRead)

	client := New(backend)
	client.Conversations(ctx, alice)
	_, err := client.Open(ctx, alice, "conv-1")
	require.NoError(t, err)

	backend.failSend = newError(TransportFailure, "backend unreachable", errors.New("reset"))
	_, err = client.Send(ctx, alice, bob.ID, "lost")
	assert.True(t, IsKind(err, TransportFailure))

	assert.Len(t, client.Threads.Messages(alice, "conv-1"), 1)
	conv, _ := client.Store.Get(alice, "conv-1")
	assert.Equal(t, "hi", conv.LatestMessage.Message)
}

func TestStaleOpenIsDiscarded(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend(alice, bob, carol)
	backend.addConversation("conv-1", bob.ID)
	backend.addMessage("conv-1", bob.ID, "from bob", models.StatusDelivered)
	backend.addConversation("conv-2", carol.ID)
	backend.addMessage("conv-2", carol.ID, "from carol", models.StatusDelivered)

	client := New(backend)
	client.Conversations(ctx, alice)

	gate := make(chan struct{})
	backend.threadGate = gate
	backend.threadStarted = make(chan string, 2)

	type result struct {
		thread Thread
		err    error
	}
	first := make(chan result, 1)
	go func() {
		thread, err := client.Open(ctx, alice, "conv-1")
		first <- result{thread, err}
	}()
	require.Equal(t, "conv-1", <-backend.threadStarted)

	// Switching cancels the first fetch
	second := make(chan result, 1)
	go func() {
		thread, err := client.Open(ctx, alice, "conv-2")
		second <- result{thread, err}
	}()

	r1 := <-first
	assert.ErrorIs(t, r1.err, ErrStale)

	require.Equal(t, "conv-2", <-backend.threadStarted)
	close(gate)

	r2 := <-second
	require.NoError(t, r2.err)
	assert.Equal(t, "conv-2", r2.thread.ConversationID)
	require.Len(t, r2.thread.Messages, 1)
	assert.Equal(t, "from carol", r2.thread.Messages[0].Message)
	assert.Equal(t, "conv-2", client.Active(alice))

	// The abandoned conversation was not marked read
	conv, _ := client.Store.Get(alice, "conv-1")
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestOpenTimeoutIsRecoverable(t *testing.T) {
	backend := newFakeBackend(alice, bob)
	backend.addConversation("conv-1", bob.ID)
	backend.threadGate = make(chan struct{})

	client := New(backend)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Open(ctx, alice, "conv-1")
	require.Error(t, err)
	assert.True(t, IsKind(err, TransportFailure))

	// Retrying once the backend answers works
	close(backend.threadGate)
	thread, err := client.Open(context.Background(), alice, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", thread.ConversationID)
}

func TestPollRefreshesUntilCancelled(t *testing.T) {
	backend := newFakeBackend(alice, bob)
	backend.addConversation("conv-1", bob.ID)

	client := New(backend)
	ctx, cancel := context.WithCancel(context.Background())

	updates := make(chan []models.Conversation, 10)
	done := make(chan error, 1)
	go func() {
		done <- client.Poll(ctx, alice, 5*time.Millisecond, func(convs []models.Conversation) {
			updates <- convs
		})
	}()

	convs := <-updates
	require.Len(t, convs, 1)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.True(t, IsKind(client.Poll(context.Background(), alice, 0, nil), ValidationFailure))
}
