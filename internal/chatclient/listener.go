package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/tullo/chats/internal/models"
)

// Listener applies events pushed by the backend to a client's state
type Listener struct {
	client     *Client
	me         models.User
	url        string
	dialer     *websocket.Dialer
	newBackOff func() backoff.BackOff

	// OnEvent, when set, is called after each applied event
	OnEvent func(event string)
}

// NewListener creates a listener for me on the push channel at url
func NewListener(client *Client, me models.User, url string) *Listener {
	return &Listener{
		client: client,
		me:     me,
		url:    url,
		dialer: websocket.DefaultDialer,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Run keeps the push channel open, reconnecting with backoff, until ctx is
// done
func (l *Listener) Run(ctx context.Context) error {
	b := l.newBackOff()

	for {
		connected, err := l.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("push channel closed: %w", err)
		}
		jww.WARN.Printf("[CHAT] Push channel lost, reconnecting in %s: %v", wait, err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// session reads events from one connection until it fails
func (l *Listener) session(ctx context.Context) (bool, error) {
	conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	jww.INFO.Printf("[CHAT] Push channel connected for %s", l.me.ID)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		if err := l.Handle(ctx, data); err != nil {
			jww.WARN.Printf("[CHAT] Failed to apply event: %+v", err)
		}
	}
}

type rawEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Handle applies one encoded event
func (l *Listener) Handle(ctx context.Context, data []byte) error {
	var event rawEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	if err := l.client.ApplyEvent(ctx, l.me, event.Event, event.Payload); err != nil {
		return fmt.Errorf("failed to apply %s: %w", event.Event, err)
	}
	if l.OnEvent != nil {
		l.OnEvent(event.Event)
	}
	return nil
}

// ApplyEvent updates local state from a pushed event. Unknown events are
// ignored.
func (c *Client) ApplyEvent(ctx context.Context, me models.User, event string, payload json.RawMessage) error {
	switch event {
	case models.EventMessageNew:
		var msg models.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return err
		}
		c.applyIncoming(ctx, me, msg)

	case models.EventMessageStatus:
		var p models.WSMessageStatusPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		c.Threads.SetStatus(me, p.MessageID, p.Status)
		c.Store.SetLatestStatus(me, p.MessageID, p.Status)

	case models.EventMessageDeleted:
		var p models.WSMessageDeletedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		c.forgetMessage(me, p.MessageID)

	case models.EventConversationRead:
		var p models.WSConversationPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		if p.UserID == me.ID {
			// read on another device
			c.Store.SetUnread(me, p.ConversationID, 0)
			c.Threads.MarkInboundRead(me, p.ConversationID)
		} else {
			c.Threads.MarkOutboundRead(me, p.ConversationID)
			if conv, ok := c.Store.Get(me, p.ConversationID); ok && conv.LatestMessage != nil && !conv.LatestMessage.IsInbound(me.ID) {
				c.Store.SetLatestStatus(me, conv.LatestMessage.ID, models.StatusRead)
			}
		}

	case models.EventConversationDeleted:
		var p models.WSConversationPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		c.forgetConversation(me, p.ConversationID)

	case models.EventBlockUpdated:
		var p models.WSBlockPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		c.applyBlockEvent(me, p)

	case models.EventError:
		var p models.WSErrorPayload
		_ = json.Unmarshal(payload, &p)
		jww.WARN.Printf("[CHAT] Backend reported: %s", p.Message)

	default:
		jww.DEBUG.Printf("[CHAT] Ignoring event %q", event)
	}
	return nil
}

// applyIncoming records a pushed message. Inbound messages bump the unread
// counter unless their conversation is open, in which case they are marked
// read right away. Messages already fetched with their thread and messages
// already read never count.
func (c *Client) applyIncoming(ctx context.Context, me models.User, msg models.Message) {
	if conv, ok := c.Store.Get(me, msg.ConversationID); ok &&
		conv.LatestMessage != nil && conv.LatestMessage.ID == msg.ID {
		return
	}
	if cached, ok := c.Threads.Find(me, msg.ID); ok {
		c.Store.AdvanceLatest(me, msg.ConversationID, cached)
		return
	}

	c.Threads.Apply(me, msg)

	if !msg.IsInbound(me.ID) {
		c.Store.UpsertLatestMessage(me, msg.ConversationID, msg, nil)
		return
	}

	sender := msg.Sender
	c.Store.UpsertLatestMessage(me, msg.ConversationID, msg, &sender)
	if msg.IsRead() {
		return
	}

	if c.Active(me) == msg.ConversationID {
		err := c.Reads.MarkRead(ctx, me, msg.ConversationID)
		if err == nil {
			return
		}
		jww.WARN.Printf("[CHAT] Failed to mark open conversation %s read: %+v",
			msg.ConversationID, err)
	}
	c.Store.AddUnread(me, msg.ConversationID, 1)
}

// applyBlockEvent updates the block list and conversation status after a
// block change by either side
func (c *Client) applyBlockEvent(me models.User, p models.WSBlockPayload) {
	var other string
	switch me.ID {
	case p.BlockerID:
		other = p.BlockedID
	case p.BlockedID:
		other = p.BlockerID
	default:
		return
	}

	c.Blocks.Apply(me, p)
	c.setBlockState(me, other, c.theyBlock(me, other))
}
