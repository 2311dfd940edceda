package websocket

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/tullo/chats/internal/cache"
	"github.com/tullo/chats/internal/models"
)

// Hub maintains the set of active clients and routes events to the
// connections of their recipients
type Hub struct {
	// Registered clients, by user id. A user may hold several connections.
	clients map[string]map[*Client]struct{}

	// Events received from Redis, still carrying their recipients
	events chan []byte

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Redis client for pub/sub and presence
	redis *cache.RedisClient

	mu sync.RWMutex
}

// NewHub creates a new Hub
func NewHub(redis *cache.RedisClient) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		events:     make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		redis:      redis,
	}
}

// Run starts the hub
func (h *Hub) Run() {
	if h.redis != nil {
		go h.subscribeToRedis()
	}

	for {
		select {
		case client := <-h.register:
			h.add(client)
			h.setOnline(client.userID)
			log.Printf("Client registered: %s", client.userID)

		case client := <-h.unregister:
			if last := h.remove(client); last {
				h.setOffline(client.userID)
			}
			log.Printf("Client unregistered: %s", client.userID)

		case data := <-h.events:
			h.deliver(data)
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clients[client.userID]
	if !ok {
		conns = make(map[*Client]struct{})
		h.clients[client.userID] = conns
	}
	conns[client] = struct{}{}
}

// remove drops a client and reports whether it was the user's last connection
func (h *Hub) remove(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clients[client.userID]
	if !ok {
		return false
	}
	if _, ok := conns[client]; ok {
		delete(conns, client)
		close(client.send)
	}
	if len(conns) == 0 {
		delete(h.clients, client.userID)
		return true
	}
	return false
}

func (h *Hub) setOnline(userID string) {
	if h.redis == nil {
		return
	}
	if err := h.redis.SetUserOnline(userID); err != nil {
		log.Printf("Failed to set %s online: %v", userID, err)
	}
}

func (h *Hub) setOffline(userID string) {
	if h.redis == nil {
		return
	}
	if err := h.redis.SetUserOffline(userID); err != nil {
		log.Printf("Failed to set %s offline: %v", userID, err)
	}
}

// subscribeToRedis forwards published events to the hub loop
func (h *Hub) subscribeToRedis() {
	pubsub := h.redis.SubscribeToEvents()
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		h.events <- []byte(msg.Payload)
	}
}

// deliver sends an event to the connections of its recipients only. The
// recipient list is stripped before it reaches a client.
func (h *Hub) deliver(data []byte) {
	var event struct {
		Event      string          `json:"event"`
		Payload    json.RawMessage `json:"payload"`
		Recipients []string        `json:"recipients"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		log.Printf("Dropping malformed event: %v", err)
		return
	}

	if err := h.SendToConversation(event.Recipients, models.WSMessage{
		Event:   event.Event,
		Payload: event.Payload,
	}); err != nil {
		log.Printf("Failed to deliver %s event: %v", event.Event, err)
	}
}

// SendToUser sends a message to every connection of a user
func (h *Hub) SendToUser(userID string, message interface{}) error {
	return h.SendToConversation([]string{userID}, message)
}

// SendToConversation sends a message to all members of a conversation
func (h *Hub) SendToConversation(memberIDs []string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]bool, len(memberIDs))
	for _, memberID := range memberIDs {
		if seen[memberID] {
			continue
		}
		seen[memberID] = true

		for client := range h.clients[memberID] {
			select {
			case client.send <- data:
			default:
				// Client's send channel is full, skip
				log.Printf("Send buffer full for %s, dropping event", memberID)
			}
		}
	}

	return nil
}

// GetOnlineUsers returns the list of online user IDs
func (h *Hub) GetOnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	userIDs := make([]string, 0, len(h.clients))
	for userID := range h.clients {
		userIDs = append(userIDs, userID)
	}

	return userIDs
}

// IsUserOnline checks if a user is connected to this instance
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[userID]) > 0
}
