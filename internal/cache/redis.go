package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tullo/chats/internal/models"
)

const (
	eventsChannel = "chats:events"

	// blockSetMarker keeps a cached block set alive when it has no members
	blockSetMarker = "_"
	blockSetTTL    = 30 * time.Minute
)

type RedisClient struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisClient creates a new Redis client
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{
		client: client,
		ctx:    ctx,
	}, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Presence Management

func presenceKey(userID string) string {
	return fmt.Sprintf("presence:user:%s", userID)
}

// SetUserOnline sets a user as online
func (r *RedisClient) SetUserOnline(userID string) error {
	presence := models.UserPresence{
		UserID:   userID,
		Status:   "online",
		LastSeen: time.Now(),
	}

	data, err := json.Marshal(presence)
	if err != nil {
		return err
	}

	return r.client.Set(r.ctx, presenceKey(userID), data, 5*time.Minute).Err()
}

// SetUserOffline sets a user as offline
func (r *RedisClient) SetUserOffline(userID string) error {
	presence := models.UserPresence{
		UserID:   userID,
		Status:   "offline",
		LastSeen: time.Now(),
	}

	data, err := json.Marshal(presence)
	if err != nil {
		return err
	}

	return r.client.Set(r.ctx, presenceKey(userID), data, 24*time.Hour).Err()
}

// GetUserPresence gets a user's presence
func (r *RedisClient) GetUserPresence(userID string) (*models.UserPresence, error) {
	data, err := r.client.Get(r.ctx, presenceKey(userID)).Result()
	if err == redis.Nil {
		return &models.UserPresence{
			UserID:   userID,
			Status:   "offline",
			LastSeen: time.Now(),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	var presence models.UserPresence
	if err := json.Unmarshal([]byte(data), &presence); err != nil {
		return nil, err
	}

	return &presence, nil
}

// IsUserOnline reports whether any server instance holds a live connection
// for the user
func (r *RedisClient) IsUserOnline(userID string) bool {
	presence, err := r.GetUserPresence(userID)
	if err != nil {
		return false
	}
	return presence.Status == "online"
}

// Block list cache. The database stays the source of truth; a missing key
// means "unknown", not "nobody blocked".

func blockKey(blockerID string) string {
	return fmt.Sprintf("blocks:%s", blockerID)
}

// blockGenKey counts the invalidations of a user's block set. Writers read it
// before loading from the database and only store while it is unchanged.
func blockGenKey(blockerID string) string {
	return fmt.Sprintf("blocks:gen:%s", blockerID)
}

// BlockListGeneration returns the invalidation count of a user's block set
func (r *RedisClient) BlockListGeneration(blockerID string) (int64, error) {
	gen, err := r.client.Get(r.ctx, blockGenKey(blockerID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

// CacheBlockList replaces the cached block set of a user. The write is
// skipped when the set was invalidated after generation was read; stored
// reports whether it happened.
func (r *RedisClient) CacheBlockList(blockerID string, generation int64, blockedIDs []string) (stored bool, err error) {
	key := blockKey(blockerID)
	genKey := blockGenKey(blockerID)
	members := make([]interface{}, 0, len(blockedIDs)+1)
	members = append(members, blockSetMarker)
	for _, id := range blockedIDs {
		members = append(members, id)
	}

	err = r.client.Watch(r.ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(r.ctx, genKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != generation {
			return nil
		}
		_, err = tx.TxPipelined(r.ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(r.ctx, key)
			pipe.SAdd(r.ctx, key, members...)
			pipe.Expire(r.ctx, key, blockSetTTL)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, genKey)
	if err == redis.TxFailedErr {
		return false, nil
	}
	return stored, err
}

// InvalidateBlockList drops the cached block set of a user and bumps its
// generation so loads already in flight cannot restore it
func (r *RedisClient) InvalidateBlockList(blockerID string) error {
	pipe := r.client.TxPipeline()
	pipe.Incr(r.ctx, blockGenKey(blockerID))
	pipe.Del(r.ctx, blockKey(blockerID))
	_, err := pipe.Exec(r.ctx)
	return err
}

// IsBlockedCached answers blocker -> blocked from the cache. known is false
// when the blocker's set is not cached.
func (r *RedisClient) IsBlockedCached(blockerID, blockedID string) (blocked bool, known bool, err error) {
	key := blockKey(blockerID)
	res, err := r.client.SMIsMember(r.ctx, key, blockSetMarker, blockedID).Result()
	if err != nil {
		return false, false, err
	}
	if len(res) != 2 || !res[0] {
		return false, false, nil
	}
	return res[1], true, nil
}

// Pub/Sub

// PublishEvent publishes a chat event for every server instance
func (r *RedisClient) PublishEvent(event models.WSMessage) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return r.client.Publish(r.ctx, eventsChannel, data).Err()
}

// SubscribeToEvents subscribes to the chat events channel
func (r *RedisClient) SubscribeToEvents() *redis.PubSub {
	return r.client.Subscribe(r.ctx, eventsChannel)
}

// GetClient returns the underlying Redis client
func (r *RedisClient) GetClient() *redis.Client {
	return r.client
}

// AllowAction implements a Redis-backed token-bucket limiter per key (user+action).
// Returns true if the action is allowed, false if rate-limited.
func (r *RedisClient) AllowAction(userID string, action string, rate int, burst int) (bool, error) {
	key := fmt.Sprintf("rl:%s:%s", action, userID)
	// Lua script: manage tokens and last timestamp
	script := `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local vals = redis.call('HMGET', key, 'tokens', 'last')
local tokens = tonumber(vals[1])
local last = tonumber(vals[2])
if tokens == nil then tokens = burst end
if last == nil then last = now end
local delta = math.max(0, now - last)
local new_tokens = math.min(burst, tokens + (delta * rate / 1000))
if new_tokens >= 1 then
	new_tokens = new_tokens - 1
	redis.call('HMSET', key, 'tokens', new_tokens, 'last', now)
	redis.call('PEXPIRE', key, 60000)
	return 1
else
	redis.call('HMSET', key, 'tokens', new_tokens, 'last', now)
	redis.call('PEXPIRE', key, 60000)
	return 0
end
`

	now := time.Now().UnixNano() / int64(time.Millisecond)
	res, err := r.client.Eval(r.ctx, script, []string{key}, rate, burst, now).Result()
	if err != nil {
		return false, err
	}
	// Eval returns int64 (1 or 0)
	switch v := res.(type) {
	case int64:
		return v == 1, nil
	case int:
		return v == 1, nil
	default:
		return false, fmt.Errorf("unexpected result from rate limiter: %T %v", res, res)
	}
}
