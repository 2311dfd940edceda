package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tullo/chats/internal/cache"
	"github.com/tullo/chats/internal/models"
)

// ErrorResponse sends a standardized error response and logs at caller if needed
func ErrorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// PolicyResponse rejects an action because of a block between the caller
// and the other user. code tells the client which side blocked.
func PolicyResponse(c *gin.Context, direction models.Direction) {
	c.JSON(http.StatusForbidden, gin.H{
		"error":  "Messaging is blocked between these users",
		"detail": direction.Banner(),
		"code":   string(direction),
	})
}

// pathID reads a uuid path parameter, answering 400 when it is malformed
func pathID(c *gin.Context, name, label string) (string, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid "+label+" ID")
		return "", false
	}
	return id.String(), true
}

// publish fans an event out through Redis. Without Redis there is no push
// channel and the event is dropped.
func publish(redis *cache.RedisClient, event string, payload interface{}, recipients ...string) {
	if redis == nil {
		return
	}
	err := redis.PublishEvent(models.WSMessage{
		Event:      event,
		Payload:    payload,
		Recipients: recipients,
	})
	if err != nil {
		log.Printf("Failed to publish %s event: %v", event, err)
	}
}

func memberIDs(members []models.User) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	return ids
}
