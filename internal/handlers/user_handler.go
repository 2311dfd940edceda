package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tullo/chats/internal/middleware"
	"github.com/tullo/chats/internal/repository"
)

type UserHandler struct {
	userRepo    *repository.UserRepository
	searchLimit int
}

func NewUserHandler(userRepo *repository.UserRepository, searchLimit int) *UserHandler {
	return &UserHandler{
		userRepo:    userRepo,
		searchLimit: searchLimit,
	}
}

// SearchUsers finds users by name, username or email, excluding the caller
func (h *UserHandler) SearchUsers(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		ErrorResponse(c, http.StatusBadRequest, "Search query is required")
		return
	}

	users, err := h.userRepo.Search(q, middleware.CurrentUserID(c), h.searchLimit)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to search users")
		return
	}

	c.JSON(http.StatusOK, users)
}
