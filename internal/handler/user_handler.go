package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-backend/internal/middleware"
	"chat-backend/internal/realtime"
	"chat-backend/internal/repository"
	"chat-backend/pkg/response"
)

type UserHandler struct {
	users    *repository.UserRepository
	presence realtime.Presence
}

func NewUserHandler(users *repository.UserRepository, presence realtime.Presence) *UserHandler {
	return &UserHandler{users: users, presence: presence}
}

func (h *UserHandler) Me(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, err := h.users.FindByID(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusNotFound, "user not found")
		return
	}
	response.OK(c, user)
}

func (h *UserHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		response.Error(c, http.StatusBadRequest, "q is required")
		return
	}
	users, err := h.users.Search(c.Request.Context(), query, 20)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "search failed")
		return
	}
	publics := make([]any, 0, len(users))
	for i := range users {
		publics = append(publics, users[i].Public())
	}
	response.OK(c, publics)
}

// Status reads live presence from the shared store, not the DB mirror.
func (h *UserHandler) Status(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid user id")
		return
	}

	online, err := h.presence.IsOnline(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "presence lookup failed")
		return
	}
	lastSeen, err := h.presence.LastSeen(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "presence lookup failed")
		return
	}

	resp := gin.H{"user_id": userID, "is_online": online}
	if !lastSeen.IsZero() {
		resp["last_seen"] = lastSeen
	}
	response.OK(c, resp)
}
