package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-backend/internal/middleware"
	"chat-backend/internal/models"
	"chat-backend/internal/repository"
	"chat-backend/internal/service"
	"chat-backend/pkg/response"
)

type MessageHandler struct {
	messages *service.MessageService
	history  *repository.MessageRepository
	users    *repository.UserRepository
}

func NewMessageHandler(messages *service.MessageService, history *repository.MessageRepository, users *repository.UserRepository) *MessageHandler {
	return &MessageHandler{messages: messages, history: history, users: users}
}

// Create persists a message and triggers real-time fan-out.
func (h *MessageHandler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req models.CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	sender, err := h.users.FindByID(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusUnauthorized, "unknown user")
		return
	}

	msg, err := h.messages.Send(c.Request.Context(), sender, req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoTarget), errors.Is(err, service.ErrBothTargets):
			response.Error(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrNotGroupUser):
			response.Error(c, http.StatusForbidden, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, "failed to send message")
		}
		return
	}
	response.Created(c, msg)
}

// List returns conversation history, private or group depending on query.
func (h *MessageHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := parseIntDefault(c.Query("limit"), 50)
	offset := parseIntDefault(c.Query("offset"), 0)
	if limit > 100 {
		limit = 100
	}

	if peer := c.Query("receiver_id"); peer != "" {
		peerID, err := uuid.Parse(peer)
		if err != nil {
			response.Error(c, http.StatusBadRequest, "invalid receiver_id")
			return
		}
		msgs, err := h.history.PrivateHistory(c.Request.Context(), userID, peerID, limit, offset)
		if err != nil {
			response.Error(c, http.StatusInternalServerError, "failed to load messages")
			return
		}
		response.OK(c, msgs)
		return
	}

	if group := c.Query("group_id"); group != "" {
		groupID, err := uuid.Parse(group)
		if err != nil {
			response.Error(c, http.StatusBadRequest, "invalid group_id")
			return
		}
		msgs, err := h.history.GroupHistory(c.Request.Context(), groupID, limit, offset)
		if err != nil {
			response.Error(c, http.StatusInternalServerError, "failed to load messages")
			return
		}
		response.OK(c, msgs)
		return
	}

	response.Error(c, http.StatusBadRequest, "receiver_id or group_id is required")
}

func (h *MessageHandler) MarkRead(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	msgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid message id")
		return
	}
	if err := h.history.MarkRead(c.Request.Context(), msgID, userID); err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to mark message read")
		return
	}
	response.NoContent(c)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
