package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-backend/internal/middleware"
	"chat-backend/internal/models"
	"chat-backend/internal/realtime"
	"chat-backend/internal/repository"
	"chat-backend/pkg/response"
)

type GroupHandler struct {
	groups   *repository.GroupRepository
	dispatch *realtime.Dispatcher
}

func NewGroupHandler(groups *repository.GroupRepository, dispatch *realtime.Dispatcher) *GroupHandler {
	return &GroupHandler{groups: groups, dispatch: dispatch}
}

func (h *GroupHandler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req models.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	group := &models.Group{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		CreatorID:   userID,
		IsPrivate:   req.IsPrivate,
	}
	if err := h.groups.Create(c.Request.Context(), group); err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to create group")
		return
	}

	for _, memberID := range req.MemberIDs {
		if memberID == userID {
			continue
		}
		if err := h.groups.AddMember(c.Request.Context(), group.ID, memberID, models.GroupRoleMember); err != nil {
			slog.Warn("failed to add initial group member", "groupID", group.ID, "userID", memberID, "error", err)
		}
	}
	response.Created(c, group)
}

func (h *GroupHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	groups, err := h.groups.GroupsFor(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to load groups")
		return
	}
	response.OK(c, groups)
}

func (h *GroupHandler) Get(c *gin.Context) {
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid group id")
		return
	}
	group, err := h.groups.FindByID(c.Request.Context(), groupID)
	if err != nil {
		response.Error(c, http.StatusNotFound, "group not found")
		return
	}
	response.OK(c, group)
}

// Join adds the caller as a durable member and broadcasts the membership
// change to live subscribers.
func (h *GroupHandler) Join(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid group id")
		return
	}

	if err := h.groups.AddMember(c.Request.Context(), groupID, userID, models.GroupRoleMember); err != nil {
		if errors.Is(err, repository.ErrAlreadyMember) {
			response.Error(c, http.StatusConflict, "already a member")
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to join group")
		return
	}

	if err := h.dispatch.DispatchMembership(c.Request.Context(), groupID, userID, true); err != nil {
		slog.Warn("membership fan-out degraded", "groupID", groupID, "error", err)
	}
	response.OK(c, gin.H{"group_id": groupID, "user_id": userID, "joined_at": time.Now()})
}

func (h *GroupHandler) Leave(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid group id")
		return
	}

	if err := h.groups.RemoveMember(c.Request.Context(), groupID, userID); err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to leave group")
		return
	}

	if err := h.dispatch.DispatchMembership(c.Request.Context(), groupID, userID, false); err != nil {
		slog.Warn("membership fan-out degraded", "groupID", groupID, "error", err)
	}
	response.NoContent(c)
}
