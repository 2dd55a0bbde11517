package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-backend/internal/middleware"
	"chat-backend/internal/models"
	"chat-backend/internal/repository"
	"chat-backend/pkg/response"
)

type ContactHandler struct {
	contacts *repository.ContactRepository
}

func NewContactHandler(contacts *repository.ContactRepository) *ContactHandler {
	return &ContactHandler{contacts: contacts}
}

func (h *ContactHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	contacts, err := h.contacts.ListFor(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to load contacts")
		return
	}
	response.OK(c, contacts)
}

func (h *ContactHandler) Add(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req models.AddContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.ContactID == userID {
		response.Error(c, http.StatusBadRequest, "cannot add yourself as a contact")
		return
	}
	if err := h.contacts.Add(c.Request.Context(), userID, req.ContactID, req.Nickname); err != nil {
		response.Error(c, http.StatusConflict, "failed to add contact")
		return
	}
	response.Created(c, gin.H{"user_id": userID, "contact_id": req.ContactID})
}

func (h *ContactHandler) Remove(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	contactID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid contact id")
		return
	}
	if err := h.contacts.Remove(c.Request.Context(), userID, contactID); err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to remove contact")
		return
	}
	response.NoContent(c)
}
