package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-backend/internal/auth"
	"chat-backend/internal/models"
	"chat-backend/pkg/response"
)

type AuthHandler struct {
	auth *auth.Service
}

func NewAuthHandler(svc *auth.Service) *AuthHandler {
	return &AuthHandler{auth: svc}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.auth.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, http.StatusConflict, "registration failed")
		return
	}
	response.Created(c, user)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.auth.Login(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			response.Error(c, http.StatusUnauthorized, "invalid credentials")
			return
		}
		response.Error(c, http.StatusInternalServerError, "login failed")
		return
	}
	response.OK(c, resp)
}
