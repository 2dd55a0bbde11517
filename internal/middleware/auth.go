package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const ContextUserID = "user_id"

// TokenValidator matches the auth service's credential check.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
}

// Auth guards REST routes with a bearer token in the Authorization header.
func Auth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header is required"})
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		userID, err := validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ContextUserID, userID)
		c.Next()
	}
}

// UserID extracts the authenticated user identity set by Auth.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
