package middleware

import (
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORS allows the configured frontend origins plus localhost variants for
// development.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := origin != "" && (strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1"))
		if customOrigins := os.Getenv("ALLOWED_ORIGINS"); customOrigins != "" {
			for _, o := range strings.Split(customOrigins, ",") {
				if origin == strings.TrimSpace(o) {
					allowed = true
					break
				}
			}
		}
		if allowed {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
