package handler

import (
	"github.com/gin-gonic/gin"

	"chat-backend/internal/middleware"
)

type Router struct {
	engine   *gin.Engine
	auth     *AuthHandler
	users    *UserHandler
	messages *MessageHandler
	groups   *GroupHandler
	contacts *ContactHandler
	uploads  *UploadHandler
	ws       *WSHandler
	tokens   middleware.TokenValidator
}

func NewRouter(
	authHandler *AuthHandler,
	users *UserHandler,
	messages *MessageHandler,
	groups *GroupHandler,
	contacts *ContactHandler,
	uploads *UploadHandler,
	ws *WSHandler,
	tokens middleware.TokenValidator,
) *Router {
	return &Router{
		engine:   gin.New(),
		auth:     authHandler,
		users:    users,
		messages: messages,
		groups:   groups,
		contacts: contacts,
		uploads:  uploads,
		ws:       ws,
		tokens:   tokens,
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) SetupRoutes() {
	r.engine.Use(gin.Recovery())
	r.engine.Use(middleware.CORS())

	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Authentication happens inside the session handshake, not here.
	r.engine.GET("/ws", r.ws.Serve)

	v1 := r.engine.Group("/api/v1")
	{
		v1.POST("/auth/register", r.auth.Register)
		v1.POST("/auth/login", r.auth.Login)

		authed := v1.Group("", middleware.Auth(r.tokens))
		{
			authed.GET("/users/me", r.users.Me)
			authed.GET("/users/search", r.users.Search)
			authed.GET("/users/:id/status", r.users.Status)

			authed.POST("/messages", r.messages.Create)
			authed.GET("/messages", r.messages.List)
			authed.PATCH("/messages/:id/read", r.messages.MarkRead)

			authed.POST("/groups", r.groups.Create)
			authed.GET("/groups", r.groups.List)
			authed.GET("/groups/:id", r.groups.Get)
			authed.POST("/groups/:id/join", r.groups.Join)
			authed.DELETE("/groups/:id/leave", r.groups.Leave)

			authed.GET("/contacts", r.contacts.List)
			authed.POST("/contacts", r.contacts.Add)
			authed.DELETE("/contacts/:id", r.contacts.Remove)

			authed.POST("/upload", r.uploads.Upload)
		}
	}
}
