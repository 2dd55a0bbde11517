package handler

import (
	"github.com/gin-gonic/gin"

	"chat-backend/internal/realtime"
)

type WSHandler struct {
	gateway *realtime.Gateway
}

func NewWSHandler(gateway *realtime.Gateway) *WSHandler {
	return &WSHandler{gateway: gateway}
}

// Serve runs the websocket handshake and session. Authentication happens
// inside the session state machine against the `token` query parameter.
func (h *WSHandler) Serve(c *gin.Context) {
	h.gateway.ServeWS(c.Writer, c.Request)
}
