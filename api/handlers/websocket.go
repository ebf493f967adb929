// Package handlers provides HTTP API request handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/terminal-relay/backend/internal/session"
	"github.com/terminal-relay/backend/internal/ws"
)

// WebSocketHandler handles WebSocket connections for terminal sessions.
type WebSocketHandler struct {
	registry  *session.Registry
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(registry *session.Registry, wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{
		registry:  registry,
		wsHandler: wsHandler,
	}
}

// Attach handles WS /api/sessions/:id/attach - attaches to a session via WebSocket.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	sessionID := c.Param("id")

	if !h.registry.Exists(sessionID) {
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
		return
	}

	if err := h.wsHandler.HandleConnection(c.Writer, c.Request, sessionID); err != nil {
		// Error already handled by WebSocket handler
		return
	}
}

// RegisterRoutes registers the WebSocket handler routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/sessions/:id/attach", h.Attach)
}
