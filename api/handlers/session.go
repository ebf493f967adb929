// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/terminal-relay/backend/internal/capture"
	"github.com/terminal-relay/backend/internal/model"
	"github.com/terminal-relay/backend/internal/session"
	"github.com/terminal-relay/backend/internal/ws"
)

// SessionHandler handles HTTP requests for session management.
type SessionHandler struct {
	registry  *session.Registry
	runner    *capture.Runner
	wsService *ws.Service
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(registry *session.Registry, runner *capture.Runner, wsService *ws.Service) *SessionHandler {
	return &SessionHandler{
		registry:  registry,
		runner:    runner,
		wsService: wsService,
	}
}

// CreateSessionRequest represents the request body for creating a session.
type CreateSessionRequest struct {
	Name        string            `json:"name"`
	Cols        uint16            `json:"cols"`
	Rows        uint16            `json:"rows"`
	Workdir     string            `json:"workdir"`
	Env         map[string]string `json:"env"`
	ReconnectID string            `json:"reconnectId"`
}

// RunCommandRequest represents the request body for a command capture run.
type RunCommandRequest struct {
	Command string `json:"command" binding:"required"`
}

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Shell     string            `json:"shell"`
	Workdir   string            `json:"workdir,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Cols      uint16            `json:"cols"`
	Rows      uint16            `json:"rows"`
	Status    string            `json:"status"`
	ExitCode  *int              `json:"exitCode,omitempty"`
	PID       *int              `json:"pid,omitempty"`
	Connected bool              `json:"connected"`
	Duration  string            `json:"duration"`
	CreatedAt string            `json:"createdAt"`
	UpdatedAt string            `json:"updatedAt"`
}

// CommandResponse represents the result of a command capture run.
type CommandResponse struct {
	SessionID  string `json:"sessionId"`
	Output     string `json:"output"`
	ExitCode   int    `json:"exitCode"`
	Incomplete bool   `json:"incomplete"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// toSessionResponse converts a model.Session to SessionResponse.
func (h *SessionHandler) toSessionResponse(s *model.Session) *SessionResponse {
	connected := false
	if h.wsService != nil {
		connected = h.wsService.IsConnected(s.ID)
	}
	return &SessionResponse{
		ID:        s.ID,
		Name:      s.Name,
		Shell:     s.Shell,
		Workdir:   s.Workdir,
		Env:       s.Env,
		Cols:      s.Cols,
		Rows:      s.Rows,
		Status:    string(s.Status),
		ExitCode:  s.ExitCode,
		PID:       s.PID,
		Connected: connected,
		Duration:  formatDuration(s.Duration()),
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
		UpdatedAt: s.UpdatedAt.Format(time.RFC3339),
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return time.Duration(h*time.Hour + m*time.Minute + s*time.Second).String()
	}
	if m > 0 {
		return time.Duration(m*time.Minute + s*time.Second).String()
	}
	return time.Duration(s * time.Second).String()
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// Create handles POST /api/sessions - creates a new session, or returns
// the existing one when the request carries a live reconnectId.
func (h *SessionHandler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	if req.Cols == 0 {
		req.Cols = 80
	}
	if req.Rows == 0 {
		req.Rows = 24
	}

	sess, err := h.registry.Create(c.Request.Context(), &model.CreateSessionRequest{
		Name:        req.Name,
		Cols:        req.Cols,
		Rows:        req.Rows,
		Workdir:     req.Workdir,
		Env:         req.Env,
		ReconnectID: req.ReconnectID,
	})
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create session: "+err.Error())
		return
	}

	c.JSON(http.StatusCreated, h.toSessionResponse(sess))
}

// List handles GET /api/sessions - lists all known sessions.
func (h *SessionHandler) List(c *gin.Context) {
	sessions, err := h.registry.List(c.Request.Context())
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list sessions: "+err.Error())
		return
	}

	response := make([]*SessionResponse, len(sessions))
	for i, sess := range sessions {
		// The database status can trail a process exit; the registry is
		// the source of truth for liveness.
		if sess.Status == model.SessionStatusRunning && !h.registry.Exists(sess.ID) {
			sess.Status = model.SessionStatusExited
		}
		response[i] = h.toSessionResponse(sess)
	}

	c.JSON(http.StatusOK, response)
}

// Get handles GET /api/sessions/:id - gets a specific session.
func (h *SessionHandler) Get(c *gin.Context) {
	sessionID := c.Param("id")

	sess, err := h.registry.Get(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get session: "+err.Error())
		return
	}

	if sess.Status == model.SessionStatusRunning && !h.registry.Exists(sess.ID) {
		sess.Status = model.SessionStatusExited
	}

	c.JSON(http.StatusOK, h.toSessionResponse(sess))
}

// Exists handles GET /api/sessions/:id/exists - reports whether the
// session is live. A reconnecting UI calls this before deciding between
// reusing its stored id and requesting a fresh session.
func (h *SessionHandler) Exists(c *gin.Context) {
	sessionID := c.Param("id")
	c.JSON(http.StatusOK, gin.H{"exists": h.registry.Exists(sessionID)})
}

// Delete handles DELETE /api/sessions/:id - closes a session.
func (h *SessionHandler) Delete(c *gin.Context) {
	sessionID := c.Param("id")

	if !h.registry.Exists(sessionID) {
		// Closing is idempotent; a record-only session still gets its
		// row removed.
		if _, err := h.registry.Get(c.Request.Context(), sessionID); err != nil {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
			return
		}
	}

	h.registry.Close(c.Request.Context(), sessionID)
	if h.wsService != nil {
		h.wsService.DetachSession(sessionID)
	}

	c.Status(http.StatusNoContent)
}

// History handles GET /api/sessions/:id/history - returns the buffered
// output history for hot restore over HTTP.
func (h *SessionHandler) History(c *gin.Context) {
	sessionID := c.Param("id")

	history, err := h.registry.History(sessionID)
	if err != nil {
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": string(history)})
}

// Cwd handles GET /api/sessions/:id/cwd - returns the session process's
// current working directory when the platform supports the lookup.
func (h *SessionHandler) Cwd(c *gin.Context) {
	sessionID := c.Param("id")

	if !h.registry.Exists(sessionID) {
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"cwd": h.registry.Cwd(sessionID)})
}

// RunCommand handles POST /api/sessions/:id/command - runs a command in
// the session and returns its captured output and exit code. An
// incomplete result (reserved exit code) means the command is waiting
// for interactive input, not that the run failed.
func (h *SessionHandler) RunCommand(c *gin.Context) {
	sessionID := c.Param("id")

	var req RunCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	result, err := h.runner.Run(c.Request.Context(), sessionID, req.Command)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to run command: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, CommandResponse{
		SessionID:  result.SessionID,
		Output:     result.Output,
		ExitCode:   result.ExitCode,
		Incomplete: result.Incomplete,
	})
}

// GetCast handles GET /api/sessions/:id/cast - downloads the session's
// Asciinema v2 recording.
func (h *SessionHandler) GetCast(c *gin.Context) {
	sessionID := c.Param("id")

	sess, err := h.registry.Get(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get session: "+err.Error())
		return
	}

	if sess.CastPath == "" {
		sendError(c, http.StatusNotFound, "CAST_NOT_FOUND", "Recording not found for session "+sessionID)
		return
	}

	c.Header("Content-Type", "application/x-asciicast")
	c.Header("Content-Disposition", "attachment; filename="+sessionID+".cast")
	c.File(sess.CastPath)
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.POST("", h.Create)
		sessions.GET("", h.List)
		sessions.GET("/:id", h.Get)
		sessions.GET("/:id/exists", h.Exists)
		sessions.DELETE("/:id", h.Delete)
		sessions.GET("/:id/history", h.History)
		sessions.GET("/:id/cwd", h.Cwd)
		sessions.POST("/:id/command", h.RunCommand)
		sessions.GET("/:id/cast", h.GetCast)
	}
}
