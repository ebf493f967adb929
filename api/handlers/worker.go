// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/terminal-relay/backend/internal/model"
	"github.com/terminal-relay/backend/internal/worker"
)

// WorkerHandler handles HTTP requests for the supervised worker process.
type WorkerHandler struct {
	supervisor  *worker.Supervisor
	defaultPort int
}

// NewWorkerHandler creates a new WorkerHandler.
func NewWorkerHandler(supervisor *worker.Supervisor, defaultPort int) *WorkerHandler {
	return &WorkerHandler{
		supervisor:  supervisor,
		defaultPort: defaultPort,
	}
}

// StartWorkerRequest represents the request body for starting the worker.
type StartWorkerRequest struct {
	Port int `json:"port"`
}

// Start handles POST /api/worker/start - launches the worker process.
// The call only succeeds once the worker has signaled readiness; being
// spawned is not being ready.
func (h *WorkerHandler) Start(c *gin.Context) {
	// An empty body means "use the default port".
	var req StartWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	port := req.Port
	if port == 0 {
		port = h.defaultPort
	}

	if err := h.supervisor.Start(port); err != nil {
		switch {
		case errors.Is(err, model.ErrWorkerRunning):
			sendError(c, http.StatusConflict, "WORKER_RUNNING", "Worker is already running")
		case errors.Is(err, model.ErrPortInUse):
			sendError(c, http.StatusConflict, "PORT_IN_USE", err.Error())
		case errors.Is(err, model.ErrWorkerNotReady):
			sendError(c, http.StatusGatewayTimeout, "WORKER_NOT_READY", "Worker did not become ready in time")
		default:
			sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start worker: "+err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, h.supervisor.Status())
}

// Stop handles POST /api/worker/stop - stops the worker deliberately,
// without a restart following.
func (h *WorkerHandler) Stop(c *gin.Context) {
	if err := h.supervisor.Stop(); err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to stop worker: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, h.supervisor.Status())
}

// Status handles GET /api/worker/status - reports the worker's state.
func (h *WorkerHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.supervisor.Status())
}

// RegisterRoutes registers the worker handler routes on a Gin router group.
func (h *WorkerHandler) RegisterRoutes(rg *gin.RouterGroup) {
	workers := rg.Group("/worker")
	{
		workers.POST("/start", h.Start)
		workers.POST("/stop", h.Stop)
		workers.GET("/status", h.Status)
	}
}
