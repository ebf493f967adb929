package ws

import (
	"go.uber.org/zap"

	"github.com/terminal-relay/backend/internal/logging"
	"github.com/terminal-relay/backend/internal/session"
)

// Service is the WebSocket side of the session event channel. It
// implements session.Events: output and exit events flow from the
// registry (via the output router) into per-session hubs, and from
// there to every connected client.
type Service struct {
	hubManager *HubManager
	handler    *Handler
	log        *logging.Logger
}

// NewService creates a new WebSocket service bound to the registry.
func NewService(registry *session.Registry, log *logging.Logger) *Service {
	hubManager := NewHubManager()
	return &Service{
		hubManager: hubManager,
		handler:    NewHandler(hubManager, registry, log),
		log:        log,
	}
}

// Handler returns the WebSocket handler.
func (s *Service) Handler() *Handler {
	return s.handler
}

// HubManager returns the hub manager.
func (s *Service) HubManager() *HubManager {
	return s.hubManager
}

// Output implements session.Events: forwards terminal output to every
// client attached to the session. Sessions with no clients drop the
// event; the history buffer already keeps what a late client needs.
func (s *Service) Output(sessionID string, data []byte) {
	s.handler.BroadcastOutput(sessionID, data)
}

// Exit implements session.Events: notifies clients that the session's
// process exited on its own, then tears the hub down.
func (s *Service) Exit(sessionID string, exitCode int) {
	s.log.Info("notifying clients of session exit",
		zap.String("session_id", sessionID), zap.Int("exit_code", exitCode))
	s.handler.BroadcastExit(sessionID, exitCode)
	s.hubManager.Remove(sessionID)
}

// DetachSession closes all WebSocket connections for a session. Called
// when a session is deleted explicitly.
func (s *Service) DetachSession(sessionID string) {
	s.hubManager.Remove(sessionID)
}

// ClientCount returns the number of connected clients for a session.
func (s *Service) ClientCount(sessionID string) int {
	hub := s.hubManager.Get(sessionID)
	if hub == nil {
		return 0
	}
	return hub.ClientCount()
}

// IsConnected returns true if any WebSocket client is attached to the
// session.
func (s *Service) IsConnected(sessionID string) bool {
	return s.ClientCount(sessionID) > 0
}

// Close closes all WebSocket connections and cleans up resources.
func (s *Service) Close() {
	s.hubManager.Close()
}
