// Package ws provides WebSocket connection handling and message routing
// for terminal sessions.
//
// The package implements:
//   - Hub: Manages WebSocket client connections for a session
//   - HubManager: Manages multiple hubs for different sessions
//   - Handler: Handles WebSocket message processing (stdin, resize, ping)
//   - Service: Bridges session registry events to connected clients
//
// Key features:
//   - Bidirectional communication between browser and PTY
//   - Hot restore: replays buffered history on reconnect
//   - Session keepalive: the PTY continues running when clients disconnect
//   - ANSI sequence passthrough: terminal formatting is preserved as-is
package ws
