package model

import (
	"encoding/json"
	"time"
)

// SessionStatus represents the status of a terminal session.
type SessionStatus string

const (
	SessionStatusRunning SessionStatus = "running"
	SessionStatusExited  SessionStatus = "exited"
	SessionStatusFailed  SessionStatus = "failed"
)

// Session represents a terminal session in the system.
type Session struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Shell     string            `json:"shell"`
	Workdir   string            `json:"workdir,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Cols      uint16            `json:"cols"`
	Rows      uint16            `json:"rows"`
	Status    SessionStatus     `json:"status"`
	ExitCode  *int              `json:"exitCode,omitempty"`
	PID       *int              `json:"pid,omitempty"`
	CastPath  string            `json:"castPath,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// EnvToJSON converts the Env map to a JSON string for storage.
func (s *Session) EnvToJSON() (string, error) {
	if s.Env == nil {
		return "", nil
	}
	data, err := json.Marshal(s.Env)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EnvFromJSON parses a JSON string into the Env map.
func (s *Session) EnvFromJSON(data string) error {
	if data == "" {
		s.Env = nil
		return nil
	}
	return json.Unmarshal([]byte(data), &s.Env)
}

// Duration returns the running duration of the session.
func (s *Session) Duration() time.Duration {
	return time.Since(s.CreatedAt)
}

// CreateSessionRequest represents a request to create a new session.
// ReconnectID lets a UI that still holds an id for a live session get it
// back (resized to the requested dimensions) instead of a fresh spawn.
type CreateSessionRequest struct {
	Name        string            `json:"name"`
	Cols        uint16            `json:"cols"`
	Rows        uint16            `json:"rows"`
	Workdir     string            `json:"workdir"`
	Env         map[string]string `json:"env"`
	ReconnectID string            `json:"reconnectId"`
}
