package model

import "errors"

var (
	// ErrSessionNotFound is returned when a session is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrWorkerRunning is returned when starting a worker that is
	// already running.
	ErrWorkerRunning = errors.New("worker already running")

	// ErrWorkerNotReady is returned when the worker did not send its
	// ready signal within the startup window.
	ErrWorkerNotReady = errors.New("worker did not become ready")

	// ErrPortInUse is returned when the worker's target port is already
	// bound by another process.
	ErrPortInUse = errors.New("port already in use")
)
