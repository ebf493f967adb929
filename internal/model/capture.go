package model

// IncompleteExitCode is the reserved exit code returned when a captured
// command did not complete: either it stalled waiting for interactive
// input or the hard timeout fired. Matches the conventional shell
// timeout(1) exit status so callers can branch on it.
const IncompleteExitCode = 124

// CaptureResult is the outcome of running a captured command in a live
// session.
type CaptureResult struct {
	SessionID string `json:"sessionId"`

	// Output is the cleaned command output: ANSI stripped, carriage
	// return overwrites collapsed, sentinel and command echo removed.
	Output string `json:"output"`

	// ExitCode is the command's exit status, or IncompleteExitCode when
	// the capture ended on a stall or hard timeout.
	ExitCode int `json:"exitCode"`

	// Incomplete is true when the command never reached its completion
	// marker. The session is then flagged occupied: it is believed to be
	// blocked on interactive input, and the next capture will send an
	// interrupt first.
	Incomplete bool `json:"incomplete"`
}
