package model

// WorkerStatus is a point-in-time view of the supervised worker process.
// It is a pure read: querying status never changes supervisor state.
type WorkerStatus struct {
	Running        bool   `json:"running"`
	Port           int    `json:"port,omitempty"`
	PID            int    `json:"pid,omitempty"`
	RestartPending bool   `json:"restartPending"`
	Attempts       int    `json:"attempts"`
	LastError      string `json:"lastError,omitempty"`
}
