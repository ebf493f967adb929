// Package buffer provides the bounded history buffer kept per session and
// the coalescing buffer used to debounce output during command capture.
package buffer

import (
	"sync"
)

const (
	// DefaultHistoryMax is the default upper bound on history size (256KB).
	DefaultHistoryMax = 256 * 1024

	// DefaultHistoryKeep is the retention floor after a rotation (192KB).
	// Keeping it below the max means rotation does not happen on every
	// append once the buffer is warm.
	DefaultHistoryKeep = 192 * 1024
)

// History is a thread-safe append-only buffer of recent terminal output.
// Appends accumulate until the total would exceed the max, at which point
// everything older than the keep floor is discarded in one rotation. The
// gap between keep and max is deliberate hysteresis: a warm buffer absorbs
// many appends between rotations instead of shifting bytes on each one.
//
// A session's history is replayed to newly attached clients so they see
// recent scrollback instead of a blank terminal.
type History struct {
	max  int
	keep int

	mu   sync.RWMutex
	data []byte
}

// NewHistory creates a History bounded at max bytes, retaining keep bytes
// across rotations. Invalid bounds fall back to the defaults; keep is
// clamped below max.
func NewHistory(max, keep int) *History {
	if max <= 0 {
		max = DefaultHistoryMax
	}
	if keep <= 0 || keep >= max {
		keep = max * 3 / 4
	}
	return &History{max: max, keep: keep}
}

// Append adds p to the buffer, rotating first if the result would exceed
// the max bound.
func (h *History) Append(p []byte) {
	if len(p) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.data)+len(p) > h.max && len(h.data) > h.keep {
		// Rotate: retain only the most recent keep bytes. Copy into a
		// fresh slice so the discarded prefix can be collected.
		tail := make([]byte, h.keep, h.keep+len(p))
		copy(tail, h.data[len(h.data)-h.keep:])
		h.data = tail
	}

	h.data = append(h.data, p...)

	// A single oversized append can still blow past the bound.
	if len(h.data) > h.max {
		tail := make([]byte, h.max)
		copy(tail, h.data[len(h.data)-h.max:])
		h.data = tail
	}
}

// Write implements io.Writer over Append.
func (h *History) Write(p []byte) (int, error) {
	h.Append(p)
	return len(p), nil
}

// Bytes returns a copy of the current contents.
func (h *History) Bytes() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.data) == 0 {
		return nil
	}
	out := make([]byte, len(h.data))
	copy(out, h.data)
	return out
}

// Len returns the current number of buffered bytes.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.data)
}

// Max returns the upper size bound.
func (h *History) Max() int {
	return h.max
}

// Keep returns the retention floor used during rotation.
func (h *History) Keep() int {
	return h.keep
}

// Clear discards all buffered data.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = nil
}
