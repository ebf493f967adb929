package buffer

import (
	"sync"
	"time"

	"github.com/terminal-relay/backend/internal/clock"
)

// DefaultCoalesceDelay is the debounce window for coalesced output.
// Long enough that a marker string split across PTY read chunks lands in
// the same flush, short enough that the terminal still feels live.
const DefaultCoalesceDelay = 40 * time.Millisecond

// Coalescer accumulates pushed bytes and emits them as one chunk after a
// quiet period. Every Push restarts the debounce timer, so a burst of
// small chunks is delivered as a single flush.
//
// The output router uses one Coalescer per capturing session: buffering
// the stream briefly lets it see a whole sentinel before deciding what to
// hide from the display.
type Coalescer struct {
	sched clock.Scheduler
	delay time.Duration
	emit  func([]byte)

	mu    sync.Mutex
	data  []byte
	timer clock.Timer
}

// NewCoalescer creates a Coalescer that calls emit with the accumulated
// bytes once pushes go quiet for delay. The scheduler is injected so tests
// can drive the debounce without real time.
func NewCoalescer(sched clock.Scheduler, delay time.Duration, emit func([]byte)) *Coalescer {
	if delay <= 0 {
		delay = DefaultCoalesceDelay
	}
	return &Coalescer{sched: sched, delay: delay, emit: emit}
}

// Push appends p and (re)arms the debounce timer.
func (c *Coalescer) Push(p []byte) {
	if len(p) == 0 {
		return
	}

	c.mu.Lock()
	c.data = append(c.data, p...)
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.sched.AfterFunc(c.delay, c.fire)
	c.mu.Unlock()
}

// Flush cancels any pending timer and emits whatever is buffered.
func (c *Coalescer) Flush() {
	c.fire()
}

// Len returns the number of bytes currently buffered.
func (c *Coalescer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func (c *Coalescer) fire() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	data := c.data
	c.data = nil
	c.mu.Unlock()

	if len(data) > 0 && c.emit != nil {
		c.emit(data)
	}
}
