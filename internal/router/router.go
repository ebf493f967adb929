// Package router forwards PTY output to the UI channel, switching into a
// buffered, sentinel-stripping mode while a command capture is active.
package router

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/terminal-relay/backend/internal/buffer"
	"github.com/terminal-relay/backend/internal/clock"
	"github.com/terminal-relay/backend/internal/logging"
	"github.com/terminal-relay/backend/internal/session"
)

// Sessions is the slice of the session registry the router needs.
type Sessions interface {
	AppendHistory(id string, data []byte)
}

// Router routes every chunk of PTY output. The chunk always lands in the
// session's history buffer; what happens next depends on capture state:
//
//   - no capture active: forward straight to the UI channel;
//   - capture active: coalesce in a short debounce buffer, then strip
//     sentinel fragments before forwarding.
//
// Passing chunks through raw during a capture would leak the sentinel
// markers into the visible terminal; the debounce gives the router a
// chance to see a sentinel split across chunk boundaries in one piece
// before deciding what to hide.
type Router struct {
	sessions Sessions
	events   session.Events
	sched    clock.Scheduler
	delay    time.Duration
	log      *logging.Logger

	mu       sync.Mutex
	displays map[string]*buffer.Coalescer
	active   map[string]bool
}

// New creates an output router. delay is the debounce window used while
// a capture is active; zero selects the default.
func New(sessions Sessions, events session.Events, sched clock.Scheduler, delay time.Duration, log *logging.Logger) *Router {
	return &Router{
		sessions: sessions,
		events:   events,
		sched:    sched,
		delay:    delay,
		log:      log,
		displays: make(map[string]*buffer.Coalescer),
		active:   make(map[string]bool),
	}
}

// HandleOutput routes one chunk of PTY output for a session. Chunks
// from a single PTY arrive here in OS order; the history append and the
// forward (or buffer) therefore preserve that order.
func (r *Router) HandleOutput(sessionID string, data []byte) {
	r.sessions.AppendHistory(sessionID, data)

	r.mu.Lock()
	display := r.displays[sessionID]
	r.mu.Unlock()

	if display == nil {
		r.events.Output(sessionID, data)
		return
	}
	display.Push(data)
}

// BeginCapture switches the session's output into buffered mode. strip
// is applied to each coalesced flush to remove sentinel fragments before
// the bytes reach the UI.
func (r *Router) BeginCapture(sessionID string, strip func([]byte) []byte) {
	emit := func(p []byte) {
		if strip != nil {
			p = strip(p)
		}
		if len(p) > 0 {
			r.events.Output(sessionID, p)
		}
	}

	r.mu.Lock()
	r.displays[sessionID] = buffer.NewCoalescer(r.sched, r.delay, emit)
	r.active[sessionID] = true
	r.mu.Unlock()

	r.log.Debug("router entered capture mode", zap.String("session_id", sessionID))
}

// EndCapture switches the session back to live forwarding. The raw taps
// see a chunk before the display path does, so a capture can resolve
// while the sentinel-bearing chunk is still on its way here; the
// stripping buffer therefore stays in place for one more debounce
// window before it is removed and flushed. Nothing buffered is lost,
// and the trailing flush goes through the same strip as earlier ones.
func (r *Router) EndCapture(sessionID string) {
	r.mu.Lock()
	display := r.displays[sessionID]
	delete(r.active, sessionID)
	r.mu.Unlock()

	if display == nil {
		return
	}

	r.sched.AfterFunc(r.delay, func() {
		r.mu.Lock()
		if r.displays[sessionID] == display {
			delete(r.displays, sessionID)
		}
		r.mu.Unlock()
		display.Flush()
	})

	r.log.Debug("router left capture mode", zap.String("session_id", sessionID))
}

// Capturing reports whether a capture run is in flight for the session.
// The drain window after EndCapture does not count.
func (r *Router) Capturing(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[sessionID]
}
