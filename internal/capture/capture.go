// Package capture implements the command capture protocol: running a
// command in a live terminal session so the user sees it execute while
// the caller gets its cleaned output and exit code back.
//
// The trick is a sentinel handshake instead of a second hidden shell: a
// randomized marker is appended to the command so that, when the command
// finishes, the shell prints the marker plus the exit status. The
// protocol watches the session's raw output stream for that marker while
// the output router hides it from the display path.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/terminal-relay/backend/internal/logging"
	"github.com/terminal-relay/backend/internal/model"
	"github.com/terminal-relay/backend/internal/pty"
	"github.com/terminal-relay/backend/internal/router"
	"github.com/terminal-relay/backend/internal/session"
)

const (
	// DefaultStallTimeout is how long the run waits without new output
	// before concluding the command is blocked on interactive input.
	DefaultStallTimeout = 3 * time.Second

	// DefaultHardTimeout bounds the whole run even when output keeps
	// arriving (a runaway log stream never produces the sentinel).
	DefaultHardTimeout = 30 * time.Second

	// DefaultSettleDelay is the wait after interrupting an occupied
	// session before the new command is written.
	DefaultSettleDelay = time.Second

	// DefaultMaxOutput bounds the size of returned captured output.
	DefaultMaxOutput = 16 * 1024
)

// Config holds the capture protocol's timing and size knobs.
type Config struct {
	StallTimeout time.Duration
	HardTimeout  time.Duration
	SettleDelay  time.Duration
	MaxOutput    int
}

func (c *Config) applyDefaults() {
	if c.StallTimeout <= 0 {
		c.StallTimeout = DefaultStallTimeout
	}
	if c.HardTimeout <= 0 {
		c.HardTimeout = DefaultHardTimeout
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.MaxOutput <= 0 {
		c.MaxOutput = DefaultMaxOutput
	}
}

// Runner executes capture runs against registry sessions.
type Runner struct {
	registry *session.Registry
	router   *router.Router
	platform pty.Platform
	cfg      Config
	log      *logging.Logger

	mu   sync.Mutex
	runs map[string]*sync.Mutex
}

// NewRunner creates a capture runner.
func NewRunner(registry *session.Registry, rt *router.Router, platform pty.Platform, cfg Config, log *logging.Logger) *Runner {
	cfg.applyDefaults()
	return &Runner{
		registry: registry,
		router:   rt,
		platform: platform,
		cfg:      cfg,
		log:      log,
		runs:     make(map[string]*sync.Mutex),
	}
}

// Run executes command in the given session and returns its cleaned
// output and exit code. Exactly one of three outcomes resolves the run:
// the sentinel is found, the stall timer fires, or the hard timeout
// fires. The latter two return a result with the reserved incomplete
// exit code rather than an error, since "needs interaction" is a
// distinct state, not a failure.
//
// Concurrent runs against the same session serialize on a per-session
// lock. If a previous run left the session occupied, an interrupt is
// sent first and the run proceeds after a settle window; this recovery
// is best effort, as an interrupt is usually, not provably, enough to
// unblock a stuck foreground process.
func (r *Runner) Run(ctx context.Context, sessionID, command string) (*model.CaptureResult, error) {
	st, ok := r.registry.State(sessionID)
	if !ok {
		r.dropLock(sessionID)
		return nil, model.ErrSessionNotFound
	}

	runLock := r.runLock(sessionID)
	runLock.Lock()
	defer runLock.Unlock()

	// The session may have been closed while this run waited its turn.
	st, ok = r.registry.State(sessionID)
	if !ok {
		r.dropLock(sessionID)
		return nil, model.ErrSessionNotFound
	}

	if st.Occupied() {
		r.log.Info("session occupied, sending interrupt before capture",
			zap.String("session_id", sessionID))
		r.registry.Interrupt(sessionID)
		select {
		case <-time.After(r.cfg.SettleDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		st.SetOccupied(false)
	}

	sentinel := fmt.Sprintf("__TRC_%s__", uuid.New().String())
	pattern := sentinelPattern(sentinel)

	// The capture path needs the unfiltered stream: the display path is
	// debounced and stripped, which would hide the very marker this run
	// is looking for.
	tap, unsubscribe, err := r.registry.Subscribe(sessionID)
	if err != nil {
		return nil, err
	}

	st.SetCaptureActive(true)
	r.router.BeginCapture(sessionID, func(p []byte) []byte {
		return stripSentinel(p, sentinel)
	})
	defer func() {
		unsubscribe()
		st.SetCaptureActive(false)
		r.router.EndCapture(sessionID)
	}()

	wrapped := r.platform.WrapCommand(command, sentinel)
	r.registry.Write(sessionID, []byte(wrapped+"\r"))

	var acc bytes.Buffer
	stall := time.NewTimer(r.cfg.StallTimeout)
	hard := time.NewTimer(r.cfg.HardTimeout)
	defer stall.Stop()
	defer hard.Stop()

	for {
		select {
		case chunk, ok := <-tap:
			if !ok {
				// Session closed underneath the run.
				r.dropLock(sessionID)
				return nil, model.ErrSessionNotFound
			}
			acc.Write(chunk)

			if m := pattern.FindSubmatch(acc.Bytes()); m != nil {
				exitCode, convErr := strconv.Atoi(string(m[1]))
				if convErr != nil {
					exitCode = -1
				}
				st.SetOccupied(false)
				r.log.Info("capture completed",
					zap.String("session_id", sessionID),
					zap.Int("exit_code", exitCode))
				return &model.CaptureResult{
					SessionID: sessionID,
					Output:    Clean(acc.String(), sentinel, r.cfg.MaxOutput),
					ExitCode:  exitCode,
				}, nil
			}

			if !stall.Stop() {
				<-stall.C
			}
			stall.Reset(r.cfg.StallTimeout)

		case <-stall.C:
			return r.incomplete(sessionID, st, &acc, sentinel, "stalled waiting for output"), nil

		case <-hard.C:
			return r.incomplete(sessionID, st, &acc, sentinel, "hard timeout"), nil

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// incomplete resolves a run that never produced its sentinel: the
// session is flagged occupied and the partial output is returned with
// the reserved exit code.
func (r *Runner) incomplete(sessionID string, st *session.State, acc *bytes.Buffer, sentinel, reason string) *model.CaptureResult {
	st.SetOccupied(true)
	r.log.Info("capture incomplete",
		zap.String("session_id", sessionID),
		zap.String("reason", reason))
	return &model.CaptureResult{
		SessionID:  sessionID,
		Output:     Clean(acc.String(), sentinel, r.cfg.MaxOutput),
		ExitCode:   model.IncompleteExitCode,
		Incomplete: true,
	}
}

func (r *Runner) runLock(sessionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.runs[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		r.runs[sessionID] = lock
	}
	return lock
}

// dropLock forgets a closed session's run lock so the map does not grow
// with dead session ids. Runs already queued on the old mutex still
// acquire it, re-check the session, and take the same path here.
func (r *Runner) dropLock(sessionID string) {
	r.mu.Lock()
	delete(r.runs, sessionID)
	r.mu.Unlock()
}
