// Package session implements the session registry: the single source of
// truth for which PTY sessions exist, their history buffers, and their
// capture state.
package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/terminal-relay/backend/internal/buffer"
	"github.com/terminal-relay/backend/internal/logging"
	"github.com/terminal-relay/backend/internal/model"
	"github.com/terminal-relay/backend/internal/pty"
	"github.com/terminal-relay/backend/internal/repository"
)

// Terminal is the slice of a PTY process the registry works with.
// *pty.PTYProcess satisfies it; tests substitute fakes.
type Terminal interface {
	Write(data []byte) error
	Resize(rows, cols uint16) error
	Close() error
	Subscribe() (<-chan []byte, func())
	SetOutput(fn func(data []byte))
	PID() int
}

// SpawnFunc creates a terminal process for a session.
type SpawnFunc func(opts pty.SpawnOptions) (Terminal, error)

// Events is the outbound half of the UI message channel.
type Events interface {
	// Output delivers terminal bytes for a session to attached clients.
	Output(sessionID string, data []byte)

	// Exit notifies clients that a session's process exited on its own.
	Exit(sessionID string, exitCode int)
}

// State holds the runtime state for one live session.
type State struct {
	Session *model.Session
	Term    Terminal
	History *buffer.History

	mu            sync.Mutex
	occupied      bool
	captureActive bool
}

// Occupied reports whether a previous capture left the session believed
// to be blocked on interactive input.
func (s *State) Occupied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.occupied
}

// SetOccupied updates the occupied flag.
func (s *State) SetOccupied(v bool) {
	s.mu.Lock()
	s.occupied = v
	s.mu.Unlock()
}

// CaptureActive reports whether a capture run is in flight.
func (s *State) CaptureActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captureActive
}

// SetCaptureActive updates the capture-active flag.
func (s *State) SetCaptureActive(v bool) {
	s.mu.Lock()
	s.captureActive = v
	s.mu.Unlock()
}

// Snapshot returns a copy of the session's metadata. Callers hold the
// copy across JSON encoding while the live session keeps changing, so
// they never get the mutable struct itself.
func (s *State) Snapshot() *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.Session
	return &cp
}

// Config holds configuration for the registry.
type Config struct {
	// CastDir enables asciinema recording when non-empty.
	CastDir string

	// HistoryMax and HistoryKeep bound the per-session history buffer.
	HistoryMax  int
	HistoryKeep int

	// Platform is the resolved host capability table.
	Platform pty.Platform
}

// Registry owns the set of live sessions.
//
// It is the only shared mutable structure touched by the router, the
// capture protocol, and close requests; all its mutations happen under
// one lock, and callers that block between registry calls must re-check
// existence afterwards (the session may have been closed meanwhile).
type Registry struct {
	spawn  SpawnFunc
	repo   *repository.SessionRepository
	events Events
	log    *logging.Logger
	cfg    Config

	// sink receives every output chunk for routing. Set once at wiring
	// time, before any session exists.
	sink func(sessionID string, data []byte)

	mu       sync.RWMutex
	sessions map[string]*State
}

// NewRegistry creates a session registry.
func NewRegistry(spawn SpawnFunc, repo *repository.SessionRepository, events Events, log *logging.Logger, cfg Config) *Registry {
	if cfg.HistoryMax <= 0 {
		cfg.HistoryMax = buffer.DefaultHistoryMax
	}
	if cfg.HistoryKeep <= 0 {
		cfg.HistoryKeep = buffer.DefaultHistoryKeep
	}
	return &Registry{
		spawn:    spawn,
		repo:     repo,
		events:   events,
		log:      log,
		cfg:      cfg,
		sessions: make(map[string]*State),
	}
}

// SetOutputSink installs the routing callback invoked with every chunk
// of PTY output. Must be called before the first Create.
func (r *Registry) SetOutputSink(sink func(sessionID string, data []byte)) {
	r.sink = sink
}

// Create creates a new terminal session, or resizes and returns an
// existing one when the request carries the id of a still-live session.
func (r *Registry) Create(ctx context.Context, req *model.CreateSessionRequest) (*model.Session, error) {
	if req.ReconnectID != "" {
		if st, ok := r.state(req.ReconnectID); ok {
			if req.Rows > 0 && req.Cols > 0 {
				if err := st.Term.Resize(req.Rows, req.Cols); err != nil {
					r.log.Warn("reconnect resize failed",
						zap.String("session_id", req.ReconnectID), zap.Error(err))
				}
			}
			r.log.Info("session reconnected", zap.String("session_id", req.ReconnectID))
			return st.Snapshot(), nil
		}
	}

	shell, err := r.cfg.Platform.Shell()
	if err != nil {
		return nil, fmt.Errorf("failed to select shell: %w", err)
	}

	sessionID := uuid.New().String()

	var castPath string
	if r.cfg.CastDir != "" {
		castPath = filepath.Join(r.cfg.CastDir, fmt.Sprintf("%s.cast", sessionID))
	}

	now := time.Now()
	sess := &model.Session{
		ID:        sessionID,
		Name:      req.Name,
		Shell:     shell,
		Workdir:   req.Workdir,
		Env:       req.Env,
		Cols:      req.Cols,
		Rows:      req.Rows,
		Status:    model.SessionStatusRunning,
		CastPath:  castPath,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sess.Name == "" {
		sess.Name = fmt.Sprintf("Session %s", sessionID[:8])
	}

	term, err := r.spawn(pty.SpawnOptions{
		ID:       sessionID,
		Shell:    shell,
		Workdir:  req.Workdir,
		Env:      req.Env,
		Cols:     req.Cols,
		Rows:     req.Rows,
		CastPath: castPath,
		OnExit: func(exitCode int, err error) {
			r.handleExit(sessionID, exitCode, err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to spawn PTY: %w", err)
	}

	pid := term.PID()
	sess.PID = &pid

	if r.repo != nil {
		if err := r.repo.Create(ctx, sess); err != nil {
			term.Close()
			return nil, fmt.Errorf("failed to persist session: %w", err)
		}
	}

	st := &State{
		Session: sess,
		Term:    term,
		History: buffer.NewHistory(r.cfg.HistoryMax, r.cfg.HistoryKeep),
	}

	// Register before wiring the output path: the terminal replays any
	// output it read during startup as soon as the callback lands, and
	// those chunks must find the session's history buffer.
	r.mu.Lock()
	r.sessions[sessionID] = st
	r.mu.Unlock()

	term.SetOutput(func(data []byte) {
		if r.sink != nil {
			r.sink(sessionID, data)
		}
	})

	r.log.Info("session created",
		zap.String("session_id", sessionID),
		zap.String("shell", shell),
		zap.Int("pid", pid))

	return st.Snapshot(), nil
}

// Write writes raw input bytes to a session's PTY. Unknown ids are
// silently ignored: the UI and backend lifecycles are only eventually
// consistent, so a write racing a close is expected, not an error.
func (r *Registry) Write(id string, data []byte) {
	st, ok := r.state(id)
	if !ok {
		return
	}
	if err := st.Term.Write(data); err != nil {
		r.log.Debug("write to closed session dropped", zap.String("session_id", id))
	}
}

// Resize changes a session's terminal dimensions. Unknown ids are
// silently ignored.
func (r *Registry) Resize(id string, rows, cols uint16) {
	st, ok := r.state(id)
	if !ok {
		return
	}
	if err := st.Term.Resize(rows, cols); err != nil {
		r.log.Debug("resize on closed session dropped", zap.String("session_id", id))
	}

	st.mu.Lock()
	st.Session.Rows = rows
	st.Session.Cols = cols
	st.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.UpdateSize(context.Background(), id, rows, cols); err != nil {
			r.log.Warn("failed to persist session size", zap.String("session_id", id), zap.Error(err))
		}
	}
}

// Interrupt sends Ctrl+C to the session's foreground process.
func (r *Registry) Interrupt(id string) {
	r.Write(id, []byte(pty.KeyCtrlC))
}

// Close kills the session's process (if still running) and removes the
// session and its history. Idempotent: closing an unknown or already
// closed id is a no-op.
func (r *Registry) Close(ctx context.Context, id string) {
	r.mu.Lock()
	st, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	if err := st.Term.Close(); err != nil {
		r.log.Warn("error closing session process", zap.String("session_id", id), zap.Error(err))
	}
	st.History.Clear()

	if r.repo != nil {
		if err := r.repo.Delete(ctx, id); err != nil {
			r.log.Warn("failed to delete session record", zap.String("session_id", id), zap.Error(err))
		}
	}

	r.log.Info("session closed", zap.String("session_id", id))
}

// Exists reports whether the session is live. A reconnecting UI uses
// this to decide between reusing an id and requesting a fresh session.
func (r *Registry) Exists(id string) bool {
	_, ok := r.state(id)
	return ok
}

// State returns the runtime state for a live session.
func (r *Registry) State(id string) (*State, bool) {
	return r.state(id)
}

// History returns a copy of the session's buffered output history.
func (r *Registry) History(id string) ([]byte, error) {
	st, ok := r.state(id)
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return st.History.Bytes(), nil
}

// AppendHistory appends an output chunk to the session's history buffer.
// Called by the output router for every chunk; unknown ids are ignored.
func (r *Registry) AppendHistory(id string, data []byte) {
	if st, ok := r.state(id); ok {
		st.History.Append(data)
	}
}

// Subscribe attaches a raw tap to the session's output stream.
func (r *Registry) Subscribe(id string) (<-chan []byte, func(), error) {
	st, ok := r.state(id)
	if !ok {
		return nil, nil, model.ErrSessionNotFound
	}
	ch, cancel := st.Term.Subscribe()
	return ch, cancel, nil
}

// CaptureActive reports whether a capture run is in flight for the
// session. Unknown ids report false.
func (r *Registry) CaptureActive(id string) bool {
	st, ok := r.state(id)
	return ok && st.CaptureActive()
}

// Cwd returns the session process's current working directory, when the
// platform supports the lookup.
func (r *Registry) Cwd(id string) string {
	st, ok := r.state(id)
	if !ok {
		return ""
	}
	return r.cfg.Platform.Cwd(st.Term.PID())
}

// Get retrieves session metadata, falling back to the database for
// sessions that already exited.
func (r *Registry) Get(ctx context.Context, id string) (*model.Session, error) {
	if st, ok := r.state(id); ok {
		return st.Snapshot(), nil
	}
	if r.repo != nil {
		return r.repo.GetByID(ctx, id)
	}
	return nil, model.ErrSessionNotFound
}

// List retrieves all known sessions from the database.
func (r *Registry) List(ctx context.Context) ([]*model.Session, error) {
	if r.repo == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		out := make([]*model.Session, 0, len(r.sessions))
		for _, st := range r.sessions {
			out = append(out, st.Snapshot())
		}
		return out, nil
	}
	return r.repo.List(ctx)
}

// Shutdown closes every live session. Used on server exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	states := make([]*State, 0, len(r.sessions))
	for id, st := range r.sessions {
		states = append(states, st)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, st := range states {
		st.Term.Close()
	}
}

// handleExit handles a process-initiated exit: the only path that
// removes a session without an explicit Close call. A caller-initiated
// Close removes the session from the map first, so the exit event is
// not emitted twice.
func (r *Registry) handleExit(id string, exitCode int, err error) {
	r.mu.Lock()
	st, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	status := model.SessionStatusExited
	if err != nil {
		status = model.SessionStatusFailed
		r.log.Warn("session process failed", zap.String("session_id", id), zap.Error(err))
	} else {
		r.log.Info("session process exited",
			zap.String("session_id", id), zap.Int("exit_code", exitCode))
	}

	if r.events != nil {
		r.events.Exit(id, exitCode)
	}

	st.History.Clear()

	if r.repo != nil {
		if updateErr := r.repo.UpdateStatus(context.Background(), id, status, &exitCode); updateErr != nil {
			r.log.Warn("failed to update session status",
				zap.String("session_id", id), zap.Error(updateErr))
		}
	}
}

func (r *Registry) state(id string) (*State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.sessions[id]
	return st, ok
}
