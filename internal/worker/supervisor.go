package worker

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/terminal-relay/backend/internal/clock"
	"github.com/terminal-relay/backend/internal/logging"
	"github.com/terminal-relay/backend/internal/model"
)

const (
	// DefaultReadyTimeout bounds how long startup waits for the ready
	// signal before treating the launch as failed.
	DefaultReadyTimeout = 10 * time.Second

	// DefaultGracePeriod is how long Stop waits after a graceful
	// terminate before killing.
	DefaultGracePeriod = 3 * time.Second

	// DefaultBackoffBase is the first restart delay after a crash.
	DefaultBackoffBase = time.Second

	// DefaultBackoffCap is the ceiling on restart delays.
	DefaultBackoffCap = 30 * time.Second

	// DefaultMaxAttempts bounds consecutive restart attempts before the
	// supervisor gives up and leaves the error visible in Status.
	DefaultMaxAttempts = 10
)

// Config holds the supervisor's launch and recovery settings.
type Config struct {
	// Entry is the worker binary or script to launch.
	Entry string

	ReadyTimeout time.Duration
	GracePeriod  time.Duration
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	MaxAttempts  int
}

func (c *Config) applyDefaults() {
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
}

// Supervisor manages one worker child process. At any moment it is in
// exactly one of four states: idle, starting a child, running a child,
// or waiting on a scheduled restart. A restart is only scheduled once
// the child is gone, and a successful restart clears the pending state
// before the child is recorded. The starting flag covers the window
// where a launch is waiting on the ready signal, so a concurrent Start
// is rejected and a concurrent Stop aborts the launch instead of
// leaving an orphaned child.
type Supervisor struct {
	launcher Launcher
	sched    clock.Scheduler
	log      *logging.Logger
	cfg      Config

	mu              sync.Mutex
	child           Child
	starting        bool
	port            int
	lastErr         error
	attempts        int
	intentionalStop bool
	restartTimer    clock.Timer
	restartPending  bool
}

// NewSupervisor creates a worker supervisor.
func NewSupervisor(launcher Launcher, sched clock.Scheduler, cfg Config, log *logging.Logger) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{
		launcher: launcher,
		sched:    sched,
		cfg:      cfg,
		log:      log,
	}
}

// Start launches the worker on the given port. It rejects if a child is
// already running, verifies the port is actually free before spawning
// anything, and only returns success once the child has sent its ready
// signal.
func (s *Supervisor) Start(port int) error {
	s.mu.Lock()
	if s.child != nil || s.starting {
		s.mu.Unlock()
		return model.ErrWorkerRunning
	}
	// An explicit start while a restart is pending supersedes it.
	s.cancelRestartLocked()
	s.intentionalStop = false
	s.starting = true
	s.port = port
	s.attempts = 0
	s.mu.Unlock()

	err := checkPortFree(port)
	if err != nil {
		s.setLastError(err)
	} else {
		err = s.launch(port)
	}

	s.mu.Lock()
	s.starting = false
	s.mu.Unlock()
	return err
}

// launch starts a child and waits for its ready signal. Shared by Start
// and the restart path.
func (s *Supervisor) launch(port int) error {
	child, err := s.launcher.Launch(s.cfg.Entry,
		[]string{fmt.Sprintf("WORKER_PORT=%d", port)}, nil)
	if err != nil {
		err = fmt.Errorf("failed to launch worker: %w", err)
		s.setLastError(err)
		return err
	}

	select {
	case msg := <-child.Ready():
		s.mu.Lock()
		if s.intentionalStop {
			// Stop was called while the launch waited on the ready
			// signal: the child must not outlive the stop.
			s.mu.Unlock()
			child.Kill()
			err := fmt.Errorf("worker start aborted by stop")
			s.setLastError(err)
			return err
		}
		s.child = child
		s.attempts = 0
		s.lastErr = nil
		if msg.Port != 0 {
			s.port = msg.Port
		}
		s.mu.Unlock()

		s.log.Info("worker ready", zap.Int("port", s.port), zap.Int("pid", child.PID()))
		go s.watch(child)
		return nil

	case <-child.Done():
		err := fmt.Errorf("worker exited before ready: %w", child.ExitError())
		s.setLastError(err)
		return err

	case <-time.After(s.cfg.ReadyTimeout):
		child.Kill()
		s.setLastError(model.ErrWorkerNotReady)
		return model.ErrWorkerNotReady
	}
}

// watch waits for the child to exit and, unless the stop was
// intentional, schedules a restart.
func (s *Supervisor) watch(child Child) {
	<-child.Done()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.child != child {
		// A newer child replaced this one; nothing to do.
		return
	}
	s.child = nil

	if s.intentionalStop {
		return
	}

	exitErr := child.ExitError()
	if exitErr != nil {
		s.lastErr = fmt.Errorf("worker crashed: %w", exitErr)
	} else {
		s.lastErr = fmt.Errorf("worker exited unexpectedly")
	}
	s.log.Warn("worker exited, scheduling restart", zap.Error(s.lastErr))

	s.scheduleRestartLocked()
}

// scheduleRestartLocked arms the backoff timer for the next restart
// attempt. Caller holds the mutex.
func (s *Supervisor) scheduleRestartLocked() {
	s.attempts++
	if s.attempts > s.cfg.MaxAttempts {
		s.lastErr = fmt.Errorf("giving up after %d restart attempts: %w", s.cfg.MaxAttempts, s.lastErr)
		s.log.Error("worker restart attempts exhausted", zap.Error(s.lastErr))
		return
	}

	delay := BackoffDelay(s.attempts, s.cfg.BackoffBase, s.cfg.BackoffCap)
	s.restartPending = true
	s.restartTimer = s.sched.AfterFunc(delay, s.restartFire)

	s.log.Info("worker restart scheduled",
		zap.Duration("delay", delay),
		zap.Int("attempt", s.attempts))
}

// restartFire runs when the backoff timer elapses.
func (s *Supervisor) restartFire() {
	s.mu.Lock()
	s.restartPending = false
	s.restartTimer = nil
	if s.intentionalStop || s.child != nil || s.starting {
		s.mu.Unlock()
		return
	}
	s.starting = true
	port := s.port
	s.mu.Unlock()

	err := s.launch(port)

	s.mu.Lock()
	s.starting = false
	if err != nil && !s.intentionalStop {
		s.scheduleRestartLocked()
	}
	s.mu.Unlock()
}

// Stop shuts the worker down deliberately: no restart follows. It asks
// the child to exit gracefully and falls back to a kill after the grace
// window. Stop always returns, even if the child is already gone.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	s.intentionalStop = true
	s.cancelRestartLocked()
	child := s.child
	s.mu.Unlock()

	if child == nil {
		return nil
	}

	child.Terminate()
	select {
	case <-child.Done():
	case <-time.After(s.cfg.GracePeriod):
		s.log.Warn("worker did not exit in grace period, killing",
			zap.Int("pid", child.PID()))
		child.Kill()
		select {
		case <-child.Done():
		case <-time.After(s.cfg.GracePeriod):
		}
	}

	s.mu.Lock()
	if s.child == child {
		s.child = nil
	}
	s.mu.Unlock()

	s.log.Info("worker stopped")
	return nil
}

// Status reports the supervisor's current state. Pure read.
func (s *Supervisor) Status() model.WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := model.WorkerStatus{
		Running:        s.child != nil,
		RestartPending: s.restartPending,
		Attempts:       s.attempts,
	}
	if s.child != nil {
		st.Port = s.port
		st.PID = s.child.PID()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Supervisor) cancelRestartLocked() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	s.restartPending = false
}

func (s *Supervisor) setLastError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// BackoffDelay computes the restart delay for the given attempt number
// (1-based): base doubled per attempt, capped at ceiling.
func BackoffDelay(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}

// checkPortFree verifies the port can be bound, binding and immediately
// releasing a listener. Failing fast here beats launching a child that
// is doomed to lose the bind race it cannot win.
func checkPortFree(port int) error {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("%w: %d", model.ErrPortInUse, port)
	}
	return l.Close()
}
