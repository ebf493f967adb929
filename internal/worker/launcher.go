// Package worker supervises a single long-running companion process:
// start with a verified-free port, wait for an explicit ready signal,
// restart with exponential backoff on crashes, stop gracefully on demand.
package worker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/terminal-relay/backend/internal/logging"
)

// ReadyMessage is the structured signal a worker sends on its side
// channel once its own listener is bound. Being spawned is not being
// ready; only this message is.
type ReadyMessage struct {
	Type string `json:"type"`
	Port int    `json:"port"`
}

// Child is a launched worker process.
type Child interface {
	// PID returns the process id.
	PID() int

	// Ready delivers at most one ready message.
	Ready() <-chan ReadyMessage

	// Done is closed when the process has exited.
	Done() <-chan struct{}

	// ExitError describes how the process exited. Valid after Done is
	// closed; nil for a clean exit.
	ExitError() error

	// Terminate asks the process to exit gracefully.
	Terminate() error

	// Kill terminates the process forcefully.
	Kill() error
}

// Launcher starts worker child processes.
type Launcher interface {
	// Launch starts the child at entry with the given extra environment
	// entries appended to the inherited environment.
	Launch(entry string, env []string, args []string) (Child, error)
}

// ExecLauncher launches workers with os/exec, using the child's stdout
// as the side channel: each line is tried as a JSON message, and the
// first {"type":"ready","port":N} line signals readiness. Non-message
// lines and stderr are forwarded to the log.
type ExecLauncher struct {
	log *logging.Logger
}

// NewExecLauncher creates an exec-based launcher.
func NewExecLauncher(log *logging.Logger) *ExecLauncher {
	return &ExecLauncher{log: log}
}

// Launch implements Launcher.
func (l *ExecLauncher) Launch(entry string, env []string, args []string) (Child, error) {
	cmd := exec.Command(entry, args...)
	cmd.Env = append(os.Environ(), env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}

	c := &execChild{
		cmd:   cmd,
		ready: make(chan ReadyMessage, 1),
		done:  make(chan struct{}),
		log:   l.log,
	}

	go c.scanStdout(stdout)
	go c.scanStderr(stderr)
	go c.wait()

	return c, nil
}

type execChild struct {
	cmd   *exec.Cmd
	ready chan ReadyMessage
	done  chan struct{}
	log   *logging.Logger

	readyOnce sync.Once

	mu      sync.Mutex
	exitErr error
}

func (c *execChild) PID() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

func (c *execChild) Ready() <-chan ReadyMessage { return c.ready }

func (c *execChild) Done() <-chan struct{} { return c.done }

func (c *execChild) ExitError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitErr
}

func (c *execChild) Terminate() error {
	if c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Process.Signal(syscall.SIGTERM)
}

func (c *execChild) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Process.Kill()
}

func (c *execChild) scanStdout(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Bytes()

		var msg ReadyMessage
		if err := json.Unmarshal(line, &msg); err == nil && msg.Type == "ready" {
			c.readyOnce.Do(func() {
				c.ready <- msg
			})
			continue
		}
		c.log.Info("worker stdout", zap.ByteString("line", line))
	}
}

func (c *execChild) scanStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		c.log.Warn("worker stderr", zap.ByteString("line", scanner.Bytes()))
	}
}

func (c *execChild) wait() {
	err := c.cmd.Wait()

	c.mu.Lock()
	c.exitErr = err
	c.mu.Unlock()

	close(c.done)
}
