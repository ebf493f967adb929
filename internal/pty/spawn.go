package pty

import (
	"fmt"
	"os"

	"github.com/terminal-relay/backend/internal/recorder"
)

// SpawnOptions contains options for spawning a shell session PTY.
type SpawnOptions struct {
	// ID is the session id the process is spawned for.
	ID string

	// Shell is the shell binary to run. Required.
	Shell string

	// Args are extra arguments for the shell.
	Args []string

	// Workdir is the working directory. A leading ~ is expanded and the
	// directory is created if absent.
	Workdir string

	// Env entries are appended to the inherited process environment.
	Env map[string]string

	// Cols and Rows are the initial terminal dimensions.
	Cols uint16
	Rows uint16

	// CastPath, when set, enables asciinema recording to that file.
	CastPath string

	// OnExit is called once when the process exits on its own or is
	// killed.
	OnExit func(exitCode int, err error)
}

// Spawner creates PTY processes for terminal sessions.
type Spawner struct {
	platform Platform
}

// NewSpawner creates a Spawner using the given platform capability table.
func NewSpawner(platform Platform) *Spawner {
	return &Spawner{platform: platform}
}

// Platform returns the resolved capability table.
func (s *Spawner) Platform() Platform {
	return s.platform
}

// Spawn starts a shell under a fresh PTY and wires up its read and wait
// loops. On failure nothing is left behind: no process, no open cast
// file.
func (s *Spawner) Spawn(opts SpawnOptions) (*PTYProcess, error) {
	if opts.Shell == "" {
		return nil, fmt.Errorf("shell is required")
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if opts.Cols == 0 {
		opts.Cols = 80
	}

	// Inherit the current environment so PATH, HOME etc. survive, then
	// layer the session-specific variables on top.
	env := os.Environ()
	for k, v := range opts.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	workdir, err := expandWorkdir(opts.Workdir)
	if err != nil {
		return nil, err
	}

	var cast *recorder.Cast
	if opts.CastPath != "" {
		c, err := recorder.Create(opts.CastPath, int(opts.Cols), int(opts.Rows))
		if err != nil {
			return nil, fmt.Errorf("failed to create cast recorder: %w", err)
		}
		cast = c
	}

	process, err := Start(StartOptions{
		Command:     opts.Shell,
		Args:        opts.Args,
		Env:         env,
		Dir:         workdir,
		InitialRows: opts.Rows,
		InitialCols: opts.Cols,
	})
	if err != nil {
		if cast != nil {
			cast.Close()
		}
		return nil, fmt.Errorf("failed to start PTY: %w", err)
	}

	p := &PTYProcess{
		ID:           opts.ID,
		Process:      process,
		Recorder:     cast,
		ExitCallback: opts.OnExit,
		taps:         make(map[int]chan []byte),
		closedCh:     make(chan struct{}),
	}

	go p.readLoop()
	go p.waitLoop()

	return p, nil
}

// expandWorkdir expands a leading ~ and creates the directory if needed.
func expandWorkdir(workdir string) (string, error) {
	if workdir == "" {
		return "", nil
	}
	if workdir[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		if len(workdir) == 1 {
			workdir = home
		} else if workdir[1] == '/' {
			workdir = home + workdir[1:]
		}
	}
	if err := os.MkdirAll(workdir, 0755); err != nil {
		return "", fmt.Errorf("failed to create working directory %s: %w", workdir, err)
	}
	return workdir, nil
}
