package pty

import (
	"fmt"
	"io"
	"sync"

	"github.com/terminal-relay/backend/internal/recorder"
)

const (
	// DefaultReadBufferSize is the buffer size for reading PTY output.
	DefaultReadBufferSize = 4096

	// tapBufferSize is the channel depth for raw-output subscribers.
	// A slow subscriber gets chunks dropped rather than stalling the
	// read loop.
	tapBufferSize = 256
)

// PTYProcess represents a running PTY process with associated resources.
//
// Output is distributed two ways: a single output callback (the display
// path, set by the session registry and pointed at the output router),
// and any number of raw taps. Taps see the unfiltered stream in arrival
// order; the capture protocol relies on that to find its completion
// marker regardless of what the display path buffers or strips.
type PTYProcess struct {
	ID       string
	Process  *Process
	Recorder *recorder.Cast

	// ExitCallback is called once when the process exits.
	ExitCallback func(exitCode int, err error)

	mu       sync.RWMutex
	output   func(data []byte)
	pending  [][]byte
	taps     map[int]chan []byte
	nextTap  int
	closed   bool
	closedCh chan struct{}
}

// SetOutput sets the display-path callback invoked for every chunk of
// PTY output. Chunks read before the callback is installed are held
// back and replayed through it here, in arrival order: a shell prints
// its first prompt immediately, and losing it would leave a freshly
// attached client with a blank terminal.
func (p *PTYProcess) SetOutput(fn func(data []byte)) {
	p.mu.Lock()
	p.output = fn
	if fn != nil {
		pending := p.pending
		p.pending = nil
		for _, chunk := range pending {
			fn(chunk)
		}
	}
	p.mu.Unlock()
}

// Subscribe attaches a raw tap to the output stream. The returned cancel
// function detaches the tap and closes its channel. At most one capture
// run holds a tap per session at a time; that is enforced by the caller,
// not here.
func (p *PTYProcess) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, tapBufferSize)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := p.nextTap
	p.nextTap++
	p.taps[id] = ch
	p.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			if tap, ok := p.taps[id]; ok {
				delete(p.taps, id)
				close(tap)
			}
			p.mu.Unlock()
		})
	}
	return ch, cancel
}

// readLoop reads output from the PTY and distributes it.
func (p *PTYProcess) readLoop() {
	buf := make([]byte, DefaultReadBufferSize)

	for {
		n, err := p.Process.PTY.Read(buf)
		if err != nil {
			if err != io.EOF {
				// Read errors after close are expected; nothing to do.
			}
			return
		}
		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		if p.Recorder != nil {
			p.Recorder.WriteOutput(data)
		}

		p.mu.Lock()
		output := p.output
		if output == nil {
			p.pending = append(p.pending, data)
		}
		for _, tap := range p.taps {
			select {
			case tap <- data:
			default:
				// Tap full: drop rather than block the read loop.
			}
		}
		p.mu.Unlock()

		if output != nil {
			output(data)
		}
	}
}

// waitLoop waits for the process to exit and runs cleanup.
func (p *PTYProcess) waitLoop() {
	exitCode, err := p.Process.Wait()

	if p.ExitCallback != nil {
		p.ExitCallback(exitCode, err)
	}
	p.Close()
}

// Write writes data to the PTY input.
func (p *PTYProcess) Write(data []byte) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("process is closed")
	}
	p.mu.RUnlock()

	if _, err := p.Process.PTY.Write(data); err != nil {
		return fmt.Errorf("failed to write to PTY: %w", err)
	}
	if p.Recorder != nil {
		p.Recorder.WriteInput(data)
	}
	return nil
}

// Interrupt sends Ctrl+C to the foreground process group.
func (p *PTYProcess) Interrupt() error {
	return p.Write([]byte(KeyCtrlC))
}

// Resize changes the PTY window size.
func (p *PTYProcess) Resize(rows, cols uint16) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("process is closed")
	}
	p.mu.RUnlock()

	return p.Process.PTY.Resize(rows, cols)
}

// Close kills the process and releases resources. Idempotent.
func (p *PTYProcess) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closedCh)
	for id, tap := range p.taps {
		delete(p.taps, id)
		close(tap)
	}
	p.mu.Unlock()

	var firstErr error
	if err := p.Process.Kill(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := p.Process.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if p.Recorder != nil {
		if err := p.Recorder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsClosed returns true if the process has been closed.
func (p *PTYProcess) IsClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// ClosedChan returns a channel that is closed when the process exits.
func (p *PTYProcess) ClosedChan() <-chan struct{} {
	return p.closedCh
}

// PID returns the process ID.
func (p *PTYProcess) PID() int {
	return p.Process.PID()
}
