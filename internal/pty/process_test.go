package pty

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"
)

// chunkPTY is a PTY stub whose reads are fed from a channel.
type chunkPTY struct {
	chunks chan []byte
}

func (p *chunkPTY) Read(b []byte) (int, error) {
	data, ok := <-p.chunks
	if !ok {
		return 0, io.EOF
	}
	return copy(b, data), nil
}

func (p *chunkPTY) Write(b []byte) (int, error)    { return len(b), nil }
func (p *chunkPTY) Close() error                   { return nil }
func (p *chunkPTY) Resize(rows, cols uint16) error { return nil }

func newTestProcess(fake *chunkPTY) *PTYProcess {
	return &PTYProcess{
		Process:  &Process{PTY: fake},
		taps:     make(map[int]chan []byte),
		closedCh: make(chan struct{}),
	}
}

func (p *PTYProcess) pendingLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pending)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestReadLoopBuffersUntilOutputSet(t *testing.T) {
	fake := &chunkPTY{chunks: make(chan []byte, 4)}
	p := newTestProcess(fake)
	go p.readLoop()
	defer close(fake.chunks)

	// The shell's first prompt arrives before anyone is listening.
	fake.chunks <- []byte("$ ")
	waitFor(t, func() bool { return p.pendingLen() == 1 },
		"expected the early chunk to be held back")

	var mu sync.Mutex
	var got []byte
	p.SetOutput(func(data []byte) {
		mu.Lock()
		got = append(got, data...)
		mu.Unlock()
	})

	fake.chunks <- []byte("ready\n")
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return bytes.Equal(got, []byte("$ ready\n"))
	}, "expected held-back output replayed before live output")

	if p.pendingLen() != 0 {
		t.Errorf("expected pending buffer drained, got %d chunks", p.pendingLen())
	}
}

func TestReadLoopFeedsTapsWhileOutputUnset(t *testing.T) {
	fake := &chunkPTY{chunks: make(chan []byte, 4)}
	p := newTestProcess(fake)
	go p.readLoop()
	defer close(fake.chunks)

	tap, cancel := p.Subscribe()
	defer cancel()

	fake.chunks <- []byte("boot")

	select {
	case data := <-tap:
		if !bytes.Equal(data, []byte("boot")) {
			t.Errorf("expected 'boot' on the tap, got %q", data)
		}
	case <-time.After(time.Second):
		t.Fatal("tap did not receive the chunk")
	}
}
