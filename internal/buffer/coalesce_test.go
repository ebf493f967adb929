package buffer

import (
	"bytes"
	"testing"
	"time"

	"github.com/terminal-relay/backend/internal/clock"
)

func TestCoalescer_DebounceMergesChunks(t *testing.T) {
	sched := clock.NewFake()

	var flushed [][]byte
	c := NewCoalescer(sched, 40*time.Millisecond, func(p []byte) {
		flushed = append(flushed, p)
	})

	c.Push([]byte("hel"))
	sched.Advance(20 * time.Millisecond)
	c.Push([]byte("lo"))

	if len(flushed) != 0 {
		t.Fatalf("expected no flush before the quiet window, got %d", len(flushed))
	}

	sched.Advance(40 * time.Millisecond)

	if len(flushed) != 1 {
		t.Fatalf("expected one coalesced flush, got %d", len(flushed))
	}
	if !bytes.Equal(flushed[0], []byte("hello")) {
		t.Errorf("expected 'hello', got %q", flushed[0])
	}
}

func TestCoalescer_PushRestartsTimer(t *testing.T) {
	sched := clock.NewFake()

	var flushes int
	c := NewCoalescer(sched, 40*time.Millisecond, func([]byte) { flushes++ })

	// Keep pushing within the window: the timer must keep resetting.
	for i := 0; i < 5; i++ {
		c.Push([]byte("x"))
		sched.Advance(30 * time.Millisecond)
	}
	if flushes != 0 {
		t.Fatalf("expected no flush while pushes keep arriving, got %d", flushes)
	}

	sched.Advance(40 * time.Millisecond)
	if flushes != 1 {
		t.Fatalf("expected exactly one flush after quiet, got %d", flushes)
	}
}

func TestCoalescer_FlushEmitsImmediately(t *testing.T) {
	sched := clock.NewFake()

	var got []byte
	c := NewCoalescer(sched, 40*time.Millisecond, func(p []byte) { got = p })

	c.Push([]byte("pending"))
	c.Flush()

	if !bytes.Equal(got, []byte("pending")) {
		t.Errorf("expected immediate flush of pending data, got %q", got)
	}
	if sched.Pending() != 0 {
		t.Errorf("expected no dangling timers after Flush, got %d", sched.Pending())
	}

	// Flushing an empty buffer must not emit.
	got = nil
	c.Flush()
	if got != nil {
		t.Error("expected no emit for empty flush")
	}
}

func TestCoalescer_EmptyPushIgnored(t *testing.T) {
	sched := clock.NewFake()
	c := NewCoalescer(sched, 40*time.Millisecond, func([]byte) {
		t.Error("unexpected emit")
	})

	c.Push(nil)
	sched.Advance(time.Second)

	if c.Len() != 0 {
		t.Errorf("expected empty coalescer, got %d bytes", c.Len())
	}
}
