// Package recorder writes terminal session recordings in asciinema v2
// JSON-lines format, replayable with `asciinema play`.
package recorder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// header is the asciinema v2 file header.
type header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Env       map[string]string `json:"env,omitempty"`
}

// event is a single recording event: [time_offset, type, data].
type event struct {
	offset float64
	kind   string // "o" for output, "i" for input
	data   string
}

func (e event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.offset, e.kind, e.data})
}

// Cast records a terminal session to a writer.
type Cast struct {
	writer    io.Writer
	file      *os.File // set only when the recorder owns the file
	startTime time.Time
	mu        sync.Mutex
}

// Create opens a cast file at path and writes the v2 header for the
// given terminal dimensions.
func Create(path string, cols, rows int) (*Cast, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create cast file: %w", err)
	}

	c := &Cast{writer: file, file: file, startTime: time.Now()}
	if err := c.writeHeader(cols, rows); err != nil {
		file.Close()
		return nil, err
	}
	return c, nil
}

// NewWithWriter creates a Cast recording to w. Used in tests.
func NewWithWriter(w io.Writer, cols, rows int) (*Cast, error) {
	c := &Cast{writer: w, startTime: time.Now()}
	if err := c.writeHeader(cols, rows); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cast) writeHeader(cols, rows int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(header{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: c.startTime.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cast header: %w", err)
	}
	if _, err := c.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write cast header: %w", err)
	}
	return nil
}

// WriteOutput records an output ("o") event.
func (c *Cast) WriteOutput(data []byte) error {
	return c.writeEvent("o", data)
}

// WriteInput records an input ("i") event.
func (c *Cast) WriteInput(data []byte) error {
	return c.writeEvent("i", data)
}

func (c *Cast) writeEvent(kind string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := json.Marshal(event{
		offset: time.Since(c.startTime).Seconds(),
		kind:   kind,
		data:   string(data),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cast event: %w", err)
	}
	if _, err := c.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write cast event: %w", err)
	}
	return nil
}

// Close closes the underlying file if the recorder owns one.
func (c *Cast) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file != nil {
		return c.file.Close()
	}
	return nil
}
