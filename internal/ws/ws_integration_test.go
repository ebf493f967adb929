package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/terminal-relay/backend/internal/logging"
	"github.com/terminal-relay/backend/internal/model"
	"github.com/terminal-relay/backend/internal/pty"
	"github.com/terminal-relay/backend/internal/session"
)

// TestHubClientManagement tests Hub client registration and broadcast
func TestHubClientManagement(t *testing.T) {
	hub := NewHub("test-session-1")
	defer hub.Close()

	client1 := NewClient(hub, nil, "test-session-1")
	client2 := NewClient(hub, nil, "test-session-1")

	hub.Register(client1)
	hub.Register(client2)

	if hub.ClientCount() != 2 {
		t.Errorf("expected 2 clients, got %d", hub.ClientCount())
	}

	// Test broadcast
	testData := []byte("test broadcast message")
	hub.Broadcast(testData)

	// Verify both clients received the message
	received1 := receiveWithTimeoutTest(t, client1, 100*time.Millisecond)
	received2 := receiveWithTimeoutTest(t, client2, 100*time.Millisecond)

	if string(received1) != string(testData) {
		t.Errorf("client1 received wrong data: %s", received1)
	}
	if string(received2) != string(testData) {
		t.Errorf("client2 received wrong data: %s", received2)
	}

	// Test unregister
	hub.Unregister(client1)
	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client after unregister, got %d", hub.ClientCount())
	}
}

// TestMessageSerialization tests WebSocket message JSON handling
func TestMessageSerialization(t *testing.T) {
	// Test stdin message
	stdinMsg := Message{
		Type: MessageTypeStdin,
		Data: "ls -la\n",
	}

	data, err := json.Marshal(stdinMsg)
	if err != nil {
		t.Fatalf("failed to marshal stdin message: %v", err)
	}

	var parsed Message
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal stdin message: %v", err)
	}

	if parsed.Type != MessageTypeStdin || parsed.Data != stdinMsg.Data {
		t.Errorf("stdin message mismatch: got type=%s data=%s", parsed.Type, parsed.Data)
	}

	// Test resize message
	resizeMsg := Message{
		Type: MessageTypeResize,
		Rows: 40,
		Cols: 120,
	}

	data, err = json.Marshal(resizeMsg)
	if err != nil {
		t.Fatalf("failed to marshal resize message: %v", err)
	}

	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal resize message: %v", err)
	}

	if parsed.Type != MessageTypeResize || parsed.Rows != 40 || parsed.Cols != 120 {
		t.Errorf("resize message mismatch: got type=%s rows=%d cols=%d", parsed.Type, parsed.Rows, parsed.Cols)
	}

	// Test exit message with exit code
	exitCode := 0
	exitMsg := Message{
		Type: MessageTypeExit,
		Code: &exitCode,
	}

	data, err = json.Marshal(exitMsg)
	if err != nil {
		t.Fatalf("failed to marshal exit message: %v", err)
	}

	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal exit message: %v", err)
	}

	if parsed.Type != MessageTypeExit || parsed.Code == nil || *parsed.Code != 0 {
		t.Errorf("exit message mismatch")
	}
}

// TestANSIPassthrough tests that ANSI sequences are preserved
func TestANSIPassthrough(t *testing.T) {
	ansiSequences := []string{
		"\x1b[31mRed Text\x1b[0m",
		"\x1b[1;32mBold Green\x1b[0m",
		"\x1b[H\x1b[2J", // Clear screen
		"\x1b[?25h",     // Show cursor
		"\x1b[38;5;196mExtended Color\x1b[0m",
	}

	for _, seq := range ansiSequences {
		msg := Message{
			Type: MessageTypeOutput,
			Data: seq,
		}

		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("failed to marshal ANSI message: %v", err)
		}

		var parsed Message
		if err := json.Unmarshal(data, &parsed); err != nil {
			t.Fatalf("failed to unmarshal ANSI message: %v", err)
		}

		if parsed.Data != seq {
			t.Errorf("ANSI sequence not preserved: expected %q, got %q", seq, parsed.Data)
		}
	}
}

// TestSessionKeepalive tests that Hub persists after client disconnect
func TestSessionKeepalive(t *testing.T) {
	hub := NewHub("keepalive-session")

	// Track if onClose was called
	onCloseCalled := false
	hub.SetOnClose(func() {
		onCloseCalled = true
	})

	// Register and unregister a client
	client := NewClient(hub, nil, "keepalive-session")
	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client, got %d", hub.ClientCount())
	}

	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients after unregister, got %d", hub.ClientCount())
	}

	// onClose should have been called
	if !onCloseCalled {
		t.Error("onClose callback was not called")
	}
}

// TestMultipleClientsBroadcast tests broadcast to multiple clients
func TestMultipleClientsBroadcast(t *testing.T) {
	hub := NewHub("multi-client-session")
	defer hub.Close()

	numClients := 5
	clients := make([]*Client, numClients)

	for i := 0; i < numClients; i++ {
		clients[i] = NewClient(hub, nil, "multi-client-session")
		hub.Register(clients[i])
	}

	if hub.ClientCount() != numClients {
		t.Errorf("expected %d clients, got %d", numClients, hub.ClientCount())
	}

	// Broadcast a message
	msg := &Message{
		Type: MessageTypeOutput,
		Data: "broadcast test data",
	}
	if err := hub.BroadcastMessage(msg); err != nil {
		t.Fatalf("failed to broadcast message: %v", err)
	}

	// Verify all clients received the message
	for i, client := range clients {
		received := receiveWithTimeoutTest(t, client, 100*time.Millisecond)
		if received == nil {
			t.Errorf("client %d did not receive message", i)
			continue
		}

		var parsed Message
		if err := json.Unmarshal(received, &parsed); err != nil {
			t.Errorf("client %d received invalid JSON: %v", i, err)
			continue
		}

		if parsed.Type != MessageTypeOutput || parsed.Data != "broadcast test data" {
			t.Errorf("client %d received wrong message: type=%s data=%s", i, parsed.Type, parsed.Data)
		}
	}
}

// wsFakeTerm is a minimal terminal for wiring a registry in ws tests.
type wsFakeTerm struct {
	mu     sync.Mutex
	writes []byte
	rows   uint16
	cols   uint16
}

func (f *wsFakeTerm) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, data...)
	return nil
}

func (f *wsFakeTerm) Resize(rows, cols uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows, f.cols = rows, cols
	return nil
}

func (f *wsFakeTerm) Close() error { return nil }

func (f *wsFakeTerm) Subscribe() (<-chan []byte, func()) {
	return make(chan []byte), func() {}
}

func (f *wsFakeTerm) SetOutput(fn func(data []byte)) {}

func (f *wsFakeTerm) PID() int { return 1 }

func (f *wsFakeTerm) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.writes)
}

// TestServiceIntegration tests that session events reach hub clients
// and that stdin/resize messages reach the session.
func TestServiceIntegration(t *testing.T) {
	term := &wsFakeTerm{}
	log := logging.NewNop()

	registry := session.NewRegistry(
		func(opts pty.SpawnOptions) (session.Terminal, error) { return term, nil },
		nil, nil, log,
		session.Config{Platform: pty.ResolvePlatform()},
	)

	wsService := NewService(registry, log)
	defer wsService.Close()

	sess, err := registry.Create(context.Background(), &model.CreateSessionRequest{
		Cols: 80, Rows: 24,
	})
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	hub := wsService.HubManager().GetOrCreate(sess.ID)
	client := NewClient(hub, nil, sess.ID)
	hub.Register(client)

	// Output events are broadcast to the client as output messages.
	wsService.Output(sess.ID, []byte("echo from pty"))

	received := receiveWithTimeoutTest(t, client, 100*time.Millisecond)
	if received == nil {
		t.Fatal("client did not receive output message")
	}
	var parsed Message
	if err := json.Unmarshal(received, &parsed); err != nil {
		t.Fatalf("invalid output message: %v", err)
	}
	if parsed.Type != MessageTypeOutput || !strings.Contains(parsed.Data, "echo from pty") {
		t.Errorf("unexpected output message: type=%s data=%q", parsed.Type, parsed.Data)
	}

	// Stdin messages from clients land on the session's terminal.
	wsService.Handler().handleMessage(client, &Message{Type: MessageTypeStdin, Data: "ls\r"})
	if got := term.written(); got != "ls\r" {
		t.Errorf("expected stdin to reach terminal, got %q", got)
	}

	// Resize messages are applied.
	wsService.Handler().handleMessage(client, &Message{Type: MessageTypeResize, Rows: 40, Cols: 120})
	term.mu.Lock()
	rows, cols := term.rows, term.cols
	term.mu.Unlock()
	if rows != 40 || cols != 120 {
		t.Errorf("expected resize 40x120, got %dx%d", rows, cols)
	}

	// Exit events are broadcast and tear the hub down.
	wsService.Exit(sess.ID, 0)

	received = receiveWithTimeoutTest(t, client, 100*time.Millisecond)
	if received == nil {
		t.Fatal("client did not receive exit message")
	}
	if err := json.Unmarshal(received, &parsed); err != nil {
		t.Fatalf("invalid exit message: %v", err)
	}
	if parsed.Type != MessageTypeExit || parsed.Code == nil || *parsed.Code != 0 {
		t.Errorf("unexpected exit message: %+v", parsed)
	}
	if wsService.HubManager().Get(sess.ID) != nil {
		t.Error("hub should be removed after exit")
	}
}

// TestServicePing tests the ping/pong keepalive exchange.
func TestServicePing(t *testing.T) {
	term := &wsFakeTerm{}
	log := logging.NewNop()

	registry := session.NewRegistry(
		func(opts pty.SpawnOptions) (session.Terminal, error) { return term, nil },
		nil, nil, log,
		session.Config{Platform: pty.ResolvePlatform()},
	)
	wsService := NewService(registry, log)
	defer wsService.Close()

	hub := wsService.HubManager().GetOrCreate("ping-session")
	client := NewClient(hub, nil, "ping-session")
	hub.Register(client)

	wsService.Handler().handleMessage(client, &Message{Type: MessageTypePing})

	received := receiveWithTimeoutTest(t, client, 100*time.Millisecond)
	if received == nil {
		t.Fatal("client did not receive pong")
	}
	var parsed Message
	if err := json.Unmarshal(received, &parsed); err != nil {
		t.Fatalf("invalid pong message: %v", err)
	}
	if parsed.Type != MessageTypePong {
		t.Errorf("expected pong, got %s", parsed.Type)
	}
}

// Helper function
func receiveWithTimeoutTest(t *testing.T, client *Client, timeout time.Duration) []byte {
	t.Helper()
	select {
	case data := <-client.SendChan():
		return data
	case <-time.After(timeout):
		return nil
	}
}
