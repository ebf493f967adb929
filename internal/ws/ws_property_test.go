package ws

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/terminal-relay/backend/internal/buffer"
)

// **Feature: terminal-relay, Property: WebSocket 双向通信**
// *对于任何*通过 WebSocket 发送的 stdin 数据，会话进程应接收到相同的数据；
// *对于任何*会话产生的输出数据，WebSocket 客户端应接收到相同的数据。
func TestWebSocketBidirectionalCommunicationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// Test that stdin messages are correctly parsed and data is preserved
	properties.Property("stdin messages preserve data integrity", prop.ForAll(
		func(data string) bool {
			msg := Message{
				Type: MessageTypeStdin,
				Data: data,
			}

			jsonData, err := json.Marshal(msg)
			if err != nil {
				return false
			}

			var parsed Message
			if err := json.Unmarshal(jsonData, &parsed); err != nil {
				return false
			}

			return parsed.Type == MessageTypeStdin && parsed.Data == data
		},
		gen.AnyString(),
	))

	// Test that output messages preserve data integrity
	properties.Property("output messages preserve data integrity", prop.ForAll(
		func(data string) bool {
			msg := Message{
				Type: MessageTypeOutput,
				Data: data,
			}

			jsonData, err := json.Marshal(msg)
			if err != nil {
				return false
			}

			var parsed Message
			if err := json.Unmarshal(jsonData, &parsed); err != nil {
				return false
			}

			return parsed.Type == MessageTypeOutput && parsed.Data == data
		},
		gen.AnyString(),
	))

	// Test hub broadcast delivers to all clients
	properties.Property("hub broadcast delivers messages to all registered clients", prop.ForAll(
		func(numClients int, data string) bool {
			if numClients <= 0 || numClients > 10 {
				numClients = 1
			}

			hub := NewHub("test-session")
			defer hub.Close()

			var wg sync.WaitGroup
			received := make([]string, numClients)
			clients := make([]*mockClient, numClients)

			for i := 0; i < numClients; i++ {
				mc := newMockClient(hub, "test-session")
				clients[i] = mc
				hub.Register(mc.client)

				idx := i
				wg.Add(1)
				go func() {
					defer wg.Done()
					select {
					case msg := <-mc.client.SendChan():
						received[idx] = string(msg)
					case <-time.After(100 * time.Millisecond):
						received[idx] = ""
					}
				}()
			}

			hub.Broadcast([]byte(data))
			wg.Wait()

			for i := 0; i < numClients; i++ {
				if received[i] != data {
					return false
				}
			}

			return true
		},
		gen.IntRange(1, 10),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// **Feature: terminal-relay, Property: ANSI 序列透传**
// *对于任何*包含 ANSI 转义序列的会话输出，传输到 WebSocket 客户端的数据
// 应与原始输出字节完全相同。
func TestANSISequencePassthroughProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// Generator for ANSI escape sequences
	ansiSequenceGen := gen.OneConstOf(
		"\x1b[31m",       // Red text
		"\x1b[32m",       // Green text
		"\x1b[0m",        // Reset
		"\x1b[1m",        // Bold
		"\x1b[4m",        // Underline
		"\x1b[H",         // Cursor home
		"\x1b[2J",        // Clear screen
		"\x1b[K",         // Clear line
		"\x1b[1;1H",      // Move cursor
		"\x1b[?25h",      // Show cursor
		"\x1b[?25l",      // Hide cursor
		"\x1b[38;5;196m", // 256-color red
	)

	// Test that ANSI sequences are preserved in output messages
	properties.Property("ANSI sequences are preserved in output messages", prop.ForAll(
		func(prefix, ansi, suffix string) bool {
			data := prefix + ansi + suffix

			msg := Message{
				Type: MessageTypeOutput,
				Data: data,
			}

			jsonData, err := json.Marshal(msg)
			if err != nil {
				return false
			}

			var parsed Message
			if err := json.Unmarshal(jsonData, &parsed); err != nil {
				return false
			}

			return parsed.Data == data
		},
		gen.AnyString(),
		ansiSequenceGen,
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// **Feature: terminal-relay, Property: 会话保活与热恢复**
// *对于任何*活跃会话，当 WebSocket 断开后：(1) 会话进程应继续运行，
// (2) 输出应被缓存到历史缓冲区，(3) 重新连接时应立即收到缓存的历史数据。
func TestSessionKeepaliveAndHotRestoreProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// Test that the history buffer preserves recent data for hot restore
	properties.Property("history buffer preserves a suffix of the output", prop.ForAll(
		func(chunks [][]byte) bool {
			if len(chunks) == 0 {
				return true
			}

			const max = 64 * 1024
			hist := buffer.NewHistory(max, max*3/4)

			var totalData []byte
			for _, chunk := range chunks {
				hist.Append(chunk)
				totalData = append(totalData, chunk...)
			}

			history := hist.Bytes()

			if len(history) > max {
				return false
			}

			// Whatever is retained must be a suffix of everything written.
			expectedStart := len(totalData) - len(history)
			for i := range history {
				if history[i] != totalData[expectedStart+i] {
					return false
				}
			}

			return true
		},
		gen.SliceOfN(10, gen.SliceOf(gen.UInt8())),
	))

	// Test that hub continues to exist after all clients disconnect
	properties.Property("hub persists after client disconnection", prop.ForAll(
		func(sessionID string) bool {
			if sessionID == "" {
				sessionID = "test-session"
			}

			manager := NewHubManager()
			defer manager.Close()

			hub := manager.GetOrCreate(sessionID)
			mc := newMockClient(hub, sessionID)
			hub.Register(mc.client)

			if hub.ClientCount() != 1 {
				return false
			}

			hub.Unregister(mc.client)

			// Hub should still exist in manager (for session keepalive)
			existingHub := manager.Get(sessionID)
			if existingHub == nil {
				return false
			}

			if existingHub.ClientCount() != 0 {
				return false
			}

			return true
		},
		gen.AlphaString(),
	))

	// Test that history message is correctly formatted
	properties.Property("history message preserves data", prop.ForAll(
		func(historyData string) bool {
			msg := Message{
				Type: MessageTypeHistory,
				Data: historyData,
			}

			jsonData, err := json.Marshal(msg)
			if err != nil {
				return false
			}

			var parsed Message
			if err := json.Unmarshal(jsonData, &parsed); err != nil {
				return false
			}

			return parsed.Type == MessageTypeHistory && parsed.Data == historyData
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// mockClient is a test helper that wraps a Client without a real WebSocket connection
type mockClient struct {
	client *Client
}

func newMockClient(hub *Hub, sessionID string) *mockClient {
	client := &Client{
		hub:       hub,
		conn:      nil, // No real connection for testing
		sessionID: sessionID,
		send:      make(chan []byte, 256),
	}
	return &mockClient{client: client}
}
