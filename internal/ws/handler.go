package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/terminal-relay/backend/internal/logging"
	"github.com/terminal-relay/backend/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking in production
		return true
	},
}

// Handler handles WebSocket connections for terminal sessions.
type Handler struct {
	hubManager *HubManager
	registry   *session.Registry
	log        *logging.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hubManager *HubManager, registry *session.Registry, log *logging.Logger) *Handler {
	return &Handler{
		hubManager: hubManager,
		registry:   registry,
		log:        log,
	}
}

// HandleConnection handles a new WebSocket connection for a session.
// It upgrades the HTTP connection to WebSocket and manages the
// bidirectional communication. The session process is untouched by
// connects and disconnects: clients come and go, the PTY stays.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, sessionID string) error {
	if !h.registry.Exists(sessionID) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return nil
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	hub := h.hubManager.GetOrCreate(sessionID)
	client := NewClient(hub, conn, sessionID)
	hub.Register(client)

	hub.SetOnMessage(func(c *Client, msg *Message) {
		h.handleMessage(c, msg)
	})

	// Hot restore: replay the buffered history before live output.
	h.sendHistory(client, sessionID)

	go h.writePump(client)
	go h.readPump(client, hub)

	return nil
}

// sendHistory sends the session's buffered output to the client so a
// reconnecting terminal picks up where it left off.
func (h *Handler) sendHistory(client *Client, sessionID string) {
	history, err := h.registry.History(sessionID)
	if err != nil || len(history) == 0 {
		return
	}

	msg := &Message{
		Type: MessageTypeHistory,
		Data: string(history),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("failed to marshal history message", zap.Error(err))
		return
	}

	client.Send(data)
}

// handleMessage processes incoming messages from clients.
func (h *Handler) handleMessage(client *Client, msg *Message) {
	switch msg.Type {
	case MessageTypeStdin:
		h.handleStdin(client, msg)
	case MessageTypeResize:
		h.handleResize(client, msg)
	case MessageTypeHistory:
		// Client-requested replay, e.g. after its terminal was cleared.
		h.sendHistory(client, client.SessionID())
	case MessageTypePing:
		h.handlePing(client)
	}
}

// handleStdin forwards raw input bytes to the session's PTY.
func (h *Handler) handleStdin(client *Client, msg *Message) {
	if msg.Data == "" {
		return
	}
	h.registry.Write(client.SessionID(), []byte(msg.Data))
}

// handleResize handles terminal resize events.
func (h *Handler) handleResize(client *Client, msg *Message) {
	if msg.Rows == 0 || msg.Cols == 0 {
		return
	}
	h.registry.Resize(client.SessionID(), msg.Rows, msg.Cols)
}

// handlePing handles ping messages from the client.
func (h *Handler) handlePing(client *Client) {
	msg := &Message{Type: MessageTypePong}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	client.Send(data)
}

// readPump pumps messages from the WebSocket connection to the hub.
func (h *Handler) readPump(client *Client, hub *Hub) {
	defer func() {
		hub.Unregister(client)
		client.Conn().Close()
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read error", zap.Error(err))
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			h.log.Warn("failed to unmarshal websocket message", zap.Error(err))
			continue
		}

		hub.HandleMessage(client, &msg)
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Send each message in a separate WebSocket frame
			// This ensures JSON.parse() works correctly on the frontend
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Process any queued messages, sending each in its own frame
			n := len(client.SendChan())
			for i := 0; i < n; i++ {
				queuedMsg := <-client.SendChan()
				client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.Conn().WriteMessage(websocket.TextMessage, queuedMsg); err != nil {
					return
				}
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// BroadcastOutput broadcasts terminal output to all connected clients.
// ANSI sequences pass through untouched; rendering is the terminal
// emulator's job, not ours.
func (h *Handler) BroadcastOutput(sessionID string, data []byte) {
	hub := h.hubManager.Get(sessionID)
	if hub == nil {
		return
	}

	hub.BroadcastMessage(&Message{
		Type: MessageTypeOutput,
		Data: string(data),
	})
}

// BroadcastExit notifies all connected clients that the session's
// process exited.
func (h *Handler) BroadcastExit(sessionID string, exitCode int) {
	hub := h.hubManager.Get(sessionID)
	if hub == nil {
		return
	}

	hub.BroadcastMessage(&Message{
		Type: MessageTypeExit,
		Code: &exitCode,
	})
}

// BroadcastError broadcasts an error message to all connected clients.
func (h *Handler) BroadcastError(sessionID string, errMsg string) {
	hub := h.hubManager.Get(sessionID)
	if hub == nil {
		return
	}

	hub.BroadcastMessage(&Message{
		Type:  MessageTypeError,
		Error: errMsg,
	})
}

// SetCheckOrigin sets a custom origin checker for the WebSocket upgrader.
func SetCheckOrigin(fn func(r *http.Request) bool) {
	upgrader.CheckOrigin = fn
}
