// ABOUTME: WebSocket hub: tracks live connections per conversation
// ABOUTME: Inbound frames feed the ingest handler, outbound delivery fans out to connections

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned when delivery is attempted for a conversation
// with no live connection. The caller decides whether that matters; pipeline
// results are durable in the store either way.
var ErrNotConnected = errors.New("no live connection for conversation")

// MessageHandler receives everything a connection sends us.
type MessageHandler interface {
	HandleText(ctx context.Context, convID, text string) error
	HandleVoice(ctx context.Context, convID string, ulaw []byte) error
}

// frame is the JSON envelope for text-typed websocket messages. Binary
// messages carry raw audio and need no envelope.
type frame struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Size int    `json:"size,omitempty"`
}

// client is one websocket connection. gorilla permits a single concurrent
// writer, so all writes go through mu.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeJSON(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// writeAudio sends a JSON header describing the payload, then the payload
// itself as a binary frame.
func (c *client) writeAudio(audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	header, err := json.Marshal(frame{Type: "audio", Size: len(audio)})
	if err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, header); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, audio)
}

// Hub accepts websocket upgrades and fans deliveries out to every live
// connection of a conversation.
type Hub struct {
	handler  MessageHandler
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

// NewHub creates a Hub that forwards inbound messages to handler.
func NewHub(handler MessageHandler) *Hub {
	return &Hub{
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  slog.Default().With("component", "transport"),
		clients: make(map[string]map[*client]struct{}),
	}
}

// ServeWS upgrades the request and runs the connection's read loop until the
// peer disconnects. The conversation ID comes from the "conversation" query
// parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	convID := r.URL.Query().Get("conversation")
	if convID == "" {
		http.Error(w, "missing conversation parameter", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "conversation_id", convID, "error", err)
		return
	}

	c := &client{conn: conn}
	h.add(convID, c)
	h.logger.Info("connection opened", "conversation_id", convID)

	defer func() {
		h.remove(convID, c)
		conn.Close()
		h.logger.Info("connection closed", "conversation_id", convID)
	}()

	h.readLoop(r.Context(), convID, c)
}

func (h *Hub) add(convID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[convID] == nil {
		h.clients[convID] = make(map[*client]struct{})
	}
	h.clients[convID][c] = struct{}{}
}

func (h *Hub) remove(convID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[convID], c)
	if len(h.clients[convID]) == 0 {
		delete(h.clients, convID)
	}
}

func (h *Hub) readLoop(ctx context.Context, convID string, c *client) {
	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("read failed", "conversation_id", convID, "error", err)
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			h.handleTextFrame(ctx, convID, c, msg)
		case websocket.BinaryMessage:
			// Binary frames are u-law voice notes
			if err := h.handler.HandleVoice(ctx, convID, msg); err != nil {
				h.logger.Warn("voice note rejected", "conversation_id", convID, "error", err)
				h.sendError(c, "could not process voice note")
			}
		}
	}
}

func (h *Hub) handleTextFrame(ctx context.Context, convID string, c *client, msg []byte) {
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		// Plain text is accepted as a bare message
		f = frame{Type: "text", Data: string(msg)}
	}
	if f.Type != "text" {
		h.sendError(c, "unsupported frame type: "+f.Type)
		return
	}

	if err := h.handler.HandleText(ctx, convID, f.Data); err != nil {
		h.logger.Warn("text message rejected", "conversation_id", convID, "error", err)
		h.sendError(c, "could not process message")
	}
}

func (h *Hub) sendError(c *client, detail string) {
	if err := c.writeJSON(frame{Type: "error", Data: detail}); err != nil {
		h.logger.Warn("error frame delivery failed", "error", err)
	}
}

// SendText delivers a text message to every live connection of the
// conversation.
func (h *Hub) SendText(_ context.Context, convID, text string) error {
	return h.broadcast(convID, func(c *client) error {
		return c.writeJSON(frame{Type: "text", Data: text})
	})
}

// SendVoice delivers synthesized audio to every live connection of the
// conversation.
func (h *Hub) SendVoice(_ context.Context, convID string, audio []byte) error {
	return h.broadcast(convID, func(c *client) error {
		return c.writeAudio(audio)
	})
}

func (h *Hub) broadcast(convID string, send func(*client) error) error {
	h.mu.RLock()
	conns := make([]*client, 0, len(h.clients[convID]))
	for c := range h.clients[convID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("%w: %s", ErrNotConnected, convID)
	}

	var lastErr error
	for _, c := range conns {
		if err := send(c); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
