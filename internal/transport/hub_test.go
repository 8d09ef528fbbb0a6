// ABOUTME: Tests for the websocket hub
// ABOUTME: Validates frame handling in both directions and connection bookkeeping

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu     sync.Mutex
	texts  []string
	voices [][]byte
	got    chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{got: make(chan struct{}, 16)}
}

func (r *recordingHandler) HandleText(_ context.Context, _ string, text string) error {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	r.mu.Unlock()
	r.got <- struct{}{}
	return nil
}

func (r *recordingHandler) HandleVoice(_ context.Context, _ string, ulaw []byte) error {
	r.mu.Lock()
	r.voices = append(r.voices, ulaw)
	r.mu.Unlock()
	r.got <- struct{}{}
	return nil
}

func (r *recordingHandler) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.got:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for inbound message")
	}
}

func dial(t *testing.T, srv *httptest.Server, convID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?conversation=" + convID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newTestHub(t *testing.T) (*Hub, *recordingHandler, *httptest.Server) {
	t.Helper()
	handler := newRecordingHandler()
	hub := NewHub(handler)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return hub, handler, srv
}

func TestHub_InboundTextFrame(t *testing.T) {
	_, handler, srv := newTestHub(t)
	conn := dial(t, srv, "conv")

	payload, _ := json.Marshal(frame{Type: "text", Data: "hello"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
	handler.wait(t)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, []string{"hello"}, handler.texts)
}

func TestHub_InboundPlainTextAccepted(t *testing.T) {
	_, handler, srv := newTestHub(t)
	conn := dial(t, srv, "conv")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("just words")))
	handler.wait(t)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, []string{"just words"}, handler.texts)
}

func TestHub_InboundBinaryIsVoice(t *testing.T) {
	_, handler, srv := newTestHub(t)
	conn := dial(t, srv, "conv")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x7f, 0x80, 0x7f}))
	handler.wait(t)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.Len(t, handler.voices, 1)
	assert.Equal(t, []byte{0x7f, 0x80, 0x7f}, handler.voices[0])
	assert.Empty(t, handler.texts)
}

func TestHub_SendTextReachesConnection(t *testing.T) {
	hub, _, srv := newTestHub(t)
	conn := dial(t, srv, "conv")

	// Connection registration races the dial; retry until the hub sees it
	require.Eventually(t, func() bool {
		return hub.SendText(context.Background(), "conv", "reply") == nil
	}, 5*time.Second, 10*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var f frame
	require.NoError(t, json.Unmarshal(msg, &f))
	assert.Equal(t, "text", f.Type)
	assert.Equal(t, "reply", f.Data)
}

func TestHub_SendVoiceSendsHeaderThenBinary(t *testing.T) {
	hub, _, srv := newTestHub(t)
	conn := dial(t, srv, "conv")

	audio := []byte("wav-bytes")
	require.Eventually(t, func() bool {
		return hub.SendVoice(context.Background(), "conv", audio) == nil
	}, 5*time.Second, 10*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)
	var header frame
	require.NoError(t, json.Unmarshal(msg, &header))
	assert.Equal(t, "audio", header.Type)
	assert.Equal(t, len(audio), header.Size)

	msgType, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.Equal(t, audio, msg)
}

func TestHub_SendToDisconnectedConversation(t *testing.T) {
	hub, _, _ := newTestHub(t)

	err := hub.SendText(context.Background(), "nobody", "hello?")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestHub_MissingConversationRejected(t *testing.T) {
	_, _, srv := newTestHub(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
