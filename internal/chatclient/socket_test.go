package chatclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/rental-chat/internal/chatsync"
	"github.com/suPer8Hu/rental-chat/internal/protocol"
)

type recordingHandler struct {
	connected    chan struct{}
	disconnected chan struct{}
	events       chan protocol.Event
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		connected:    make(chan struct{}, 8),
		disconnected: make(chan struct{}, 8),
		events:       make(chan protocol.Event, 8),
	}
}

func (h *recordingHandler) Connected(context.Context) error {
	h.connected <- struct{}{}
	return nil
}

func (h *recordingHandler) Disconnected() { h.disconnected <- struct{}{} }

func (h *recordingHandler) HandleEvent(_ context.Context, ev protocol.Event) { h.events <- ev }

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting")
	}
	var zero T
	return zero
}

func newWSServer(t *testing.T) (string, <-chan *websocket.Conn) {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conns := make(chan *websocket.Conn, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- c
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws", conns
}

func TestSocket_SendWhileDown(t *testing.T) {
	s := NewSocket("ws://127.0.0.1:1/chat/ws", "tok")
	err := s.Send(context.Background(), protocol.JoinSession{SessionID: "42"})
	assert.ErrorIs(t, err, chatsync.ErrNotConnected)
}

func TestSocket_RoundTripAndReconnect(t *testing.T) {
	url, conns := newWSServer(t)
	h := newRecordingHandler()

	s := NewSocket(url, "tok")
	s.MinBackoff = 10 * time.Millisecond
	s.MaxBackoff = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, h) }()

	wait(t, h.connected)
	server := wait(t, conns)

	require.NoError(t, s.Send(ctx, protocol.JoinSession{SessionID: "42"}))
	_, frame, err := server.ReadMessage()
	require.NoError(t, err)
	ev, err := protocol.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, protocol.JoinSession{SessionID: "42"}, ev)

	// garbage is skipped, the next valid frame is delivered
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte("not json")))
	b, err := protocol.Encode(protocol.AITyping{SessionID: "42", IsTyping: true})
	require.NoError(t, err)
	require.NoError(t, server.WriteMessage(websocket.TextMessage, b))
	assert.Equal(t, protocol.AITyping{SessionID: "42", IsTyping: true}, wait(t, h.events))

	// server drops the connection; the socket reports it and redials
	require.NoError(t, server.Close())
	wait(t, h.disconnected)
	wait(t, h.connected)
	second := wait(t, conns)
	defer second.Close()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	wait(t, h.disconnected)
}
