package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/jobby-messaging/internal/dto"
)

type socketServer struct {
	url      string
	received chan dto.Envelope
	push     chan dto.Envelope
	request  chan *http.Request
}

func newSocketServer(t *testing.T) *socketServer {
	t.Helper()

	server := &socketServer{
		received: make(chan dto.Envelope, 16),
		push:     make(chan dto.Envelope, 16),
		request:  make(chan *http.Request, 1),
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		server.request <- r
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for envelope := range server.push {
				if err := conn.WriteJSON(envelope); err != nil {
					return
				}
			}
		}()

		for {
			var envelope dto.Envelope
			if err := conn.ReadJSON(&envelope); err != nil {
				return
			}
			server.received <- envelope
		}
	}))
	t.Cleanup(httpServer.Close)

	server.url = "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
	return server
}

func TestWebsocketDialerAuthenticatesAndExchangesFrames(t *testing.T) {
	server := newSocketServer(t)
	dialer := NewWebsocketDialer(server.url, time.Minute, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := dialer.Dial(ctx, Identity{UserID: "alice", Token: "tok"})
	require.NoError(t, err)
	defer conn.Close()

	request := <-server.request
	require.Equal(t, "alice", request.URL.Query().Get("userId"))
	require.Equal(t, "Bearer tok", request.Header.Get("Authorization"))

	require.NoError(t, conn.Emit(ctx, dto.EventJoinConversation, "c1"))
	select {
	case envelope := <-server.received:
		require.Equal(t, dto.EventJoinConversation, envelope.Event)
		require.JSONEq(t, `"c1"`, string(envelope.Data))
	case <-time.After(time.Second):
		t.Fatal("server did not receive emitted frame")
	}

	server.push <- dto.Envelope{Event: dto.EventUserOnline, Data: json.RawMessage(`{"userId":"bob","userName":"Bob"}`)}
	select {
	case event := <-conn.Events():
		require.Equal(t, dto.EventUserOnline, event.Name)
		require.JSONEq(t, `{"userId":"bob","userName":"Bob"}`, string(event.Data))
	case <-time.After(time.Second):
		t.Fatal("client did not receive pushed frame")
	}
}

func TestWebsocketConnCloseEndsEvents(t *testing.T) {
	server := newSocketServer(t)
	dialer := NewWebsocketDialer(server.url, 0, zerolog.Nop())

	conn, err := dialer.Dial(context.Background(), Identity{UserID: "alice"})
	require.NoError(t, err)
	<-server.request

	require.NoError(t, conn.Close())
	require.ErrorIs(t, conn.Emit(context.Background(), dto.EventTyping, nil), ErrClosed)

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-conn.Events():
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestWebsocketDialFailureReportsError(t *testing.T) {
	dialer := NewWebsocketDialer("ws://127.0.0.1:1/ws", 0, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := dialer.Dial(ctx, Identity{UserID: "alice"})
	require.Error(t, err)
}
