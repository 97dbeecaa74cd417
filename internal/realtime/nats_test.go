package realtime

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNATSSubjects(t *testing.T) {
	require.Equal(t, "jobby.events.typing", EventSubject("", "typing"))
	require.Equal(t, "jobby.dev.events.joinUser", EventSubject("jobby:dev", "joinUser"))
	require.Equal(t, "acme.users.alice", UserSubject(".acme.", "alice"))
}

func TestDecodeNATSEvent(t *testing.T) {
	event, ok := decodeNATSEvent([]byte(`{"event":"newMessage","userId":"bob","data":{"id":"m1"}}`))
	require.True(t, ok)
	require.Equal(t, "newMessage", event.Name)
	require.JSONEq(t, `{"id":"m1"}`, string(event.Data))

	_, ok = decodeNATSEvent([]byte(`{"data":{}}`))
	require.False(t, ok)

	_, ok = decodeNATSEvent([]byte(`not json`))
	require.False(t, ok)
}

// startStubNATSServer speaks just enough of the NATS client protocol to complete a handshake.
// Every connection that finishes the handshake is sent on the returned channel.
func startStubNATSServer(t *testing.T) (string, <-chan net.Conn) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	accepted := make(chan net.Conn, 8)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveStubNATSConn(conn, accepted)
		}
	}()

	return "nats://" + listener.Addr().String(), accepted
}

func serveStubNATSConn(conn net.Conn, accepted chan<- net.Conn) {
	defer conn.Close()

	info := `INFO {"server_id":"stub","version":"2.10.0","proto":1,"max_payload":1048576}`
	if _, err := fmt.Fprintf(conn, "%s\r\n", info); err != nil {
		return
	}

	reader := bufio.NewReader(conn)
	handshaken := false
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		if !strings.HasPrefix(line, "PING") {
			continue
		}
		if _, err := conn.Write([]byte("PONG\r\n")); err != nil {
			return
		}
		if !handshaken {
			handshaken = true
			accepted <- conn
		}
	}
}

func nextStubConn(t *testing.T, accepted <-chan net.Conn) net.Conn {
	t.Helper()
	select {
	case conn := <-accepted:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection reached the stub nats server")
		return nil
	}
}

func TestNATSConnEndsWhenServerDrops(t *testing.T) {
	url, accepted := startStubNATSServer(t)
	dialer := NewNATSDialer(url, "jobby", zerolog.Nop())

	conn, err := dialer.Dial(context.Background(), Identity{UserID: "alice"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, nextStubConn(t, accepted).Close())

	select {
	case _, ok := <-conn.Events():
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("event stream stayed open after the server dropped")
	}
	require.ErrorIs(t, conn.Emit(context.Background(), "typing", nil), ErrClosed)
}

func TestRegistryRedialsAfterNATSServerDrops(t *testing.T) {
	url, accepted := startStubNATSServer(t)
	registry := NewRegistry(NewNATSDialer(url, "jobby", zerolog.Nop()), nil, zerolog.Nop())
	t.Cleanup(func() { _ = registry.Close() })

	require.NoError(t, registry.SetIdentity(context.Background(), Identity{UserID: "alice"}))
	require.True(t, registry.Connected())

	require.NoError(t, nextStubConn(t, accepted).Close())
	require.Eventually(t, func() bool { return !registry.Connected() }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, registry.SetIdentity(context.Background(), Identity{UserID: "alice"}))
	require.True(t, registry.Connected())
	nextStubConn(t, accepted)
}
