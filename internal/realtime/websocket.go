package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/noah-isme/jobby-messaging/internal/dto"
)

const (
	wsSendBufferSize   = 32
	wsEventBufferSize  = 64
	wsDefaultPing      = 30 * time.Second
	wsHandshakeTimeout = 10 * time.Second
	wsWriteWait        = 5 * time.Second
)

// WebsocketDialer opens push connections over a websocket.
type WebsocketDialer struct {
	url          string
	pingInterval time.Duration
	dialer       *websocket.Dialer
	logger       zerolog.Logger
}

// NewWebsocketDialer builds a dialer for socketURL. A zero pingInterval uses 30s.
func NewWebsocketDialer(socketURL string, pingInterval time.Duration, logger zerolog.Logger) *WebsocketDialer {
	if pingInterval <= 0 {
		pingInterval = wsDefaultPing
	}
	return &WebsocketDialer{
		url:          socketURL,
		pingInterval: pingInterval,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: wsHandshakeTimeout,
		},
		logger: logger.With().Str("component", "websocket_transport").Logger(),
	}
}

// Transport names the dialer in metrics and logs.
func (d *WebsocketDialer) Transport() string {
	return "websocket"
}

// Dial connects to the socket URL as the given identity.
func (d *WebsocketDialer) Dial(ctx context.Context, identity Identity) (Conn, error) {
	target, err := url.Parse(d.url)
	if err != nil {
		return nil, fmt.Errorf("parse socket url: %w", err)
	}
	query := target.Query()
	query.Set("userId", identity.UserID)
	target.RawQuery = query.Encode()

	header := http.Header{}
	if identity.Token != "" {
		header.Set("Authorization", "Bearer "+identity.Token)
	}

	conn, resp, err := d.dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial socket: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial socket: %w", err)
	}

	client := &wsConn{
		conn:         conn,
		send:         make(chan dto.Envelope, wsSendBufferSize),
		events:       make(chan Event, wsEventBufferSize),
		closed:       make(chan struct{}),
		pingInterval: d.pingInterval,
		logger:       d.logger.With().Str("user_id", identity.UserID).Logger(),
	}

	go client.writer()
	go client.reader()

	return client, nil
}

type wsConn struct {
	conn         *websocket.Conn
	send         chan dto.Envelope
	events       chan Event
	closed       chan struct{}
	once         sync.Once
	pingInterval time.Duration
	logger       zerolog.Logger
}

func (c *wsConn) Emit(ctx context.Context, event string, payload interface{}) error {
	envelope, err := dto.NewEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case c.send <- envelope:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsConn) Events() <-chan Event {
	return c.events
}

func (c *wsConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(wsWriteWait)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.conn.Close()
	})
	return nil
}

func (c *wsConn) reader() {
	defer close(c.events)
	defer c.Close()

	for {
		var envelope dto.Envelope
		if err := c.conn.ReadJSON(&envelope); err != nil {
			c.logger.Debug().Err(err).Msg("socket read loop ended")
			return
		}
		if envelope.Event == "" {
			c.logger.Debug().Msg("dropping frame without event name")
			continue
		}

		select {
		case c.events <- Event{Name: envelope.Event, Data: envelope.Data}:
		case <-c.closed:
			return
		}
	}
}

func (c *wsConn) writer() {
	defer c.Close()

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case envelope := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(envelope); err != nil {
				c.logger.Debug().Err(err).Msg("socket write loop terminated")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(wsWriteWait)); err != nil {
				c.logger.Debug().Err(err).Msg("socket ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}
