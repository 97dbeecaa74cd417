package devserver

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/jobby-messaging/internal/dto"
	"github.com/noah-isme/jobby-messaging/internal/observability"
)

const (
	clientSendBufferSize = 32
	clientPingInterval   = 30 * time.Second
)

// hub tracks websocket clients per user and fans pushes out to them and to the NATS relay.
type hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	online  map[string]struct{}
	relay   *natsRelay
	log     zerolog.Logger
}

type client struct {
	conn   *websocket.Conn
	userID string
	send   chan dto.Envelope
	closed chan struct{}
	once   sync.Once
}

func newHub(logger zerolog.Logger) *hub {
	return &hub{
		clients: make(map[string]map[*client]struct{}),
		online:  make(map[string]struct{}),
		log:     logger.With().Str("component", "devserver_hub").Logger(),
	}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.clients[c.userID]; !exists {
		h.clients[c.userID] = make(map[*client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.log.Debug().Str("user_id", c.userID).Msg("socket client connected")
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[c.userID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.clients, c.userID)
			delete(h.online, c.userID)
		}
	}
	h.log.Debug().Str("user_id", c.userID).Msg("socket client disconnected")
}

// markOnline records the user as a target for presence broadcasts.
func (h *hub) markOnline(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.online[userID] = struct{}{}
}

// deliver pushes the envelope to every socket of the user and to the relay subject.
func (h *hub) deliver(userID string, envelope dto.Envelope) {
	h.mu.RLock()
	for c := range h.clients[userID] {
		select {
		case c.send <- envelope:
		default:
			h.log.Warn().Str("user_id", userID).Str("event", envelope.Event).Msg("dropping push for slow client")
		}
	}
	relay := h.relay
	h.mu.RUnlock()

	if relay != nil {
		if err := relay.publish(userID, envelope); err != nil {
			h.log.Warn().Err(err).Str("user_id", userID).Msg("failed to relay push")
		}
	}
	observability.DevserverPushes().WithLabelValues(envelope.Event).Inc()
}

// broadcastExcept delivers the envelope to every online user other than skip.
func (h *hub) broadcastExcept(skip string, envelope dto.Envelope) {
	h.mu.RLock()
	targets := make([]string, 0, len(h.online))
	for userID := range h.online {
		if userID != skip {
			targets = append(targets, userID)
		}
	}
	h.mu.RUnlock()

	for _, userID := range targets {
		h.deliver(userID, envelope)
	}
}

func (h *hub) setRelay(relay *natsRelay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relay = relay
}

func newClient(conn *websocket.Conn, userID string) *client {
	return &client{
		conn:   conn,
		userID: userID,
		send:   make(chan dto.Envelope, clientSendBufferSize),
		closed: make(chan struct{}),
	}
}

func (c *client) writer(logger zerolog.Logger) {
	defer c.close()

	ticker := time.NewTicker(clientPingInterval)
	defer ticker.Stop()

	for {
		select {
		case envelope := <-c.send:
			if err := c.conn.WriteJSON(envelope); err != nil {
				logger.Debug().Err(err).Msg("socket write loop terminated")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				logger.Debug().Err(err).Msg("socket ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}
