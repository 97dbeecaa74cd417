package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/jobby-messaging/internal/dto"
)

const natsInboxBufferSize = 64

// EventSubject is where a client publishes an emitted event.
func EventSubject(prefix, event string) string {
	return natsPrefix(prefix) + ".events." + event
}

// UserSubject is where the backend publishes pushes for a single user.
func UserSubject(prefix, userID string) string {
	return natsPrefix(prefix) + ".users." + userID
}

func natsPrefix(prefix string) string {
	prefix = strings.Trim(strings.ReplaceAll(prefix, ":", "."), ".")
	if prefix == "" {
		return "jobby"
	}
	return prefix
}

// NATSDialer opens push connections through a NATS relay.
type NATSDialer struct {
	url    string
	prefix string
	logger zerolog.Logger
}

// NewNATSDialer builds a dialer for the NATS server at natsURL.
func NewNATSDialer(natsURL, prefix string, logger zerolog.Logger) *NATSDialer {
	return &NATSDialer{
		url:    natsURL,
		prefix: prefix,
		logger: logger.With().Str("component", "nats_transport").Logger(),
	}
}

// Transport names the dialer in metrics and logs.
func (d *NATSDialer) Transport() string {
	return "nats"
}

// Dial connects to NATS and subscribes to the identity's user subject.
// The connection does not reconnect; losing the server ends its event stream.
func (d *NATSDialer) Dial(ctx context.Context, identity Identity) (Conn, error) {
	conn := &natsConn{
		prefix:   d.prefix,
		identity: identity,
		inbox:    make(chan *nats.Msg, natsInboxBufferSize),
		events:   make(chan Event, natsInboxBufferSize),
		closed:   make(chan struct{}),
		logger:   d.logger.With().Str("user_id", identity.UserID).Logger(),
	}

	opts := []nats.Option{
		nats.Name("jobby-messenger-" + identity.UserID),
		nats.Timeout(5 * time.Second),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				conn.logger.Warn().Err(err).Msg("nats connection lost")
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			conn.markClosed()
		}),
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}

	nc, err := nats.Connect(d.url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	conn.nc = nc

	sub, err := nc.ChanSubscribe(UserSubject(d.prefix, identity.UserID), conn.inbox)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe user subject: %w", err)
	}
	conn.sub = sub

	go conn.pump()
	return conn, nil
}

type natsConn struct {
	nc         *nats.Conn
	sub        *nats.Subscription
	prefix     string
	identity   Identity
	inbox      chan *nats.Msg
	events     chan Event
	closed     chan struct{}
	closedOnce sync.Once
	closeOnce  sync.Once
	logger     zerolog.Logger
}

func (c *natsConn) Emit(_ context.Context, event string, payload interface{}) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	envelope, err := dto.NewEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	envelope.UserID = c.identity.UserID

	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return c.nc.Publish(EventSubject(c.prefix, event), data)
}

func (c *natsConn) Events() <-chan Event {
	return c.events
}

func (c *natsConn) Close() error {
	c.closeOnce.Do(func() {
		c.markClosed()
		if c.sub != nil {
			if err := c.sub.Unsubscribe(); err != nil {
				c.logger.Debug().Err(err).Msg("failed to unsubscribe user subject")
			}
		}
		c.nc.Close()
	})
	return nil
}

// markClosed stops the pump. The client calls it once the NATS connection is gone for good.
func (c *natsConn) markClosed() {
	c.closedOnce.Do(func() { close(c.closed) })
}

func (c *natsConn) pump() {
	defer close(c.events)

	for {
		select {
		case msg := <-c.inbox:
			event, ok := decodeNATSEvent(msg.Data)
			if !ok {
				c.logger.Debug().Str("subject", msg.Subject).Msg("dropping malformed push")
				continue
			}
			select {
			case c.events <- event:
			case <-c.closed:
				return
			}
		case <-c.closed:
			return
		}
	}
}

func decodeNATSEvent(data []byte) (Event, bool) {
	var envelope dto.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Event == "" {
		return Event{}, false
	}
	return Event{Name: envelope.Event, Data: envelope.Data}, true
}
