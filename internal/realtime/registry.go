package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/jobby-messaging/internal/dto"
	"github.com/noah-isme/jobby-messaging/internal/observability"
)

// EventHandler receives pushes one at a time, in arrival order.
type EventHandler func(ctx context.Context, event Event)

// Registry owns the single live connection of a session. Only the registry opens or closes it.
type Registry struct {
	dialer  Dialer
	handler EventHandler
	logger  zerolog.Logger

	mu       sync.Mutex
	identity Identity
	conn     Conn
	cancel   context.CancelFunc
	// generation advances on every identity change so late dials can tell they lost.
	generation uint64
}

// NewRegistry creates a registry that dials with dialer and feeds pushes to handler.
func NewRegistry(dialer Dialer, handler EventHandler, logger zerolog.Logger) *Registry {
	return &Registry{
		dialer:  dialer,
		handler: handler,
		logger:  logger.With().Str("component", "connection_registry").Logger(),
	}
}

// SetIdentity reconciles the connection with the signed-in identity.
// The same user id keeps the current connection, an empty one tears it down,
// a different one replaces it. Dial failures are returned and not retried.
// The dial runs without holding the lock; a later SetIdentity or Close supersedes it.
func (r *Registry) SetIdentity(ctx context.Context, identity Identity) error {
	r.mu.Lock()
	if identity.UserID == r.identity.UserID && (r.conn != nil || !identity.SignedIn()) {
		r.mu.Unlock()
		return nil
	}

	r.teardownLocked()
	r.identity = identity
	r.generation++
	generation := r.generation
	r.mu.Unlock()

	if !identity.SignedIn() {
		r.logger.Info().Msg("identity cleared, connection closed")
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	transport := r.dialer.Transport()
	conn, err := r.dialer.Dial(ctx, identity)
	if err != nil {
		observability.ConnectionDials().WithLabelValues(transport, "error").Inc()
		r.logger.Warn().Err(err).Str("user_id", identity.UserID).Str("transport", transport).Msg("failed to open push connection")
		return fmt.Errorf("open connection: %w", err)
	}
	observability.ConnectionDials().WithLabelValues(transport, "ok").Inc()

	r.mu.Lock()
	if r.generation != generation {
		r.mu.Unlock()
		if err := conn.Close(); err != nil {
			r.logger.Debug().Err(err).Msg("failed to close superseded connection")
		}
		r.logger.Debug().Str("user_id", identity.UserID).Msg("discarding superseded push connection")
		return nil
	}
	pumpCtx, cancel := context.WithCancel(context.Background())
	r.conn = conn
	r.cancel = cancel
	observability.ConnectionsActive().Inc()
	r.mu.Unlock()

	if err := conn.Emit(ctx, dto.EventJoinUser, identity.UserID); err != nil {
		r.logger.Warn().Err(err).Str("user_id", identity.UserID).Msg("failed to announce presence")
	}

	go r.pump(pumpCtx, conn)

	r.logger.Info().Str("user_id", identity.UserID).Str("transport", transport).Msg("push connection established")
	return nil
}

// Connection returns the live connection, or nil.
func (r *Registry) Connection() Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// Identity returns the identity the registry was last pointed at.
func (r *Registry) Identity() Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identity
}

// Connected reports whether a live connection exists.
func (r *Registry) Connected() bool {
	return r.Connection() != nil
}

// Emit sends an event on the live connection.
func (r *Registry) Emit(ctx context.Context, event string, payload interface{}) error {
	conn := r.Connection()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Emit(ctx, event, payload)
}

// Close tears down the connection and forgets the identity.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownLocked()
	r.identity = Identity{}
	r.generation++
	return nil
}

func (r *Registry) teardownLocked() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			r.logger.Debug().Err(err).Msg("failed to close push connection")
		}
		r.conn = nil
		observability.ConnectionsActive().Dec()
	}
}

func (r *Registry) pump(ctx context.Context, conn Conn) {
	for event := range conn.Events() {
		if !r.isCurrent(conn) || ctx.Err() != nil {
			continue
		}
		if r.handler != nil {
			r.handler(ctx, event)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == conn {
		r.conn = nil
		if r.cancel != nil {
			r.cancel()
			r.cancel = nil
		}
		observability.ConnectionsActive().Dec()
		r.logger.Info().Str("user_id", r.identity.UserID).Msg("push connection ended")
	}
}

func (r *Registry) isCurrent(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn == conn
}
