package devserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/jobby-messaging/internal/dto"
	"github.com/noah-isme/jobby-messaging/internal/realtime"
)

// natsRelay bridges the push channel onto NATS: clients publish emitted events on <prefix>.events.<event>
// and receive pushes on <prefix>.users.<id>.
type natsRelay struct {
	conn   *nats.Conn
	prefix string
	logger zerolog.Logger
}

func newNATSRelay(conn *nats.Conn, prefix string, logger zerolog.Logger) *natsRelay {
	return &natsRelay{
		conn:   conn,
		prefix: prefix,
		logger: logger.With().Str("component", "devserver_nats_relay").Logger(),
	}
}

func (r *natsRelay) start(ctx context.Context, handle func(ctx context.Context, envelope dto.Envelope)) error {
	subject := realtime.EventSubject(r.prefix, ">")
	sub, err := r.conn.Subscribe(subject, func(msg *nats.Msg) {
		var envelope dto.Envelope
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			r.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("invalid relayed event")
			return
		}
		if envelope.UserID == "" {
			r.logger.Debug().Str("subject", msg.Subject).Msg("relayed event without user id")
			return
		}
		handle(ctx, envelope)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to drain relay subscription")
		}
	}()

	r.logger.Info().Str("subject", subject).Msg("nats relay started")
	return nil
}

func (r *natsRelay) publish(userID string, envelope dto.Envelope) error {
	envelope.UserID = ""
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return r.conn.Publish(realtime.UserSubject(r.prefix, userID), payload)
}
