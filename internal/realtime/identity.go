package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// IdentitySync shares the signed-in identity between processes through Redis.
// The current value lives under <base>:identity and every change is published on the channel of the same name.
type IdentitySync struct {
	client *redis.Client
	key    string
	logger zerolog.Logger
}

// NewIdentitySync creates a sync bound to base (for example "jobby:session").
func NewIdentitySync(client *redis.Client, base string, logger zerolog.Logger) *IdentitySync {
	base = strings.TrimSuffix(strings.TrimSpace(base), ":")
	if base == "" {
		base = "jobby:session"
	}
	return &IdentitySync{
		client: client,
		key:    base + ":identity",
		logger: logger.With().Str("component", "identity_sync").Logger(),
	}
}

// Key returns the Redis key and channel name in use.
func (s *IdentitySync) Key() string {
	return s.key
}

// Publish stores identity and notifies watchers. An identity without a user id signs out.
func (s *IdentitySync) Publish(ctx context.Context, identity Identity) error {
	payload, err := json.Marshal(identity)
	if err != nil {
		return err
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		if identity.SignedIn() {
			pipe.Set(ctx, s.key, payload, 0)
		} else {
			pipe.Del(ctx, s.key)
		}
		pipe.Publish(ctx, s.key, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish identity: %w", err)
	}
	return nil
}

// Current returns the stored identity, or the zero identity when nobody is signed in.
func (s *IdentitySync) Current(ctx context.Context) (Identity, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Identity{}, nil
	}
	if err != nil {
		return Identity{}, fmt.Errorf("load identity: %w", err)
	}

	var identity Identity
	if err := json.Unmarshal(raw, &identity); err != nil {
		return Identity{}, fmt.Errorf("decode identity: %w", err)
	}
	return identity, nil
}

// Watch invokes fn for every published identity until ctx is cancelled.
// It returns once the subscription is confirmed.
func (s *IdentitySync) Watch(ctx context.Context, fn func(Identity)) error {
	pubsub := s.client.Subscribe(ctx, s.key)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe identity: %w", err)
	}

	go func() {
		defer func() { _ = pubsub.Close() }()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					s.logger.Debug().Msg("identity subscription closed")
					return
				}
				var identity Identity
				if err := json.Unmarshal([]byte(msg.Payload), &identity); err != nil {
					s.logger.Warn().Err(err).Msg("invalid identity payload")
					continue
				}
				fn(identity)
			}
		}
	}()

	return nil
}

// IdentityFromToken reads the user id and name claims of a bearer token without verifying the signature.
func IdentityFromToken(token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Identity{}, errors.New("token is empty")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}

	identity := Identity{Token: token}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		identity.UserID = sub
	}
	if identity.UserID == "" {
		if userID, ok := claims["user_id"].(string); ok {
			identity.UserID = userID
		}
	}
	if name, ok := claims["name"].(string); ok {
		identity.UserName = name
	}

	if identity.UserID == "" {
		return Identity{}, errors.New("token carries no user id claim")
	}
	return identity, nil
}
