package realtime

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrClosed is returned when emitting on a connection that has been torn down.
	ErrClosed = errors.New("connection closed")
	// ErrNotConnected is returned by the registry when no live connection exists.
	ErrNotConnected = errors.New("no live connection")
)

// Event is a push received from the backend.
type Event struct {
	Name string
	Data json.RawMessage
}

// Identity is the signed-in user a connection is opened for.
type Identity struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
	Token    string `json:"token,omitempty"`
}

// SignedIn reports whether the identity names a user.
func (i Identity) SignedIn() bool {
	return i.UserID != ""
}

// Conn is a live bidirectional push connection.
type Conn interface {
	// Emit sends an event with a JSON-encodable payload.
	Emit(ctx context.Context, event string, payload interface{}) error
	// Events yields inbound pushes and is closed when the connection ends.
	Events() <-chan Event
	Close() error
}

// Dialer opens connections for an identity.
type Dialer interface {
	Dial(ctx context.Context, identity Identity) (Conn, error)
	Transport() string
}
