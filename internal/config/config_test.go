package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("JOBBY_API_BASE_URL", "https://api.example.com/")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://api.example.com", cfg.APIBaseURL)
	require.Equal(t, "wss://api.example.com/ws", cfg.SocketURL)
	require.Equal(t, TransportWebsocket, cfg.Transport)
	require.Equal(t, 50, cfg.FeedCapacity)
	require.Equal(t, 3*time.Second, cfg.TypingExpiry)
	require.Equal(t, 3, cfg.ToastLimit)
	require.Equal(t, 5*time.Second, cfg.ToastTTL)
	require.Equal(t, ":8090", cfg.HTTPAddress())
}

func TestLoadRequiresBaseURL(t *testing.T) {
	t.Setenv("JOBBY_API_BASE_URL", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsNATSWithoutURL(t *testing.T) {
	t.Setenv("JOBBY_API_BASE_URL", "http://localhost:8080")
	t.Setenv("JOBBY_TRANSPORT", "nats")

	_, err := Load()
	require.ErrorContains(t, err, "nats url")
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	t.Setenv("JOBBY_API_BASE_URL", "http://localhost:8080")
	t.Setenv("JOBBY_TYPING_EXPIRY", "soon")

	_, err := Load()
	require.ErrorContains(t, err, "typing_expiry")
}

func TestDeriveSocketURL(t *testing.T) {
	socketURL, err := DeriveSocketURL("http://localhost:8080/backend")
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:8080/backend/ws", socketURL)

	_, err = DeriveSocketURL("ftp://example.com")
	require.Error(t, err)
}

func TestLoadDevServerRequiresSecret(t *testing.T) {
	t.Setenv("JOBBY_JWT_SECRET", "")

	_, err := LoadDevServer()
	require.Error(t, err)

	t.Setenv("JOBBY_JWT_SECRET", "secret")
	cfg, err := LoadDevServer()
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.DatabaseDriver)
	require.Equal(t, "Alice", cfg.SeedUsers["alice"])
}

func TestParseSeedUsers(t *testing.T) {
	users := ParseSeedUsers(" alice:Alice , bob ,:ghost,")
	require.Equal(t, map[string]string{"alice": "Alice", "bob": "bob"}, users)
}
