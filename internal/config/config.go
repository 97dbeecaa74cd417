package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Transport names accepted by JOBBY_TRANSPORT.
const (
	TransportWebsocket = "websocket"
	TransportNATS      = "nats"
)

// Config holds runtime configuration values for the messenger session and its presentation bridge.
type Config struct {
	AppName         string
	AppEnv          string
	AppPort         string
	APIBaseURL      string
	SocketURL       string
	Token           string
	UserID          string
	UserName        string
	Transport       string
	NATSURL         string
	NATSPrefix      string
	RedisURL        string
	RedisChannel    string
	RequestTimeout  time.Duration
	BreakerFailures int
	BreakerTimeout  time.Duration
	FeedCapacity    int
	TypingExpiry    time.Duration
	ToastLimit      int
	ToastTTL        time.Duration
	PreviewLength   int
	StreamKeepAlive time.Duration
}

// DevServerConfig holds runtime configuration for the reference backend.
type DevServerConfig struct {
	AppName        string
	AppPort        string
	DatabaseDriver string
	DatabaseURL    string
	JWTSecret      string
	NATSURL        string
	NATSPrefix     string
	SendRateLimit  int
	SendRateWindow time.Duration
	SeedUsers      map[string]string
}

// HTTPAddress returns the address the bridge should listen on.
func (c Config) HTTPAddress() string {
	return listenAddress(c.AppPort)
}

// HTTPAddress returns the address the devserver should listen on.
func (c DevServerConfig) HTTPAddress() string {
	return listenAddress(c.AppPort)
}

func listenAddress(port string) string {
	if strings.HasPrefix(port, ":") {
		return port
	}

	return fmt.Sprintf(":%s", port)
}

func newViper() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("JOBBY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// Load reads messenger configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	v := newViper()

	v.SetDefault("app.name", "Jobby Messaging")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8090")
	v.SetDefault("transport", TransportWebsocket)
	v.SetDefault("nats.prefix", "jobby")
	v.SetDefault("redis.channel", "jobby:session")
	v.SetDefault("request_timeout", "15s")
	v.SetDefault("breaker.failures", 5)
	v.SetDefault("breaker.timeout", "30s")
	v.SetDefault("feed_capacity", 50)
	v.SetDefault("typing_expiry", "3s")
	v.SetDefault("toast.limit", 3)
	v.SetDefault("toast.ttl", "5s")
	v.SetDefault("preview_length", 50)
	v.SetDefault("stream.keepalive", "30s")

	durations := map[string]time.Duration{}
	for _, key := range []string{"request_timeout", "breaker.timeout", "typing_expiry", "toast.ttl", "stream.keepalive"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:         v.GetString("app.name"),
		AppEnv:          v.GetString("app.env"),
		AppPort:         v.GetString("app.port"),
		APIBaseURL:      strings.TrimRight(v.GetString("api.base_url"), "/"),
		SocketURL:       v.GetString("socket.url"),
		Token:           v.GetString("auth.token"),
		UserID:          v.GetString("user.id"),
		UserName:        v.GetString("user.name"),
		Transport:       strings.ToLower(v.GetString("transport")),
		NATSURL:         v.GetString("nats.url"),
		NATSPrefix:      v.GetString("nats.prefix"),
		RedisURL:        v.GetString("redis.url"),
		RedisChannel:    v.GetString("redis.channel"),
		RequestTimeout:  durations["request_timeout"],
		BreakerFailures: v.GetInt("breaker.failures"),
		BreakerTimeout:  durations["breaker.timeout"],
		FeedCapacity:    v.GetInt("feed_capacity"),
		TypingExpiry:    durations["typing_expiry"],
		ToastLimit:      v.GetInt("toast.limit"),
		ToastTTL:        durations["toast.ttl"],
		PreviewLength:   v.GetInt("preview_length"),
		StreamKeepAlive: durations["stream.keepalive"],
	}

	if cfg.APIBaseURL == "" {
		return Config{}, fmt.Errorf("api base url must be provided")
	}

	if cfg.SocketURL == "" {
		socketURL, err := DeriveSocketURL(cfg.APIBaseURL)
		if err != nil {
			return Config{}, err
		}
		cfg.SocketURL = socketURL
	}

	switch cfg.Transport {
	case TransportWebsocket:
	case TransportNATS:
		if cfg.NATSURL == "" {
			return Config{}, fmt.Errorf("nats url must be provided for the nats transport")
		}
	default:
		return Config{}, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}

	if cfg.FeedCapacity <= 0 {
		cfg.FeedCapacity = 50
	}
	if cfg.ToastLimit <= 0 {
		cfg.ToastLimit = 3
	}
	if cfg.PreviewLength <= 0 {
		cfg.PreviewLength = 50
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}

	return cfg, nil
}

// LoadDevServer reads the reference backend configuration.
func LoadDevServer() (DevServerConfig, error) {
	v := newViper()

	v.SetDefault("app.name", "Jobby Dev Server")
	v.SetDefault("dev.port", "8080")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "file:jobby-dev.db?cache=shared")
	v.SetDefault("nats.prefix", "jobby")
	v.SetDefault("dev.send_rate_limit", 20)
	v.SetDefault("dev.send_rate_window", "10s")
	v.SetDefault("dev.users", "alice:Alice,bob:Bob,carol:Carol")

	window, err := time.ParseDuration(v.GetString("dev.send_rate_window"))
	if err != nil {
		return DevServerConfig{}, fmt.Errorf("invalid send rate window: %w", err)
	}

	cfg := DevServerConfig{
		AppName:        v.GetString("app.name"),
		AppPort:        v.GetString("dev.port"),
		DatabaseDriver: strings.ToLower(v.GetString("database.driver")),
		DatabaseURL:    v.GetString("database.url"),
		JWTSecret:      v.GetString("jwt.secret"),
		NATSURL:        v.GetString("nats.url"),
		NATSPrefix:     v.GetString("nats.prefix"),
		SendRateLimit:  v.GetInt("dev.send_rate_limit"),
		SendRateWindow: window,
		SeedUsers:      ParseSeedUsers(v.GetString("dev.users")),
	}

	if cfg.JWTSecret == "" {
		return DevServerConfig{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.DatabaseDriver != "sqlite" && cfg.DatabaseDriver != "postgres" {
		return DevServerConfig{}, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	return cfg, nil
}

// DeriveSocketURL maps an http(s) API base URL onto the ws(s) push endpoint.
func DeriveSocketURL(apiBaseURL string) (string, error) {
	parsed, err := url.Parse(apiBaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid api base url: %w", err)
	}

	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http":
		parsed.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported api base url scheme %q", parsed.Scheme)
	}

	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/ws"
	return parsed.String(), nil
}

// ParseSeedUsers parses "id:Name,id2:Name2" into a map.
func ParseSeedUsers(raw string) map[string]string {
	users := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, name, found := strings.Cut(part, ":")
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if !found || strings.TrimSpace(name) == "" {
			name = id
		}
		users[id] = strings.TrimSpace(name)
	}
	return users
}
