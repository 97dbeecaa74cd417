package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/noah-isme/jobby-messaging/internal/dto"
	"github.com/noah-isme/jobby-messaging/internal/middleware"
	"github.com/noah-isme/jobby-messaging/internal/models"
	"github.com/noah-isme/jobby-messaging/internal/observability"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("backend unavailable")

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend responded %d", e.Code)
	}
	return fmt.Sprintf("backend responded %d: %s", e.Code, e.Message)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == code
}

// Options configures a Client.
type Options struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	BreakerFailures int
	BreakerTimeout  time.Duration
	HTTPClient      *http.Client
}

// Client consumes the backend's conversation REST API.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger

	mu    sync.RWMutex
	token string
}

// NewClient builds a REST client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		transport := &http.Transport{
			DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			MaxIdleConns:    16,
			IdleConnTimeout: 90 * time.Second,
		}
		httpClient = &http.Client{Transport: transport, Timeout: timeout}
	}

	failures := opts.BreakerFailures
	if failures <= 0 {
		failures = 5
	}

	log := logger.With().Str("component", "api_client").Logger()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "backend",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		IsSuccessful: func(err error) bool {
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return statusErr.Code < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    httpClient,
		breaker: breaker,
		logger:  log,
		token:   opts.Token,
	}
}

// SetToken swaps the bearer token used for subsequent calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// ListConversations fetches the viewer's conversations.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var conversations []models.Conversation
	if err := c.do(ctx, "list_conversations", http.MethodGet, "/api/conversations", nil, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// ListMessages fetches a conversation's history.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var messages []models.Message
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, "list_messages", http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SendMessage posts a message. The stored message is returned when the backend echoes it in the body.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (*models.Message, error) {
	var stored models.Message
	path := "/api/conversations/" + url.PathEscape(conversationID)
	if err := c.do(ctx, "send_message", http.MethodPost, path, dto.SendMessageRequest{Content: content}, &stored); err != nil {
		return nil, err
	}
	if stored.ID == "" {
		return nil, nil
	}
	return &stored, nil
}

// MarkRead marks a conversation read server-side.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.do(ctx, "mark_read", http.MethodPut, path, struct{}{}, nil)
}

// StartConversation creates or fetches the conversation with participantID.
func (c *Client) StartConversation(ctx context.Context, participantID string) (models.Conversation, error) {
	var conversation models.Conversation
	if err := c.do(ctx, "start_conversation", http.MethodPost, "/api/conversations", dto.StartConversationRequest{ParticipantID: participantID}, &conversation); err != nil {
		return models.Conversation{}, err
	}
	if conversation.ID == "" {
		return models.Conversation{}, fmt.Errorf("start conversation: backend returned no conversation id")
	}
	return conversation, nil
}

// UnreadCounts fetches the initial per-conversation unread counters.
func (c *Client) UnreadCounts(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{}
	if err := c.do(ctx, "unread_counts", http.MethodGet, "/api/conversations/unread-counts", nil, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body, out interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, body, out)
	})

	outcome := "ok"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		outcome = "unavailable"
		err = fmt.Errorf("%s: %w", operation, ErrUnavailable)
	case err != nil:
		outcome = "error"
		err = fmt.Errorf("%s: %w", operation, err)
	}
	observability.BackendRequests().WithLabelValues(operation, outcome).Inc()

	if err != nil {
		c.logger.Debug().Err(err).Str("operation", operation).Msg("backend request failed")
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if correlation := middleware.CorrelationIDFromContext(ctx); correlation != "" {
		req.Header.Set(middleware.CorrelationHeader, correlation)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Message: errorMessage(raw)}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func errorMessage(raw []byte) string {
	var body dto.ErrorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
