package handler_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/jobby-messaging/internal/api"
	"github.com/noah-isme/jobby-messaging/internal/dto"
	"github.com/noah-isme/jobby-messaging/internal/handler"
	"github.com/noah-isme/jobby-messaging/internal/models"
	"github.com/noah-isme/jobby-messaging/internal/realtime"
	"github.com/noah-isme/jobby-messaging/internal/service"
	"github.com/noah-isme/jobby-messaging/internal/view"
)

type fakeBackend struct {
	mu            sync.Mutex
	conversations []models.Conversation
	history       map[string][]models.Message
	sendErr       error
}

func (b *fakeBackend) SetToken(string) {}

func (b *fakeBackend) ListConversations(context.Context) ([]models.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Conversation(nil), b.conversations...), nil
}

func (b *fakeBackend) ListMessages(_ context.Context, id string) ([]models.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Message(nil), b.history[id]...), nil
}

func (b *fakeBackend) SendMessage(_ context.Context, id, content string) (*models.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return nil, b.sendErr
	}
	return &models.Message{ID: "m-new", ConversationID: id, SenderID: "alice", Content: content, CreatedAt: time.Now()}, nil
}

func (b *fakeBackend) MarkRead(context.Context, string) error { return nil }

func (b *fakeBackend) StartConversation(_ context.Context, participantID string) (models.Conversation, error) {
	return models.Conversation{
		ID:           "c-" + participantID,
		Participants: []models.User{{ID: "alice", Name: "Alice"}, {ID: participantID, Name: "Dana"}},
		UpdatedAt:    time.Now(),
	}, nil
}

func (b *fakeBackend) UnreadCounts(context.Context) (map[string]int, error) {
	return map[string]int{"c1": 2}, nil
}

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Details map[string]string `json:"details"`
}

type publisherFunc func(ctx context.Context, identity realtime.Identity) error

func (f publisherFunc) Publish(ctx context.Context, identity realtime.Identity) error {
	return f(ctx, identity)
}

func newBackend() *fakeBackend {
	return &fakeBackend{
		conversations: []models.Conversation{{
			ID:           "c1",
			Participants: []models.User{{ID: "alice", Name: "Alice"}, {ID: "bob", Name: "Bob"}},
			UpdatedAt:    time.Now(),
		}},
		history: map[string][]models.Message{
			"c1": {{ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "hello", CreatedAt: time.Now()}},
		},
	}
}

func newApp(t *testing.T, backend *fakeBackend, publisher handler.IdentityPublisher) (*fiber.App, service.MessagingSession) {
	t.Helper()

	session := service.NewMessagingSession(backend, nil, nil, service.SessionOptions{}, zerolog.Nop())
	h := handler.NewSessionHandler(session, view.NewRenderer(view.Options{Location: time.UTC}), nil, publisher, zerolog.Nop(), 100*time.Millisecond)

	app := fiber.New()
	h.Register(app.Group("/api/v1"))
	return app, session
}

func do(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, envelope) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &payload))
	}
	return resp, payload
}

func signIn(t *testing.T, app *fiber.App) {
	t.Helper()
	resp, _ := do(t, app, http.MethodPut, "/api/v1/session/identity", `{"userId":"alice","userName":"Alice"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestSwitchIdentityLoadsSessionAndPublishes(t *testing.T) {
	var published []realtime.Identity
	publisher := publisherFunc(func(_ context.Context, identity realtime.Identity) error {
		published = append(published, identity)
		return nil
	})
	app, _ := newApp(t, newBackend(), publisher)

	resp, payload := do(t, app, http.MethodPut, "/api/v1/session/identity", `{"userId":"alice","userName":"Alice"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var session dto.SessionView
	require.NoError(t, json.Unmarshal(payload.Data, &session))
	require.Equal(t, "alice", session.UserID)
	require.Equal(t, 2, session.TotalUnread)
	require.Len(t, published, 1)
	require.Equal(t, "alice", published[0].UserID)

	_, payload = do(t, app, http.MethodGet, "/api/v1/conversations", "")
	var list dto.ConversationListView
	require.NoError(t, json.Unmarshal(payload.Data, &list))
	require.Len(t, list.Items, 1)
	require.Equal(t, "Bob", list.Items[0].OtherUser.Name)
}

func TestIntentsRequireIdentity(t *testing.T) {
	app, _ := newApp(t, newBackend(), nil)

	resp, _ := do(t, app, http.MethodGet, "/api/v1/conversations/c1", "")
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, app, http.MethodPost, "/api/v1/conversations", `{"participantId":"dana"}`)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestOpenConversationAndSend(t *testing.T) {
	app, _ := newApp(t, newBackend(), nil)
	signIn(t, app)

	resp, payload := do(t, app, http.MethodGet, "/api/v1/conversations/c1", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var window dto.ChatWindowView
	require.NoError(t, json.Unmarshal(payload.Data, &window))
	require.Equal(t, "c1", window.ConversationID)
	require.Equal(t, "Bob", window.Title.Name)
	require.Len(t, window.Groups, 1)

	resp, payload = do(t, app, http.MethodPost, "/api/v1/conversations/c1/messages", `{"content":"  hi bob  "}`)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var sent struct {
		Message models.Message     `json:"message"`
		Window  dto.ChatWindowView `json:"window"`
	}
	require.NoError(t, json.Unmarshal(payload.Data, &sent))
	require.Equal(t, "m-new", sent.Message.ID)
	require.Equal(t, "hi bob", sent.Message.Content)

	last := sent.Window.Groups[len(sent.Window.Groups)-1].Messages
	require.Equal(t, "m-new", last[len(last)-1].ID)
	require.False(t, last[len(last)-1].Pending)
}

func TestSendRejectsBlankAndClosedConversation(t *testing.T) {
	app, _ := newApp(t, newBackend(), nil)
	signIn(t, app)

	resp, _ := do(t, app, http.MethodPost, "/api/v1/conversations/c1/messages", `{"content":"hi"}`)
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)

	do(t, app, http.MethodGet, "/api/v1/conversations/c1", "")
	resp, payload := do(t, app, http.MethodPost, "/api/v1/conversations/c1/messages", `{"content":"   "}`)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.False(t, payload.Success)
}

func TestSendFailureMapsBackendStatus(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
	}{
		"unavailable": {err: api.ErrUnavailable, status: fiber.StatusServiceUnavailable},
		"server":      {err: &api.StatusError{Code: 500, Message: "boom"}, status: fiber.StatusBadGateway},
		"forbidden":   {err: &api.StatusError{Code: 403, Message: "not a participant"}, status: fiber.StatusForbidden},
		"unknown":     {err: errors.New("broken"), status: fiber.StatusInternalServerError},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			backend := newBackend()
			backend.sendErr = tc.err
			app, session := newApp(t, backend, nil)
			signIn(t, app)
			do(t, app, http.MethodGet, "/api/v1/conversations/c1", "")

			resp, payload := do(t, app, http.MethodPost, "/api/v1/conversations/c1/messages", `{"content":"hi"}`)
			require.Equal(t, tc.status, resp.StatusCode)
			require.False(t, payload.Success)

			for _, message := range session.Snapshot().Messages.Messages {
				require.False(t, message.IsTemporary())
			}
		})
	}
}

func TestStartConversationValidates(t *testing.T) {
	app, _ := newApp(t, newBackend(), nil)
	signIn(t, app)

	resp, payload := do(t, app, http.MethodPost, "/api/v1/conversations", `{"participantId":""}`)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "required", payload.Details["ParticipantID"])

	resp, payload = do(t, app, http.MethodPost, "/api/v1/conversations", `{"participantId":"dana"}`)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var conversation models.Conversation
	require.NoError(t, json.Unmarshal(payload.Data, &conversation))
	require.Equal(t, "c-dana", conversation.ID)
}

func TestTypingWithoutConnectionIsUnavailable(t *testing.T) {
	app, _ := newApp(t, newBackend(), nil)
	signIn(t, app)
	do(t, app, http.MethodGet, "/api/v1/conversations/c1", "")

	resp, _ := do(t, app, http.MethodPost, "/api/v1/conversations/c1/typing", "")
	require.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestNotificationRoutes(t *testing.T) {
	app, session := newApp(t, newBackend(), nil)
	signIn(t, app)

	push := func(id, content string) {
		data, err := json.Marshal(models.Message{ID: id, ConversationID: "c1", SenderID: "bob", SenderName: "Bob", Content: content, CreatedAt: time.Now()})
		require.NoError(t, err)
		session.HandleEvent(context.Background(), realtime.Event{Name: dto.EventNewMessage, Data: data})
	}
	push("m2", "first")
	push("m3", "second")

	_, payload := do(t, app, http.MethodGet, "/api/v1/notifications", "")
	var feed dto.NotificationFeedView
	require.NoError(t, json.Unmarshal(payload.Data, &feed))
	require.Len(t, feed.Items, 2)
	require.Equal(t, 2, feed.UnreadCount)

	_, payload = do(t, app, http.MethodGet, "/api/v1/toasts", "")
	var toasts []dto.ToastView
	require.NoError(t, json.Unmarshal(payload.Data, &toasts))
	require.Len(t, toasts, 2)

	resp, payload := do(t, app, http.MethodPatch, "/api/v1/notifications/"+feed.Items[0].ID+"/read", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(payload.Data, &feed))
	require.Equal(t, 1, feed.UnreadCount)

	resp, _ = do(t, app, http.MethodDelete, "/api/v1/notifications/"+feed.Items[1].ID, "")
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	require.Len(t, session.Snapshot().Ledger.Notifications, 1)

	resp, _ = do(t, app, http.MethodDelete, "/api/v1/notifications", "")
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	require.Empty(t, session.Snapshot().Ledger.Notifications)
	require.Equal(t, 4, session.Snapshot().Ledger.TotalUnread())
}

func TestCloseConversation(t *testing.T) {
	app, session := newApp(t, newBackend(), nil)
	signIn(t, app)
	do(t, app, http.MethodGet, "/api/v1/conversations/c1", "")

	resp, _ := do(t, app, http.MethodPost, "/api/v1/conversations/c1/close", "")
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	require.Empty(t, session.Snapshot().Messages.ConversationID)
}

func TestStreamWritesChangeEvents(t *testing.T) {
	app, session := newApp(t, newBackend(), nil)
	baseURL, shutdown := startFiberServer(t, app)
	defer shutdown()

	resp, err := http.Get(baseURL + "/api/v1/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readChange(t, reader)
	require.Equal(t, dto.ChangeIdentity, first.Kind)

	session.ClearNotifications()
	next := readChange(t, reader)
	require.Equal(t, dto.ChangeLedger, next.Kind)
}

func TestHealthCheckReportsConnection(t *testing.T) {
	app := fiber.New()
	app.Get("/health", handler.HealthCheck("Jobby Messaging", "test", func() bool { return true }))

	resp, payload := do(t, app, http.MethodGet, "/health", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var health handler.HealthResponse
	require.NoError(t, json.Unmarshal(payload.Data, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "Jobby Messaging", health.Service)
	assert.Equal(t, "test", health.Environment)
	require.NotNil(t, health.Connected)
	assert.True(t, *health.Connected)
	assert.WithinDuration(t, time.Now().UTC(), health.Timestamp, 2*time.Second)
}

func readChange(t *testing.T, reader *bufio.Reader) dto.ChangeEvent {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	sawEvent := false
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)

		switch {
		case line == "event: change":
			sawEvent = true
		case sawEvent && strings.HasPrefix(line, "data: "):
			var change dto.ChangeEvent
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &change))
			return change
		}
	}
	t.Fatal("no change event received")
	return dto.ChangeEvent{}
}

func startFiberServer(t *testing.T, app *fiber.App) (string, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		if err := app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", err)
		}
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)

	shutdown := func() {
		_ = app.ShutdownWithTimeout(time.Second)
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}

	return "http://" + listener.Addr().String(), shutdown
}
