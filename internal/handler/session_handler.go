package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/jobby-messaging/internal/dto"
	"github.com/noah-isme/jobby-messaging/internal/realtime"
	"github.com/noah-isme/jobby-messaging/internal/service"
	"github.com/noah-isme/jobby-messaging/internal/utils"
	"github.com/noah-isme/jobby-messaging/internal/view"
)

// IdentityPublisher fans an identity switch out to other messenger processes.
type IdentityPublisher interface {
	Publish(ctx context.Context, identity realtime.Identity) error
}

// SessionHandler exposes the messaging session to the presentation shell.
type SessionHandler struct {
	session   service.MessagingSession
	renderer  *view.Renderer
	validator *validator.Validate
	publisher IdentityPublisher
	logger    zerolog.Logger
	keepAlive time.Duration
}

// NewSessionHandler constructs a handler instance. publisher may be nil.
func NewSessionHandler(session service.MessagingSession, renderer *view.Renderer, validate *validator.Validate, publisher IdentityPublisher, logger zerolog.Logger, keepAlive time.Duration) *SessionHandler {
	if validate == nil {
		validate = validator.New()
	}
	if renderer == nil {
		renderer = view.NewRenderer(view.DefaultOptions())
	}
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}

	return &SessionHandler{
		session:   session,
		renderer:  renderer,
		validator: validate,
		publisher: publisher,
		logger:    logger.With().Str("component", "session_handler").Logger(),
		keepAlive: keepAlive,
	}
}

// Register binds the session routes.
func (h *SessionHandler) Register(router fiber.Router) {
	router.Get("/session", h.current)
	router.Put("/session/identity", h.switchIdentity)

	router.Get("/conversations", h.listConversations)
	router.Post("/conversations", h.startConversation)
	router.Get("/conversations/:id", h.openConversation)
	router.Post("/conversations/:id/close", h.closeConversation)
	router.Post("/conversations/:id/messages", h.sendMessage)
	router.Post("/conversations/:id/typing", h.typing)

	router.Get("/notifications", h.notifications)
	router.Delete("/notifications", h.clearNotifications)
	router.Delete("/notifications/:id", h.dismissNotification)
	router.Patch("/notifications/:id/read", h.markNotificationRead)
	router.Get("/toasts", h.toasts)

	router.Get("/stream", h.stream)
}

func (h *SessionHandler) current(c *fiber.Ctx) error {
	return utils.SendSuccess(c, "session", h.renderer.Session(h.session.Snapshot()))
}

func (h *SessionHandler) switchIdentity(c *fiber.Ctx) error {
	var req dto.IdentityRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendFailure(c, fiber.StatusBadRequest, "invalid identity", utils.ValidationDetails(err))
	}

	identity := realtime.Identity{
		UserID:   strings.TrimSpace(req.UserID),
		UserName: strings.TrimSpace(req.UserName),
		Token:    strings.TrimSpace(req.Token),
	}
	if identity.UserID == "" && identity.Token != "" {
		derived, err := realtime.IdentityFromToken(identity.Token)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "token does not carry a user id")
		}
		identity.UserID = derived.UserID
		if identity.UserName == "" {
			identity.UserName = derived.UserName
		}
	}
	if identity.UserID == "" {
		identity = realtime.Identity{}
	}

	ctx := requestContext(c)
	logger := requestLogger(h.logger, c)

	if err := h.session.SwitchIdentity(ctx, identity); err != nil {
		logger.Warn().Err(err).Str("user_id", identity.UserID).Msg("identity switched without a live connection")
	}
	if h.publisher != nil {
		if err := h.publisher.Publish(ctx, identity); err != nil {
			logger.Warn().Err(err).Msg("failed to publish identity")
		}
	}

	return utils.SendSuccess(c, "identity updated", h.renderer.Session(h.session.Snapshot()))
}

func (h *SessionHandler) listConversations(c *fiber.Ctx) error {
	if c.QueryBool("refresh") {
		if err := h.session.LoadConversations(requestContext(c)); err != nil {
			requestLogger(h.logger, c).Warn().Err(err).Msg("conversation refresh failed")
		}
	}

	return utils.SendSuccess(c, "conversations", h.renderer.ConversationList(h.session.Snapshot()))
}

func (h *SessionHandler) startConversation(c *fiber.Ctx) error {
	var req dto.StartConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}

	conversation, err := h.session.StartConversation(requestContext(c), strings.TrimSpace(req.ParticipantID))
	if err != nil {
		return h.fail(c, err, "failed to start conversation")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "conversation started", conversation)
}

func (h *SessionHandler) openConversation(c *fiber.Ctx) error {
	conversationID := strings.TrimSpace(c.Params("id"))
	if conversationID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "conversation id required")
	}

	if h.session.Snapshot().Messages.ConversationID != conversationID || c.QueryBool("reload") {
		if err := h.session.SelectConversation(requestContext(c), conversationID); err != nil {
			return h.fail(c, err, "failed to open conversation")
		}
	}

	window, _ := h.renderer.ChatWindow(h.session.Snapshot())
	return utils.SendSuccess(c, "conversation", window)
}

func (h *SessionHandler) closeConversation(c *fiber.Ctx) error {
	if h.session.Snapshot().Messages.ConversationID == c.Params("id") {
		h.session.CloseConversation(requestContext(c))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SessionHandler) sendMessage(c *fiber.Ctx) error {
	if !h.isActive(c) {
		return utils.SendError(c, fiber.StatusConflict, "conversation is not open")
	}

	var req dto.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}

	message, err := h.session.SendMessage(requestContext(c), req.Content)
	if err != nil {
		return h.fail(c, err, "failed to send message")
	}

	window, _ := h.renderer.ChatWindow(h.session.Snapshot())
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", fiber.Map{
		"message": message,
		"window":  window,
	})
}

func (h *SessionHandler) typing(c *fiber.Ctx) error {
	if !h.isActive(c) {
		return utils.SendError(c, fiber.StatusConflict, "conversation is not open")
	}

	if err := h.session.EmitTyping(requestContext(c)); err != nil {
		return h.fail(c, err, "failed to emit typing")
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (h *SessionHandler) notifications(c *fiber.Ctx) error {
	return utils.SendSuccess(c, "notifications", h.renderer.NotificationFeed(h.session.Snapshot()))
}

func (h *SessionHandler) toasts(c *fiber.Ctx) error {
	return utils.SendSuccess(c, "toasts", h.renderer.Toasts(h.session.Snapshot()))
}

func (h *SessionHandler) dismissNotification(c *fiber.Ctx) error {
	h.session.DismissNotification(c.Params("id"))
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SessionHandler) markNotificationRead(c *fiber.Ctx) error {
	h.session.MarkNotificationRead(c.Params("id"))
	return utils.SendSuccess(c, "notification updated", h.renderer.NotificationFeed(h.session.Snapshot()))
}

func (h *SessionHandler) clearNotifications(c *fiber.Ctx) error {
	h.session.ClearNotifications()
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SessionHandler) stream(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ctx, cancel := context.WithCancel(requestContext(c))
	changes, cleanup := h.session.Subscribe()
	interval := h.keepAlive

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			cleanup()
			cancel()
		}()

		if err := writeChangeEvent(w, dto.ChangeEvent{Kind: dto.ChangeIdentity, At: time.Now().UTC()}); err != nil {
			return
		}

		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()

		for {
			select {
			case change, ok := <-changes:
				if !ok {
					return
				}
				if err := writeChangeEvent(w, change); err != nil {
					h.logger.Debug().Err(err).Msg("failed to write change event")
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					h.logger.Debug().Err(err).Msg("failed to write stream keepalive")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}

func (h *SessionHandler) isActive(c *fiber.Ctx) bool {
	id := strings.TrimSpace(c.Params("id"))
	return id != "" && h.session.Snapshot().Messages.ConversationID == id
}

func (h *SessionHandler) fail(c *fiber.Ctx, err error, fallback string) error {
	status := statusForError(err)
	logger := requestLogger(h.logger, c)

	switch {
	case isValidationError(err):
		return utils.SendFailure(c, status, "invalid payload", utils.ValidationDetails(err))
	case status >= fiber.StatusInternalServerError:
		logger.Error().Err(err).Int("status", status).Msg(fallback)
		if status == fiber.StatusInternalServerError {
			return utils.SendError(c, status, fallback)
		}
		return utils.SendError(c, status, err.Error())
	default:
		return utils.SendError(c, status, err.Error())
	}
}

func writeChangeEvent(w *bufio.Writer, change dto.ChangeEvent) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: change\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}

func writeKeepAlive(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, ": keep-alive %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return w.Flush()
}
