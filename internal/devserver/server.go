package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/jobby-messaging/internal/dto"
	"github.com/noah-isme/jobby-messaging/internal/middleware"
	"github.com/noah-isme/jobby-messaging/internal/models"
	"github.com/noah-isme/jobby-messaging/internal/repository"
	"github.com/noah-isme/jobby-messaging/internal/utils"
)

var (
	errNotParticipant = errors.New("not a participant of this conversation")
	errUnknownUser    = errors.New("unknown participant")
)

// Options configures the reference backend.
type Options struct {
	JWTSecret      string
	SendRateLimit  int
	SendRateWindow time.Duration
	NATS           *nats.Conn
	NATSPrefix     string
}

// Server implements the conversation REST API and the push channel consumed by the messenger.
type Server struct {
	repo      repository.MessagingRepository
	hub       *hub
	opts      Options
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// New constructs a devserver over the repository.
func New(repo repository.MessagingRepository, validate *validator.Validate, opts Options, logger zerolog.Logger) *Server {
	if validate == nil {
		validate = validator.New()
	}

	s := &Server{
		repo:      repo,
		hub:       newHub(logger),
		opts:      opts,
		validator: validate,
		sanitizer: bluemonday.UGCPolicy(),
		logger:    logger.With().Str("component", "devserver").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/jobby-messaging/internal/devserver"),
	}
	if opts.NATS != nil {
		s.hub.setRelay(newNATSRelay(opts.NATS, opts.NATSPrefix, logger))
	}
	return s
}

// Start launches background consumers. It is a no-op without NATS.
func (s *Server) Start(ctx context.Context) error {
	if s.hub.relay == nil {
		return nil
	}
	return s.hub.relay.start(ctx, s.handleRelayed)
}

// Seed upserts the configured users.
func (s *Server) Seed(ctx context.Context, users map[string]string) error {
	for id, name := range users {
		if err := s.repo.UpsertUser(ctx, models.UserRecord{ID: id, Name: name, CreatedAt: time.Now().UTC()}); err != nil {
			return err
		}
	}
	return nil
}

// Token mints a bearer token for a user.
func (s *Server) Token(userID, userName string) (string, error) {
	return middleware.SignToken(s.opts.JWTSecret, userID, userName, 0)
}

// Register binds the REST routes and the websocket endpoint.
func (s *Server) Register(app *fiber.App) {
	auth := middleware.JWTProtected(s.opts.JWTSecret)

	app.Use("/ws", auth, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(s.serveSocket))

	conversations := app.Group("/api/conversations", auth)
	conversations.Get("/", s.listConversations)
	conversations.Post("/", s.startConversation)
	conversations.Get("/unread-counts", s.unreadCounts)
	conversations.Get("/:id/messages", s.listMessages)
	conversations.Post("/:id", middleware.RateLimit("devserver-send", s.opts.SendRateLimit, s.opts.SendRateWindow), s.sendMessage)
	conversations.Put("/:id/read", s.markRead)
}

func (s *Server) listConversations(c *fiber.Ctx) error {
	viewerID := viewerFromContext(c)
	ctx := requestContext(c)

	records, err := s.repo.ListConversations(ctx, viewerID)
	if err != nil {
		return s.fail(c, err)
	}

	conversations, err := s.toConversations(ctx, viewerID, records)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(conversations)
}

func (s *Server) startConversation(c *fiber.Ctx) error {
	viewerID := viewerFromContext(c)

	var req dto.StartConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}
	req.ParticipantID = strings.TrimSpace(req.ParticipantID)
	if err := s.validator.Struct(req); err != nil {
		return utils.SendFailure(c, fiber.StatusBadRequest, "invalid payload", utils.ValidationDetails(err))
	}
	if req.ParticipantID == viewerID {
		return utils.SendError(c, fiber.StatusBadRequest, "cannot start a conversation with yourself")
	}

	ctx, span := s.tracer.Start(requestContext(c), "devserver.start_conversation", trace.WithAttributes(
		attribute.String("messaging.user_id", viewerID),
		attribute.String("messaging.participant_id", req.ParticipantID),
	))
	defer span.End()

	users, err := s.repo.GetUsers(ctx, []string{req.ParticipantID})
	if err != nil {
		return s.fail(c, err)
	}
	if _, ok := users[req.ParticipantID]; !ok {
		return s.fail(c, errUnknownUser)
	}

	record, created, err := s.repo.FindOrCreateConversation(ctx, uuid.NewString(), viewerID, req.ParticipantID)
	if err != nil {
		span.RecordError(err)
		return s.fail(c, err)
	}

	conversations, err := s.toConversations(ctx, viewerID, []models.ConversationRecord{record})
	if err != nil {
		return s.fail(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(conversations[0])
}

func (s *Server) unreadCounts(c *fiber.Ctx) error {
	counts, err := s.repo.UnreadCounts(requestContext(c), viewerFromContext(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(counts)
}

func (s *Server) listMessages(c *fiber.Ctx) error {
	ctx := requestContext(c)
	record, err := s.participantConversation(ctx, c.Params("id"), viewerFromContext(c))
	if err != nil {
		return s.fail(c, err)
	}

	history, err := s.repo.ListMessages(ctx, record.ID, c.QueryInt("limit", 0))
	if err != nil {
		return s.fail(c, err)
	}

	users, err := s.repo.GetUsers(ctx, []string{record.ParticipantOne, record.ParticipantTwo})
	if err != nil {
		return s.fail(c, err)
	}

	messages := make([]models.Message, 0, len(history))
	for _, item := range history {
		messages = append(messages, toMessage(item, users))
	}
	return c.JSON(messages)
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	viewerID := viewerFromContext(c)

	var req dto.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}
	req.Content = strings.TrimSpace(s.sanitizer.Sanitize(req.Content))
	if err := s.validator.Struct(req); err != nil {
		return utils.SendFailure(c, fiber.StatusBadRequest, "invalid payload", utils.ValidationDetails(err))
	}

	ctx, span := s.tracer.Start(requestContext(c), "devserver.send_message", trace.WithAttributes(
		attribute.String("messaging.user_id", viewerID),
		attribute.String("messaging.conversation_id", c.Params("id")),
	))
	defer span.End()

	record, err := s.participantConversation(ctx, c.Params("id"), viewerID)
	if err != nil {
		return s.fail(c, err)
	}

	stored := models.MessageRecord{
		ID:             uuid.NewString(),
		ConversationID: record.ID,
		SenderID:       viewerID,
		Content:        req.Content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.repo.SaveMessage(ctx, &stored); err != nil {
		span.RecordError(err)
		return s.fail(c, err)
	}

	users, err := s.repo.GetUsers(ctx, []string{viewerID})
	if err != nil {
		return s.fail(c, err)
	}
	message := toMessage(stored, users)

	s.push(otherParticipant(record, viewerID), dto.EventNewMessage, message)

	return c.Status(fiber.StatusCreated).JSON(message)
}

func (s *Server) markRead(c *fiber.Ctx) error {
	ctx := requestContext(c)
	viewerID := viewerFromContext(c)

	record, err := s.participantConversation(ctx, c.Params("id"), viewerID)
	if err != nil {
		return s.fail(c, err)
	}

	updated, err := s.repo.MarkRead(ctx, record.ID, viewerID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"updated": updated})
}

func (s *Server) serveSocket(conn *websocket.Conn) {
	userID, _ := conn.Locals(middleware.LocalUserID).(string)
	userName, _ := conn.Locals(middleware.LocalUserName).(string)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "user id missing"))
		_ = conn.Close()
		return
	}
	if query := strings.TrimSpace(conn.Query("userId")); query != "" && query != userID {
		s.logger.Warn().Str("user_id", userID).Str("query_user_id", query).Msg("socket userId does not match token, using token")
	}

	cl := newClient(conn, userID)
	s.hub.register(cl)
	defer s.hub.unregister(cl)

	logger := s.logger.With().Str("user_id", userID).Logger()
	logger.Info().Msg("socket connected")

	go cl.writer(logger)
	defer cl.close()

	ctx := context.Background()
	for {
		var envelope dto.Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			logger.Debug().Err(err).Msg("socket read loop ended")
			break
		}
		envelope.UserID = userID
		s.handleInbound(ctx, envelope, userName)
	}

	logger.Info().Msg("socket disconnected")
}

func (s *Server) handleRelayed(ctx context.Context, envelope dto.Envelope) {
	s.handleInbound(ctx, envelope, "")
}

// handleInbound applies an event emitted by a client. Relayed events carry no name and resolve it from the store.
func (s *Server) handleInbound(ctx context.Context, envelope dto.Envelope, userName string) {
	senderID := envelope.UserID
	logger := s.logger.With().Str("user_id", senderID).Str("event", envelope.Event).Logger()

	if userName == "" {
		if users, err := s.repo.GetUsers(ctx, []string{senderID}); err == nil {
			userName = users[senderID].Name
		}
	}

	switch envelope.Event {
	case dto.EventJoinUser:
		s.hub.markOnline(senderID)
		envelopeOut, err := dto.NewEnvelope(dto.EventUserOnline, dto.OnlinePayload{UserID: senderID, UserName: userName})
		if err != nil {
			logger.Warn().Err(err).Msg("failed to encode presence")
			return
		}
		s.hub.broadcastExcept(senderID, envelopeOut)

	case dto.EventJoinConversation, dto.EventLeaveConversation:
		var conversationID string
		if err := json.Unmarshal(envelope.Data, &conversationID); err != nil {
			logger.Debug().Err(err).Msg("invalid conversation id")
			return
		}
		if _, err := s.participantConversation(ctx, conversationID, senderID); err != nil {
			logger.Debug().Err(err).Str("conversation_id", conversationID).Msg("room change rejected")
			return
		}
		logger.Debug().Str("conversation_id", conversationID).Msg("room change")

	case dto.EventTyping:
		var payload dto.TypingPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			logger.Debug().Err(err).Msg("invalid typing payload")
			return
		}
		record, err := s.participantConversation(ctx, payload.ConversationID, senderID)
		if err != nil {
			logger.Debug().Err(err).Msg("typing rejected")
			return
		}
		s.push(otherParticipant(record, senderID), dto.EventUserTyping, dto.TypingPayload{
			ConversationID: record.ID,
			UserID:         senderID,
			UserName:       userName,
		})

	default:
		logger.Debug().Msg("ignoring unknown client event")
	}
}

func (s *Server) push(userID, event string, payload interface{}) {
	envelope, err := dto.NewEnvelope(event, payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("event", event).Msg("failed to encode push")
		return
	}
	s.hub.deliver(userID, envelope)
}

func (s *Server) participantConversation(ctx context.Context, conversationID, viewerID string) (models.ConversationRecord, error) {
	record, err := s.repo.GetConversation(ctx, strings.TrimSpace(conversationID))
	if err != nil {
		return models.ConversationRecord{}, err
	}
	if record.ParticipantOne != viewerID && record.ParticipantTwo != viewerID {
		return models.ConversationRecord{}, errNotParticipant
	}
	return record, nil
}

func (s *Server) toConversations(ctx context.Context, viewerID string, records []models.ConversationRecord) ([]models.Conversation, error) {
	ids := make([]string, 0, len(records))
	userIDs := map[string]struct{}{viewerID: {}}
	for _, record := range records {
		ids = append(ids, record.ID)
		userIDs[record.ParticipantOne] = struct{}{}
		userIDs[record.ParticipantTwo] = struct{}{}
	}

	lookup := make([]string, 0, len(userIDs))
	for id := range userIDs {
		lookup = append(lookup, id)
	}
	sort.Strings(lookup)

	users, err := s.repo.GetUsers(ctx, lookup)
	if err != nil {
		return nil, err
	}
	last, err := s.repo.LastMessages(ctx, ids)
	if err != nil {
		return nil, err
	}
	unread, err := s.repo.UnreadCounts(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	conversations := make([]models.Conversation, 0, len(records))
	for _, record := range records {
		conversation := models.Conversation{
			ID: record.ID,
			Participants: []models.User{
				toUser(record.ParticipantOne, users),
				toUser(record.ParticipantTwo, users),
			},
			UpdatedAt:   record.UpdatedAt,
			UnreadCount: unread[record.ID],
		}
		if message, ok := last[record.ID]; ok {
			converted := toMessage(message, users)
			conversation.LastMessage = &converted
		}
		conversations = append(conversations, conversation)
	}
	return conversations, nil
}

func (s *Server) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "conversation not found")
	case errors.Is(err, errUnknownUser):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, errNotParticipant):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	default:
		s.logger.Error().Err(err).Str("correlation_id", middleware.GetCorrelationID(c)).Msg("devserver request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal error")
	}
}

func viewerFromContext(c *fiber.Ctx) string {
	id, _ := c.Locals(middleware.LocalUserID).(string)
	return id
}

func requestContext(c *fiber.Ctx) context.Context {
	return middleware.ContextWithCorrelation(c.UserContext(), middleware.GetCorrelationID(c))
}

func otherParticipant(record models.ConversationRecord, userID string) string {
	if record.ParticipantOne == userID {
		return record.ParticipantTwo
	}
	return record.ParticipantOne
}

func toUser(id string, users map[string]models.UserRecord) models.User {
	record, ok := users[id]
	if !ok {
		return models.User{ID: id}
	}
	return models.User{ID: record.ID, Name: record.Name, Avatar: record.Avatar}
}

func toMessage(record models.MessageRecord, users map[string]models.UserRecord) models.Message {
	return models.Message{
		ID:             record.ID,
		ConversationID: record.ConversationID,
		SenderID:       record.SenderID,
		SenderName:     users[record.SenderID].Name,
		Content:        record.Content,
		CreatedAt:      record.CreatedAt,
		Read:           record.Read,
	}
}
