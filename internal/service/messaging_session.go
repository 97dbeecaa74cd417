package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/jobby-messaging/internal/dto"
	"github.com/noah-isme/jobby-messaging/internal/models"
	"github.com/noah-isme/jobby-messaging/internal/observability"
	"github.com/noah-isme/jobby-messaging/internal/realtime"
	"github.com/noah-isme/jobby-messaging/internal/store"
)

var (
	// ErrNoActiveConversation is returned by intents that need an open conversation.
	ErrNoActiveConversation = errors.New("no conversation is open")
	// ErrEmptyMessage is returned when the content is blank after trimming.
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrNotSignedIn is returned when the session has no identity.
	ErrNotSignedIn = errors.New("not signed in")
)

// Backend is the REST surface the session consumes.
type Backend interface {
	SetToken(token string)
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	SendMessage(ctx context.Context, conversationID, content string) (*models.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
	StartConversation(ctx context.Context, participantID string) (models.Conversation, error)
	UnreadCounts(ctx context.Context) (map[string]int, error)
}

// Connector owns the push connection for the session.
type Connector interface {
	SetIdentity(ctx context.Context, identity realtime.Identity) error
	Emit(ctx context.Context, event string, payload interface{}) error
	Connected() bool
}

// SessionOptions tunes the stores behind a session.
type SessionOptions struct {
	FeedCapacity int
	TypingExpiry time.Duration
	Clock        func() time.Time
}

// SessionSnapshot is a consistent-enough copy of every store for rendering.
type SessionSnapshot struct {
	Identity      realtime.Identity
	Connected     bool
	Conversations store.ConversationState
	Messages      store.MessageState
	Ledger        store.LedgerState
	Typing        store.TypingState
	TakenAt       time.Time
}

// MessagingSession is one signed-in user's messaging state plus the intents that mutate it.
type MessagingSession interface {
	AttachConnector(connector Connector)
	SwitchIdentity(ctx context.Context, identity realtime.Identity) error
	Identity() realtime.Identity
	LoadConversations(ctx context.Context) error
	HydrateUnread(ctx context.Context) error
	SelectConversation(ctx context.Context, conversationID string) error
	CloseConversation(ctx context.Context)
	SendMessage(ctx context.Context, content string) (models.Message, error)
	StartConversation(ctx context.Context, participantID string) (models.Conversation, error)
	EmitTyping(ctx context.Context) error
	HandleEvent(ctx context.Context, event realtime.Event)
	DismissNotification(id string)
	MarkNotificationRead(id string)
	ClearNotifications()
	Snapshot() SessionSnapshot
	Subscribe() (<-chan dto.ChangeEvent, func())
}

type messagingSession struct {
	backend       Backend
	connector     Connector
	conversations *store.ConversationStore
	messages      *store.MessageStore
	ledger        *store.Ledger
	typing        *store.TypingIndicator
	validator     *validator.Validate
	sanitizer     *bluemonday.Policy
	logger        zerolog.Logger
	tracer        trace.Tracer
	broker        *changeBroker
	now           func() time.Time

	mu       sync.RWMutex
	identity realtime.Identity
}

// NewMessagingSession wires the stores to a backend and a connector.
// A nil connector may be attached later, once the registry exists with the session as its handler.
func NewMessagingSession(backend Backend, connector Connector, validate *validator.Validate, opts SessionOptions, logger zerolog.Logger) MessagingSession {
	if validate == nil {
		validate = validator.New()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	s := &messagingSession{
		backend:       backend,
		connector:     connector,
		conversations: store.NewConversationStore(),
		messages:      store.NewMessageStore(""),
		ledger:        store.NewLedger(opts.FeedCapacity),
		validator:     validate,
		sanitizer:     bluemonday.StrictPolicy(),
		logger:        logger.With().Str("component", "messaging_session").Logger(),
		tracer:        otel.Tracer("github.com/noah-isme/jobby-messaging/internal/service/messaging"),
		broker:        newChangeBroker(),
		now:           clock,
	}
	s.typing = store.NewTypingIndicator(opts.TypingExpiry, func(state store.TypingState) {
		s.publish(dto.ChangeTyping, state.ConversationID)
	})
	return s
}

func (s *messagingSession) AttachConnector(connector Connector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connector = connector
}

func (s *messagingSession) currentConnector() Connector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connector
}

func (s *messagingSession) Identity() realtime.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *messagingSession) viewer() (realtime.Identity, error) {
	identity := s.Identity()
	if !identity.SignedIn() {
		return identity, ErrNotSignedIn
	}
	return identity, nil
}

func (s *messagingSession) SwitchIdentity(ctx context.Context, identity realtime.Identity) error {
	identity.UserID = strings.TrimSpace(identity.UserID)

	s.mu.Lock()
	previous := s.identity
	s.identity = identity
	s.mu.Unlock()

	s.backend.SetToken(identity.Token)

	if previous.UserID != identity.UserID {
		s.conversations.Reset()
		s.messages.Reset(identity.UserID)
		s.ledger.Reset()
		s.typing.Clear()
		s.logger.Info().Str("user_id", identity.UserID).Msg("session identity switched")
	}
	s.publish(dto.ChangeIdentity, "")

	var connectErr error
	if connector := s.currentConnector(); connector != nil {
		if err := connector.SetIdentity(ctx, identity); err != nil {
			connectErr = fmt.Errorf("connect: %w", err)
		}
	}

	if identity.SignedIn() && previous.UserID != identity.UserID {
		if err := s.LoadConversations(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("initial conversation load failed")
		}
		if err := s.HydrateUnread(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("unread hydration failed")
		}
	}

	return connectErr
}

func (s *messagingSession) LoadConversations(ctx context.Context) error {
	identity, err := s.viewer()
	if err != nil {
		return err
	}

	spanCtx, span := s.tracer.Start(ctx, "messaging.load_conversations", trace.WithAttributes(attribute.String("messaging.user_id", identity.UserID)))
	defer span.End()

	s.conversations.Dispatch(store.ConversationsLoading{})
	s.publish(dto.ChangeConversations, "")

	items, err := s.backend.ListConversations(spanCtx)
	if err != nil {
		span.RecordError(err)
		s.conversations.Dispatch(store.ConversationsFailed{Err: err})
		s.publish(dto.ChangeConversations, "")
		return fmt.Errorf("load conversations: %w", err)
	}
	if s.Identity().UserID != identity.UserID {
		return nil
	}

	s.conversations.Dispatch(store.ConversationsLoaded{Items: items})
	s.publish(dto.ChangeConversations, "")
	return nil
}

func (s *messagingSession) HydrateUnread(ctx context.Context) error {
	identity, err := s.viewer()
	if err != nil {
		return err
	}

	s.ledger.Dispatch(store.LedgerLoading{})
	counts, err := s.backend.UnreadCounts(ctx)
	if err != nil {
		s.ledger.Dispatch(store.LedgerFailed{Err: err})
		s.publish(dto.ChangeLedger, "")
		return fmt.Errorf("hydrate unread counts: %w", err)
	}
	if s.Identity().UserID != identity.UserID {
		return nil
	}

	s.ledger.Dispatch(store.UnreadHydrated{Counts: counts})
	s.publish(dto.ChangeLedger, "")
	return nil
}

func (s *messagingSession) SelectConversation(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return ErrNoActiveConversation
	}
	if _, err := s.viewer(); err != nil {
		return err
	}

	spanCtx, span := s.tracer.Start(ctx, "messaging.select_conversation", trace.WithAttributes(attribute.String("messaging.conversation_id", conversationID)))
	defer span.End()

	previous := s.messages.ActiveConversation()
	if previous != conversationID {
		if previous != "" {
			s.emit(spanCtx, dto.EventLeaveConversation, previous)
		}
		s.messages.Dispatch(store.MessagesOpened{ConversationID: conversationID})
		if s.typing.State().ConversationID != conversationID {
			s.typing.Clear()
		}
		s.publish(dto.ChangeMessages, conversationID)
	}
	s.emit(spanCtx, dto.EventJoinConversation, conversationID)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.markRead(spanCtx, conversationID)
	}()

	history, err := s.backend.ListMessages(spanCtx, conversationID)
	if err == nil {
		s.messages.Dispatch(store.MessagesLoaded{ConversationID: conversationID, Items: history})
		s.publish(dto.ChangeMessages, conversationID)
	} else {
		span.RecordError(err)
		err = fmt.Errorf("load messages: %w", err)
	}

	wg.Wait()
	return err
}

func (s *messagingSession) markRead(ctx context.Context, conversationID string) {
	if err := s.backend.MarkRead(ctx, conversationID); err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to mark conversation read")
		return
	}
	s.ledger.Dispatch(store.ConversationMarkedRead{ConversationID: conversationID})
	s.conversations.Dispatch(store.ConversationRead{ID: conversationID})
	s.publish(dto.ChangeLedger, conversationID)
}

func (s *messagingSession) CloseConversation(ctx context.Context) {
	active := s.messages.ActiveConversation()
	if active == "" {
		return
	}
	s.emit(ctx, dto.EventLeaveConversation, active)
	s.messages.Dispatch(store.MessagesOpened{})
	s.typing.Clear()
	s.publish(dto.ChangeMessages, active)
}

func (s *messagingSession) SendMessage(ctx context.Context, content string) (models.Message, error) {
	request := dto.SendMessageRequest{Content: strings.TrimSpace(content)}
	if request.Content == "" {
		return models.Message{}, ErrEmptyMessage
	}
	if err := s.validator.Struct(request); err != nil {
		return models.Message{}, err
	}

	identity, err := s.viewer()
	if err != nil {
		return models.Message{}, err
	}
	conversationID := s.messages.ActiveConversation()
	if conversationID == "" {
		return models.Message{}, ErrNoActiveConversation
	}

	now := s.now()
	placeholder := models.Message{
		ID:             models.TempIDPrefix + uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       identity.UserID,
		SenderName:     identity.UserName,
		Content:        request.Content,
		CreatedAt:      now,
		Read:           true,
	}

	previous, known := s.conversations.Get(conversationID)
	s.messages.Dispatch(store.MessagePending{Message: placeholder, StartedAt: now})
	s.conversations.Dispatch(store.ConversationMessageApplied{Message: placeholder})
	s.publish(dto.ChangeMessages, conversationID)

	attrs := []attribute.KeyValue{
		attribute.String("messaging.conversation_id", conversationID),
		attribute.String("messaging.temp_id", placeholder.ID),
	}
	spanCtx, span := s.tracer.Start(ctx, "messaging.send", trace.WithAttributes(attrs...))
	defer span.End()

	stored, err := s.backend.SendMessage(spanCtx, conversationID, request.Content)
	if err != nil {
		span.RecordError(err)
		s.messages.Dispatch(store.MessageFailed{TempID: placeholder.ID})
		if known {
			s.conversations.Dispatch(store.ConversationMessageReverted{TempID: placeholder.ID, Previous: previous})
		}
		observability.OptimisticSends().WithLabelValues("failed").Inc()
		s.publish(dto.ChangeMessages, conversationID)
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("send failed, optimistic message rolled back")
		return models.Message{}, fmt.Errorf("send message: %w", err)
	}

	s.messages.Dispatch(store.MessageConfirmed{TempID: placeholder.ID, Stored: stored})
	observability.OptimisticSends().WithLabelValues("confirmed").Inc()

	result := placeholder
	if stored != nil {
		result = *stored
		s.conversations.Dispatch(store.ConversationMessageApplied{Message: result})
	}
	s.publish(dto.ChangeMessages, conversationID)
	return result, nil
}

func (s *messagingSession) StartConversation(ctx context.Context, participantID string) (models.Conversation, error) {
	request := dto.StartConversationRequest{ParticipantID: strings.TrimSpace(participantID)}
	if err := s.validator.Struct(request); err != nil {
		return models.Conversation{}, err
	}
	if _, err := s.viewer(); err != nil {
		return models.Conversation{}, err
	}

	spanCtx, span := s.tracer.Start(ctx, "messaging.start_conversation", trace.WithAttributes(attribute.String("messaging.participant_id", request.ParticipantID)))
	defer span.End()

	conversation, err := s.backend.StartConversation(spanCtx, request.ParticipantID)
	if err != nil {
		span.RecordError(err)
		return models.Conversation{}, fmt.Errorf("start conversation: %w", err)
	}

	s.conversations.Dispatch(store.ConversationInserted{Conversation: conversation})
	s.publish(dto.ChangeConversations, conversation.ID)
	return conversation, nil
}

func (s *messagingSession) EmitTyping(ctx context.Context) error {
	identity, err := s.viewer()
	if err != nil {
		return err
	}
	conversationID := s.messages.ActiveConversation()
	if conversationID == "" {
		return ErrNoActiveConversation
	}
	connector := s.currentConnector()
	if connector == nil {
		return realtime.ErrNotConnected
	}

	return connector.Emit(ctx, dto.EventTyping, dto.TypingPayload{
		ConversationID: conversationID,
		UserID:         identity.UserID,
		UserName:       identity.UserName,
	})
}

func (s *messagingSession) DismissNotification(id string) {
	s.ledger.Dispatch(store.NotificationRemoved{ID: id})
	s.publish(dto.ChangeLedger, "")
}

func (s *messagingSession) MarkNotificationRead(id string) {
	s.ledger.Dispatch(store.NotificationMarkedRead{ID: id})
	s.publish(dto.ChangeLedger, "")
}

func (s *messagingSession) ClearNotifications() {
	s.ledger.Dispatch(store.NotificationsCleared{})
	s.publish(dto.ChangeLedger, "")
}

func (s *messagingSession) Snapshot() SessionSnapshot {
	connected := false
	if connector := s.currentConnector(); connector != nil {
		connected = connector.Connected()
	}
	return SessionSnapshot{
		Identity:      s.Identity(),
		Connected:     connected,
		Conversations: s.conversations.Snapshot(),
		Messages:      s.messages.Snapshot(),
		Ledger:        s.ledger.Snapshot(),
		Typing:        s.typing.State(),
		TakenAt:       s.now(),
	}
}

func (s *messagingSession) Subscribe() (<-chan dto.ChangeEvent, func()) {
	return s.broker.subscribe()
}

func (s *messagingSession) emit(ctx context.Context, event string, payload interface{}) {
	connector := s.currentConnector()
	if connector == nil {
		return
	}
	if err := connector.Emit(ctx, event, payload); err != nil {
		s.logger.Debug().Err(err).Str("event", event).Msg("emit skipped")
	}
}

func (s *messagingSession) publish(kind, conversationID string) {
	s.broker.broadcast(dto.ChangeEvent{Kind: kind, ConversationID: conversationID, At: s.now().UTC()})
}
