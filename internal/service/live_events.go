package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/jobby-messaging/internal/dto"
	"github.com/noah-isme/jobby-messaging/internal/models"
	"github.com/noah-isme/jobby-messaging/internal/observability"
	"github.com/noah-isme/jobby-messaging/internal/realtime"
	"github.com/noah-isme/jobby-messaging/internal/store"
)

const (
	outcomeApplied = "applied"
	outcomeIgnored = "ignored"
	outcomeInvalid = "invalid"
)

// HandleEvent reconciles the stores with one push. The registry delivers pushes one at a time.
func (s *messagingSession) HandleEvent(ctx context.Context, event realtime.Event) {
	logger := s.logger.With().Str("event", event.Name).Logger()

	switch event.Name {
	case dto.EventNewMessage, dto.EventUserTyping, dto.EventUserOnline:
	default:
		logger.Debug().Msg("ignoring unknown push event")
		observability.LiveEvents().WithLabelValues("unknown", outcomeIgnored).Inc()
		return
	}

	if err := dto.ValidatePayload(event.Name, event.Data); err != nil {
		logger.Warn().Err(err).Msg("dropping invalid push payload")
		observability.LiveEvents().WithLabelValues(event.Name, outcomeInvalid).Inc()
		return
	}

	identity := s.Identity()
	if !identity.SignedIn() {
		observability.LiveEvents().WithLabelValues(event.Name, outcomeIgnored).Inc()
		return
	}

	var outcome string
	switch event.Name {
	case dto.EventNewMessage:
		var message models.Message
		if err := json.Unmarshal(event.Data, &message); err != nil {
			logger.Warn().Err(err).Msg("failed to decode message push")
			outcome = outcomeInvalid
			break
		}
		outcome = s.applyNewMessage(ctx, identity, message)

	case dto.EventUserTyping:
		var payload dto.TypingPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			logger.Warn().Err(err).Msg("failed to decode typing push")
			outcome = outcomeInvalid
			break
		}
		outcome = s.applyTyping(identity, payload)

	case dto.EventUserOnline:
		var payload dto.OnlinePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			logger.Warn().Err(err).Msg("failed to decode presence push")
			outcome = outcomeInvalid
			break
		}
		outcome = s.applyOnline(payload)
	}

	observability.LiveEvents().WithLabelValues(event.Name, outcome).Inc()
}

func (s *messagingSession) applyNewMessage(ctx context.Context, identity realtime.Identity, message models.Message) string {
	if s.conversations.Known(message.ConversationID) {
		s.conversations.Dispatch(store.ConversationMessageApplied{Message: message})
		s.publish(dto.ChangeConversations, message.ConversationID)
	} else {
		go s.refreshConversations(ctx, message.ConversationID)
	}

	if message.SenderID == identity.UserID {
		return outcomeIgnored
	}

	if s.messages.ActiveConversation() == message.ConversationID {
		if s.messages.Has(message.ID) {
			return outcomeIgnored
		}
		s.messages.Dispatch(store.MessageReceived{Message: message})
		s.publish(dto.ChangeMessages, message.ConversationID)
	} else {
		s.ledger.Dispatch(store.UnreadIncremented{ConversationID: message.ConversationID})
	}

	s.ledger.Dispatch(store.NotificationPushed{Entry: models.NotificationEntry{
		ID:             uuid.NewString(),
		Type:           models.NotificationMessage,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		SenderName:     s.clean(message.SenderName),
		Content:        s.clean(message.Content),
		Timestamp:      s.now(),
	}})
	s.publish(dto.ChangeLedger, message.ConversationID)
	return outcomeApplied
}

func (s *messagingSession) applyTyping(identity realtime.Identity, payload dto.TypingPayload) string {
	if payload.UserID == identity.UserID {
		return outcomeIgnored
	}

	userName := s.clean(payload.UserName)
	s.ledger.Dispatch(store.NotificationPushed{Entry: models.NotificationEntry{
		ID:             uuid.NewString(),
		Type:           models.NotificationTyping,
		ConversationID: payload.ConversationID,
		UserID:         payload.UserID,
		UserName:       userName,
		Timestamp:      s.now(),
	}})
	s.publish(dto.ChangeLedger, payload.ConversationID)

	if payload.ConversationID != "" && payload.ConversationID == s.messages.ActiveConversation() {
		s.typing.Show(payload.ConversationID, userName)
	}
	return outcomeApplied
}

func (s *messagingSession) applyOnline(payload dto.OnlinePayload) string {
	s.ledger.Dispatch(store.NotificationPushed{Entry: models.NotificationEntry{
		ID:        uuid.NewString(),
		Type:      models.NotificationOnline,
		UserID:    payload.UserID,
		UserName:  s.clean(payload.UserName),
		Timestamp: s.now(),
	}})
	s.publish(dto.ChangeLedger, "")
	return outcomeApplied
}

// refreshConversations reloads the list after a push for a conversation the store has not seen.
func (s *messagingSession) refreshConversations(ctx context.Context, conversationID string) {
	if err := s.LoadConversations(ctx); err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to refresh conversations for unknown conversation")
	}
}

func (s *messagingSession) clean(value string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(value))
}
