package dto

import (
	"encoding/json"
	"time"
)

// Push-channel event names.
const (
	EventNewMessage        = "newMessage"
	EventUserTyping        = "userTyping"
	EventUserOnline        = "userOnline"
	EventJoinUser          = "joinUser"
	EventJoinConversation  = "joinConversation"
	EventLeaveConversation = "leaveConversation"
	EventTyping            = "typing"
)

// Envelope is the frame exchanged on the push channel.
type Envelope struct {
	Event  string          `json:"event"`
	UserID string          `json:"userId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals the payload into a frame.
func NewEnvelope(event string, payload interface{}) (Envelope, error) {
	envelope := Envelope{Event: event}
	if payload == nil {
		return envelope, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	envelope.Data = data
	return envelope, nil
}

// TypingPayload is carried by typing (emitted) and userTyping (received).
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName,omitempty"`
}

// OnlinePayload is carried by userOnline.
type OnlinePayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

// ChangeEvent tells bridge subscribers which part of the session state changed.
type ChangeEvent struct {
	Kind           string    `json:"kind"`
	ConversationID string    `json:"conversationId,omitempty"`
	At             time.Time `json:"at"`
}

// Change kinds published by the session.
const (
	ChangeConversations = "conversations"
	ChangeMessages      = "messages"
	ChangeLedger        = "ledger"
	ChangeTyping        = "typing"
	ChangeIdentity      = "identity"
)
