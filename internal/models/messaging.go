package models

import (
	"strings"
	"time"
)

// TempIDPrefix marks message identifiers generated locally for optimistic sends.
const TempIDPrefix = "temp-"

// Notification entry types.
const (
	NotificationMessage = "message"
	NotificationTyping  = "typing"
	NotificationOnline  = "online"
	NotificationGeneric = "generic"
)

// User is a participant or sender reference.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Conversation is a two-party thread as mirrored by the client.
type Conversation struct {
	ID           string    `json:"id"`
	Participants []User    `json:"participants"`
	LastMessage  *Message  `json:"lastMessage,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
	UnreadCount  int       `json:"unreadCount"`
}

// OtherParticipant returns the participant that is not the viewer.
func (c Conversation) OtherParticipant(viewerID string) (User, bool) {
	for _, participant := range c.Participants {
		if participant.ID != "" && participant.ID != viewerID {
			return participant, true
		}
	}
	return User{}, false
}

// Message is a single chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName,omitempty"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	Read           bool      `json:"read"`
}

// IsTemporary reports whether the message is a pending optimistic placeholder.
func (m Message) IsTemporary() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// NotificationEntry is a transient feed item raised by a live event.
type NotificationEntry struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	ConversationID string    `json:"conversationId,omitempty"`
	SenderID       string    `json:"senderId,omitempty"`
	SenderName     string    `json:"senderName,omitempty"`
	Content        string    `json:"content,omitempty"`
	UserID         string    `json:"userId,omitempty"`
	UserName       string    `json:"userName,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Read           bool      `json:"read"`
}

// DisplayName returns the name shown for the entry's originator.
func (n NotificationEntry) DisplayName() string {
	if n.SenderName != "" {
		return n.SenderName
	}
	return n.UserName
}
