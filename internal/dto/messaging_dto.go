package dto

import "time"

// SendMessageRequest is the body of a send intent and of POST /api/conversations/:id.
type SendMessageRequest struct {
	Content string `json:"content" validate:"required,min=1,max=4000"`
}

// StartConversationRequest is the body of POST /api/conversations.
type StartConversationRequest struct {
	ParticipantID string `json:"participantId" validate:"required,max=64"`
}

// IdentityRequest switches the signed-in identity of the session. An empty user id signs out.
type IdentityRequest struct {
	UserID   string `json:"userId" validate:"omitempty,max=64"`
	UserName string `json:"userName" validate:"omitempty,max=255"`
	Token    string `json:"token"`
}

// ErrorBody mirrors the backend's error payload.
type ErrorBody struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// UserView is a participant as shown in lists and headers.
type UserView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// ConversationListItem is one row of the conversation list.
type ConversationListItem struct {
	ID              string    `json:"id"`
	OtherUser       UserView  `json:"otherUser"`
	LastMessage     string    `json:"lastMessage,omitempty"`
	LastMessageTime string    `json:"lastMessageTime,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
	Unread          int       `json:"unread"`
	Active          bool      `json:"active"`
}

// ConversationListView is the rendered conversation sidebar.
type ConversationListView struct {
	Items   []ConversationListItem `json:"items"`
	Error   string                 `json:"error,omitempty"`
	Empty   bool                   `json:"empty"`
	Loading bool                   `json:"loading"`
}

// MessageView is one bubble in the chat window.
type MessageView struct {
	ID         string `json:"id"`
	SenderName string `json:"senderName,omitempty"`
	Content    string `json:"content"`
	Time       string `json:"time"`
	Mine       bool   `json:"mine"`
	Pending    bool   `json:"pending"`
}

// MessageGroup bundles messages under a day label.
type MessageGroup struct {
	Label    string        `json:"label"`
	Messages []MessageView `json:"messages"`
}

// ChatWindowView is the rendered chat window for the active conversation.
type ChatWindowView struct {
	ConversationID string         `json:"conversationId"`
	Title          UserView       `json:"title"`
	Groups         []MessageGroup `json:"groups"`
	Typing         string         `json:"typing,omitempty"`
}

// ToastView is a transient banner for a recent message notification.
type ToastView struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Icon  string `json:"icon"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// NotificationFeedView is the dropdown content.
type NotificationFeedView struct {
	Items       []NotificationItemView `json:"items"`
	UnreadCount int                    `json:"unreadCount"`
}

// NotificationItemView is one dropdown row.
type NotificationItemView struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Icon           string    `json:"icon"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	ConversationID string    `json:"conversationId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Read           bool      `json:"read"`
}

// SessionView summarises the session for the shell header.
type SessionView struct {
	UserID               string `json:"userId,omitempty"`
	UserName             string `json:"userName,omitempty"`
	Connected            bool   `json:"connected"`
	ActiveConversationID string `json:"activeConversationId,omitempty"`
	TotalUnread          int    `json:"totalUnread"`
	LedgerError          string `json:"ledgerError,omitempty"`
}
