package models

import "time"

// UserRecord is the devserver's persisted user.
type UserRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:255;not null"`
	Avatar    string `gorm:"size:512"`
	CreatedAt time.Time
}

// TableName pins the users table name.
func (UserRecord) TableName() string { return "users" }

// ConversationRecord is the devserver's persisted two-party conversation.
// ParticipantOne is always the lexically smaller user id so a pair maps to a single row.
type ConversationRecord struct {
	ID             string `gorm:"primaryKey;size:64"`
	ParticipantOne string `gorm:"size:64;not null;uniqueIndex:idx_conversation_pair"`
	ParticipantTwo string `gorm:"size:64;not null;uniqueIndex:idx_conversation_pair"`
	CreatedAt      time.Time
	UpdatedAt      time.Time `gorm:"index"`
}

// TableName pins the conversations table name.
func (ConversationRecord) TableName() string { return "conversations" }

// MessageRecord is the devserver's persisted message. Read is from the recipient's point of view.
type MessageRecord struct {
	ID             string `gorm:"primaryKey;size:64"`
	ConversationID string    `gorm:"size:64;not null;index"`
	SenderID       string    `gorm:"size:64;not null;index"`
	Content        string    `gorm:"type:text;not null"`
	Read           bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"index"`
}

// TableName pins the messages table name.
func (MessageRecord) TableName() string { return "messages" }
