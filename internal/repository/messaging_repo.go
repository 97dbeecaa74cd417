package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/jobby-messaging/internal/models"
)

// MessagingRepository persists users, conversations and messages for the devserver.
type MessagingRepository interface {
	UpsertUser(ctx context.Context, user models.UserRecord) error
	GetUsers(ctx context.Context, ids []string) (map[string]models.UserRecord, error)
	FindOrCreateConversation(ctx context.Context, id, userA, userB string) (models.ConversationRecord, bool, error)
	GetConversation(ctx context.Context, id string) (models.ConversationRecord, error)
	ListConversations(ctx context.Context, userID string) ([]models.ConversationRecord, error)
	LastMessages(ctx context.Context, conversationIDs []string) (map[string]models.MessageRecord, error)
	SaveMessage(ctx context.Context, message *models.MessageRecord) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.MessageRecord, error)
	MarkRead(ctx context.Context, conversationID, viewerID string) (int64, error)
	UnreadCounts(ctx context.Context, viewerID string) (map[string]int, error)
}

type messagingRepository struct {
	db *gorm.DB
}

// NewMessagingRepository constructs a messaging repository backed by GORM.
func NewMessagingRepository(db *gorm.DB) MessagingRepository {
	return &messagingRepository{db: db}
}

// OrderedPair returns the two ids with the lexically smaller first.
func OrderedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

func (r *messagingRepository) UpsertUser(ctx context.Context, user models.UserRecord) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "avatar"}),
	}).Create(&user).Error
}

func (r *messagingRepository) GetUsers(ctx context.Context, ids []string) (map[string]models.UserRecord, error) {
	users := make(map[string]models.UserRecord, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	var records []models.UserRecord
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&records).Error; err != nil {
		return nil, err
	}
	for _, record := range records {
		users[record.ID] = record
	}
	return users, nil
}

// FindOrCreateConversation returns the pair's conversation, creating it with id when absent.
// created reports whether a new row was written.
func (r *messagingRepository) FindOrCreateConversation(ctx context.Context, id, userA, userB string) (models.ConversationRecord, bool, error) {
	one, two := OrderedPair(userA, userB)

	var record models.ConversationRecord
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("participant_one = ? AND participant_two = ?", one, two).First(&record).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		record = models.ConversationRecord{ID: id, ParticipantOne: one, ParticipantTwo: two, CreatedAt: now, UpdatedAt: now}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return models.ConversationRecord{}, false, err
	}
	return record, created, nil
}

func (r *messagingRepository) GetConversation(ctx context.Context, id string) (models.ConversationRecord, error) {
	var record models.ConversationRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return models.ConversationRecord{}, err
	}
	return record, nil
}

func (r *messagingRepository) ListConversations(ctx context.Context, userID string) ([]models.ConversationRecord, error) {
	var records []models.ConversationRecord
	err := r.db.WithContext(ctx).
		Where("participant_one = ? OR participant_two = ?", userID, userID).
		Order("updated_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *messagingRepository) LastMessages(ctx context.Context, conversationIDs []string) (map[string]models.MessageRecord, error) {
	last := make(map[string]models.MessageRecord, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return last, nil
	}

	var records []models.MessageRecord
	err := r.db.WithContext(ctx).
		Where("conversation_id IN ?", conversationIDs).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		last[record.ConversationID] = record
	}
	return last, nil
}

// SaveMessage stores the message and bumps the owning conversation's updated_at in one transaction.
func (r *messagingRepository) SaveMessage(ctx context.Context, message *models.MessageRecord) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		return tx.Model(&models.ConversationRecord{}).
			Where("id = ?", message.ConversationID).
			Update("updated_at", message.CreatedAt).Error
	})
}

func (r *messagingRepository) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.MessageRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}

	var records []models.MessageRecord
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// MarkRead flags every message the viewer received in the conversation as read.
func (r *messagingRepository) MarkRead(ctx context.Context, conversationID, viewerID string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.MessageRecord{}).
		Where("conversation_id = ? AND sender_id <> ? AND read = ?", conversationID, viewerID, false).
		Update("read", true)
	return result.RowsAffected, result.Error
}

// UnreadCounts counts unread received messages per conversation for the viewer. Conversations without
// unread messages are omitted.
func (r *messagingRepository) UnreadCounts(ctx context.Context, viewerID string) (map[string]int, error) {
	type row struct {
		ConversationID string
		Total          int
	}

	var rows []row
	err := r.db.WithContext(ctx).Model(&models.MessageRecord{}).
		Select("messages.conversation_id AS conversation_id, COUNT(*) AS total").
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("(conversations.participant_one = ? OR conversations.participant_two = ?)", viewerID, viewerID).
		Where("messages.sender_id <> ? AND messages.read = ?", viewerID, false).
		Group("messages.conversation_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(rows))
	for _, item := range rows {
		counts[item.ConversationID] = item.Total
	}
	return counts, nil
}
