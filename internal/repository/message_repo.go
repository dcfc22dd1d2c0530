package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/trekmates/chat-api/internal/models"
)

// streamWindow bounds the number of messages a live subscription re-reads on
// every change notification.
const streamWindow = 500

// MessageRepository persists chat messages for history and live delivery.
type MessageRepository interface {
	Save(ctx context.Context, message *models.ChatMessage) error
	// ListByRoom returns up to limit messages before the given time, in
	// ascending chronological order, for paginated history.
	ListByRoom(ctx context.Context, roomID string, before time.Time, limit int) ([]models.ChatMessage, error)
	// StreamWindow returns the room's most recent messages in ascending
	// order, the full-replace payload delivered to live subscribers.
	StreamWindow(ctx context.Context, roomID string) ([]models.ChatMessage, error)
	// MarkRead flags every message addressed to the recipient as read.
	MarkRead(ctx context.Context, roomID, recipientID string) error
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Save(ctx context.Context, message *models.ChatMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *messageRepository) ListByRoom(ctx context.Context, roomID string, before time.Time, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := r.db.WithContext(ctx).Where("room_id = ?", roomID)
	if !before.IsZero() {
		query = query.Where("created_at < ?", before)
	}

	var messages []models.ChatMessage
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}

	// Reverse to chronological order ascending for clients.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *messageRepository) StreamWindow(ctx context.Context, roomID string) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	if err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").Order("id DESC").
		Limit(streamWindow).
		Find(&messages).Error; err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, roomID, recipientID string) error {
	return r.db.WithContext(ctx).Model(&models.ChatMessage{}).
		Where("room_id = ? AND recipient_id = ? AND read = ?", roomID, recipientID, false).
		Update("read", true).Error
}
