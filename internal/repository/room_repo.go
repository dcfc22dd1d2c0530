package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trekmates/chat-api/internal/models"
)

// ErrRoomNotFound indicates the requested room does not exist.
var ErrRoomNotFound = errors.New("room not found")

// RoomRepository persists conversation rooms and their per-member state.
type RoomRepository interface {
	// Upsert creates the room with its members, or refreshes only the
	// display-derived member fields when the room already exists. Concurrent
	// first-contact attempts converge on the fixed derived key.
	Upsert(ctx context.Context, room *models.Room) error
	Get(ctx context.Context, id string) (models.Room, error)
	// ApplyLastMessage writes the denormalized preview and increments the
	// recipient's unread counter in one pass.
	ApplyLastMessage(ctx context.Context, roomID string, recipientID string, snapshot models.MessageSnapshot) error
	ResetUnread(ctx context.Context, roomID, userID string) error
	ListByUser(ctx context.Context, userID string) ([]models.Room, error)
}

type roomRepository struct {
	db *gorm.DB
}

// NewRoomRepository constructs a room repository backed by GORM.
func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &roomRepository{db: db}
}

func (r *roomRepository) Upsert(ctx context.Context, room *models.Room) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		base := models.Room{
			ID:              room.ID,
			LastMessageTime: room.LastMessageTime,
			CreatedAt:       room.CreatedAt,
		}

		// Last write wins on the fixed key; an existing row keeps its
		// created_at, last message and counters untouched.
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"updated_at"}),
		}).Create(&base).Error; err != nil {
			return fmt.Errorf("upsert room: %w", err)
		}

		for i := range room.Members {
			member := room.Members[i]
			member.RoomID = room.ID
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"display_name", "avatar_url"}),
			}).Create(&member).Error; err != nil {
				return fmt.Errorf("upsert room member: %w", err)
			}
		}

		return nil
	})
}

func (r *roomRepository) Get(ctx context.Context, id string) (models.Room, error) {
	var room models.Room
	err := r.db.WithContext(ctx).Preload("Members").First(&room, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return models.Room{}, err
	}
	return room, nil
}

func (r *roomRepository) ApplyLastMessage(ctx context.Context, roomID string, recipientID string, snapshot models.MessageSnapshot) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Room{}).Where("id = ?", roomID).Updates(map[string]interface{}{
			"last_message":      datatypes.NewJSONType(snapshot),
			"last_message_time": snapshot.Timestamp,
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrRoomNotFound
		}

		// Best-effort counter, no read-modify-write: a single relative
		// increment keeps concurrent senders from losing updates.
		return tx.Model(&models.RoomMember{}).
			Where("room_id = ? AND user_id = ?", roomID, recipientID).
			Update("unread_count", gorm.Expr("unread_count + 1")).Error
	})
}

func (r *roomRepository) ResetUnread(ctx context.Context, roomID, userID string) error {
	return r.db.WithContext(ctx).Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("unread_count", 0).Error
}

func (r *roomRepository) ListByUser(ctx context.Context, userID string) ([]models.Room, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&models.RoomMember{}).
		Where("user_id = ?", userID).
		Pluck("room_id", &ids).Error; err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Room{}, nil
	}

	var rooms []models.Room
	if err := r.db.WithContext(ctx).Preload("Members").
		Where("id IN ?", ids).
		Order("last_message_time DESC").
		Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}
