package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/trekmates/chat-api/internal/dto"
	"github.com/trekmates/chat-api/internal/models"
	"github.com/trekmates/chat-api/internal/repository"
)

// ErrRoomNotFound indicates the requested conversation does not exist.
var ErrRoomNotFound = repository.ErrRoomNotFound

// ErrNotRoomMember indicates the caller does not belong to the room.
var ErrNotRoomMember = errors.New("user is not a member of the room")

// Participant carries the identity and display metadata of one chat party.
type Participant struct {
	ID          string
	DisplayName string
	AvatarURL   string
}

// RoomDirectory creates and maintains conversation room records: membership,
// denormalized last-message previews and per-member unread counters.
type RoomDirectory interface {
	// CreateOrGetRoom lazily creates the room for the pair, refreshing only
	// display-derived fields when it already exists.
	CreateOrGetRoom(ctx context.Context, self, other Participant) (dto.RoomResponse, error)
	GetRoom(ctx context.Context, roomID string) (dto.RoomResponse, error)
	// UpdateRoomLastMessage is best-effort: the message itself is already
	// durable, so failures here are logged and swallowed.
	UpdateRoomLastMessage(ctx context.Context, roomID string, snapshot models.MessageSnapshot)
	MarkRoomAsRead(ctx context.Context, roomID, userID string) error
	ListUserRooms(ctx context.Context, userID string) ([]dto.RoomResponse, error)
}

type roomDirectory struct {
	rooms    repository.RoomRepository
	messages repository.MessageRepository
	logger   zerolog.Logger
	now      func() time.Time
}

// NewRoomDirectory constructs the room directory service.
func NewRoomDirectory(rooms repository.RoomRepository, messages repository.MessageRepository, logger zerolog.Logger) RoomDirectory {
	return &roomDirectory{
		rooms:    rooms,
		messages: messages,
		logger:   logger.With().Str("component", "room_directory").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (d *roomDirectory) CreateOrGetRoom(ctx context.Context, self, other Participant) (dto.RoomResponse, error) {
	roomID, err := DeriveRoomID(self.ID, other.ID)
	if err != nil {
		return dto.RoomResponse{}, err
	}

	now := d.now()
	room := models.Room{
		ID:              roomID,
		LastMessageTime: now,
		CreatedAt:       now,
		Members: []models.RoomMember{
			{UserID: self.ID, DisplayName: strings.TrimSpace(self.DisplayName), AvatarURL: self.AvatarURL, JoinedAt: now},
			{UserID: other.ID, DisplayName: strings.TrimSpace(other.DisplayName), AvatarURL: other.AvatarURL, JoinedAt: now},
		},
	}

	if err := d.rooms.Upsert(ctx, &room); err != nil {
		return dto.RoomResponse{}, err
	}

	stored, err := d.rooms.Get(ctx, roomID)
	if err != nil {
		return dto.RoomResponse{}, err
	}

	return dto.NewRoomResponse(stored), nil
}

func (d *roomDirectory) GetRoom(ctx context.Context, roomID string) (dto.RoomResponse, error) {
	room, err := d.rooms.Get(ctx, roomID)
	if err != nil {
		return dto.RoomResponse{}, err
	}
	return dto.NewRoomResponse(room), nil
}

func (d *roomDirectory) UpdateRoomLastMessage(ctx context.Context, roomID string, snapshot models.MessageSnapshot) {
	room, err := d.rooms.Get(ctx, roomID)
	if err != nil {
		d.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to load room for last-message update")
		return
	}

	recipientID := ""
	for _, member := range room.Members {
		if member.UserID != snapshot.SenderID {
			recipientID = member.UserID
			break
		}
	}
	if recipientID == "" {
		d.logger.Warn().Str("room_id", roomID).Str("sender_id", snapshot.SenderID).Msg("no recipient found for last-message update")
		return
	}

	if err := d.rooms.ApplyLastMessage(ctx, roomID, recipientID, snapshot); err != nil {
		d.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to apply last-message update")
	}
}

func (d *roomDirectory) MarkRoomAsRead(ctx context.Context, roomID, userID string) error {
	room, err := d.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}

	isMember := false
	for _, member := range room.Members {
		if member.UserID == userID {
			isMember = true
			break
		}
	}
	if !isMember {
		return ErrNotRoomMember
	}

	if err := d.rooms.ResetUnread(ctx, roomID, userID); err != nil {
		return err
	}

	// Flagging individual messages is secondary to the counter reset.
	if err := d.messages.MarkRead(ctx, roomID, userID); err != nil {
		d.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to flag messages as read")
	}

	return nil
}

func (d *roomDirectory) ListUserRooms(ctx context.Context, userID string) ([]dto.RoomResponse, error) {
	rooms, err := d.rooms.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return dto.NewRoomResponseSlice(rooms), nil
}
