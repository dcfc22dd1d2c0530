package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/trekmates/chat-api/internal/models"
	"github.com/trekmates/chat-api/internal/repository"
)

type stubRoomRepo struct {
	rooms map[string]models.Room

	upserts     []models.Room
	lastApplied *appliedLastMessage
	resetCalls  []string
	applyErr    error
	getErr      error
}

type appliedLastMessage struct {
	roomID      string
	recipientID string
	snapshot    models.MessageSnapshot
}

func newStubRoomRepo() *stubRoomRepo {
	return &stubRoomRepo{rooms: make(map[string]models.Room)}
}

func (s *stubRoomRepo) Upsert(ctx context.Context, room *models.Room) error {
	s.upserts = append(s.upserts, *room)
	if _, ok := s.rooms[room.ID]; !ok {
		s.rooms[room.ID] = *room
	}
	return nil
}

func (s *stubRoomRepo) Get(ctx context.Context, id string) (models.Room, error) {
	if s.getErr != nil {
		return models.Room{}, s.getErr
	}
	room, ok := s.rooms[id]
	if !ok {
		return models.Room{}, repository.ErrRoomNotFound
	}
	return room, nil
}

func (s *stubRoomRepo) ApplyLastMessage(ctx context.Context, roomID, recipientID string, snapshot models.MessageSnapshot) error {
	if s.applyErr != nil {
		return s.applyErr
	}
	s.lastApplied = &appliedLastMessage{roomID: roomID, recipientID: recipientID, snapshot: snapshot}
	return nil
}

func (s *stubRoomRepo) ResetUnread(ctx context.Context, roomID, userID string) error {
	s.resetCalls = append(s.resetCalls, roomID+"/"+userID)
	return nil
}

func (s *stubRoomRepo) ListByUser(ctx context.Context, userID string) ([]models.Room, error) {
	out := make([]models.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		for _, member := range room.Members {
			if member.UserID == userID {
				out = append(out, room)
				break
			}
		}
	}
	return out, nil
}

type stubMessageRepo struct {
	markReadErr   error
	markReadCalls []string
}

func (s *stubMessageRepo) Save(ctx context.Context, message *models.ChatMessage) error {
	return nil
}

func (s *stubMessageRepo) ListByRoom(ctx context.Context, roomID string, before time.Time, limit int) ([]models.ChatMessage, error) {
	return nil, nil
}

func (s *stubMessageRepo) StreamWindow(ctx context.Context, roomID string) ([]models.ChatMessage, error) {
	return nil, nil
}

func (s *stubMessageRepo) MarkRead(ctx context.Context, roomID, recipientID string) error {
	s.markReadCalls = append(s.markReadCalls, roomID+"/"+recipientID)
	return s.markReadErr
}

func twoMemberRoom(id string, userA, userB string) models.Room {
	now := time.Now().UTC()
	return models.Room{
		ID: id,
		Members: []models.RoomMember{
			{RoomID: id, UserID: userA, DisplayName: "A", JoinedAt: now},
			{RoomID: id, UserID: userB, DisplayName: "B", JoinedAt: now},
		},
		LastMessageTime: now,
		CreatedAt:       now,
	}
}

func TestRoomDirectoryCreateOrGetRoomDerivesStableID(t *testing.T) {
	rooms := newStubRoomRepo()
	directory := NewRoomDirectory(rooms, &stubMessageRepo{}, zerolog.Nop())

	room, err := directory.CreateOrGetRoom(context.Background(),
		Participant{ID: "zoe", DisplayName: "Zoe"},
		Participant{ID: "adam", DisplayName: "Adam"},
	)
	require.NoError(t, err)
	require.Equal(t, "adam_zoe", room.ID)

	mirrored, err := directory.CreateOrGetRoom(context.Background(),
		Participant{ID: "adam", DisplayName: "Adam"},
		Participant{ID: "zoe", DisplayName: "Zoe"},
	)
	require.NoError(t, err)
	require.Equal(t, room.ID, mirrored.ID)
	require.Len(t, rooms.upserts, 2)
}

func TestRoomDirectoryCreateOrGetRoomRejectsDegeneratePairs(t *testing.T) {
	directory := NewRoomDirectory(newStubRoomRepo(), &stubMessageRepo{}, zerolog.Nop())

	_, err := directory.CreateOrGetRoom(context.Background(),
		Participant{ID: "adam"}, Participant{ID: "adam"})
	require.ErrorIs(t, err, ErrInvalidParticipants)

	_, err = directory.CreateOrGetRoom(context.Background(),
		Participant{ID: ""}, Participant{ID: "adam"})
	require.ErrorIs(t, err, ErrInvalidParticipants)
}

func TestRoomDirectoryUpdateRoomLastMessageTargetsRecipient(t *testing.T) {
	rooms := newStubRoomRepo()
	rooms.rooms["adam_zoe"] = twoMemberRoom("adam_zoe", "adam", "zoe")
	directory := NewRoomDirectory(rooms, &stubMessageRepo{}, zerolog.Nop())

	snapshot := models.MessageSnapshot{Content: "hi", SenderID: "adam", Timestamp: time.Now().UTC()}
	directory.UpdateRoomLastMessage(context.Background(), "adam_zoe", snapshot)

	require.NotNil(t, rooms.lastApplied)
	require.Equal(t, "adam_zoe", rooms.lastApplied.roomID)
	require.Equal(t, "zoe", rooms.lastApplied.recipientID)
	require.Equal(t, "hi", rooms.lastApplied.snapshot.Content)
}

func TestRoomDirectoryUpdateRoomLastMessageSwallowsFailures(t *testing.T) {
	rooms := newStubRoomRepo()
	rooms.rooms["adam_zoe"] = twoMemberRoom("adam_zoe", "adam", "zoe")
	rooms.applyErr = errors.New("db gone")
	directory := NewRoomDirectory(rooms, &stubMessageRepo{}, zerolog.Nop())

	// Must not panic or surface the error; the message itself is durable.
	directory.UpdateRoomLastMessage(context.Background(), "adam_zoe", models.MessageSnapshot{SenderID: "adam"})
	require.Nil(t, rooms.lastApplied)

	rooms.getErr = errors.New("db still gone")
	directory.UpdateRoomLastMessage(context.Background(), "adam_zoe", models.MessageSnapshot{SenderID: "adam"})
}

func TestRoomDirectoryMarkRoomAsReadChecksMembership(t *testing.T) {
	rooms := newStubRoomRepo()
	rooms.rooms["adam_zoe"] = twoMemberRoom("adam_zoe", "adam", "zoe")
	messages := &stubMessageRepo{}
	directory := NewRoomDirectory(rooms, messages, zerolog.Nop())

	require.NoError(t, directory.MarkRoomAsRead(context.Background(), "adam_zoe", "zoe"))
	require.Equal(t, []string{"adam_zoe/zoe"}, rooms.resetCalls)
	require.Equal(t, []string{"adam_zoe/zoe"}, messages.markReadCalls)

	err := directory.MarkRoomAsRead(context.Background(), "adam_zoe", "mallory")
	require.ErrorIs(t, err, ErrNotRoomMember)

	err = directory.MarkRoomAsRead(context.Background(), "ghost_room", "zoe")
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoomDirectoryMarkRoomAsReadToleratesMessageFlagFailure(t *testing.T) {
	rooms := newStubRoomRepo()
	rooms.rooms["adam_zoe"] = twoMemberRoom("adam_zoe", "adam", "zoe")
	messages := &stubMessageRepo{markReadErr: errors.New("flag failed")}
	directory := NewRoomDirectory(rooms, messages, zerolog.Nop())

	// Counter reset is the primary effect; flagging rows is best-effort.
	require.NoError(t, directory.MarkRoomAsRead(context.Background(), "adam_zoe", "adam"))
	require.Equal(t, []string{"adam_zoe/adam"}, rooms.resetCalls)
}
