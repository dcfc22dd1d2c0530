package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/trekmates/chat-api/internal/dto"
	"github.com/trekmates/chat-api/internal/models"
)

type stubDirectory struct {
	mu            sync.Mutex
	room          dto.RoomResponse
	createErr     error
	markReadCalls []string
}

func (s *stubDirectory) CreateOrGetRoom(ctx context.Context, self, other Participant) (dto.RoomResponse, error) {
	if s.createErr != nil {
		return dto.RoomResponse{}, s.createErr
	}
	return s.room, nil
}

func (s *stubDirectory) GetRoom(ctx context.Context, roomID string) (dto.RoomResponse, error) {
	return s.room, nil
}

func (s *stubDirectory) UpdateRoomLastMessage(ctx context.Context, roomID string, snapshot models.MessageSnapshot) {
}

func (s *stubDirectory) MarkRoomAsRead(ctx context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markReadCalls = append(s.markReadCalls, roomID+"/"+userID)
	return nil
}

func (s *stubDirectory) ListUserRooms(ctx context.Context, userID string) ([]dto.RoomResponse, error) {
	return []dto.RoomResponse{s.room}, nil
}

type stubStream struct {
	mu               sync.Mutex
	onMessages       func([]dto.ChatMessageResponse)
	onError          func(error)
	sends            []dto.ChatSendRequest
	unsubscribeCount int
}

func (s *stubStream) Subscribe(roomID string, onMessages func([]dto.ChatMessageResponse), onError func(error)) func() {
	s.mu.Lock()
	s.onMessages = onMessages
	s.onError = onError
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.unsubscribeCount++
		s.mu.Unlock()
	}
}

func (s *stubStream) Send(ctx context.Context, input dto.ChatSendRequest) (dto.ChatMessageResponse, error) {
	s.mu.Lock()
	s.sends = append(s.sends, input)
	s.mu.Unlock()
	return dto.ChatMessageResponse{RoomID: input.RoomID, SenderID: input.SenderID, Content: input.Content}, nil
}

func (s *stubStream) History(ctx context.Context, query dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error) {
	return nil, nil
}

func (s *stubStream) Start(ctx context.Context) {}

func (s *stubStream) deliver(messages []dto.ChatMessageResponse) {
	s.mu.Lock()
	onMessages := s.onMessages
	s.mu.Unlock()
	if onMessages != nil {
		onMessages(messages)
	}
}

func (s *stubStream) failSubscription(err error) {
	s.mu.Lock()
	onError := s.onError
	s.mu.Unlock()
	if onError != nil {
		onError(err)
	}
}

func newTestSession(t *testing.T, directory *stubDirectory, stream *stubStream, typingTimeout time.Duration) *ChatSession {
	t.Helper()
	if directory.room.ID == "" {
		directory.room = dto.RoomResponse{ID: "u1_u2"}
	}
	return NewChatSession(directory, stream,
		Participant{ID: "u1", DisplayName: "Ana"},
		Participant{ID: "u2", DisplayName: "Ben"},
		typingTimeout, nil, zerolog.Nop())
}

func TestChatSessionJoinSubscribesAndMarksRead(t *testing.T) {
	directory := &stubDirectory{}
	stream := &stubStream{}
	session := newTestSession(t, directory, stream, 0)

	require.NoError(t, session.Join(context.Background()))
	require.Equal(t, []string{"u1_u2/u1"}, directory.markReadCalls)

	stream.deliver([]dto.ChatMessageResponse{{RoomID: "u1_u2", Content: "hello"}})

	snapshot := session.Snapshot()
	require.Equal(t, "u1_u2", snapshot.RoomID)
	require.True(t, snapshot.Connected)
	require.False(t, snapshot.Loading)
	require.Len(t, snapshot.Messages, 1)
	require.Equal(t, "hello", snapshot.Messages[0].Content)
}

func TestChatSessionJoinSurfacesDirectoryFailure(t *testing.T) {
	directory := &stubDirectory{createErr: errors.New("room lookup failed")}
	stream := &stubStream{}
	session := newTestSession(t, directory, stream, 0)

	err := session.Join(context.Background())
	require.Error(t, err)

	snapshot := session.Snapshot()
	require.False(t, snapshot.Connected)
	require.False(t, snapshot.Loading)
	require.Error(t, snapshot.Err)
}

func TestChatSessionSubscriptionErrorIsTerminalState(t *testing.T) {
	directory := &stubDirectory{}
	stream := &stubStream{}
	session := newTestSession(t, directory, stream, 0)

	require.NoError(t, session.Join(context.Background()))
	stream.deliver([]dto.ChatMessageResponse{{Content: "hello"}})
	stream.failSubscription(errors.New("redis connection dropped"))

	snapshot := session.Snapshot()
	require.Error(t, snapshot.Err)
	require.False(t, snapshot.Connected)
}

func TestChatSessionLeaveDropsLateCallbacks(t *testing.T) {
	directory := &stubDirectory{}
	stream := &stubStream{}
	session := newTestSession(t, directory, stream, 0)

	require.NoError(t, session.Join(context.Background()))
	stream.deliver([]dto.ChatMessageResponse{{Content: "before leave"}})

	session.Leave()
	session.Leave()
	require.Equal(t, 1, stream.unsubscribeCount)

	// Deliveries racing the teardown must not mutate session state.
	stream.deliver([]dto.ChatMessageResponse{{Content: "stale"}, {Content: "stale two"}})
	stream.failSubscription(errors.New("stale error"))

	snapshot := session.Snapshot()
	require.Len(t, snapshot.Messages, 1)
	require.Equal(t, "before leave", snapshot.Messages[0].Content)
	require.NoError(t, snapshot.Err)
	require.False(t, snapshot.Connected)
}

func TestChatSessionJoinAfterLeaveFails(t *testing.T) {
	directory := &stubDirectory{}
	stream := &stubStream{}
	session := newTestSession(t, directory, stream, 0)

	session.Leave()
	require.ErrorIs(t, session.Join(context.Background()), ErrSessionClosed)
}

func TestChatSessionSendMessageUsesResolvedRoom(t *testing.T) {
	directory := &stubDirectory{}
	stream := &stubStream{}
	session := newTestSession(t, directory, stream, 0)

	_, err := session.SendMessage(context.Background(), "early")
	require.Error(t, err)

	require.NoError(t, session.Join(context.Background()))

	_, err = session.SendMessage(context.Background(), "hi there")
	require.NoError(t, err)
	require.Len(t, stream.sends, 1)
	require.Equal(t, "u1_u2", stream.sends[0].RoomID)
	require.Equal(t, "u1", stream.sends[0].SenderID)
	require.Equal(t, "u2", stream.sends[0].RecipientID)
}

func TestChatSessionTypingIndicatorClearsAfterTimeout(t *testing.T) {
	directory := &stubDirectory{}
	stream := &stubStream{}
	session := newTestSession(t, directory, stream, 20*time.Millisecond)

	require.NoError(t, session.Join(context.Background()))

	session.NoteTyping()
	require.True(t, session.Snapshot().Typing)

	// Continued activity keeps the indicator alive past one timeout span.
	time.Sleep(12 * time.Millisecond)
	session.NoteTyping()
	time.Sleep(12 * time.Millisecond)
	require.True(t, session.Snapshot().Typing)

	require.Eventually(t, func() bool {
		return !session.Snapshot().Typing
	}, time.Second, 5*time.Millisecond)
}
