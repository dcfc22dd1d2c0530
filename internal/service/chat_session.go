package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/trekmates/chat-api/internal/dto"
)

// DefaultTypingTimeout clears the local typing indicator after this much
// input inactivity.
const DefaultTypingTimeout = 2 * time.Second

// ErrSessionClosed indicates an operation on a session that already left its
// conversation.
var ErrSessionClosed = errors.New("chat session closed")

// SessionSnapshot is the observable state of one open conversation.
type SessionSnapshot struct {
	RoomID    string
	Messages  []dto.ChatMessageResponse
	Connected bool
	Loading   bool
	Typing    bool
	Err       error
}

// ChatSession orchestrates one open conversation: it resolves the room,
// subscribes to the live message stream and exposes the aggregate state the
// presentation layer renders. All mutation happens under one mutex; late
// subscription callbacks after Leave are dropped so state never leaks across
// conversation switches.
type ChatSession struct {
	directory     RoomDirectory
	stream        MessageStream
	self          Participant
	peer          Participant
	typingTimeout time.Duration
	logger        zerolog.Logger
	onUpdate      func()

	mu          sync.Mutex
	roomID      string
	messages    []dto.ChatMessageResponse
	connected   bool
	loading     bool
	typing      bool
	closed      bool
	err         error
	unsubscribe func()
	typingTimer *time.Timer
	leaveOnce   sync.Once
}

// NewChatSession builds a session for a conversation between self and peer.
// onUpdate, when non-nil, is invoked after every observable state change.
func NewChatSession(directory RoomDirectory, stream MessageStream, self, peer Participant, typingTimeout time.Duration, onUpdate func(), logger zerolog.Logger) *ChatSession {
	if typingTimeout <= 0 {
		typingTimeout = DefaultTypingTimeout
	}
	return &ChatSession{
		directory:     directory,
		stream:        stream,
		self:          self,
		peer:          peer,
		typingTimeout: typingTimeout,
		onUpdate:      onUpdate,
		logger:        logger.With().Str("component", "chat_session").Logger(),
		loading:       true,
	}
}

// Join resolves the room, marks it read for the joining user and attaches the
// live subscription.
func (s *ChatSession) Join(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.loading = true
	s.mu.Unlock()

	room, err := s.directory.CreateOrGetRoom(ctx, s.self, s.peer)
	if err != nil {
		s.mu.Lock()
		s.err = err
		s.loading = false
		s.mu.Unlock()
		s.notify()
		return err
	}

	s.mu.Lock()
	s.roomID = room.ID
	s.mu.Unlock()

	// Opening the conversation resets the viewer's own unread badge.
	if err := s.directory.MarkRoomAsRead(ctx, room.ID, s.self.ID); err != nil {
		s.logger.Warn().Err(err).Str("room_id", room.ID).Msg("failed to mark room as read on join")
	}

	unsubscribe := s.stream.Subscribe(room.ID, s.handleMessages, s.handleError)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsubscribe()
		return ErrSessionClosed
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	return nil
}

// SendMessage writes through the message stream. The subscription delivers
// the confirmed message, so no optimistic local insertion is needed.
func (s *ChatSession) SendMessage(ctx context.Context, content string) (dto.ChatMessageResponse, error) {
	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()

	if roomID == "" {
		return dto.ChatMessageResponse{}, errors.New("session has not joined a room")
	}

	// Intentionally no closed check: a send racing Leave still completes and
	// is persisted, per the navigation-away guarantee.
	return s.stream.Send(ctx, dto.ChatSendRequest{
		RoomID:      roomID,
		SenderID:    s.self.ID,
		RecipientID: s.peer.ID,
		Content:     content,
	})
}

// NoteTyping records local input activity; the indicator clears itself after
// the configured inactivity timeout. It is never propagated to the peer.
func (s *ChatSession) NoteTyping() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.typing = true
	if s.typingTimer == nil {
		s.typingTimer = time.AfterFunc(s.typingTimeout, s.clearTyping)
	} else {
		s.typingTimer.Reset(s.typingTimeout)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *ChatSession) clearTyping() {
	s.mu.Lock()
	if s.closed || !s.typing {
		s.mu.Unlock()
		return
	}
	s.typing = false
	s.mu.Unlock()
	s.notify()
}

// Snapshot returns a copy of the current observable state.
func (s *ChatSession) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := make([]dto.ChatMessageResponse, len(s.messages))
	copy(messages, s.messages)

	return SessionSnapshot{
		RoomID:    s.roomID,
		Messages:  messages,
		Connected: s.connected,
		Loading:   s.loading,
		Typing:    s.typing,
		Err:       s.err,
	}
}

// Leave detaches the subscription exactly once. In-flight sends still
// complete; only state delivery stops.
func (s *ChatSession) Leave() {
	s.leaveOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.connected = false
		if s.typingTimer != nil {
			s.typingTimer.Stop()
		}
		unsubscribe := s.unsubscribe
		s.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
	})
}

func (s *ChatSession) handleMessages(messages []dto.ChatMessageResponse) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.messages = messages
	s.connected = true
	s.loading = false
	s.err = nil
	s.mu.Unlock()
	s.notify()
}

func (s *ChatSession) handleError(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.connected = false
	s.loading = false
	s.mu.Unlock()
	s.notify()
}

func (s *ChatSession) notify() {
	if s.onUpdate != nil {
		s.onUpdate()
	}
}
