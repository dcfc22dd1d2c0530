package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/trekmates/chat-api/internal/dto"
	"github.com/trekmates/chat-api/internal/models"
	"github.com/trekmates/chat-api/internal/observability"
	"github.com/trekmates/chat-api/internal/repository"
)

const defaultMaxMessageRunes = 2000

var (
	// ErrEmptyContent indicates the message body was empty after sanitization.
	ErrEmptyContent = errors.New("message content must not be empty")
	// ErrMessageTooLong indicates the message exceeded the configured length cap.
	ErrMessageTooLong = errors.New("message content exceeds maximum length")
	// ErrInvalidTimestamp indicates a client-supplied timestamp could not be normalized.
	ErrInvalidTimestamp = errors.New("invalid message timestamp")
)

// NotificationPublisher records a notification for the message recipient.
// Publishing is best-effort on the send path.
type NotificationPublisher interface {
	Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error)
}

// MessageStream exposes room-scoped live message delivery and the primary
// write path. Every delivery hands subscribers the full current ordered list
// for the room rather than a diff.
type MessageStream interface {
	// Subscribe establishes a live, timestamp-ascending subscription to one
	// room. onMessages receives the initial snapshot and a full replacement
	// list on every change; onError fires at most once, after which the
	// subscription is terminally dead. The returned handle detaches the
	// subscription and is safe to call multiple times.
	Subscribe(roomID string, onMessages func([]dto.ChatMessageResponse), onError func(error)) func()
	// Send validates, persists and fans out one message. Primary write
	// failures propagate; secondary updates (room preview, unread counter,
	// notification) are best-effort.
	Send(ctx context.Context, input dto.ChatSendRequest) (dto.ChatMessageResponse, error)
	// History returns a page of room messages in ascending timestamp order.
	History(ctx context.Context, query dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error)
	// Start launches the cross-node fan-out bridge. It returns when the
	// bridge is installed; consumption stops when ctx is cancelled.
	Start(ctx context.Context)
}

type messageStream struct {
	messages      repository.MessageRepository
	rooms         RoomDirectory
	notifications NotificationPublisher
	redis         *redis.Client
	channelBase   string
	nats          *nats.Conn
	natsSubject   string
	validator     *validator.Validate
	sanitizer     *bluemonday.Policy
	logger        zerolog.Logger
	tracer        trace.Tracer
	nodeID        string
	maxRunes      int
	now           func() time.Time
}

// streamEvent crosses Redis and NATS to notify subscribers of a new message.
type streamEvent struct {
	Source    string    `json:"source"`
	RoomID    string    `json:"room_id"`
	MessageID uint      `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
}

// NewMessageStream constructs the message stream service. natsConn and
// notifications may be nil, disabling the corresponding fan-out.
func NewMessageStream(
	messages repository.MessageRepository,
	rooms RoomDirectory,
	notifications NotificationPublisher,
	redisClient *redis.Client,
	channelBase string,
	natsConn *nats.Conn,
	validate *validator.Validate,
	maxMessageRunes int,
	logger zerolog.Logger,
) MessageStream {
	if maxMessageRunes <= 0 {
		maxMessageRunes = defaultMaxMessageRunes
	}

	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	natsSubject := ""
	if channelBase != "" {
		natsSubject = strings.ReplaceAll(channelBase, ":", ".") + ".chat.messages"
	}

	return &messageStream{
		messages:      messages,
		rooms:         rooms,
		notifications: notifications,
		redis:         redisClient,
		channelBase:   channelBase,
		nats:          natsConn,
		natsSubject:   natsSubject,
		validator:     validate,
		sanitizer:     sanitizer,
		logger:        logger.With().Str("component", "message_stream").Logger(),
		tracer:        otel.Tracer("github.com/trekmates/chat-api/internal/service/chat"),
		nodeID:        uuid.NewString(),
		maxRunes:      maxMessageRunes,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *messageStream) roomChannel(roomID string) string {
	return s.channelBase + ":room:" + roomID
}

// Subscription lifecycle: Idle -> Subscribing -> Active -> (Error | Closed).
type subscriptionState int32

const (
	stateIdle subscriptionState = iota
	stateSubscribing
	stateActive
	stateError
	stateClosed
)

type subscription struct {
	mu      sync.Mutex
	state   subscriptionState
	onError func(error)
}

// fail transitions to the terminal Error state and fires onError exactly once.
func (s *subscription) fail(err error) {
	s.mu.Lock()
	var callback func(error)
	if s.state == stateSubscribing || s.state == stateActive {
		s.state = stateError
		callback = s.onError
	}
	s.mu.Unlock()

	if callback != nil {
		callback(err)
	}
}

// activate reports whether the subscription reached Active before being closed.
func (s *subscription) activate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateSubscribing {
		return false
	}
	s.state = stateActive
	return true
}

func (s *subscription) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateActive
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateError || s.state == stateClosed {
		return
	}
	s.state = stateClosed
}

func (s *messageStream) Subscribe(roomID string, onMessages func([]dto.ChatMessageResponse), onError func(error)) func() {
	sub := &subscription{state: stateSubscribing, onError: onError}

	ctx, cancel := context.WithCancel(context.Background())
	pubsub := s.redis.Subscribe(ctx, s.roomChannel(roomID))

	observability.ChatSubscriptionsTotal().Inc()
	go s.pump(ctx, sub, pubsub, roomID, onMessages)

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.close()
			cancel()
			if err := pubsub.Close(); err != nil {
				s.logger.Debug().Err(err).Str("room_id", roomID).Msg("pubsub close failed")
			}
		})
	}
}

// pump owns all callback invocations for one subscription, so deliveries are
// serialized and each list is self-consistent.
func (s *messageStream) pump(ctx context.Context, sub *subscription, pubsub *redis.PubSub, roomID string, onMessages func([]dto.ChatMessageResponse)) {
	if _, err := pubsub.Receive(ctx); err != nil {
		observability.ChatSubscriptionErrors().Inc()
		sub.fail(fmt.Errorf("subscription to room %s could not be established: %w", roomID, err))
		return
	}

	list, err := s.fetchWindow(ctx, roomID)
	if err != nil {
		observability.ChatSubscriptionErrors().Inc()
		sub.fail(fmt.Errorf("initial snapshot for room %s failed: %w", roomID, err))
		return
	}

	if !sub.activate() {
		return
	}
	onMessages(list)

	for range pubsub.Channel() {
		list, err := s.fetchWindow(ctx, roomID)
		if err != nil {
			observability.ChatSubscriptionErrors().Inc()
			sub.fail(fmt.Errorf("refresh for room %s failed: %w", roomID, err))
			return
		}
		if !sub.isActive() {
			return
		}
		onMessages(list)
	}
}

func (s *messageStream) fetchWindow(ctx context.Context, roomID string) ([]dto.ChatMessageResponse, error) {
	messages, err := s.messages.StreamWindow(ctx, roomID)
	if err != nil {
		return nil, err
	}

	// Stable secondary sort tolerates equal timestamps from clock skew.
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	return dto.NewChatMessageResponseSlice(messages), nil
}

func (s *messageStream) History(ctx context.Context, query dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	before := s.now()
	if query.Before != nil {
		before = *query.Before
	}

	messages, err := s.messages.ListByRoom(ctx, query.RoomID, before, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}

	return dto.NewChatMessageResponseSlice(messages), nil
}

func (s *messageStream) Send(ctx context.Context, input dto.ChatSendRequest) (dto.ChatMessageResponse, error) {
	input.RoomID = strings.TrimSpace(input.RoomID)
	input.SenderID = strings.TrimSpace(input.SenderID)
	input.RecipientID = strings.TrimSpace(input.RecipientID)
	if input.Type == "" {
		input.Type = models.MessageTypeText
	}

	if err := s.validator.Struct(input); err != nil {
		return dto.ChatMessageResponse{}, err
	}

	derived, err := DeriveRoomID(input.SenderID, input.RecipientID)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}
	if derived != input.RoomID {
		return dto.ChatMessageResponse{}, ErrNotRoomMember
	}

	clean := strings.TrimSpace(s.sanitizer.Sanitize(input.Content))
	if clean == "" {
		return dto.ChatMessageResponse{}, ErrEmptyContent
	}
	if utf8.RuneCountInString(clean) > s.maxRunes {
		return dto.ChatMessageResponse{}, fmt.Errorf("%w: %d runes, limit %d", ErrMessageTooLong, utf8.RuneCountInString(clean), s.maxRunes)
	}

	createdAt := s.now()
	if input.Timestamp != nil && !input.Timestamp.IsZero() {
		resolved, err := input.Timestamp.Resolve(createdAt)
		if err != nil {
			return dto.ChatMessageResponse{}, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
		}
		createdAt = resolved
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.send", trace.WithAttributes(
		attribute.String("chat.room_id", input.RoomID),
		attribute.String("chat.sender_id", input.SenderID),
		attribute.String("chat.type", input.Type),
	))
	defer span.End()

	start := time.Now()
	model := models.ChatMessage{
		RoomID:      input.RoomID,
		SenderID:    input.SenderID,
		RecipientID: input.RecipientID,
		Content:     clean,
		Type:        input.Type,
		CreatedAt:   createdAt,
	}

	if err := s.messages.Save(spanCtx, &model); err != nil {
		span.RecordError(err)
		return dto.ChatMessageResponse{}, err
	}
	observability.ChatSendLatency().Observe(time.Since(start).Seconds())
	observability.ChatMessagesSent().WithLabelValues(model.Type).Inc()

	response := dto.NewChatMessageResponse(model)

	// The message is durable; everything below is best-effort.
	s.rooms.UpdateRoomLastMessage(spanCtx, model.RoomID, models.MessageSnapshot{
		Content:   model.Content,
		SenderID:  model.SenderID,
		Timestamp: model.CreatedAt,
	})
	s.notifyRecipient(spanCtx, response)
	if err := s.publish(spanCtx, response); err != nil {
		s.logger.Warn().Err(err).Str("room_id", model.RoomID).Msg("failed to publish chat event")
	}

	return response, nil
}

func (s *messageStream) notifyRecipient(ctx context.Context, message dto.ChatMessageResponse) {
	if s.notifications == nil {
		return
	}

	if _, err := s.notifications.Publish(ctx, dto.NotificationCreateRequest{
		UserID:  message.RecipientID,
		Type:    "message_received",
		Message: message.Content,
	}); err != nil {
		s.logger.Warn().Err(err).Str("room_id", message.RoomID).Msg("failed to publish message notification")
	}
}

func (s *messageStream) publish(ctx context.Context, message dto.ChatMessageResponse) error {
	event := streamEvent{
		Source:    s.nodeID,
		RoomID:    message.RoomID,
		MessageID: message.ID,
		SentAt:    s.now(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := s.redis.Publish(ctx, s.roomChannel(message.RoomID), payload).Err(); err != nil {
		return err
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

// Start bridges events published by other nodes into the local Redis channel
// so subscribers attached here still see remote sends.
func (s *messageStream) Start(ctx context.Context) {
	if s.nats == nil || s.natsSubject == "" {
		return
	}

	sub, err := s.nats.QueueSubscribe(s.natsSubject, "trek-chat", func(msg *nats.Msg) {
		var event streamEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			s.logger.Warn().Err(err).Msg("invalid chat stream event")
			return
		}
		if event.Source == s.nodeID {
			return
		}
		if err := s.redis.Publish(ctx, s.roomChannel(event.RoomID), msg.Data).Err(); err != nil {
			s.logger.Warn().Err(err).Str("room_id", event.RoomID).Msg("failed to relay remote chat event")
		}
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats chat subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain chat nats subscription")
		}
	}()
}
