package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/trekmates/chat-api/internal/dto"
	"github.com/trekmates/chat-api/internal/middleware"
	"github.com/trekmates/chat-api/internal/observability"
	"github.com/trekmates/chat-api/internal/service"
	"github.com/trekmates/chat-api/internal/utils"
)

// ChatHandler wires chat endpoints including the websocket upgrade.
type ChatHandler struct {
	stream        service.MessageStream
	directory     service.RoomDirectory
	typingTimeout time.Duration
	validator     *validator.Validate
	logger        zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(stream service.MessageStream, directory service.RoomDirectory, typingTimeout time.Duration, validate *validator.Validate, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		stream:        stream,
		directory:     directory,
		typingTimeout: typingTimeout,
		validator:     validate,
		logger:        logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds chat routes under the provided router group. sendLimiter,
// when non-nil, throttles the send endpoint only.
func (h *ChatHandler) Register(router fiber.Router, sendLimiter fiber.Handler) {
	if sendLimiter != nil {
		router.Post("/send", sendLimiter, h.send)
	} else {
		router.Post("/send", h.send)
	}

	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			ctx := c.UserContext()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
			c.Locals("request_ctx", ctx)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/ws", websocket.New(h.handleConnection))

	router.Get("/history", h.history)
	router.Get("/rooms", h.listRooms)
	router.Post("/rooms", h.createRoom)
	router.Post("/rooms/:id/read", h.markRead)
}

func (h *ChatHandler) send(c *fiber.Ctx) error {
	var payload dto.ChatSendRequest
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid request body",
			"details": err.Error(),
		})
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))

	message, err := h.stream.Send(ctx, payload)
	if err != nil {
		if details, ok := sendRejectionDetails(err); ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "invalid message",
				"details": details,
			})
		}
		requestLogger(h.logger, c).Error().Err(err).Str("room_id", payload.RoomID).Msg("failed to send chat message")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to send message",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"message": message,
	})
}

// sendRejectionDetails classifies send failures that are the caller's fault.
func sendRejectionDetails(err error) ([]string, bool) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		details := make([]string, 0, len(validationErrors))
		for _, fieldErr := range validationErrors {
			details = append(details, fieldErr.Field()+": failed on "+fieldErr.Tag())
		}
		return details, true
	}

	switch {
	case errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrMessageTooLong),
		errors.Is(err, service.ErrInvalidTimestamp),
		errors.Is(err, service.ErrInvalidParticipants),
		errors.Is(err, service.ErrNotRoomMember):
		return []string{err.Error()}, true
	}

	return nil, false
}

func (h *ChatHandler) handleConnection(conn *websocket.Conn) {
	self := service.Participant{
		ID:          websocketLocalString(conn, "user_id"),
		DisplayName: websocketLocalString(conn, "display_name"),
		AvatarURL:   websocketLocalString(conn, "avatar_url"),
	}
	if self.ID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "user id missing"))
		_ = conn.Close()
		return
	}

	peer := service.Participant{
		ID:          strings.TrimSpace(conn.Query("peer_id")),
		DisplayName: strings.TrimSpace(conn.Query("peer_name")),
		AvatarURL:   strings.TrimSpace(conn.Query("peer_avatar")),
	}
	if peer.ID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "peer_id required"))
		_ = conn.Close()
		return
	}

	ctx, _ := conn.Locals("request_ctx").(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}

	observability.ChatConnectionsTotal().Inc()
	h.logger.Info().Str("user_id", self.ID).Str("peer_id", peer.ID).Msg("chat websocket connected")

	updates := make(chan struct{}, 1)
	session := service.NewChatSession(h.directory, h.stream, self, peer, h.typingTimeout, func() {
		select {
		case updates <- struct{}{}:
		default:
		}
	}, h.logger)

	done := make(chan struct{})
	go h.pushFrames(conn, session, updates, done)

	if err := session.Join(ctx); err != nil {
		h.logger.Warn().Err(err).Str("user_id", self.ID).Str("peer_id", peer.ID).Msg("chat session join failed")
	} else {
		h.readFrames(ctx, conn, session)
	}

	session.Leave()
	close(done)
	_ = conn.Close()
	h.logger.Info().Str("user_id", self.ID).Str("peer_id", peer.ID).Msg("chat websocket disconnected")
}

// pushFrames owns all websocket writes so concurrent state changes never
// interleave on the wire.
func (h *ChatHandler) pushFrames(conn *websocket.Conn, session *service.ChatSession, updates <-chan struct{}, done <-chan struct{}) {
	var previous service.SessionSnapshot
	havePrevious := false

	for {
		select {
		case <-done:
			return
		case <-updates:
			snapshot := session.Snapshot()
			frame := dto.SessionFrame{
				Type:      "messages",
				Messages:  snapshot.Messages,
				Connected: snapshot.Connected,
				Loading:   snapshot.Loading,
				Typing:    snapshot.Typing,
			}
			switch {
			case snapshot.Err != nil:
				frame.Type = "error"
				frame.Error = snapshot.Err.Error()
			case havePrevious &&
				snapshot.Typing != previous.Typing &&
				len(snapshot.Messages) == len(previous.Messages) &&
				snapshot.Connected == previous.Connected &&
				snapshot.Loading == previous.Loading:
				frame.Type = "typing"
			}

			if err := conn.WriteJSON(frame); err != nil {
				return
			}
			previous = snapshot
			havePrevious = true
		}
	}
}

func (h *ChatHandler) readFrames(ctx context.Context, conn *websocket.Conn, session *service.ChatSession) {
	for {
		var inbound dto.SessionInbound
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}

		if inbound.Typing {
			session.NoteTyping()
		}

		content := strings.TrimSpace(inbound.Content)
		if content == "" {
			continue
		}

		if _, err := session.SendMessage(ctx, content); err != nil {
			// Rejected sends do not end the session; the client may retry.
			h.logger.Warn().Err(err).Msg("websocket send rejected")
		}
	}
}

func (h *ChatHandler) history(c *fiber.Ctx) error {
	roomID := c.Query("room_id")
	if roomID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "room_id required")
	}

	var beforePtr *time.Time
	if before := c.Query("before"); before != "" {
		parsed, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid before timestamp")
		}
		beforePtr = &parsed
	}

	limit := 0
	if limitRaw := c.Query("limit"); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
		}
		limit = parsed
	}

	query := dto.ChatHistoryQuery{
		RoomID: roomID,
		Before: beforePtr,
		Limit:  limit,
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))

	messages, err := h.stream.History(ctx, query)
	if err != nil {
		if isValidationError(err) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		requestLogger(h.logger, c).Error().Err(err).Str("room_id", roomID).Msg("failed to load chat history")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load chat history")
	}

	return utils.SendSuccess(c, "chat history", messages)
}

func (h *ChatHandler) listRooms(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	rooms, err := h.directory.ListUserRooms(c.UserContext(), userID)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list rooms")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list rooms")
	}

	return utils.SendSuccess(c, "chat rooms", rooms)
}

func (h *ChatHandler) createRoom(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.RoomCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	self := service.Participant{
		ID:          userID,
		DisplayName: displayNameFromContext(c),
		AvatarURL:   avatarURLFromContext(c),
	}
	peer := service.Participant{
		ID:          payload.PeerID,
		DisplayName: payload.PeerName,
		AvatarURL:   payload.PeerAvatar,
	}

	room, err := h.directory.CreateOrGetRoom(c.UserContext(), self, peer)
	if err != nil {
		if errors.Is(err, service.ErrInvalidParticipants) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		requestLogger(h.logger, c).Error().Err(err).Str("peer_id", payload.PeerID).Msg("failed to create room")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to create room")
	}

	return utils.SendSuccess(c, "chat room ready", room)
}

func (h *ChatHandler) markRead(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	roomID := c.Params("id")
	if err := h.directory.MarkRoomAsRead(c.UserContext(), roomID, userID); err != nil {
		switch {
		case errors.Is(err, service.ErrRoomNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "room not found")
		case errors.Is(err, service.ErrNotRoomMember):
			return utils.SendError(c, fiber.StatusForbidden, "not a room member")
		default:
			requestLogger(h.logger, c).Error().Err(err).Str("room_id", roomID).Msg("failed to mark room as read")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to mark room as read")
		}
	}

	return utils.SendSuccess(c, "room marked as read", fiber.Map{"room_id": roomID})
}

func websocketLocalString(conn *websocket.Conn, key string) string {
	if value, ok := conn.Locals(key).(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
