package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/trekmates/chat-api/internal/dto"
	"github.com/trekmates/chat-api/internal/handler"
	"github.com/trekmates/chat-api/internal/models"
	"github.com/trekmates/chat-api/internal/service"
)

type mockMessageStream struct {
	lastSend dto.ChatSendRequest
	sendResp dto.ChatMessageResponse
	sendErr  error
	history  []dto.ChatMessageResponse
}

func (m *mockMessageStream) Subscribe(roomID string, onMessages func([]dto.ChatMessageResponse), onError func(error)) func() {
	onMessages(m.history)
	return func() {}
}

func (m *mockMessageStream) Send(_ context.Context, input dto.ChatSendRequest) (dto.ChatMessageResponse, error) {
	m.lastSend = input
	if m.sendErr != nil {
		return dto.ChatMessageResponse{}, m.sendErr
	}
	return m.sendResp, nil
}

func (m *mockMessageStream) History(context.Context, dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error) {
	return m.history, nil
}

func (m *mockMessageStream) Start(context.Context) {}

type mockDirectory struct {
	room     dto.RoomResponse
	rooms    []dto.RoomResponse
	markErr  error
	lastRead string
}

func (m *mockDirectory) CreateOrGetRoom(_ context.Context, self, other service.Participant) (dto.RoomResponse, error) {
	return m.room, nil
}

func (m *mockDirectory) GetRoom(context.Context, string) (dto.RoomResponse, error) {
	return m.room, nil
}

func (m *mockDirectory) UpdateRoomLastMessage(context.Context, string, models.MessageSnapshot) {}

func (m *mockDirectory) MarkRoomAsRead(_ context.Context, roomID, userID string) error {
	m.lastRead = roomID + "/" + userID
	return m.markErr
}

func (m *mockDirectory) ListUserRooms(context.Context, string) ([]dto.RoomResponse, error) {
	return m.rooms, nil
}

func chatTestApp(stream *mockMessageStream, directory *mockDirectory) *fiber.App {
	app := fiber.New()
	group := app.Group("/api/v1/chat", func(c *fiber.Ctx) error {
		c.Locals("user_id", "u1")
		c.Locals("display_name", "Ana")
		return c.Next()
	})
	h := handler.NewChatHandler(stream, directory, service.DefaultTypingTimeout, validator.New(validator.WithRequiredStructEnabled()), zerolog.New(io.Discard))
	h.Register(group, nil)
	return app
}

func TestChatHandler_SendSuccessShape(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stream := &mockMessageStream{sendResp: dto.ChatMessageResponse{
		ID: 7, RoomID: "u1_u2", SenderID: "u1", RecipientID: "u2", Content: "hi", Type: "text", CreatedAt: now,
	}}
	app := chatTestApp(stream, &mockDirectory{})

	body, err := json.Marshal(dto.ChatSendRequest{RoomID: "u1_u2", SenderID: "u1", RecipientID: "u2", Content: "hi"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/send", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Contains(t, payload, "success")
	require.Contains(t, payload, "message")
	require.NotContains(t, payload, "error")

	var success bool
	require.NoError(t, json.Unmarshal(payload["success"], &success))
	require.True(t, success)

	var message dto.ChatMessageResponse
	require.NoError(t, json.Unmarshal(payload["message"], &message))
	require.Equal(t, uint(7), message.ID)
	require.Equal(t, "hi", message.Content)
}

func TestChatHandler_SendValidationShape(t *testing.T) {
	stream := &mockMessageStream{sendErr: service.ErrEmptyContent}
	app := chatTestApp(stream, &mockDirectory{})

	body, err := json.Marshal(dto.ChatSendRequest{RoomID: "u1_u2", SenderID: "u1", RecipientID: "u2", Content: " "})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/send", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Contains(t, payload, "error")
	require.Contains(t, payload, "details")
	require.NotContains(t, payload, "success")
}

func TestChatHandler_SendFailureShape(t *testing.T) {
	stream := &mockMessageStream{sendErr: errors.New("database unavailable")}
	app := chatTestApp(stream, &mockDirectory{})

	body, err := json.Marshal(dto.ChatSendRequest{RoomID: "u1_u2", SenderID: "u1", RecipientID: "u2", Content: "hi"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/send", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Contains(t, payload, "error")
	require.NotContains(t, payload, "details")
	require.NotContains(t, payload, "success")
}

func TestChatHandler_ListRooms(t *testing.T) {
	directory := &mockDirectory{rooms: []dto.RoomResponse{{ID: "u1_u2"}, {ID: "u1_u3"}}}
	app := chatTestApp(&mockMessageStream{}, directory)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/rooms", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var response struct {
		Success bool               `json:"success"`
		Data    []dto.RoomResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&response))
	require.True(t, response.Success)
	require.Len(t, response.Data, 2)
}

func TestChatHandler_MarkReadErrors(t *testing.T) {
	directory := &mockDirectory{markErr: service.ErrRoomNotFound}
	app := chatTestApp(&mockMessageStream{}, directory)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/rooms/u1_u9/read", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	directory.markErr = service.ErrNotRoomMember
	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/chat/rooms/u2_u3/read", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	directory.markErr = nil
	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/chat/rooms/u1_u2/read", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "u1_u2/u1", directory.lastRead)
}

func TestChatHandler_HistoryRequiresRoom(t *testing.T) {
	app := chatTestApp(&mockMessageStream{history: []dto.ChatMessageResponse{{Content: "a"}}}, &mockDirectory{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/chat/history", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/chat/history?room_id=u1_u2", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}
