package dto

import (
	"time"

	"github.com/trekmates/chat-api/internal/models"
)

// ChatSendRequest is the payload accepted by the HTTP send endpoint and the
// websocket send frame. The timestamp is optional and may arrive in any of
// the supported encodings; absent or placeholder values resolve to server
// time at write.
type ChatSendRequest struct {
	RoomID      string            `json:"room_id" validate:"required,min=3,max=129"`
	SenderID    string            `json:"sender_id" validate:"required,max=64"`
	RecipientID string            `json:"recipient_id" validate:"required,max=64"`
	Content     string            `json:"content" validate:"required,min=1,max=4000"`
	Type        string            `json:"type" validate:"omitempty,oneof=text image system"`
	Timestamp   *models.Timestamp `json:"timestamp"`
}

// ChatHistoryQuery represents query filters for retrieving chat history.
type ChatHistoryQuery struct {
	RoomID string     `query:"room_id" validate:"required,min=3,max=129"`
	Before *time.Time `query:"before"`
	Limit  int        `query:"limit" validate:"omitempty,min=1,max=100"`
}

// ChatMessageResponse is the serialized representation of a chat message.
type ChatMessageResponse struct {
	ID          uint      `json:"id"`
	RoomID      string    `json:"room_id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Content     string    `json:"content"`
	Type        string    `json:"type"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewChatMessageResponse converts a model into a DTO.
func NewChatMessageResponse(message models.ChatMessage) ChatMessageResponse {
	return ChatMessageResponse{
		ID:          message.ID,
		RoomID:      message.RoomID,
		SenderID:    message.SenderID,
		RecipientID: message.RecipientID,
		Content:     message.Content,
		Type:        message.Type,
		Read:        message.Read,
		CreatedAt:   message.CreatedAt,
	}
}

// NewChatMessageResponseSlice converts a slice of models into DTOs.
func NewChatMessageResponseSlice(messages []models.ChatMessage) []ChatMessageResponse {
	out := make([]ChatMessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewChatMessageResponse(message))
	}
	return out
}

// RoomCreateRequest asks for a conversation with the given peer, creating the
// room lazily on first contact.
type RoomCreateRequest struct {
	PeerID     string `json:"peer_id" validate:"required,max=64"`
	PeerName   string `json:"peer_name" validate:"required,max=128"`
	PeerAvatar string `json:"peer_avatar" validate:"omitempty,max=512"`
}

// RoomMemberResponse describes one participant of a room.
type RoomMemberResponse struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	UnreadCount int       `json:"unread_count"`
	JoinedAt    time.Time `json:"joined_at"`
}

// MessageSnapshotResponse is the denormalized last-message preview.
type MessageSnapshotResponse struct {
	Content   string    `json:"content"`
	SenderID  string    `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomResponse describes a conversation room including per-member unread state.
type RoomResponse struct {
	ID              string                   `json:"id"`
	Members         []RoomMemberResponse     `json:"members"`
	LastMessage     *MessageSnapshotResponse `json:"last_message,omitempty"`
	LastMessageTime time.Time                `json:"last_message_time"`
	CreatedAt       time.Time                `json:"created_at"`
}

// NewRoomResponse converts a room model into a DTO.
func NewRoomResponse(room models.Room) RoomResponse {
	members := make([]RoomMemberResponse, 0, len(room.Members))
	for _, member := range room.Members {
		members = append(members, RoomMemberResponse{
			UserID:      member.UserID,
			DisplayName: member.DisplayName,
			AvatarURL:   member.AvatarURL,
			UnreadCount: member.UnreadCount,
			JoinedAt:    member.JoinedAt,
		})
	}

	response := RoomResponse{
		ID:              room.ID,
		Members:         members,
		LastMessageTime: room.LastMessageTime,
		CreatedAt:       room.CreatedAt,
	}

	if snapshot := room.LastMessage.Data(); snapshot.SenderID != "" {
		response.LastMessage = &MessageSnapshotResponse{
			Content:   snapshot.Content,
			SenderID:  snapshot.SenderID,
			Timestamp: snapshot.Timestamp,
		}
	}

	return response
}

// NewRoomResponseSlice converts a slice of rooms to DTOs.
func NewRoomResponseSlice(rooms []models.Room) []RoomResponse {
	out := make([]RoomResponse, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, NewRoomResponse(room))
	}
	return out
}

// SessionFrame is pushed to websocket clients whenever session state changes.
type SessionFrame struct {
	Type      string                `json:"type"` // messages, error or typing
	Messages  []ChatMessageResponse `json:"messages,omitempty"`
	Connected bool                  `json:"connected"`
	Loading   bool                  `json:"loading"`
	Typing    bool                  `json:"typing,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// SessionInbound is the frame clients send over an open websocket session.
type SessionInbound struct {
	Content string `json:"content"`
	Typing  bool   `json:"typing"`
}
