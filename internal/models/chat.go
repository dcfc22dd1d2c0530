package models

import (
	"time"

	"gorm.io/datatypes"
)

// Message type constants accepted on the wire.
const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeSystem = "system"
)

// MessageSnapshot is the denormalized last-message preview stored on a room.
type MessageSnapshot struct {
	Content   string    `json:"content"`
	SenderID  string    `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Room represents one two-party conversation. The primary key is derived
// deterministically from the member ids, so both participants converge on the
// same row without a discovery handshake.
type Room struct {
	ID              string                                `gorm:"primaryKey;size:129" json:"id"`
	Members         []RoomMember                          `gorm:"foreignKey:RoomID;references:ID" json:"members"`
	LastMessage     datatypes.JSONType[MessageSnapshot]   `json:"last_message"`
	LastMessageTime time.Time                             `gorm:"index" json:"last_message_time"`
	CreatedAt       time.Time                             `json:"created_at"`
	UpdatedAt       time.Time                             `json:"updated_at"`
}

// RoomMember stores per-participant room state, including the unread counter
// incremented on every message addressed to the member.
type RoomMember struct {
	RoomID      string    `gorm:"primaryKey;size:129" json:"room_id"`
	UserID      string    `gorm:"primaryKey;size:64;index" json:"user_id"`
	DisplayName string    `gorm:"size:128" json:"display_name"`
	AvatarURL   string    `gorm:"size:512" json:"avatar_url"`
	UnreadCount int       `gorm:"not null;default:0" json:"unread_count"`
	JoinedAt    time.Time `json:"joined_at"`
}

// ChatMessage represents a single chat payload exchanged inside a room.
type ChatMessage struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	RoomID      string    `gorm:"size:129;index" json:"room_id"`
	SenderID    string    `gorm:"size:64;index" json:"sender_id"`
	RecipientID string    `gorm:"size:64;index" json:"recipient_id"`
	Content     string    `gorm:"type:text" json:"content"`
	Type        string    `gorm:"size:32;default:text" json:"type"`
	Read        bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Notification represents a push notification targeted to a specific user.
type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"size:64;index" json:"user_id"`
	Type      string    `gorm:"size:64" json:"type"`
	Message   string    `gorm:"type:text" json:"message"`
	Read      bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attachment records an uploaded chat image and its storage location.
type Attachment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"size:64;index" json:"user_id"`
	URL       string    `gorm:"size:1024" json:"url"`
	MimeType  string    `gorm:"size:128" json:"mime_type"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `gorm:"size:64" json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}
