package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"chat-backend/internal/models"
)

// Inbound frame types accepted from clients.
const (
	FrameJoinGroup  = "join_group"
	FrameLeaveGroup = "leave_group"
	FramePing       = "ping"
)

// Outbound frame types.
const (
	FrameMessage      = "message"
	FrameOnlineStatus = "online_status"
	FramePong         = "pong"
	FrameError        = "error"
)

type InboundFrame struct {
	Type    string     `json:"type"`
	GroupID *uuid.UUID `json:"group_id,omitempty"`
}

// MessageFrame mirrors the REST message representation so a client sees the
// same shape whether it fetches history or receives the live push.
type MessageFrame struct {
	Type       string            `json:"type"`
	ID         uuid.UUID         `json:"id"`
	Content    string            `json:"content"`
	SenderID   uuid.UUID         `json:"sender_id"`
	ReceiverID *uuid.UUID        `json:"receiver_id"`
	GroupID    *uuid.UUID        `json:"group_id"`
	MediaURL   *string           `json:"media_url,omitempty"`
	MediaType  *string           `json:"media_type,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Sender     models.UserPublic `json:"sender"`
}

type OnlineStatusFrame struct {
	Type     string    `json:"type"`
	UserID   uuid.UUID `json:"user_id"`
	IsOnline bool      `json:"is_online"`
}

type PongFrame struct {
	Type string `json:"type"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type MembershipFrame struct {
	Type    string    `json:"type"`
	GroupID uuid.UUID `json:"group_id"`
	UserID  uuid.UUID `json:"user_id"`
	Added   bool      `json:"added"`
}

const FrameMembershipChanged = "membership_changed"

// frameClass drives the backpressure policy: when a session's outbound queue
// overflows, control frames are dropped before the connection is closed.
// Chat messages are never dropped silently.
type frameClass int

const (
	classControl frameClass = iota
	classMessage
)

type outboundFrame struct {
	class frameClass
	data  []byte
}

func newMessageFrame(m *models.Message, sender models.UserPublic) *MessageFrame {
	return &MessageFrame{
		Type:       FrameMessage,
		ID:         m.ID,
		Content:    m.Content,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		GroupID:    m.GroupID,
		MediaURL:   m.MediaURL,
		MediaType:  m.MediaType,
		CreatedAt:  m.CreatedAt,
		Sender:     sender,
	}
}

func marshalFrame(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Frames are built from our own types; a marshal failure is a bug.
		panic(err)
	}
	return data
}

func errorFrame(msg string) outboundFrame {
	return outboundFrame{class: classControl, data: marshalFrame(ErrorFrame{Type: FrameError, Message: msg})}
}

func pongFrame() outboundFrame {
	return outboundFrame{class: classControl, data: marshalFrame(PongFrame{Type: FramePong})}
}
