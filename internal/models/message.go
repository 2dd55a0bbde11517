package models

import (
	"time"

	"github.com/google/uuid"
)

// Message covers both private chats (ReceiverID set) and group chats
// (GroupID set); exactly one of the two is non-nil.
type Message struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	Content    string     `json:"content" gorm:"not null"`
	SenderID   uuid.UUID  `json:"sender_id" gorm:"type:uuid;index;not null"`
	ReceiverID *uuid.UUID `json:"receiver_id" gorm:"type:uuid;index"`
	GroupID    *uuid.UUID `json:"group_id" gorm:"type:uuid;index"`
	MediaURL   *string    `json:"media_url" gorm:"size:500"`
	MediaType  *string    `json:"media_type" gorm:"size:50"`
	IsRead     bool       `json:"is_read" gorm:"default:false;not null"`
	CreatedAt  time.Time  `json:"created_at" gorm:"index"`
	Sender     *User      `json:"sender,omitempty" gorm:"foreignKey:SenderID"`
}

type CreateMessageRequest struct {
	Content    string     `json:"content" binding:"required"`
	ReceiverID *uuid.UUID `json:"receiver_id"`
	GroupID    *uuid.UUID `json:"group_id"`
	MediaURL   *string    `json:"media_url"`
	MediaType  *string    `json:"media_type"`
}
