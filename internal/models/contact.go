package models

import (
	"time"

	"github.com/google/uuid"
)

// Contact is a one-directional link; a private conversation creates one row
// for each direction.
type Contact struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;index;not null;uniqueIndex:idx_user_contact"`
	ContactID uuid.UUID `json:"contact_id" gorm:"type:uuid;index;not null;uniqueIndex:idx_user_contact"`
	Nickname  *string   `json:"nickname" gorm:"size:100"`
	CreatedAt time.Time `json:"created_at"`
	Contact   *User     `json:"contact,omitempty" gorm:"foreignKey:ContactID"`
}

type AddContactRequest struct {
	ContactID uuid.UUID `json:"contact_id" binding:"required"`
	Nickname  *string   `json:"nickname"`
}
