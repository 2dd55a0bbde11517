package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	Username  string     `json:"username" gorm:"size:50;uniqueIndex;not null"`
	Email     string     `json:"email" gorm:"size:255;uniqueIndex;not null"`
	Password  string     `json:"-" gorm:"not null"`
	FirstName *string    `json:"first_name" gorm:"size:100"`
	LastName  *string    `json:"last_name" gorm:"size:100"`
	AvatarURL *string    `json:"avatar_url" gorm:"size:500"`
	IsOnline  bool       `json:"is_online" gorm:"default:false;not null"`
	LastSeen  *time.Time `json:"last_seen"`
	IsActive  bool       `json:"is_active" gorm:"default:true;not null"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// UserPublic is the subset of User embedded in outbound frames and API
// responses visible to other users.
type UserPublic struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	AvatarURL *string   `json:"avatar_url"`
}

func (u *User) Public() UserPublic {
	return UserPublic{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
	}
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token string `json:"access_token"`
	User  User   `json:"user"`
}
