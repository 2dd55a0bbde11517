package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	GroupRoleMember = "member"
	GroupRoleAdmin  = "admin"
)

type Group struct {
	ID          uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey"`
	Name        string        `json:"name" gorm:"size:200;not null"`
	Description *string       `json:"description"`
	AvatarURL   *string       `json:"avatar_url" gorm:"size:500"`
	CreatorID   uuid.UUID     `json:"creator_id" gorm:"type:uuid;index;not null"`
	IsPrivate   bool          `json:"is_private" gorm:"default:false;not null"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Members     []GroupMember `json:"members,omitempty" gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE"`
}

type GroupMember struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	GroupID  uuid.UUID `json:"group_id" gorm:"type:uuid;index;not null;uniqueIndex:idx_group_user"`
	UserID   uuid.UUID `json:"user_id" gorm:"type:uuid;index;not null;uniqueIndex:idx_group_user"`
	Role     string    `json:"role" gorm:"size:20;default:member;not null"`
	JoinedAt time.Time `json:"joined_at"`
	User     *User     `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

type CreateGroupRequest struct {
	Name        string      `json:"name" binding:"required,max=200"`
	Description *string     `json:"description"`
	IsPrivate   bool        `json:"is_private"`
	MemberIDs   []uuid.UUID `json:"member_ids"`
}
