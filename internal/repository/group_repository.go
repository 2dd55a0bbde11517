package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"chat-backend/internal/models"
)

var ErrAlreadyMember = errors.New("user is already a member")

type GroupRepository struct {
	db *gorm.DB
}

func NewGroupRepository(db *gorm.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// Create persists a group and makes the creator its admin member.
func (r *GroupRepository) Create(ctx context.Context, group *models.Group) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return err
		}
		member := &models.GroupMember{
			ID:       uuid.New(),
			GroupID:  group.ID,
			UserID:   group.CreatorID,
			Role:     models.GroupRoleAdmin,
			JoinedAt: time.Now(),
		}
		return tx.Create(member).Error
	})
}

func (r *GroupRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Group, error) {
	var group models.Group
	err := r.db.WithContext(ctx).Preload("Members").Preload("Members.User").
		First(&group, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *GroupRepository) GroupsFor(ctx context.Context, userID uuid.UUID) ([]models.Group, error) {
	var groups []models.Group
	err := r.db.WithContext(ctx).
		Joins("JOIN group_members ON group_members.group_id = groups.id").
		Where("group_members.user_id = ?", userID).
		Find(&groups).Error
	return groups, err
}

// IsMember is the durable membership check the realtime room tracker
// consults on every join_group command.
func (r *GroupRepository) IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *GroupRepository) AddMember(ctx context.Context, groupID, userID uuid.UUID, role string) error {
	ok, err := r.IsMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyMember
	}
	member := &models.GroupMember{
		ID:       uuid.New(),
		GroupID:  groupID,
		UserID:   userID,
		Role:     role,
		JoinedAt: time.Now(),
	}
	return r.db.WithContext(ctx).Create(member).Error
}

func (r *GroupRepository) RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Delete(&models.GroupMember{}).Error
}

func (r *GroupRepository) MemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ?", groupID).
		Pluck("user_id", &ids).Error
	return ids, err
}
