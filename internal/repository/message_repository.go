package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"chat-backend/internal/models"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *MessageRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	var msg models.Message
	if err := r.db.WithContext(ctx).Preload("Sender").First(&msg, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// PrivateHistory returns the two-way conversation between userID and peerID,
// newest first.
func (r *MessageRepository) PrivateHistory(ctx context.Context, userID, peerID uuid.UUID, limit, offset int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.WithContext(ctx).Preload("Sender").
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userID, peerID, peerID, userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&msgs).Error
	return msgs, err
}

func (r *MessageRepository) GroupHistory(ctx context.Context, groupID uuid.UUID, limit, offset int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.WithContext(ctx).Preload("Sender").
		Where("group_id = ?", groupID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&msgs).Error
	return msgs, err
}

func (r *MessageRepository) MarkRead(ctx context.Context, id, readerID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND receiver_id = ?", id, readerID).
		Update("is_read", true).Error
}
