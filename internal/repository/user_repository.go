package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"chat-backend/internal/models"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) Search(ctx context.Context, query string, limit int) ([]models.User, error) {
	var users []models.User
	pattern := "%" + query + "%"
	err := r.db.WithContext(ctx).
		Where("username ILIKE ? OR email ILIKE ?", pattern, pattern).
		Limit(limit).
		Find(&users).Error
	return users, err
}

// UpdatePresence mirrors the live presence store onto the user row so plain
// REST reads show a sensible status without consulting Redis.
func (r *UserRepository) UpdatePresence(ctx context.Context, id uuid.UUID, online bool, lastSeen *time.Time) error {
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_online": online, "last_seen": lastSeen}).Error
}
