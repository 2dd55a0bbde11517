package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"chat-backend/internal/models"
)

type ContactRepository struct {
	db *gorm.DB
}

func NewContactRepository(db *gorm.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

func (r *ContactRepository) ListFor(ctx context.Context, userID uuid.UUID) ([]models.Contact, error) {
	var contacts []models.Contact
	err := r.db.WithContext(ctx).Preload("Contact").
		Where("user_id = ?", userID).
		Find(&contacts).Error
	return contacts, err
}

func (r *ContactRepository) Add(ctx context.Context, userID, contactID uuid.UUID, nickname *string) error {
	contact := &models.Contact{
		ID:        uuid.New(),
		UserID:    userID,
		ContactID: contactID,
		Nickname:  nickname,
	}
	return r.db.WithContext(ctx).Create(contact).Error
}

func (r *ContactRepository) Remove(ctx context.Context, userID, contactID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND contact_id = ?", userID, contactID).
		Delete(&models.Contact{}).Error
}

// EnsurePair creates both directions of a contact link if missing. The first
// private message between two users links them automatically.
func (r *ContactRepository) EnsurePair(ctx context.Context, a, b uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, pair := range [][2]uuid.UUID{{a, b}, {b, a}} {
			var count int64
			if err := tx.Model(&models.Contact{}).
				Where("user_id = ? AND contact_id = ?", pair[0], pair[1]).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				contact := &models.Contact{ID: uuid.New(), UserID: pair[0], ContactID: pair[1]}
				if err := tx.Create(contact).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// InterestedIn answers "who cares about user X": contact peers plus co-members
// of any shared group. Feeds presence fan-out; implements the dispatcher's
// InterestQuery collaborator.
func (r *ContactRepository) InterestedIn(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Raw(`
		SELECT user_id FROM contacts WHERE contact_id = ?
		UNION
		SELECT gm2.user_id
		FROM group_members gm1
		JOIN group_members gm2 ON gm1.group_id = gm2.group_id
		WHERE gm1.user_id = ? AND gm2.user_id <> ?`,
		userID, userID, userID).Scan(&ids).Error
	return ids, err
}
