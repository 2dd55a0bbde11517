package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chat-backend/internal/realtime"
	"chat-backend/internal/repository"
)

// PresenceMirror decorates the shared presence store and reflects online/
// offline transitions onto the user row, so plain REST reads (profile pages,
// contact lists) show status without a Redis round trip. The store stays the
// source of truth; mirror failures are logged, never propagated.
type PresenceMirror struct {
	store *realtime.RedisPresence
	users *repository.UserRepository
}

var _ realtime.Presence = (*PresenceMirror)(nil)

func NewPresenceMirror(store *realtime.RedisPresence, users *repository.UserRepository) *PresenceMirror {
	return &PresenceMirror{store: store, users: users}
}

func (m *PresenceMirror) MarkOnline(ctx context.Context, userID uuid.UUID, procID string) error {
	if err := m.store.MarkOnline(ctx, userID, procID); err != nil {
		return err
	}
	if err := m.users.UpdatePresence(ctx, userID, true, nil); err != nil {
		slog.Warn("failed to mirror online status", "userID", userID, "error", err)
	}
	return nil
}

func (m *PresenceMirror) MarkOffline(ctx context.Context, userID uuid.UUID, procID string) error {
	if err := m.store.MarkOffline(ctx, userID, procID); err != nil {
		return err
	}
	online, err := m.store.IsOnline(ctx, userID)
	if err != nil {
		return err
	}
	if !online {
		now := time.Now()
		if err := m.users.UpdatePresence(ctx, userID, false, &now); err != nil {
			slog.Warn("failed to mirror offline status", "userID", userID, "error", err)
		}
	}
	return nil
}

func (m *PresenceMirror) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	return m.store.IsOnline(ctx, userID)
}

func (m *PresenceMirror) LastSeen(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	return m.store.LastSeen(ctx, userID)
}
