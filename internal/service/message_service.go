package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"chat-backend/internal/models"
	"chat-backend/internal/realtime"
	"chat-backend/internal/repository"
)

var (
	ErrNoTarget     = errors.New("either receiver_id or group_id must be provided")
	ErrBothTargets  = errors.New("only one of receiver_id or group_id may be provided")
	ErrNotGroupUser = errors.New("you are not a member of this group")
)

// MessageService persists a message and hands it to the fan-out dispatcher.
// This is the "deliver event" entry point the REST layer calls after a write.
type MessageService struct {
	messages *repository.MessageRepository
	groups   *repository.GroupRepository
	contacts *repository.ContactRepository
	dispatch *realtime.Dispatcher
}

func NewMessageService(
	messages *repository.MessageRepository,
	groups *repository.GroupRepository,
	contacts *repository.ContactRepository,
	dispatch *realtime.Dispatcher,
) *MessageService {
	return &MessageService{
		messages: messages,
		groups:   groups,
		contacts: contacts,
		dispatch: dispatch,
	}
}

func (s *MessageService) Send(ctx context.Context, sender *models.User, req models.CreateMessageRequest) (*models.Message, error) {
	if req.ReceiverID == nil && req.GroupID == nil {
		return nil, ErrNoTarget
	}
	if req.ReceiverID != nil && req.GroupID != nil {
		return nil, ErrBothTargets
	}

	if req.GroupID != nil {
		ok, err := s.groups.IsMember(ctx, *req.GroupID, sender.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotGroupUser
		}
	}

	if req.ReceiverID != nil {
		if err := s.contacts.EnsurePair(ctx, sender.ID, *req.ReceiverID); err != nil {
			return nil, err
		}
	}

	msg := &models.Message{
		ID:         uuid.New(),
		Content:    req.Content,
		SenderID:   sender.ID,
		ReceiverID: req.ReceiverID,
		GroupID:    req.GroupID,
		MediaURL:   req.MediaURL,
		MediaType:  req.MediaType,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	// Fan-out happens after the durable write; a bus failure is not a send
	// failure, since the receiver can always fetch history.
	if err := s.dispatch.DispatchMessage(ctx, msg, sender.Public()); err != nil {
		slog.Warn("message fan-out degraded", "messageID", msg.ID, "error", err)
	}
	msg.Sender = sender
	return msg, nil
}
