package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/example/findx/internal/marketplace/domain"
)

// PostMessageRequest carries a message body.
type PostMessageRequest struct {
	Content string `json:"content" validate:"min=1,max=4000"`
}

// ListMessages returns the booking's thread in chronological order.
func (s *Service) ListMessages(ctx context.Context, actor domain.Actor, bookingID uuid.UUID) ([]domain.Message, error) {
	if _, _, err := s.loadGated(ctx, actor, bookingID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, bookingID)
}

// PostMessage appends a message to the booking's thread.
func (s *Service) PostMessage(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, req PostMessageRequest) (domain.Message, error) {
	if err := validateStruct(req); err != nil {
		return domain.Message{}, err
	}
	booking, _, err := s.loadGated(ctx, actor, bookingID)
	if err != nil {
		return domain.Message{}, err
	}
	msg, err := s.repo.CreateMessage(ctx, domain.Message{
		ID:        uuid.New(),
		BookingID: booking.ID,
		SenderID:  actor.ID,
		Content:   req.Content,
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("post message: %w", err)
	}
	s.publish(ctx, booking.ID, domain.EventMessagePosted, map[string]any{
		"message_id": msg.ID.String(),
		"sender_id":  actor.ID.String(),
	})
	return msg, nil
}
