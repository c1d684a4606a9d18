package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/example/findx/internal/geo"
	"github.com/example/findx/internal/marketplace/domain"
)

// CreateBookingRequest contains the payload for requesting a booking.
type CreateBookingRequest struct {
	OfferID     uuid.UUID  `json:"offer_id" validate:"required"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	Note        string     `json:"note" validate:"max=2000"`
	Address     string     `json:"address" validate:"max=500"`
	Latitude    *float64   `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude   *float64   `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
}

// UpdateStatusRequest carries the requested booking status.
type UpdateStatusRequest struct {
	Status domain.BookingStatus `json:"status" validate:"required"`
}

// bookingKeyNamespace seeds booking ids derived from idempotency keys.
var bookingKeyNamespace = uuid.MustParse("6f1c2f0e-4b1a-5d8e-9a57-3c0f1b7d2e44")

// bookingIDForKey maps a caller-scoped idempotency key to a fixed booking id,
// so concurrent requests with the same key collide on insert.
func bookingIDForKey(scopedKey string) uuid.UUID {
	return uuid.NewSHA1(bookingKeyNamespace, []byte(scopedKey))
}

// CreateBooking records a new booking in the requested state. A non-empty key
// makes the call idempotent per caller: a repeated key returns the booking
// created by the first call, even when both calls race.
func (s *Service) CreateBooking(ctx context.Context, actor domain.Actor, key string, req CreateBookingRequest) (domain.Booking, error) {
	if err := validateStruct(req); err != nil {
		return domain.Booking{}, err
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return domain.Booking{}, domain.NewValidationError("location", "latitude and longitude must be given together")
	}

	scopedKey := ""
	if key != "" {
		scopedKey = actor.ID.String() + ":" + key
	}
	if scopedKey != "" && s.idempotent != nil {
		if cached, ok, err := s.idempotent.GetResponse(ctx, scopedKey); err == nil && ok {
			var booking domain.Booking
			if err := json.Unmarshal(cached, &booking); err == nil {
				idempotentReplays.Inc()
				return booking, nil
			}
		} else if err != nil {
			s.logger.Warn("idempotency lookup failed", zap.Error(err))
		}
	}

	offer, err := s.repo.GetOfferByID(ctx, req.OfferID)
	if err != nil {
		return domain.Booking{}, err
	}
	if actor.Role != domain.RoleConsumer {
		return domain.Booking{}, fmt.Errorf("%w: only consumers can create bookings", domain.ErrForbidden)
	}

	id := uuid.New()
	if scopedKey != "" {
		id = bookingIDForKey(scopedKey)
	}
	now := s.clock.Now()
	booking := domain.Booking{
		ID:          id,
		OfferID:     offer.ID,
		ConsumerID:  actor.ID,
		Status:      domain.StatusRequested,
		ScheduledAt: req.ScheduledAt,
		Note:        req.Note,
		Address:     req.Address,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	if req.Latitude != nil && req.Longitude != nil {
		booking.Location = &geo.Point{Lat: *req.Latitude, Lng: *req.Longitude}
	}

	created, err := s.repo.CreateBooking(ctx, booking)
	if err != nil {
		if scopedKey != "" && errors.Is(err, domain.ErrConflict) {
			return s.replayBooking(ctx, actor, id)
		}
		return domain.Booking{}, fmt.Errorf("create booking: %w", err)
	}

	s.publish(ctx, created.ID, domain.EventBookingRequested, map[string]any{
		"offer_id":    created.OfferID.String(),
		"consumer_id": created.ConsumerID.String(),
		"provider_id": offer.ProviderID.String(),
	})

	if scopedKey != "" && s.idempotent != nil {
		if payload, err := json.Marshal(created); err == nil {
			if err := s.idempotent.PutResponse(ctx, scopedKey, payload); err != nil {
				s.logger.Warn("idempotency store failed", zap.Error(err))
			}
		}
	}
	return created, nil
}

// replayBooking returns the booking another request already created for the
// same key.
func (s *Service) replayBooking(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Booking, error) {
	existing, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("replay booking: %w", err)
	}
	if existing.ConsumerID != actor.ID {
		return domain.Booking{}, domain.ErrForbidden
	}
	idempotentReplays.Inc()
	return existing, nil
}

// loadGated fetches a booking together with its offer and checks that the
// caller owns one of them.
func (s *Service) loadGated(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Booking, domain.Offer, error) {
	booking, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		return domain.Booking{}, domain.Offer{}, err
	}
	offer, err := s.repo.GetOfferByID(ctx, booking.OfferID)
	if err != nil {
		return domain.Booking{}, domain.Offer{}, err
	}
	if _, err := domain.Authorize(actor, offer, booking); err != nil {
		return domain.Booking{}, domain.Offer{}, err
	}
	return booking, offer, nil
}

// GetBooking returns a booking visible to its consumer or the offer's provider.
func (s *Service) GetBooking(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Booking, error) {
	booking, _, err := s.loadGated(ctx, actor, id)
	return booking, err
}

// ListMyBookings lists the consumer's own bookings, or for a provider the
// bookings placed on their offers. Newest first.
func (s *Service) ListMyBookings(ctx context.Context, actor domain.Actor) ([]domain.BookingView, error) {
	switch actor.Role {
	case domain.RoleConsumer:
		return s.repo.ListBookingsByConsumer(ctx, actor.ID)
	case domain.RoleProvider:
		return s.repo.ListBookingsByProvider(ctx, actor.ID)
	default:
		return nil, domain.ErrForbidden
	}
}

// UpdateBookingStatus applies a status change. Each attempt re-reads the
// booking, validates the move against that snapshot and writes it only if
// nobody else wrote in between.
func (s *Service) UpdateBookingStatus(ctx context.Context, actor domain.Actor, id uuid.UUID, req UpdateStatusRequest) (domain.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.update_status")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.id", id.String()),
		attribute.String("booking.target", string(req.Status)),
	)

	if err := validateStruct(req); err != nil {
		return domain.Booking{}, err
	}
	if !req.Status.Valid() {
		return domain.Booking{}, domain.NewValidationError("status", "unknown status "+string(req.Status))
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.TransitionMaxAttempts; attempt++ {
		updated, err := s.tryTransition(ctx, actor, id, req.Status)
		if err == nil {
			bookingTransitions.WithLabelValues(string(req.Status), "ok").Inc()
			span.SetAttributes(attribute.Int("booking.attempts", attempt))
			s.publish(ctx, updated.ID, domain.EventBookingStatusChanged, map[string]any{
				"status":   string(updated.Status),
				"actor_id": actor.ID.String(),
			})
			return updated, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			bookingTransitions.WithLabelValues(string(req.Status), outcome(err)).Inc()
			span.RecordError(err)
			return domain.Booking{}, err
		}
		lastErr = err
		transitionRetries.Inc()
	}

	bookingTransitions.WithLabelValues(string(req.Status), "conflict").Inc()
	span.SetStatus(codes.Error, "version conflict")
	return domain.Booking{}, fmt.Errorf("%w: gave up after %d attempts: %v", domain.ErrConflict, s.cfg.TransitionMaxAttempts, lastErr)
}

func (s *Service) tryTransition(ctx context.Context, actor domain.Actor, id uuid.UUID, target domain.BookingStatus) (domain.Booking, error) {
	booking, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	offer, err := s.repo.GetOfferByID(ctx, booking.OfferID)
	if err != nil {
		return domain.Booking{}, err
	}
	next, err := s.lifecycle.Transition(booking, offer, actor, target, s.clock.Now())
	if err != nil {
		return domain.Booking{}, err
	}
	return s.repo.CompareAndSwapBooking(ctx, next, booking.Version)
}

func outcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrIllegalTransition):
		return "rejected"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
