package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/example/findx/internal/marketplace/domain"
)

// CreateOfferRequest contains the payload for publishing an offer.
type CreateOfferRequest struct {
	Title       string   `json:"title" validate:"min=3"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	PriceCents  *int64   `json:"price_cents" validate:"required,gte=0"`
	Unit        string   `json:"unit" validate:"min=1"`
	Latitude    *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude   *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	RadiusKM    *float64 `json:"radius_km" validate:"omitempty,gt=0,lte=100"`
}

// UpdateOfferRequest carries any subset of offer fields.
type UpdateOfferRequest struct {
	Title       *string  `json:"title" validate:"omitempty,min=3"`
	Description *string  `json:"description"`
	Category    *string  `json:"category"`
	PriceCents  *int64   `json:"price_cents" validate:"omitempty,gte=0"`
	Unit        *string  `json:"unit" validate:"omitempty,min=1"`
	Latitude    *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude   *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	RadiusKM    *float64 `json:"radius_km" validate:"omitempty,gt=0,lte=100"`
	Active      *bool    `json:"is_active"`
}

func (r UpdateOfferRequest) empty() bool {
	return r.Title == nil && r.Description == nil && r.Category == nil && r.PriceCents == nil &&
		r.Unit == nil && r.Latitude == nil && r.Longitude == nil && r.RadiusKM == nil && r.Active == nil
}

func (r UpdateOfferRequest) apply(o domain.Offer) domain.Offer {
	if r.Title != nil {
		o.Title = *r.Title
	}
	if r.Description != nil {
		o.Description = *r.Description
	}
	if r.Category != nil {
		o.Category = *r.Category
	}
	if r.PriceCents != nil {
		o.PriceCents = *r.PriceCents
	}
	if r.Unit != nil {
		o.Unit = *r.Unit
	}
	if r.Latitude != nil {
		o.Latitude = *r.Latitude
	}
	if r.Longitude != nil {
		o.Longitude = *r.Longitude
	}
	if r.RadiusKM != nil {
		o.RadiusKM = *r.RadiusKM
	}
	if r.Active != nil {
		o.Active = *r.Active
	}
	return o
}

// CreateOffer publishes a new active offer owned by a provider.
func (s *Service) CreateOffer(ctx context.Context, actor domain.Actor, req CreateOfferRequest) (domain.Offer, error) {
	if actor.Role != domain.RoleProvider {
		return domain.Offer{}, fmt.Errorf("%w: only providers can publish offers", domain.ErrForbidden)
	}
	if err := validateStruct(req); err != nil {
		return domain.Offer{}, err
	}
	radius := domain.DefaultRadiusKM
	if req.RadiusKM != nil {
		radius = *req.RadiusKM
	}
	offer := domain.Offer{
		ID:          uuid.New(),
		ProviderID:  actor.ID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		PriceCents:  *req.PriceCents,
		Unit:        req.Unit,
		Latitude:    *req.Latitude,
		Longitude:   *req.Longitude,
		RadiusKM:    radius,
		Active:      true,
		CreatedAt:   s.clock.Now(),
	}
	created, err := s.repo.CreateOffer(ctx, offer)
	if err != nil {
		return domain.Offer{}, fmt.Errorf("create offer: %w", err)
	}
	s.syncIndex(ctx, created)
	s.publish(ctx, created.ID, domain.EventOfferCreated, map[string]any{"provider_id": created.ProviderID.String()})
	return created, nil
}

// GetOffer retrieves an offer by identifier. Offers are public.
func (s *Service) GetOffer(ctx context.Context, id uuid.UUID) (domain.Offer, error) {
	return s.repo.GetOfferByID(ctx, id)
}

// ListMyOffers lists the provider's own offers, newest first.
func (s *Service) ListMyOffers(ctx context.Context, actor domain.Actor) ([]domain.Offer, error) {
	if actor.Role != domain.RoleProvider {
		return nil, fmt.Errorf("%w: only providers have offers", domain.ErrForbidden)
	}
	return s.repo.ListOffersByProvider(ctx, actor.ID)
}

func (s *Service) ownedOffer(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Offer, error) {
	if actor.Role != domain.RoleProvider {
		return domain.Offer{}, fmt.Errorf("%w: only providers manage offers", domain.ErrForbidden)
	}
	offer, err := s.repo.GetOfferByID(ctx, id)
	if err != nil {
		return domain.Offer{}, err
	}
	if !domain.OwnsOffer(actor, offer) {
		return domain.Offer{}, domain.ErrForbidden
	}
	return offer, nil
}

// UpdateOffer applies a partial update on behalf of the owning provider.
func (s *Service) UpdateOffer(ctx context.Context, actor domain.Actor, id uuid.UUID, req UpdateOfferRequest) (domain.Offer, error) {
	existing, err := s.ownedOffer(ctx, actor, id)
	if err != nil {
		return domain.Offer{}, err
	}
	if err := validateStruct(req); err != nil {
		return domain.Offer{}, err
	}
	if req.empty() {
		return existing, nil
	}
	updated, err := s.repo.UpdateOffer(ctx, req.apply(existing))
	if err != nil {
		return domain.Offer{}, fmt.Errorf("update offer: %w", err)
	}
	s.syncIndex(ctx, updated)
	s.publish(ctx, updated.ID, domain.EventOfferUpdated, map[string]any{"is_active": updated.Active})
	return updated, nil
}

// DeleteOffer deactivates an offer, or removes it when hard is set. Bookings
// keep their reference either way.
func (s *Service) DeleteOffer(ctx context.Context, actor domain.Actor, id uuid.UUID, hard bool) error {
	existing, err := s.ownedOffer(ctx, actor, id)
	if err != nil {
		return err
	}
	if hard {
		if err := s.repo.DeleteOffer(ctx, id); err != nil {
			return fmt.Errorf("delete offer: %w", err)
		}
	} else {
		existing.Active = false
		if _, err := s.repo.UpdateOffer(ctx, existing); err != nil {
			return fmt.Errorf("deactivate offer: %w", err)
		}
	}
	s.dropFromIndex(ctx, id)
	s.publish(ctx, id, domain.EventOfferDeleted, map[string]any{"hard": hard})
	return nil
}
