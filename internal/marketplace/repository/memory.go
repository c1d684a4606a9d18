package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/example/findx/internal/marketplace/domain"
)

// MemoryRepository provides an in-memory implementation suitable for tests and local demos.
type MemoryRepository struct {
	mu         sync.RWMutex
	identities map[uuid.UUID]domain.Identity
	emails     map[string]uuid.UUID
	offers     map[uuid.UUID]domain.Offer
	offerOrder []uuid.UUID
	bookings   map[uuid.UUID]domain.Booking
	messages   map[uuid.UUID][]domain.Message
	events     []domain.Event
}

// NewMemoryRepository constructs an empty memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		identities: make(map[uuid.UUID]domain.Identity),
		emails:     make(map[string]uuid.UUID),
		offers:     make(map[uuid.UUID]domain.Offer),
		bookings:   make(map[uuid.UUID]domain.Booking),
		messages:   make(map[uuid.UUID][]domain.Message),
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateIdentity stores a new identity; emails are unique case-insensitively.
func (m *MemoryRepository) CreateIdentity(_ context.Context, identity domain.Identity) (domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := emailKey(identity.Email)
	if _, exists := m.emails[key]; exists {
		return domain.Identity{}, fmt.Errorf("%w: email already registered", domain.ErrConflict)
	}
	m.identities[identity.ID] = identity
	m.emails[key] = identity.ID
	return identity, nil
}

// GetIdentityByEmail looks an identity up by email.
func (m *MemoryRepository) GetIdentityByEmail(_ context.Context, email string) (domain.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[emailKey(email)]
	if !ok {
		return domain.Identity{}, fmt.Errorf("identity: %w", domain.ErrNotFound)
	}
	return m.identities[id], nil
}

// GetIdentityByID retrieves an identity.
func (m *MemoryRepository) GetIdentityByID(_ context.Context, id uuid.UUID) (domain.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	identity, ok := m.identities[id]
	if !ok {
		return domain.Identity{}, fmt.Errorf("identity: %w", domain.ErrNotFound)
	}
	return identity, nil
}

// CreateOffer stores the offer and returns it.
func (m *MemoryRepository) CreateOffer(_ context.Context, offer domain.Offer) (domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.offers[offer.ID]; !exists {
		m.offerOrder = append(m.offerOrder, offer.ID)
	}
	m.offers[offer.ID] = offer
	return offer, nil
}

// GetOfferByID retrieves an offer.
func (m *MemoryRepository) GetOfferByID(_ context.Context, id uuid.UUID) (domain.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	offer, ok := m.offers[id]
	if !ok {
		return domain.Offer{}, fmt.Errorf("offer: %w", domain.ErrNotFound)
	}
	return offer, nil
}

// GetOffersByIDs returns the offers that exist, in the order of ids.
func (m *MemoryRepository) GetOffersByIDs(_ context.Context, ids []uuid.UUID) ([]domain.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Offer, 0, len(ids))
	for _, id := range ids {
		if offer, ok := m.offers[id]; ok {
			res = append(res, offer)
		}
	}
	return res, nil
}

// ListOffersByProvider returns a provider's offers, newest first.
func (m *MemoryRepository) ListOffersByProvider(_ context.Context, providerID uuid.UUID) ([]domain.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Offer
	for _, id := range m.offerOrder {
		if offer, ok := m.offers[id]; ok && offer.ProviderID == providerID {
			res = append(res, offer)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

// FindOffers scans offers in insertion order.
func (m *MemoryRepository) FindOffers(_ context.Context, filter domain.OfferFilter) ([]domain.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Offer
	for _, id := range m.offerOrder {
		offer, ok := m.offers[id]
		if !ok {
			continue
		}
		if filter.ActiveOnly && !offer.Active {
			continue
		}
		if filter.Box != nil && !filter.Box.Contains(offer.Point()) {
			continue
		}
		res = append(res, offer)
	}
	return res, nil
}

// UpdateOffer replaces a stored offer.
func (m *MemoryRepository) UpdateOffer(_ context.Context, offer domain.Offer) (domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.offers[offer.ID]; !ok {
		return domain.Offer{}, fmt.Errorf("offer: %w", domain.ErrNotFound)
	}
	m.offers[offer.ID] = offer
	return offer, nil
}

// DeleteOffer removes an offer. Bookings referencing it are left untouched.
func (m *MemoryRepository) DeleteOffer(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.offers[id]; !ok {
		return fmt.Errorf("offer: %w", domain.ErrNotFound)
	}
	delete(m.offers, id)
	for i, oid := range m.offerOrder {
		if oid == id {
			m.offerOrder = append(m.offerOrder[:i], m.offerOrder[i+1:]...)
			break
		}
	}
	return nil
}

// CreateBooking stores the booking and returns it. An existing id is a conflict.
func (m *MemoryRepository) CreateBooking(_ context.Context, booking domain.Booking) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bookings[booking.ID]; exists {
		return domain.Booking{}, fmt.Errorf("%w: booking already exists", domain.ErrConflict)
	}
	if booking.Version == 0 {
		booking.Version = 1
	}
	m.bookings[booking.ID] = booking
	return booking, nil
}

// GetBookingByID retrieves a booking.
func (m *MemoryRepository) GetBookingByID(_ context.Context, id uuid.UUID) (domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	booking, ok := m.bookings[id]
	if !ok {
		return domain.Booking{}, fmt.Errorf("booking: %w", domain.ErrNotFound)
	}
	return booking, nil
}

// ListBookingsByConsumer returns a consumer's bookings, newest first.
func (m *MemoryRepository) ListBookingsByConsumer(_ context.Context, consumerID uuid.UUID) ([]domain.BookingView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bookingViews(func(b domain.Booking, _ domain.Offer) bool { return b.ConsumerID == consumerID }), nil
}

// ListBookingsByProvider returns bookings made on a provider's offers, newest first.
func (m *MemoryRepository) ListBookingsByProvider(_ context.Context, providerID uuid.UUID) ([]domain.BookingView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bookingViews(func(_ domain.Booking, o domain.Offer) bool { return o.ProviderID == providerID }), nil
}

// bookingViews joins bookings with their offers; bookings whose offer was
// hard-deleted drop out, as an inner join would.
func (m *MemoryRepository) bookingViews(keep func(domain.Booking, domain.Offer) bool) []domain.BookingView {
	var res []domain.BookingView
	for _, b := range m.bookings {
		offer, ok := m.offers[b.OfferID]
		if !ok || !keep(b, offer) {
			continue
		}
		res = append(res, domain.BookingView{Booking: b, OfferTitle: offer.Title, ProviderID: offer.ProviderID})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID.String() < res[j].ID.String()
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res
}

// CompareAndSwapBooking replaces the stored booking, performing optimistic locking on version.
func (m *MemoryRepository) CompareAndSwapBooking(_ context.Context, booking domain.Booking, expectedVersion int64) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.bookings[booking.ID]
	if !ok {
		return domain.Booking{}, fmt.Errorf("booking: %w", domain.ErrNotFound)
	}
	if existing.Version != expectedVersion {
		return domain.Booking{}, domain.ErrVersionConflict
	}
	// identity fields are immutable
	booking.OfferID = existing.OfferID
	booking.ConsumerID = existing.ConsumerID
	booking.CreatedAt = existing.CreatedAt
	booking.Version = existing.Version + 1
	m.bookings[booking.ID] = booking
	return booking, nil
}

// CreateMessage appends a message to a booking thread.
func (m *MemoryRepository) CreateMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[msg.BookingID]; !ok {
		return domain.Message{}, fmt.Errorf("booking: %w", domain.ErrNotFound)
	}
	m.messages[msg.BookingID] = append(m.messages[msg.BookingID], msg)
	return msg, nil
}

// ListMessages returns a booking thread oldest first.
func (m *MemoryRepository) ListMessages(_ context.Context, bookingID uuid.UUID) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := append([]domain.Message(nil), m.messages[bookingID]...)
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

// Publish records events in memory, satisfying domain.EventPublisher.
func (m *MemoryRepository) Publish(_ context.Context, event domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns stored events (for tests).
func (m *MemoryRepository) Events() []domain.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Event(nil), m.events...)
}
