package domain

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/example/findx/internal/geo"
)

const (
	// DefaultRadiusKM is the service radius of an offer and the search radius
	// of a query when neither is given.
	DefaultRadiusKM = 30.0
	// MaxRadiusKM caps the radius a provider may declare.
	MaxRadiusKM = 100.0
)

type Role string

const (
	RoleProvider Role = "provider"
	RoleConsumer Role = "consumer"
)

func (r Role) Valid() bool {
	return r == RoleProvider || r == RoleConsumer
}

// Actor is the verified caller of an operation. It is built once from token
// claims and passed by value; nothing downstream re-derives it.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

type Identity struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type Offer struct {
	ID          uuid.UUID `json:"id"`
	ProviderID  uuid.UUID `json:"provider_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	Unit        string    `json:"unit"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	RadiusKM    float64   `json:"radius_km"`
	Active      bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Point returns the offer's anchor location.
func (o Offer) Point() geo.Point {
	return geo.Point{Lat: o.Latitude, Lng: o.Longitude}
}

// OfferWithDistance annotates an offer with its distance from a query point.
type OfferWithDistance struct {
	Offer
	DistanceKM float64 `json:"distance_km"`
}

type Booking struct {
	ID          uuid.UUID     `json:"id"`
	OfferID     uuid.UUID     `json:"offer_id"`
	ConsumerID  uuid.UUID     `json:"consumer_id"`
	Status      BookingStatus `json:"status"`
	ScheduledAt *time.Time    `json:"scheduled_at,omitempty"`
	Note        string        `json:"note,omitempty"`
	Address     string        `json:"address,omitempty"`
	Location    *geo.Point    `json:"location,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Version     int64         `json:"version"`
}

// BookingView is a booking joined with the offer fields listings need.
type BookingView struct {
	Booking
	OfferTitle string    `json:"title"`
	ProviderID uuid.UUID `json:"provider_id"`
}

type Message struct {
	ID        uuid.UUID `json:"id"`
	BookingID uuid.UUID `json:"booking_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventOfferCreated         EventType = "OfferCreated"
	EventOfferUpdated         EventType = "OfferUpdated"
	EventOfferDeleted         EventType = "OfferDeleted"
	EventBookingRequested     EventType = "BookingRequested"
	EventBookingStatusChanged EventType = "BookingStatusChanged"
	EventMessagePosted        EventType = "MessagePosted"
)

type Event struct {
	ID          uuid.UUID      `json:"id"`
	AggregateID uuid.UUID      `json:"aggregate_id"`
	Type        EventType      `json:"type"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// OfferFilter selects offers for a prefilter scan.
type OfferFilter struct {
	Box        *geo.BoundingBox
	ActiveOnly bool
}

type IdentityRepository interface {
	CreateIdentity(ctx context.Context, identity Identity) (Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (Identity, error)
	GetIdentityByID(ctx context.Context, id uuid.UUID) (Identity, error)
}

type OfferRepository interface {
	CreateOffer(ctx context.Context, offer Offer) (Offer, error)
	GetOfferByID(ctx context.Context, id uuid.UUID) (Offer, error)
	GetOffersByIDs(ctx context.Context, ids []uuid.UUID) ([]Offer, error)
	ListOffersByProvider(ctx context.Context, providerID uuid.UUID) ([]Offer, error)
	FindOffers(ctx context.Context, filter OfferFilter) ([]Offer, error)
	UpdateOffer(ctx context.Context, offer Offer) (Offer, error)
	DeleteOffer(ctx context.Context, id uuid.UUID) error
}

type BookingRepository interface {
	CreateBooking(ctx context.Context, booking Booking) (Booking, error)
	GetBookingByID(ctx context.Context, id uuid.UUID) (Booking, error)
	ListBookingsByConsumer(ctx context.Context, consumerID uuid.UUID) ([]BookingView, error)
	ListBookingsByProvider(ctx context.Context, providerID uuid.UUID) ([]BookingView, error)
	// CompareAndSwapBooking stores booking only when the stored version still
	// equals expectedVersion, and bumps the version. Otherwise it returns
	// ErrVersionConflict.
	CompareAndSwapBooking(ctx context.Context, booking Booking, expectedVersion int64) (Booking, error)
}

type MessageRepository interface {
	CreateMessage(ctx context.Context, msg Message) (Message, error)
	ListMessages(ctx context.Context, bookingID uuid.UUID) ([]Message, error)
}

// Repository is the persistence port the marketplace service depends on.
type Repository interface {
	IdentityRepository
	OfferRepository
	BookingRepository
	MessageRepository
}

type IdempotencyRepository interface {
	GetResponse(ctx context.Context, key string) ([]byte, bool, error)
	PutResponse(ctx context.Context, key string, payload []byte) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
