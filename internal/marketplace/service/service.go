package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/findx/internal/marketplace/domain"
	"github.com/example/findx/internal/marketplace/search"
)

// TokenIssuer mints bearer tokens for identities.
type TokenIssuer interface {
	Issue(identity domain.Identity) (string, error)
}

// PasswordHasher hashes and verifies credentials.
type PasswordHasher interface {
	Hash(password string) ([]byte, error)
	Compare(hash []byte, password string) error
}

// OfferIndex is told about offer changes so a spatial index can follow them.
type OfferIndex interface {
	Upsert(ctx context.Context, offer domain.Offer) error
	Remove(ctx context.Context, offerID uuid.UUID) error
}

// Config tunes service behaviour.
type Config struct {
	StrictLifecycle       bool
	TransitionMaxAttempts int
}

// Deps groups the collaborators of Service. Repo, Clock and Search are
// required; the rest may be nil.
type Deps struct {
	Repo        domain.Repository
	Events      domain.EventPublisher
	Clock       domain.Clock
	Idempotency domain.IdempotencyRepository
	Search      *search.Engine
	Index       OfferIndex
	Tokens      TokenIssuer
	Passwords   PasswordHasher
	Logger      *zap.Logger
}

// Service coordinates marketplace operations between handlers and repositories.
type Service struct {
	repo       domain.Repository
	events     domain.EventPublisher
	clock      domain.Clock
	idempotent domain.IdempotencyRepository
	search     *search.Engine
	index      OfferIndex
	tokens     TokenIssuer
	passwords  PasswordHasher
	lifecycle  domain.Lifecycle
	cfg        Config
	logger     *zap.Logger
	tracer     trace.Tracer
}

// New constructs a Service with the required collaborators.
func New(deps Deps, cfg Config) *Service {
	if cfg.TransitionMaxAttempts <= 0 {
		cfg.TransitionMaxAttempts = 3
	}
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{
		repo:       deps.Repo,
		events:     deps.Events,
		clock:      deps.Clock,
		idempotent: deps.Idempotency,
		search:     deps.Search,
		index:      deps.Index,
		tokens:     deps.Tokens,
		passwords:  deps.Passwords,
		lifecycle:  domain.Lifecycle{Strict: cfg.StrictLifecycle},
		cfg:        cfg,
		logger:     deps.Logger,
		tracer:     otel.Tracer("marketplace.service"),
	}
}

// publish emits an event; delivery failures are logged and never fail the
// operation that already committed.
func (s *Service) publish(ctx context.Context, aggregateID uuid.UUID, typ domain.EventType, payload map[string]any) {
	if s.events == nil {
		return
	}
	event := domain.Event{
		ID:          uuid.New(),
		AggregateID: aggregateID,
		Type:        typ,
		Payload:     payload,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event failed", zap.String("type", string(typ)), zap.String("aggregate_id", aggregateID.String()), zap.Error(err))
	}
}

func (s *Service) syncIndex(ctx context.Context, offer domain.Offer) {
	if s.index == nil {
		return
	}
	if err := s.index.Upsert(ctx, offer); err != nil {
		s.logger.Warn("offer index upsert failed", zap.String("offer_id", offer.ID.String()), zap.Error(err))
	}
}

func (s *Service) dropFromIndex(ctx context.Context, offerID uuid.UUID) {
	if s.index == nil {
		return
	}
	if err := s.index.Remove(ctx, offerID); err != nil {
		s.logger.Warn("offer index remove failed", zap.String("offer_id", offerID.String()), zap.Error(err))
	}
}

// Nearby runs a nearby offer search.
func (s *Service) Nearby(ctx context.Context, q search.Query) ([]domain.OfferWithDistance, error) {
	if s.search == nil {
		return nil, fmt.Errorf("search engine not configured")
	}
	return s.search.Search(ctx, q)
}
