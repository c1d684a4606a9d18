package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/findx/internal/geo"
	"github.com/example/findx/internal/marketplace/domain"
)

// MaxResults caps the number of offers a nearby search returns.
const MaxResults = 200

// Query is a nearby search request. A nil RadiusKM means unspecified and
// falls back to the engine default; an explicit 0 only matches offers at the
// query point.
type Query struct {
	Lat      float64
	Lng      float64
	RadiusKM *float64
}

// Radius returns q with an explicit search radius.
func (q Query) Radius(km float64) Query {
	q.RadiusKM = &km
	return q
}

// ParseQuery builds a Query from raw request parameters. Latitude and
// longitude are required; radius is optional.
func ParseQuery(lat, lng, radius string) (Query, error) {
	latV, err := parseFinite(lat)
	if err != nil {
		return Query{}, fmt.Errorf("%w: lat and lon are required", domain.ErrInvalidQuery)
	}
	lngV, err := parseFinite(lng)
	if err != nil {
		return Query{}, fmt.Errorf("%w: lat and lon are required", domain.ErrInvalidQuery)
	}
	q := Query{Lat: latV, Lng: lngV}
	if strings.TrimSpace(radius) != "" {
		r, err := parseFinite(radius)
		if err != nil {
			return Query{}, fmt.Errorf("%w: radiusKm must be numeric", domain.ErrInvalidQuery)
		}
		q.RadiusKM = &r
	}
	return q, nil
}

func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not finite: %q", s)
	}
	return v, nil
}

// CandidateSource returns offers that may lie within radiusKM of center. It
// is allowed to over-return; the engine applies the exact rule. A scan over
// a bounding box and a spatial index both fit behind it.
type CandidateSource interface {
	Candidates(ctx context.Context, center geo.Point, radiusKM float64) ([]domain.Offer, error)
}

// Nearby filters candidates to active offers within
// min(radiusKM, offer.RadiusKM) of center, sorted ascending by distance with
// ties kept in input order, truncated to limit after sorting.
func Nearby(center geo.Point, radiusKM float64, candidates []domain.Offer, limit int) ([]domain.OfferWithDistance, error) {
	if !center.Valid() {
		return nil, fmt.Errorf("%w: coordinates out of range", domain.ErrInvalidQuery)
	}
	if math.IsNaN(radiusKM) || math.IsInf(radiusKM, 0) || radiusKM < 0 {
		return nil, fmt.Errorf("%w: radius must be a non-negative number", domain.ErrInvalidQuery)
	}
	if limit <= 0 || limit > MaxResults {
		limit = MaxResults
	}

	box := geo.NewBoundingBox(center, radiusKM)
	matches := make([]domain.OfferWithDistance, 0)
	for _, offer := range candidates {
		if !offer.Active {
			continue
		}
		point := offer.Point()
		if !box.Contains(point) {
			continue
		}
		dist := geo.HaversineKM(center, point)
		if dist > math.Min(radiusKM, offer.RadiusKM) {
			continue
		}
		matches = append(matches, domain.OfferWithDistance{Offer: offer, DistanceKM: dist})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].DistanceKM < matches[j].DistanceKM
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// EngineConfig tunes the search engine.
type EngineConfig struct {
	DefaultRadiusKM float64
	MaxResults      int
}

// Engine runs nearby searches against a candidate source.
type Engine struct {
	source CandidateSource
	cfg    EngineConfig
	tracer trace.Tracer
}

// NewEngine constructs an Engine.
func NewEngine(source CandidateSource, cfg EngineConfig) *Engine {
	if cfg.DefaultRadiusKM <= 0 {
		cfg.DefaultRadiusKM = domain.DefaultRadiusKM
	}
	if cfg.MaxResults <= 0 || cfg.MaxResults > MaxResults {
		cfg.MaxResults = MaxResults
	}
	return &Engine{source: source, cfg: cfg, tracer: otel.Tracer("marketplace.search")}
}

// Search resolves the query radius, loads candidates and ranks them.
func (e *Engine) Search(ctx context.Context, q Query) ([]domain.OfferWithDistance, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "search.nearby")
	defer span.End()

	center := geo.Point{Lat: q.Lat, Lng: q.Lng}
	radius := e.cfg.DefaultRadiusKM
	if q.RadiusKM != nil {
		radius = *q.RadiusKM
	}
	span.SetAttributes(attribute.Float64("search.radius_km", radius))

	if !center.Valid() {
		searchDuration.WithLabelValues("invalid").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: coordinates out of range", domain.ErrInvalidQuery)
	}
	if math.IsNaN(radius) || math.IsInf(radius, 0) || radius < 0 {
		searchDuration.WithLabelValues("invalid").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: radius must be a non-negative number", domain.ErrInvalidQuery)
	}

	candidates, err := e.source.Candidates(ctx, center, radius)
	if err != nil {
		searchDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	results, err := Nearby(center, radius, candidates, e.cfg.MaxResults)
	if err != nil {
		searchDuration.WithLabelValues("invalid").Observe(time.Since(start).Seconds())
		return nil, err
	}
	searchCandidates.Observe(float64(len(candidates)))
	searchResults.Observe(float64(len(results)))
	searchDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("search.candidates", len(candidates)), attribute.Int("search.results", len(results)))
	return results, nil
}

// RepositorySource scans the offer repository inside the query bounding box.
type RepositorySource struct {
	repo domain.OfferRepository
}

// NewRepositorySource constructs a RepositorySource.
func NewRepositorySource(repo domain.OfferRepository) *RepositorySource {
	return &RepositorySource{repo: repo}
}

// Candidates satisfies CandidateSource.
func (s *RepositorySource) Candidates(ctx context.Context, center geo.Point, radiusKM float64) ([]domain.Offer, error) {
	box := geo.NewBoundingBox(center, radiusKM)
	return s.repo.FindOffers(ctx, domain.OfferFilter{Box: &box, ActiveOnly: true})
}
