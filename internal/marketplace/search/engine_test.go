package search_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/findx/internal/geo"
	"github.com/example/findx/internal/marketplace/domain"
	"github.com/example/findx/internal/marketplace/search"
)

var center = geo.Point{Lat: 40.0, Lng: -73.0}

func offerAt(lat, lng, radius float64) domain.Offer {
	return domain.Offer{
		ID:         uuid.New(),
		ProviderID: uuid.New(),
		Title:      "Lawn mowing",
		Latitude:   lat,
		Longitude:  lng,
		RadiusKM:   radius,
		Active:     true,
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

type staticSource []domain.Offer

func (s staticSource) Candidates(context.Context, geo.Point, float64) ([]domain.Offer, error) {
	return s, nil
}

func ids(results []domain.OfferWithDistance) []uuid.UUID {
	out := make([]uuid.UUID, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func TestNearbyAppliesSmallerOfBothRadii(t *testing.T) {
	here := offerAt(40.0, -73.0, 10)
	// about 22 km north
	narrow := offerAt(40.2, -73.0, 10)
	wide := offerAt(40.2, -73.0, 50)

	results, err := search.Nearby(center, 30, []domain.Offer{narrow, wide, here}, 0)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{here.ID, wide.ID}, ids(results))
	require.InDelta(t, 0, results[0].DistanceKM, 1e-9)
	require.InDelta(t, 22.24, results[1].DistanceKM, 0.05)

	results, err = search.Nearby(center, 15, []domain.Offer{narrow, wide, here}, 0)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{here.ID}, ids(results))
}

func TestNearbyBoundaryIsInclusive(t *testing.T) {
	o := offerAt(40.1, -73.0, 100)
	d := geo.HaversineKM(center, o.Point())

	results, err := search.Nearby(center, d, []domain.Offer{o}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)

	o.RadiusKM = d
	results, err = search.Nearby(center, 100, []domain.Offer{o}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestNearbySkipsInactiveOffers(t *testing.T) {
	o := offerAt(40.0, -73.0, 10)
	o.Active = false
	results, err := search.Nearby(center, 30, []domain.Offer{o}, 0)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestNearbyKeepsInputOrderOnTies(t *testing.T) {
	a := offerAt(40.05, -73.0, 30)
	b := offerAt(40.05, -73.0, 30)
	c := offerAt(40.0, -73.0, 30)

	results, err := search.Nearby(center, 30, []domain.Offer{a, b, c}, 0)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{c.ID, a.ID, b.ID}, ids(results))

	results, err = search.Nearby(center, 30, []domain.Offer{b, a, c}, 0)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{c.ID, b.ID, a.ID}, ids(results))
}

func TestNearbyTruncatesAfterSorting(t *testing.T) {
	var offers []domain.Offer
	for i := 0; i < 250; i++ {
		offers = append(offers, offerAt(40.0+float64(250-i)*0.0001, -73.0, 30))
	}
	results, err := search.Nearby(center, 30, offers, 0)
	require.NoError(t, err)
	require.Len(t, results, search.MaxResults)
	// the closest offers were appended last
	require.Equal(t, offers[249].ID, results[0].ID)
	for i := 1; i < len(results); i++ {
		require.LessOrEqual(t, results[i-1].DistanceKM, results[i].DistanceKM)
	}

	results, err = search.Nearby(center, 30, offers, 5)
	require.NoError(t, err)
	require.Len(t, results, 5)
}

func TestNearbyRejectsBadInput(t *testing.T) {
	_, err := search.Nearby(geo.Point{Lat: 91, Lng: 0}, 10, nil, 0)
	require.ErrorIs(t, err, domain.ErrInvalidQuery)

	_, err = search.Nearby(center, -1, nil, 0)
	require.ErrorIs(t, err, domain.ErrInvalidQuery)

	_, err = search.Nearby(center, math.NaN(), nil, 0)
	require.ErrorIs(t, err, domain.ErrInvalidQuery)
}

func TestNearbyAcrossAntimeridian(t *testing.T) {
	east := offerAt(0, 179.95, 30)
	results, err := search.Nearby(geo.Point{Lat: 0, Lng: -179.95}, 30, []domain.Offer{east}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.InDelta(t, 11.12, results[0].DistanceKM, 0.05)
}

func TestParseQuery(t *testing.T) {
	q, err := search.ParseQuery("40.5", " -73.25 ", "")
	require.NoError(t, err)
	require.Equal(t, search.Query{Lat: 40.5, Lng: -73.25}, q)

	q, err = search.ParseQuery("1", "2", "12.5")
	require.NoError(t, err)
	require.NotNil(t, q.RadiusKM)
	require.Equal(t, 12.5, *q.RadiusKM)

	for _, tc := range []struct{ lat, lng, radius string }{
		{"", "1", ""},
		{"1", "", ""},
		{"abc", "1", ""},
		{"NaN", "1", ""},
		{"1", "Inf", ""},
		{"1", "1", "wide"},
	} {
		_, err := search.ParseQuery(tc.lat, tc.lng, tc.radius)
		require.ErrorIs(t, err, domain.ErrInvalidQuery, "%+v", tc)
	}
}

func TestEngineUsesDefaultRadiusWhenUnset(t *testing.T) {
	// about 22 km away, willing to travel far
	o := offerAt(40.2, -73.0, 100)

	engine := search.NewEngine(staticSource{o}, search.EngineConfig{})
	results, err := engine.Search(context.Background(), search.Query{Lat: 40, Lng: -73})
	require.NoError(t, err)
	require.Len(t, results, 1)

	engine = search.NewEngine(staticSource{o}, search.EngineConfig{DefaultRadiusKM: 10})
	results, err = engine.Search(context.Background(), search.Query{Lat: 40, Lng: -73})
	require.NoError(t, err)
	require.Empty(t, results)

	_, err = engine.Search(context.Background(), search.Query{Lat: 40, Lng: -73}.Radius(-3))
	require.ErrorIs(t, err, domain.ErrInvalidQuery)
}

func TestEngineHonoursExplicitZeroRadius(t *testing.T) {
	here := offerAt(40.0, -73.0, 10)
	// about 5.56 km north
	nearby := offerAt(40.05, -73.0, 10)
	engine := search.NewEngine(staticSource{nearby, here}, search.EngineConfig{})

	q, err := search.ParseQuery("40", "-73", "0")
	require.NoError(t, err)
	require.NotNil(t, q.RadiusKM)

	results, err := engine.Search(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{here.ID}, ids(results))

	q, err = search.ParseQuery("40", "-73", "")
	require.NoError(t, err)
	require.Nil(t, q.RadiusKM)

	results, err = engine.Search(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{here.ID, nearby.ID}, ids(results))
}

type failingSource struct{}

func (failingSource) Candidates(context.Context, geo.Point, float64) ([]domain.Offer, error) {
	return nil, errors.New("storage down")
}

func TestEngineWrapsSourceErrors(t *testing.T) {
	engine := search.NewEngine(failingSource{}, search.EngineConfig{})
	_, err := engine.Search(context.Background(), search.Query{Lat: 1, Lng: 1})
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrInvalidQuery)
	require.Contains(t, err.Error(), "storage down")
}
