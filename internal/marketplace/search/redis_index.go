package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/findx/internal/geo"
	"github.com/example/findx/internal/marketplace/domain"
)

const (
	defaultGeoKey = "offer:locs"
	// Redis GEO cells only cover this latitude band.
	redisMaxLat = 85.05112878
	// Redis measures with a slightly larger earth radius than haversine here;
	// the over-fetch keeps borderline offers in the candidate set.
	radiusSlack = 1.01
)

var errInvalidGeoResult = errors.New("invalid geo search result")

// RedisGeoIndex keeps active offer locations in a Redis GEO set and answers
// candidate lookups from it. Offers and queries outside the Redis latitude
// band are served by the fallback source.
type RedisGeoIndex struct {
	client   redis.Cmdable
	key      string
	offers   domain.OfferRepository
	fallback CandidateSource
}

// NewRedisGeoIndex constructs a Redis-backed candidate source.
func NewRedisGeoIndex(client redis.Cmdable, key string, offers domain.OfferRepository, fallback CandidateSource) *RedisGeoIndex {
	if key == "" {
		key = defaultGeoKey
	}
	return &RedisGeoIndex{client: client, key: key, offers: offers, fallback: fallback}
}

// Upsert indexes an active offer or drops an inactive one.
func (r *RedisGeoIndex) Upsert(ctx context.Context, offer domain.Offer) error {
	if !offer.Active || offer.Latitude > redisMaxLat || offer.Latitude < -redisMaxLat {
		return r.Remove(ctx, offer.ID)
	}
	loc := &redis.GeoLocation{Name: offer.ID.String(), Longitude: offer.Longitude, Latitude: offer.Latitude}
	if err := r.client.GeoAdd(ctx, r.key, loc).Err(); err != nil {
		return fmt.Errorf("redis geoadd: %w", err)
	}
	return nil
}

// Remove drops an offer from the index.
func (r *RedisGeoIndex) Remove(ctx context.Context, offerID uuid.UUID) error {
	if err := r.client.ZRem(ctx, r.key, offerID.String()).Err(); err != nil {
		return fmt.Errorf("redis zrem: %w", err)
	}
	return nil
}

// Candidates satisfies CandidateSource.
func (r *RedisGeoIndex) Candidates(ctx context.Context, center geo.Point, radiusKM float64) ([]domain.Offer, error) {
	if r == nil || r.client == nil {
		return nil, errors.New("redis geo index not configured")
	}
	box := geo.NewBoundingBox(center, radiusKM)
	if box.MaxLat > redisMaxLat || box.MinLat < -redisMaxLat {
		if r.fallback == nil {
			return nil, fmt.Errorf("query near pole and no fallback source configured")
		}
		return r.fallback.Candidates(ctx, center, radiusKM)
	}

	results, err := r.client.GeoRadius(ctx, r.key, center.Lng, center.Lat, &redis.GeoRadiusQuery{
		Radius: radiusKM * radiusSlack,
		Unit:   "km",
		Sort:   "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis georadius: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(results))
	for _, res := range results {
		id, err := uuid.Parse(res.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errInvalidGeoResult, res.Name)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return r.offers.GetOffersByIDs(ctx, ids)
}

// Rebuild replaces the GEO set with every active offer in the repository.
func (r *RedisGeoIndex) Rebuild(ctx context.Context) (int, error) {
	offers, err := r.offers.FindOffers(ctx, domain.OfferFilter{ActiveOnly: true})
	if err != nil {
		return 0, fmt.Errorf("load offers: %w", err)
	}
	locs := make([]*redis.GeoLocation, 0, len(offers))
	for _, o := range offers {
		if o.Latitude > redisMaxLat || o.Latitude < -redisMaxLat {
			continue
		}
		locs = append(locs, &redis.GeoLocation{Name: o.ID.String(), Longitude: o.Longitude, Latitude: o.Latitude})
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		for start := 0; start < len(locs); start += rebuildChunk {
			end := start + rebuildChunk
			if end > len(locs) {
				end = len(locs)
			}
			pipe.GeoAdd(ctx, r.key, locs[start:end]...)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis rebuild: %w", err)
	}
	return len(locs), nil
}

const rebuildChunk = 500
