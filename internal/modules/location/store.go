// README: Redis GEO mirror of live driver positions for nearby lookups.
package location

import (
	"context"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/types"
)

const driverGeoKey = "dispatch:drivers:geo"

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) Upsert(ctx context.Context, id types.ID, c types.Coordinates) error {
	return s.redis.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: c.Lng,
		Latitude:  c.Lat,
	}).Err()
}

func (s *Store) Remove(ctx context.Context, id types.ID) error {
	return s.redis.ZRem(ctx, driverGeoKey, string(id)).Err()
}

// Nearby returns mirrored drivers within radiusKm of origin, closest first.
func (s *Store) Nearby(ctx context.Context, origin types.Coordinates, radiusKm float64) ([]NearbyDriver, error) {
	results, err := s.redis.GeoRadius(ctx, driverGeoKey, origin.Lng, origin.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]NearbyDriver, 0, len(results))
	for _, r := range results {
		c := types.Coordinates{Lat: r.Latitude, Lng: r.Longitude}
		out = append(out, NearbyDriver{
			DriverID:   types.ID(r.Name),
			Coords:     c,
			DistanceKm: r.Dist,
			Geohash:    Cell(c),
		})
	}
	return out, nil
}
