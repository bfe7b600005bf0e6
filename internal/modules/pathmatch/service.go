// README: Path matcher snaps recorded driver paths onto the road network.
package pathmatch

import (
	"context"
	"fmt"
	"math"
	"time"

	"googlemaps.github.io/maps"

	"dispatch/internal/modules/location"
	"dispatch/internal/types"
)

const defaultTimeout = 8 * time.Second

type Service struct {
	client  RoadNetworkClient
	timeout time.Duration
}

func NewService(client RoadNetworkClient, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{client: client, timeout: timeout}
}

// Match returns the matched path and its length. Every failure wraps one of
// ErrEmptyPath, ErrUpstream, or ErrMalformedResponse so the caller can fall back.
func (s *Service) Match(ctx context.Context, path []types.Coordinates, vehicleClass string) (Result, error) {
	if len(path) < 2 {
		return Result{}, ErrEmptyPath
	}
	if s.client == nil {
		return Result{}, fmt.Errorf("%w: no road network client configured", ErrUpstream)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	trace, err := s.client.Match(ctx, Encode(path), vehicleClass)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if len(trace.Points) < 2 {
		return Result{}, fmt.Errorf("%w: %d trace points", ErrMalformedResponse, len(trace.Points))
	}

	matched := make([]types.Coordinates, 0, len(trace.Points))
	for i, p := range trace.Points {
		lng, lat := p[0], p[1]
		if !validCoordinate(lat, lng) {
			return Result{}, fmt.Errorf("%w: point %d out of range", ErrMalformedResponse, i)
		}
		matched = append(matched, types.Coordinates{Lat: lat, Lng: lng})
	}
	return Result{Path: matched, DistanceMeters: location.PathLength(matched)}, nil
}

// Encode writes path as a Google encoded polyline.
func Encode(path []types.Coordinates) string {
	ll := make([]maps.LatLng, len(path))
	for i, c := range path {
		ll[i] = maps.LatLng{Lat: c.Lat, Lng: c.Lng}
	}
	return maps.Encode(ll)
}

// Decode parses a Google encoded polyline.
func Decode(polyline string) ([]types.Coordinates, error) {
	ll, err := maps.DecodePolyline(polyline)
	if err != nil {
		return nil, err
	}
	out := make([]types.Coordinates, len(ll))
	for i, p := range ll {
		out[i] = types.Coordinates{Lat: p.Lat, Lng: p.Lng}
	}
	return out, nil
}

func validCoordinate(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
