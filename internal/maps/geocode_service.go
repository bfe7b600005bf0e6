package maps

import (
	"context"
	"errors"
	"fmt"

	"googlemaps.github.io/maps"

	"dispatch/internal/types"
)

var ErrNoGeocodeResult = errors.New("address not found")

// GeocodeService resolves free-form addresses into approximate locations.
type GeocodeService struct {
	client *maps.Client
	region string
}

// NewGeocodeService creates a new GeocodeService with the given API Key.
// region biases results to a country code (e.g. "TW"); empty disables biasing.
func NewGeocodeService(apiKey, region string) (*GeocodeService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GeocodeService{client: client, region: region}, nil
}

// Resolve geocodes address. Address-derived locations are always approximate.
func (s *GeocodeService) Resolve(ctx context.Context, address string) (types.Location, error) {
	results, err := s.client.Geocode(ctx, &maps.GeocodingRequest{
		Address: address,
		Region:  s.region,
	})
	if err != nil {
		return types.Location{}, fmt.Errorf("geocoding api error: %w", err)
	}
	if len(results) == 0 {
		return types.Location{}, ErrNoGeocodeResult
	}

	r := results[0]
	desc := r.FormattedAddress
	return types.Location{
		Coords: types.Coordinates{
			Lat: r.Geometry.Location.Lat,
			Lng: r.Geometry.Location.Lng,
		},
		Approximate: true,
		Description: &desc,
	}, nil
}
