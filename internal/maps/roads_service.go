package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"dispatch/internal/modules/pathmatch"
)

// The Roads API accepts at most 100 points per snap request.
const maxSnapPoints = 100

// RoadsService matches recorded paths against the road network with the
// Google Roads API.
type RoadsService struct {
	client *maps.Client
}

// NewRoadsService creates a new RoadsService with the given API Key.
func NewRoadsService(apiKey string) (*RoadsService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RoadsService{client: client}, nil
}

// Match decodes the polyline, snaps it in overlapping chunks, and returns the
// snapped trace as [lng, lat] pairs. The Roads API has no vehicle profiles, so
// the class is not forwarded.
func (s *RoadsService) Match(ctx context.Context, polyline string, _ string) (pathmatch.Trace, error) {
	path, err := maps.DecodePolyline(polyline)
	if err != nil {
		return pathmatch.Trace{}, fmt.Errorf("decode polyline: %w", err)
	}
	if len(path) < 2 {
		return pathmatch.Trace{}, fmt.Errorf("polyline has %d points", len(path))
	}

	var points [][2]float64
	for start := 0; start < len(path)-1; start += maxSnapPoints - 1 {
		end := min(start+maxSnapPoints, len(path))
		resp, err := s.client.SnapToRoad(ctx, &maps.SnapToRoadRequest{
			Path:        path[start:end],
			Interpolate: true,
		})
		if err != nil {
			return pathmatch.Trace{}, fmt.Errorf("roads api error: %w", err)
		}
		for _, sp := range resp.SnappedPoints {
			p := [2]float64{sp.Location.Lng, sp.Location.Lat}
			// chunks overlap by one point
			if n := len(points); n > 0 && points[n-1] == p {
				continue
			}
			points = append(points, p)
		}
		if end == len(path) {
			break
		}
	}
	return pathmatch.Trace{Points: points}, nil
}
