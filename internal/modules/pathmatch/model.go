// README: Path-matching results and failure classes.
package pathmatch

import (
	"context"
	"errors"

	"dispatch/internal/types"
)

var (
	ErrEmptyPath         = errors.New("path has fewer than two points")
	ErrUpstream          = errors.New("road network request failed")
	ErrMalformedResponse = errors.New("road network returned no usable trace")
)

// Trace is the road network's matched trace. Points are [lng, lat] pairs.
type Trace struct {
	Points [][2]float64
}

// RoadNetworkClient matches an encoded polyline against the road network.
type RoadNetworkClient interface {
	Match(ctx context.Context, polyline string, vehicleClass string) (Trace, error)
}

type Result struct {
	Path           []types.Coordinates
	DistanceMeters float64
}
