// README: Driver position types shared by the GEO mirror and nearby lookups.
package location

import (
	"github.com/mmcloughlin/geohash"

	"dispatch/internal/types"
)

// cellPrecision 7 is roughly a 150 m square, enough for dashboard clustering.
const cellPrecision = 7

type Candidate struct {
	DriverID types.ID
	Coords   types.Coordinates
}

type NearbyDriver struct {
	DriverID   types.ID          `json:"driverId"`
	Coords     types.Coordinates `json:"coords"`
	DistanceKm float64           `json:"distanceKm"`
	Geohash    string            `json:"geohash"`
}

// Cell returns the geohash cell containing c.
func Cell(c types.Coordinates) string {
	return geohash.EncodeWithPrecision(c.Lat, c.Lng, cellPrecision)
}
