// README: Pure geographic computation helpers (great-circle distance, path length, ranking).
package location

import (
	"math"

	"dispatch/internal/types"
)

const earthRadiusKm = 6371.0

// haversineKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// DistanceMeters is the great-circle distance between a and b.
func DistanceMeters(a, b types.Coordinates) float64 {
	return haversineKm(a.Lat, a.Lng, b.Lat, b.Lng) * 1000
}

// PathLength sums the segment lengths of an ordered path in meters.
// Paths with fewer than two points have zero length.
func PathLength(path []types.Coordinates) float64 {
	total := 0.0
	for i := 1; i < len(path); i++ {
		total += DistanceMeters(path[i-1], path[i])
	}
	return total
}

// sortByDistance performs an insertion sort (fine for small N) on any slice
// where each element exposes a distance via the accessor function.
func sortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}

// Rank keeps the candidates within radiusKm of origin, closest first.
func Rank(origin types.Coordinates, candidates []Candidate, radiusKm float64) []NearbyDriver {
	var result []NearbyDriver
	for _, c := range candidates {
		dist := haversineKm(origin.Lat, origin.Lng, c.Coords.Lat, c.Coords.Lng)
		if dist <= radiusKm {
			result = append(result, NearbyDriver{
				DriverID:   c.DriverID,
				Coords:     c.Coords,
				DistanceKm: dist,
				Geohash:    Cell(c.Coords),
			})
		}
	}
	sortByDistance(result, func(d NearbyDriver) float64 { return d.DistanceKm })
	return result
}
