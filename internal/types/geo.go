// README: Shared identifiers and geographic value types.
package types

type ID string

// Coordinates is a WGS84 point in degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c Coordinates) IsZero() bool {
	return c.Lat == 0 && c.Lng == 0
}

// Location carries a point plus whether it came from a rough address instead of a GPS fix.
type Location struct {
	Coords      Coordinates `json:"coords"`
	Approximate bool        `json:"approximate"`
	Description *string     `json:"description,omitempty"`
}

// Upgrades reports whether reported is an exact fix replacing an approximate stored location.
// The transition is one-way: an exact location never becomes approximate again.
func (l Location) Upgrades(reported Location) bool {
	return l.Approximate && !reported.Approximate
}

// ClonePath copies a coordinate slice so callers never share backing arrays.
func ClonePath(p []Coordinates) []Coordinates {
	if p == nil {
		return nil
	}
	out := make([]Coordinates, len(p))
	copy(out, p)
	return out
}
