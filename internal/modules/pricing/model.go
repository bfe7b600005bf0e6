// README: Pricing tiers and the per-kilometre rate table for delivery fees.
package pricing

import "strings"

type Tier string

const (
	TierLinear     Tier = "linear"
	TierDecreasing Tier = "decreasing"
)

const (
	// Vehicle classes starting with this prefix are billed on the linear tier.
	linearClassPrefix = "truck"

	linearBaseFare    = 20000
	linearRatePerM    = 3.0
	decreasingBase    = 10000
	sliceMeters       = 1000.0
	roundingUnit      = 1000
	flatRateAfterBand = 1.5
)

// decreasingRates holds the per-meter rate for each 1000 m slice, indexed by slice number.
// Slices past the table are charged at flatRateAfterBand.
var decreasingRates = []float64{
	2.5, 2.5, 2.5, 2.5, 2.5,
	2.4, 2.3, 2.2, 2.1, 2.0,
	1.9, 1.8, 1.7, 1.6, 1.5,
}

func TierFor(vehicleClass string) Tier {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(vehicleClass)), linearClassPrefix) {
		return TierLinear
	}
	return TierDecreasing
}

// Quote is a priced distance with its per-slice breakdown (empty for the linear tier).
type Quote struct {
	Tier           Tier    `json:"tier"`
	DistanceMeters float64 `json:"distanceMeters"`
	Base           int64   `json:"base"`
	Slices         []int64 `json:"slices,omitempty"`
	Total          int64   `json:"total"`
}
