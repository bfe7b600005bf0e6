// README: Pricing service computes delivery fees from distance and vehicle class.
package pricing

import "math"

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Price returns the fee for distanceMeters, rounded to the nearest 1000.
func (s *Service) Price(distanceMeters float64, vehicleClass string) int64 {
	return Compute(distanceMeters, vehicleClass).Total
}

// Compute is the pure pricing function behind Price.
func Compute(distanceMeters float64, vehicleClass string) Quote {
	if distanceMeters < 0 || math.IsNaN(distanceMeters) {
		distanceMeters = 0
	}
	if TierFor(vehicleClass) == TierLinear {
		raw := float64(linearBaseFare) + distanceMeters*linearRatePerM
		return Quote{
			Tier:           TierLinear,
			DistanceMeters: distanceMeters,
			Base:           linearBaseFare,
			Total:          RoundThousand(raw),
		}
	}

	q := Quote{Tier: TierDecreasing, DistanceMeters: distanceMeters, Base: decreasingBase}
	raw := float64(decreasingBase)
	remaining := distanceMeters
	for i := 0; remaining > 0; i++ {
		slice := math.Min(remaining, sliceMeters)
		charge := slice * rateForSlice(i)
		q.Slices = append(q.Slices, int64(math.Round(charge)))
		raw += charge
		remaining -= slice
	}
	q.Total = RoundThousand(raw)
	return q
}

func rateForSlice(i int) float64 {
	if i < len(decreasingRates) {
		return decreasingRates[i]
	}
	return flatRateAfterBand
}

// RoundThousand rounds half-up to the nearest 1000 currency units.
func RoundThousand(v float64) int64 {
	return int64(math.Floor(v/roundingUnit+0.5)) * roundingUnit
}
