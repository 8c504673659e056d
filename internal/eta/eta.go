package eta

import (
	"math"

	"github.com/example/order-engine/internal/geo"
	"github.com/example/order-engine/internal/models"
)

const (
	DefaultAverageSpeedKmh = 30.0
	DefaultFallbackMinutes = 15
	// minObservedSpeedKmh guards against a parked driver inflating the ETA to hours.
	minObservedSpeedKmh = 5.0
)

// Minutes converts a distance to whole minutes at the given average speed, rounding up.
func Minutes(distanceKm, averageSpeedKmh float64) int {
	if averageSpeedKmh <= 0 {
		averageSpeedKmh = DefaultAverageSpeedKmh
	}
	if distanceKm <= 0 {
		return 0
	}
	return int(math.Ceil(distanceKm / averageSpeedKmh * 60))
}

// Estimator computes delivery ETAs from intermittent GPS samples.
// The zero value uses 30 km/h and a 15 minute fallback.
type Estimator struct {
	AverageSpeedKmh float64
	FallbackMinutes int
	// UseObservedSpeed averages the speed readings of the trailing samples
	// instead of the fixed average speed when enough of them are present.
	UseObservedSpeed bool
}

// Estimate returns minutes from the latest sample in trail to dest. When either end
// is unknown it returns the fallback value and reports fallback=true.
func (e Estimator) Estimate(trail []models.LocationSample, dest *models.Coord) (minutes int, fallback bool) {
	if len(trail) == 0 || dest == nil {
		return e.fallback(), true
	}
	last := trail[len(trail)-1]
	d := geo.HaversineKm(last.Coord(), *dest)
	return Minutes(d, e.speed(trail)), false
}

func (e Estimator) fallback() int {
	if e.FallbackMinutes > 0 {
		return e.FallbackMinutes
	}
	return DefaultFallbackMinutes
}

func (e Estimator) speed(trail []models.LocationSample) float64 {
	base := e.AverageSpeedKmh
	if base <= 0 {
		base = DefaultAverageSpeedKmh
	}
	if !e.UseObservedSpeed {
		return base
	}
	var sum float64
	var n int
	for _, s := range trail {
		if s.Speed != nil && *s.Speed >= minObservedSpeedKmh {
			sum += *s.Speed
			n++
		}
	}
	if n == 0 {
		return base
	}
	return sum / float64(n)
}
