package utils

import (
	"cmp"
	"math"
)

// EarthRadiusMeters is the mean radius used for great-circle distances
const EarthRadiusMeters = 6371000.0

// GreatCircleMeters returns the haversine distance between two WGS84 points in meters
func GreatCircleMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Clamp limits v to [lo, hi]
func Clamp[T cmp.Ordered](v, lo, hi T) T {
	return min(max(v, lo), hi)
}

// Interpolate returns the point at fraction t of the segment from (ax, ay) to (bx, by).
// t is clamped to [0, 1].
func Interpolate(ax, ay, bx, by, t float64) (x, y float64) {
	t = Clamp(t, 0, 1)
	return ax + t*(bx-ax), ay + t*(by-ay)
}
