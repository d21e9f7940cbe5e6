package geo

import (
	"math"

	"github.com/transitwatch/pkg/models"
)

// EarthRadiusKM is the mean Earth radius used for great-circle distances.
const EarthRadiusKM = 6371.0

// Locatable is anything with an optional position.
type Locatable interface {
	Point() *models.GeoPoint
}

// HaversineKM returns the great-circle distance between two points in kilometres.
func HaversineKM(a, b models.GeoPoint) float64 {
	phi1 := a.Latitude * math.Pi / 180
	phi2 := b.Latitude * math.Pi / 180
	deltaPhi := (b.Latitude - a.Latitude) * math.Pi / 180
	deltaLambda := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKM * c
}

// Within reports whether p lies within radiusKM of any route point.
// The boundary is inclusive.
func Within(route []models.GeoPoint, p models.GeoPoint, radiusKM float64) bool {
	for _, rp := range route {
		if HaversineKM(rp, p) <= radiusKM {
			return true
		}
	}
	return false
}

// Near returns the candidates located within radiusKM of any route point,
// in input order. Candidates without a position never match.
func Near[T Locatable](route []models.GeoPoint, candidates []T, radiusKM float64) []T {
	if len(route) == 0 || len(candidates) == 0 {
		return nil
	}

	var matched []T
	for _, c := range candidates {
		p := c.Point()
		if p == nil {
			continue
		}
		if Within(route, *p, radiusKM) {
			matched = append(matched, c)
		}
	}
	return matched
}
