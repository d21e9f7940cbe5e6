package models

// GeoPoint is a WGS 84 coordinate in decimal degrees.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewGeoPoint returns nil unless both coordinates are present and non-zero.
// Upstream feeds use 0/0 for "unknown".
func NewGeoPoint(lat, lon *float64) *GeoPoint {
	if lat == nil || lon == nil || *lat == 0 || *lon == 0 {
		return nil
	}
	return &GeoPoint{Latitude: *lat, Longitude: *lon}
}
