package models

import (
	"strings"
	"time"
)

// SeverityBucket is the coarse impact class of a road traffic situation.
type SeverityBucket string

const (
	SeveritySevere   SeverityBucket = "severe"
	SeverityModerate SeverityBucket = "moderate"
	SeverityMinor    SeverityBucket = "minor"
)

// BucketSeverity maps the free-text severity carried by DATEX II records
// onto a bucket. Anything unrecognised is minor.
func BucketSeverity(text string) SeverityBucket {
	s := strings.ToLower(text)
	switch {
	case strings.Contains(s, "severe"), strings.Contains(s, "danger"):
		return SeveritySevere
	case strings.Contains(s, "moderate"), strings.Contains(s, "normal"):
		return SeverityModerate
	default:
		return SeverityMinor
	}
}

// TrafficSituation is a road incident such as an accident or roadworks.
type TrafficSituation struct {
	ID                  string     `json:"id"`
	Description         string     `json:"description"`
	LocationDescription string     `json:"location_description"`
	Severity            string     `json:"severity"`
	Location            *GeoPoint  `json:"location,omitempty"`
	StartTime           *time.Time `json:"start_time,omitempty"`
	EndTime             *time.Time `json:"end_time,omitempty"`
}

// Bucket returns the severity bucket of the situation.
func (s TrafficSituation) Bucket() SeverityBucket {
	return BucketSeverity(s.Severity)
}

// Point implements geo.Locatable.
func (s TrafficSituation) Point() *GeoPoint { return s.Location }

// TrafficLightStatus is the live state of a signalised intersection.
type TrafficLightStatus struct {
	IntersectionID        string     `json:"intersection_id"`
	AreaID                string     `json:"area_id"`
	Name                  string     `json:"name,omitempty"`
	LevelOfService        string     `json:"level_of_service,omitempty"` // A-F, empty when unknown
	SpillbackLengthMeters *float64   `json:"spillback_length_meters,omitempty"`
	GreenPercentage       *float64   `json:"green_percentage,omitempty"`
	Location              *GeoPoint  `json:"location,omitempty"`
	UpdatedAt             *time.Time `json:"updated_at,omitempty"`
}

// Point implements geo.Locatable.
func (l TrafficLightStatus) Point() *GeoPoint { return l.Location }

// DisplayName prefers the human name over the intersection id.
func (l TrafficLightStatus) DisplayName() string {
	if l.Name != "" {
		return l.Name
	}
	return l.IntersectionID
}
