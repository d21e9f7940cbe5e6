package models

import "time"

// TransportMode is the vehicle class of a leg.
type TransportMode string

const (
	ModeRail      TransportMode = "rail"
	ModeBus       TransportMode = "bus"
	ModeTram      TransportMode = "tram"
	ModeMetro     TransportMode = "metro"
	ModeFunicular TransportMode = "funicular"
	ModeFerry     TransportMode = "ferry"
	ModeCableway  TransportMode = "cableway"
	ModeWalk      TransportMode = "walk"
	ModeUnknown   TransportMode = "unknown"
)

// IsRoadBased reports whether vehicles of this mode share the road with
// general traffic and are therefore subject to congestion.
func (m TransportMode) IsRoadBased() bool {
	return m == ModeBus || m == ModeTram
}

// LocationType distinguishes planner search results.
type LocationType string

const (
	LocationStop       LocationType = "stop"
	LocationAddress    LocationType = "address"
	LocationPOI        LocationType = "poi"
	LocationCoordinate LocationType = "coordinate"
)

// Location is a place returned by the planner's location search.
type Location struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Type     LocationType `json:"type"`
	Position *GeoPoint    `json:"position,omitempty"`
	Locality string       `json:"locality,omitempty"`
}

// StopPoint is a boarding, alighting or intermediate call of a leg.
type StopPoint struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Platform      string     `json:"platform,omitempty"`
	ScheduledTime time.Time  `json:"scheduled_time"`
	EstimatedTime *time.Time `json:"estimated_time,omitempty"`
	DelayMinutes  int        `json:"delay_minutes"`
	Position      *GeoPoint  `json:"position,omitempty"`
}

// TripLeg is one vehicle (or walk) segment of a trip.
type TripLeg struct {
	LegID             string           `json:"leg_id"`
	Mode              TransportMode    `json:"mode"`
	LineName          string           `json:"line_name,omitempty"`
	LineNumber        string           `json:"line_number,omitempty"`
	DestinationText   string           `json:"destination_text,omitempty"`
	Operator          string           `json:"operator,omitempty"`
	Origin            StopPoint        `json:"origin"`
	Destination       StopPoint        `json:"destination"`
	IntermediateStops []StopPoint      `json:"intermediate_stops"`
	DurationMinutes   int              `json:"duration_minutes"`
	HasRealtime       bool             `json:"has_realtime"`
	DelayPrediction   *DelayPrediction `json:"delay_prediction,omitempty"`
}

// RoutePoints returns the geolocated calls of the leg in travel order:
// origin, intermediates, destination.
func (l TripLeg) RoutePoints() []GeoPoint {
	points := make([]GeoPoint, 0, len(l.IntermediateStops)+2)
	if l.Origin.Position != nil {
		points = append(points, *l.Origin.Position)
	}
	for _, stop := range l.IntermediateStops {
		if stop.Position != nil {
			points = append(points, *stop.Position)
		}
	}
	if l.Destination.Position != nil {
		points = append(points, *l.Destination.Position)
	}
	return points
}

// Trip is a complete journey made of legs.
type Trip struct {
	TripID          string       `json:"trip_id"`
	Legs            []TripLeg    `json:"legs"`
	DepartureTime   time.Time    `json:"departure_time"`
	ArrivalTime     time.Time    `json:"arrival_time"`
	DurationMinutes int          `json:"duration_minutes"`
	NumTransfers    int          `json:"num_transfers"`
	HasDisruptions  bool         `json:"has_disruptions"`
	Disruptions     []Disruption `json:"disruptions"`
}

// TripSearchResult is the planner's answer to a trip request.
type TripSearchResult struct {
	Trips      []Trip    `json:"trips"`
	SearchTime time.Time `json:"search_time"`
}
