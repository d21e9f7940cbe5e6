package relevance

import "github.com/transitwatch/pkg/models"

// Set is a set of stop or line identifiers.
type Set map[string]struct{}

// NewSet builds a set, skipping empty identifiers.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

// Add inserts id unless it is empty.
func (s Set) Add(id string) {
	if id != "" {
		s[id] = struct{}{}
	}
}

// Intersects reports whether any of ids is in the set.
func (s Set) Intersects(ids []string) bool {
	if len(s) == 0 {
		return false
	}
	for _, id := range ids {
		if _, ok := s[id]; ok {
			return true
		}
	}
	return false
}

// Filter returns the disruptions whose affected stops intersect stops or
// whose affected lines intersect lines, in input order. Empty sets match
// nothing.
func Filter(disruptions []models.Disruption, stops, lines Set) []models.Disruption {
	var out []models.Disruption
	for _, d := range disruptions {
		if stops.Intersects(d.AffectedStops) || lines.Intersects(d.AffectedLines) {
			out = append(out, d)
		}
	}
	return out
}

// TripKeys collects the stop ids (every call of every leg) and the line
// numbers of a trip. Legs without a line number contribute no line.
func TripKeys(legs []models.TripLeg) (stops, lines Set) {
	stops, lines = NewSet(), NewSet()
	for _, leg := range legs {
		stops.Add(leg.Origin.ID)
		stops.Add(leg.Destination.ID)
		for _, s := range leg.IntermediateStops {
			stops.Add(s.ID)
		}
		lines.Add(leg.LineNumber)
	}
	return stops, lines
}
