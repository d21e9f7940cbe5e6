package prediction

import (
	"fmt"
	"math"
	"time"

	"github.com/transitwatch/internal/geo"
	"github.com/transitwatch/pkg/models"
)

// Traffic is the current road picture legs are matched against.
type Traffic struct {
	Situations          []models.TrafficSituation
	Lights              []models.TrafficLightStatus
	SituationsAvailable bool
	LightsAvailable     bool
}

// Signals are the traffic records matched to one leg.
type Signals struct {
	Situations []models.TrafficSituation
	Lights     []models.TrafficLightStatus
	// Unavailable is set when no traffic feed could be consulted.
	Unavailable bool
}

// Engine turns matched traffic signals into delay predictions. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	rules    Rules
	radiusKM float64
	loc      *time.Location
}

// NewEngine creates an engine. Peak windows are evaluated in loc.
func NewEngine(rules Rules, radiusKM float64, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{rules: rules, radiusKM: radiusKM, loc: loc}
}

// Match selects the situations and lights within the engine radius of the
// leg's geolocated stops.
func (e *Engine) Match(leg models.TripLeg, traffic Traffic) Signals {
	route := leg.RoutePoints()
	return Signals{
		Situations:  geo.Near(route, traffic.Situations, e.radiusKM),
		Lights:      geo.Near(route, traffic.Lights, e.radiusKM),
		Unavailable: !traffic.SituationsAvailable && !traffic.LightsAvailable,
	}
}

// PredictTrip returns a copy of legs with a prediction attached to every
// road-based leg. Other legs have their prediction cleared.
func (e *Engine) PredictTrip(legs []models.TripLeg, traffic Traffic, now time.Time) []models.TripLeg {
	out := make([]models.TripLeg, len(legs))
	for i, leg := range legs {
		leg.DelayPrediction = e.Predict(leg, e.Match(leg, traffic), now)
		out[i] = leg
	}
	return out
}

// Predict scores one leg. It returns nil for modes that do not share the
// road with general traffic.
func (e *Engine) Predict(leg models.TripLeg, matched Signals, now time.Time) *models.DelayPrediction {
	if !leg.Mode.IsRoadBased() {
		return nil
	}

	r := e.rules
	var factors []string
	delay := r.BaseDelay[leg.Mode]
	confidence := r.BaseConfidence

	if leg.Mode == models.ModeBus {
		factors = append(factors, "Bus service variability")
	} else {
		factors = append(factors, "Tram service variability")
	}

	if len(leg.RoutePoints()) == 0 {
		confidence += r.NoDataConfidence
		factors = append(factors, "No coordinates available for traffic lookup")
	} else {
		if matched.Unavailable {
			confidence += r.NoDataConfidence
			factors = append(factors, "Limited traffic data available")
		}

		if len(matched.Situations) > 0 {
			confidence += r.SituationsConfidence
			for _, s := range matched.Situations {
				if d := r.situationDelay(s); d > 0 {
					delay += d
					factors = append(factors, fmt.Sprintf("Traffic: %s...", truncate(s.Description, r.SituationDescription)))
				}
			}
		}

		if len(matched.Lights) > 0 {
			confidence += r.LightsConfidence
			for _, l := range matched.Lights {
				if d := r.losDelay(l.LevelOfService); d > 0 {
					delay += d
					factors = append(factors, "Congestion at "+l.DisplayName())
				}
				if d := r.spillbackDelay(l.SpillbackLengthMeters); d > 0 {
					delay += d
					factors = append(factors, "Queue at "+l.DisplayName())
				}
			}
		}
	}

	departure := leg.Origin.ScheduledTime
	if departure.IsZero() {
		departure = now
	}
	peak := r.isPeak(departure.In(e.loc))
	if peak {
		delay = math.RoundToEven(delay * r.PeakMultiplier)
		confidence += r.PeakConfidence
		factors = append(factors, "Peak hour traffic")
	}

	confidence = math.Max(r.MinConfidence, math.Min(r.MaxConfidence, confidence))
	if len(factors) > r.MaxFactors {
		factors = factors[:r.MaxFactors]
	}

	return &models.DelayPrediction{
		PredictedDelayMinutes: int(math.Max(0, math.RoundToEven(delay))),
		ConfidenceScore:       math.Round(confidence*100) / 100,
		Factors:               factors,
		IsPeakHour:            peak,
		PredictionTime:        now,
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
