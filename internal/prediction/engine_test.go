package prediction

import (
	"math"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitwatch/pkg/models"
)

var zurich = mustLocation("Europe/Zurich")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func at(hour, min, sec int) time.Time {
	return time.Date(2025, 3, 11, hour, min, sec, 0, zurich)
}

func point(lat, lon float64) *models.GeoPoint {
	return &models.GeoPoint{Latitude: lat, Longitude: lon}
}

func floatPtr(v float64) *float64 { return &v }

func busLeg(departure time.Time, stops ...*models.GeoPoint) models.TripLeg {
	leg := models.TripLeg{
		LegID:      "leg_0",
		Mode:       models.ModeBus,
		LineNumber: "31",
		Origin:     models.StopPoint{ID: "8591000", Name: "Origin", ScheduledTime: departure},
		Destination: models.StopPoint{
			ID:            "8591001",
			Name:          "Destination",
			ScheduledTime: departure.Add(12 * time.Minute),
		},
	}
	if len(stops) > 0 {
		leg.Origin.Position = stops[0]
	}
	if len(stops) > 1 {
		leg.Destination.Position = stops[len(stops)-1]
	}
	if len(stops) > 2 {
		for _, p := range stops[1 : len(stops)-1] {
			leg.IntermediateStops = append(leg.IntermediateStops, models.StopPoint{ID: "mid", Position: p})
		}
	}
	return leg
}

func newEngine() *Engine {
	return NewEngine(DefaultRules(), 0.3, zurich)
}

func TestNonRoadModesHaveNoPrediction(t *testing.T) {
	e := newEngine()
	for _, mode := range []models.TransportMode{models.ModeRail, models.ModeMetro, models.ModeFunicular, models.ModeWalk, models.ModeUnknown} {
		leg := busLeg(at(6, 0, 0), point(47.37, 8.54))
		leg.Mode = mode
		sig := Signals{Situations: []models.TrafficSituation{{ID: "s", Severity: "severe"}}}
		assert.Nil(t, e.Predict(leg, sig, at(5, 55, 0)), "mode %s", mode)
	}
}

func TestBusWithoutMatchesGetsBaseDelayOnly(t *testing.T) {
	p := newEngine().Predict(busLeg(at(13, 0, 0), point(47.37, 8.54)), Signals{}, at(12, 55, 0))
	require.NotNil(t, p)

	assert.Equal(t, 1, p.PredictedDelayMinutes)
	assert.Equal(t, 0.7, p.ConfidenceScore)
	assert.Equal(t, []string{"Bus service variability"}, p.Factors)
	assert.False(t, p.IsPeakHour)
	assert.Equal(t, at(12, 55, 0), p.PredictionTime)
}

func TestMissingCoordinatesApplyNoDataPenalty(t *testing.T) {
	sig := Signals{Situations: []models.TrafficSituation{{ID: "s", Severity: "severe"}}}
	p := newEngine().Predict(busLeg(at(13, 0, 0)), sig, at(13, 0, 0))
	require.NotNil(t, p)

	assert.Equal(t, 1, p.PredictedDelayMinutes, "signals are ignored without a route")
	assert.Equal(t, 0.4, p.ConfidenceScore)
	assert.Equal(t, []string{"Bus service variability", "No coordinates available for traffic lookup"}, p.Factors)
}

func TestUnavailableTrafficApplyNoDataPenalty(t *testing.T) {
	p := newEngine().Predict(busLeg(at(13, 0, 0), point(47.37, 8.54)), Signals{Unavailable: true}, at(13, 0, 0))
	require.NotNil(t, p)

	assert.Equal(t, 0.4, p.ConfidenceScore)
	assert.Contains(t, p.Factors, "Limited traffic data available")
}

func TestTramBaseDelayRounds(t *testing.T) {
	leg := busLeg(at(13, 0, 0), point(47.37, 8.54))
	leg.Mode = models.ModeTram

	p := newEngine().Predict(leg, Signals{}, at(13, 0, 0))
	require.NotNil(t, p)
	assert.Equal(t, 0, p.PredictedDelayMinutes)
	assert.Equal(t, "Tram service variability", p.Factors[0])
}

func TestSeverityIsMonotonic(t *testing.T) {
	e := newEngine()
	leg := busLeg(at(13, 0, 0), point(47.37, 8.54))
	predict := func(severity string) int {
		sig := Signals{Situations: []models.TrafficSituation{{ID: "s", Description: "Roadworks", Severity: severity}}}
		return e.Predict(leg, sig, at(13, 0, 0)).PredictedDelayMinutes
	}

	minor, moderate, severe := predict("lowImpact"), predict("normal"), predict("dangerous")
	assert.Equal(t, 3, minor)
	assert.Equal(t, 5, moderate)
	assert.Equal(t, 9, severe)
	assert.LessOrEqual(t, minor, moderate)
	assert.LessOrEqual(t, moderate, severe)
}

func TestSignalCongestionAndSpillback(t *testing.T) {
	sig := Signals{Lights: []models.TrafficLightStatus{
		{IntersectionID: "K101", Name: "Central", LevelOfService: "f", SpillbackLengthMeters: floatPtr(250)},
		{IntersectionID: "K102", LevelOfService: "B", SpillbackLengthMeters: floatPtr(99)},
		{IntersectionID: "K103", LevelOfService: "D"},
	}}

	p := newEngine().Predict(busLeg(at(13, 0, 0), point(47.37, 8.54)), sig, at(13, 0, 0))
	require.NotNil(t, p)

	// base 1 + LOS F 6 + spillback 2 + LOS D 2
	assert.Equal(t, 11, p.PredictedDelayMinutes)
	assert.Equal(t, 0.8, p.ConfidenceScore)
	assert.Equal(t, []string{
		"Bus service variability",
		"Congestion at Central",
		"Queue at Central",
		"Congestion at K103",
	}, p.Factors)
}

func TestSpillbackDelayIgnoresBadReadings(t *testing.T) {
	r := DefaultRules()
	per := r.SpillbackPer100m

	tests := []struct {
		name   string
		meters *float64
		want   float64
	}{
		{"missing", nil, 0},
		{"negative", floatPtr(-300), 0},
		{"short", floatPtr(99), 0},
		{"rounds down", floatPtr(250), 2 * per},
		{"nan", floatPtr(math.NaN()), 0},
		{"negative infinity", floatPtr(math.Inf(-1)), 0},
		{"infinity is capped", floatPtr(math.Inf(1)), 100 * per},
		{"huge is capped", floatPtr(1e300), 100 * per},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, r.spillbackDelay(tc.meters))
		})
	}
}

func TestPeakHourScalesDelay(t *testing.T) {
	sig := Signals{Situations: []models.TrafficSituation{{ID: "s", Description: "Accident", Severity: "severe"}}}
	p := newEngine().Predict(busLeg(at(6, 0, 0), point(47.37, 8.54)), sig, at(5, 50, 0))
	require.NotNil(t, p)

	assert.True(t, p.IsPeakHour)
	assert.Equal(t, 14, p.PredictedDelayMinutes)
	assert.Equal(t, 0.75, p.ConfidenceScore)
	assert.Equal(t, "Peak hour traffic", p.Factors[len(p.Factors)-1])
}

func TestPeakWindowsAreInclusive(t *testing.T) {
	r := DefaultRules()
	tests := []struct {
		t    time.Time
		peak bool
	}{
		{at(5, 44, 59), false},
		{at(5, 45, 0), true},
		{at(7, 0, 0), true},
		{at(7, 0, 1), false},
		{at(16, 30, 0), true},
		{at(18, 0, 0), true},
		{at(18, 0, 1), false},
		{at(12, 0, 0), false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.peak, r.isPeak(tc.t), tc.t.Format("15:04:05"))
	}
}

func TestPeakUsesLocalTime(t *testing.T) {
	// 05:00 UTC is 06:00 in Zurich during winter time
	departure := time.Date(2025, 1, 15, 5, 0, 0, 0, time.UTC)
	p := newEngine().Predict(busLeg(departure, point(47.37, 8.54)), Signals{}, departure)
	require.NotNil(t, p)
	assert.True(t, p.IsPeakHour)
}

func TestFactorsAreTruncatedInFiringOrder(t *testing.T) {
	long := strings.Repeat("Ä", 80)
	var situations []models.TrafficSituation
	for i := 0; i < 6; i++ {
		situations = append(situations, models.TrafficSituation{ID: "s", Description: long, Severity: "minor"})
	}

	p := newEngine().Predict(busLeg(at(6, 30, 0), point(47.37, 8.54)), Signals{Situations: situations}, at(6, 0, 0))
	require.NotNil(t, p)

	require.Len(t, p.Factors, 5)
	assert.Equal(t, "Bus service variability", p.Factors[0])
	assert.Equal(t, "Traffic: "+strings.Repeat("Ä", 50)+"...", p.Factors[1])
	assert.NotContains(t, p.Factors, "Peak hour traffic")
	// (1 + 6*2) * 1.5 = 19.5
	assert.Equal(t, 20, p.PredictedDelayMinutes)
}

func TestConfidenceIsClamped(t *testing.T) {
	r := DefaultRules()
	r.NoDataConfidence = -5
	p := NewEngine(r, 0.3, zurich).Predict(busLeg(at(13, 0, 0)), Signals{}, at(13, 0, 0))
	require.NotNil(t, p)
	assert.Equal(t, 0.1, p.ConfidenceScore)

	r = DefaultRules()
	r.SituationsConfidence = 2
	sig := Signals{Situations: []models.TrafficSituation{{ID: "s", Severity: "minor"}}}
	p = NewEngine(r, 0.3, zurich).Predict(busLeg(at(13, 0, 0), point(47.37, 8.54)), sig, at(13, 0, 0))
	assert.Equal(t, 1.0, p.ConfidenceScore)
}

func TestPredictTripEndToEnd(t *testing.T) {
	stopA := point(47.3779, 8.5403)
	stopB := point(47.3700, 8.5420)
	// about 0.1 km north of stopA
	accident := point(47.3788, 8.5403)

	farA := point(47.0502, 8.3093)
	farB := point(47.0480, 8.3120)

	legs := []models.TripLeg{
		busLeg(at(6, 0, 0), stopA, stopB),
		busLeg(at(13, 0, 0), farA, farB),
	}
	legs[1].LegID = "leg_1"

	traffic := Traffic{
		Situations: []models.TrafficSituation{
			{ID: "acc-1", Description: "Accident on Bahnhofquai", Severity: "severe", Location: accident},
			{ID: "unlocated", Description: "Somewhere", Severity: "severe"},
		},
		Lights: []models.TrafficLightStatus{
			{IntersectionID: "K9", LevelOfService: "F", Location: point(46.2, 6.1)},
		},
		SituationsAvailable: true,
		LightsAvailable:     true,
	}

	out := newEngine().PredictTrip(legs, traffic, at(5, 50, 0))
	require.Len(t, out, 2)
	require.NotNil(t, out[0].DelayPrediction)
	require.NotNil(t, out[1].DelayPrediction)
	assert.Nil(t, legs[0].DelayPrediction, "input legs are not modified")

	first, second := out[0].DelayPrediction, out[1].DelayPrediction
	assert.Equal(t, 14, first.PredictedDelayMinutes)
	assert.Equal(t, 0.75, first.ConfidenceScore)
	assert.True(t, first.IsPeakHour)

	assert.Equal(t, 1, second.PredictedDelayMinutes)
	assert.Equal(t, 0.7, second.ConfidenceScore)
	assert.False(t, second.IsPeakHour)

	assert.Greater(t, first.PredictedDelayMinutes, second.PredictedDelayMinutes)
	assert.Greater(t, first.ConfidenceScore, second.ConfidenceScore)
}
