package prediction

import (
	"math"
	"strings"
	"time"

	"github.com/transitwatch/pkg/models"
)

// Window is an inclusive local time-of-day interval.
type Window struct {
	Start time.Duration // offset from local midnight
	End   time.Duration
}

// Contains reports whether t's local clock time falls inside the window.
func (w Window) Contains(t time.Time) bool {
	h, m, s := t.Clock()
	offset := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
	return offset >= w.Start && offset <= w.End
}

func clock(h, m int) time.Duration {
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
}

// Rules is the heuristic table behind every prediction. Delay values are
// minutes.
type Rules struct {
	BaseDelay map[models.TransportMode]float64

	SituationDelay map[models.SeverityBucket]float64
	// LOSDelay is keyed by upper-case level of service letter. Missing
	// letters contribute nothing.
	LOSDelay         map[string]float64
	SpillbackPer100m float64

	PeakWindows    []Window
	PeakMultiplier float64

	BaseConfidence       float64
	SituationsConfidence float64
	LightsConfidence     float64
	PeakConfidence       float64
	NoDataConfidence     float64
	MinConfidence        float64
	MaxConfidence        float64

	MaxFactors           int
	SituationDescription int // characters of the situation text quoted in a factor
}

// DefaultRules returns the production heuristics.
func DefaultRules() Rules {
	return Rules{
		BaseDelay: map[models.TransportMode]float64{
			models.ModeBus:  1,
			models.ModeTram: 0.5,
		},
		SituationDelay: map[models.SeverityBucket]float64{
			models.SeveritySevere:   8,
			models.SeverityModerate: 4,
			models.SeverityMinor:    2,
		},
		LOSDelay: map[string]float64{
			"F": 6,
			"E": 4,
			"D": 2,
			"C": 1,
		},
		SpillbackPer100m: 1,
		PeakWindows: []Window{
			{Start: clock(5, 45), End: clock(7, 0)},
			{Start: clock(16, 30), End: clock(18, 0)},
		},
		PeakMultiplier:       1.5,
		BaseConfidence:       0.7,
		SituationsConfidence: 0.15,
		LightsConfidence:     0.1,
		PeakConfidence:       -0.1,
		NoDataConfidence:     -0.3,
		MinConfidence:        0.1,
		MaxConfidence:        1.0,
		MaxFactors:           5,
		SituationDescription: 50,
	}
}

func (r Rules) situationDelay(s models.TrafficSituation) float64 {
	return r.SituationDelay[s.Bucket()]
}

func (r Rules) losDelay(los string) float64 {
	return r.LOSDelay[strings.ToUpper(strings.TrimSpace(los))]
}

// maxSpillbackMeters caps a reported queue; longer readings are sensor noise.
const maxSpillbackMeters = 10_000

func (r Rules) spillbackDelay(meters *float64) float64 {
	if meters == nil || math.IsNaN(*meters) || *meters <= 0 {
		return 0
	}
	return math.Floor(math.Min(*meters, maxSpillbackMeters)/100) * r.SpillbackPer100m
}

func (r Rules) isPeak(t time.Time) bool {
	for _, w := range r.PeakWindows {
		if w.Contains(t) {
			return true
		}
	}
	return false
}
