package geo

import (
	"math"
	"testing"

	"github.com/transitwatch/pkg/models"
)

type spot struct {
	id  string
	pos *models.GeoPoint
}

func (s spot) Point() *models.GeoPoint { return s.pos }

var (
	zurichHB   = models.GeoPoint{Latitude: 47.3779, Longitude: 8.5403}
	bellevue   = models.GeoPoint{Latitude: 47.3667, Longitude: 8.5450}
	bernBahnof = models.GeoPoint{Latitude: 46.9490, Longitude: 7.4391}
)

func TestHaversineKM(t *testing.T) {
	if d := HaversineKM(zurichHB, zurichHB); d != 0 {
		t.Errorf("distance to self should be 0, got %v", d)
	}

	d := HaversineKM(zurichHB, bernBahnof)
	if d < 94 || d > 97 {
		t.Errorf("Zurich-Bern distance out of range: %v km", d)
	}

	if math.Abs(HaversineKM(zurichHB, bellevue)-HaversineKM(bellevue, zurichHB)) > 1e-12 {
		t.Error("distance should be symmetric")
	}
}

func TestNearBoundaryIsInclusive(t *testing.T) {
	route := []models.GeoPoint{zurichHB}
	target := bellevue
	radius := HaversineKM(zurichHB, target)

	got := Near(route, []spot{{id: "edge", pos: &target}}, radius)
	if len(got) != 1 {
		t.Fatalf("candidate exactly at radius should match, got %d", len(got))
	}

	got = Near(route, []spot{{id: "edge", pos: &target}}, math.Nextafter(radius, 0))
	if len(got) != 0 {
		t.Errorf("candidate just beyond radius should not match, got %d", len(got))
	}
}

func TestNearExcludesMissingLocation(t *testing.T) {
	route := []models.GeoPoint{zurichHB}
	candidates := []spot{{id: "nowhere"}, {id: "here", pos: &zurichHB}}

	got := Near(route, candidates, 10000)
	if len(got) != 1 || got[0].id != "here" {
		t.Errorf("expected only the located candidate, got %+v", got)
	}
}

func TestNearPreservesInputOrder(t *testing.T) {
	route := []models.GeoPoint{zurichHB, bellevue}
	a := models.GeoPoint{Latitude: 47.3668, Longitude: 8.5451}
	b := models.GeoPoint{Latitude: 47.3780, Longitude: 8.5404}
	c := bernBahnof
	candidates := []spot{{id: "a", pos: &a}, {id: "c", pos: &c}, {id: "b", pos: &b}}

	got := Near(route, candidates, 0.3)
	if len(got) != 2 || got[0].id != "a" || got[1].id != "b" {
		t.Errorf("unexpected matches %+v", got)
	}
}

func TestNearEmptyRoute(t *testing.T) {
	if got := Near(nil, []spot{{id: "x", pos: &zurichHB}}, 1); got != nil {
		t.Errorf("empty route should match nothing, got %+v", got)
	}
}
