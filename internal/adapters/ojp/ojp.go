// Package ojp talks to an Open Journey Planner (OJP 1.0) endpoint for stop
// search and trip planning.
package ojp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"

	"github.com/transitwatch/internal/adapters"
	"github.com/transitwatch/internal/adapters/xmlpath"
	"github.com/transitwatch/pkg/models"
)

const defaultWalkMinutes = 5

var modes = map[string]models.TransportMode{
	"rail":      models.ModeRail,
	"bus":       models.ModeBus,
	"tram":      models.ModeTram,
	"metro":     models.ModeMetro,
	"funicular": models.ModeFunicular,
	"water":     models.ModeFerry,
	"telecabin": models.ModeCableway,
	"cableway":  models.ModeCableway,
	"walk":      models.ModeWalk,
}

var isoDuration = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// TripRequest selects trips between two stop places.
type TripRequest struct {
	OriginID      string
	DestinationID string
	Departure     time.Time // zero means now
	NumResults    int
}

type Client struct {
	http      *adapters.Client
	endpoint  string
	requestor string
	now       func() time.Time
}

// NewClient creates an OJP client. requestor is sent as RequestorRef.
func NewClient(cfg adapters.Config, endpoint, requestor string) *Client {
	if requestor == "" {
		requestor = "transitwatch"
	}
	return &Client{
		http:      adapters.NewClient(cfg),
		endpoint:  endpoint,
		requestor: requestor,
		now:       time.Now,
	}
}

// Configured reports whether the planner key is set.
func (c *Client) Configured() bool {
	return c.http.Configured()
}

// SearchLocations returns up to limit stops matching query.
func (c *Client) SearchLocations(ctx context.Context, query string, limit int) ([]models.Location, error) {
	body, err := c.post(ctx, buildLocationRequest(c.requestor, query, limit, c.now()))
	if err != nil {
		return nil, err
	}
	locations, err := ParseLocations(bytes.NewReader(body), limit)
	if err != nil {
		return nil, fmt.Errorf("ojp: %w", err)
	}
	return locations, nil
}

// SearchTrips plans trips for req.
func (c *Client) SearchTrips(ctx context.Context, req TripRequest) (models.TripSearchResult, error) {
	now := c.now()
	body, err := c.post(ctx, buildTripRequest(c.requestor, req, now))
	if err != nil {
		return models.TripSearchResult{}, err
	}
	trips, err := ParseTrips(bytes.NewReader(body), now)
	if err != nil {
		return models.TripSearchResult{}, fmt.Errorf("ojp: %w", err)
	}
	return models.TripSearchResult{Trips: trips, SearchTime: now.UTC()}, nil
}

func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	resp, err := c.http.Post(ctx, c.endpoint, "application/xml", body, nil)
	if err != nil {
		return nil, fmt.Errorf("ojp: %w", err)
	}
	return resp, nil
}

// ParseLocations extracts stop places from a location information
// response. Results without id or name are dropped, duplicates collapse.
func ParseLocations(r io.Reader, limit int) ([]models.Location, error) {
	root, err := xmlpath.Parse(r)
	if err != nil {
		return nil, err
	}

	out := make([]models.Location, 0)
	seen := make(map[string]struct{})
	for _, loc := range xmlpath.FindAll(root, "Location") {
		sp := xmlpath.Find(loc, "StopPlace")
		if sp == nil {
			continue
		}
		id := xmlpath.Text(xmlpath.Child(sp, "StopPlaceRef"))
		if id == "" {
			id = xmlpath.FindText(sp, "StopPointRef")
		}
		name := xmlpath.FirstText(sp, "StopPlaceName/Text", "Text")
		if id == "" || name == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		out = append(out, models.Location{
			ID:       id,
			Name:     name,
			Type:     models.LocationStop,
			Position: position(loc),
			Locality: xmlpath.FindText(loc, "TopographicPlaceName/Text"),
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ParseTrips extracts the trip results. Walk legs without times use now.
func ParseTrips(r io.Reader, now time.Time) ([]models.Trip, error) {
	root, err := xmlpath.Parse(r)
	if err != nil {
		return nil, err
	}

	trips := make([]models.Trip, 0)
	for i, result := range xmlpath.FindAll(root, "TripResult") {
		if trip, ok := parseTrip(result, i, now); ok {
			trips = append(trips, trip)
		}
	}
	return trips, nil
}

func parseTrip(result *xmlquery.Node, idx int, now time.Time) (models.Trip, bool) {
	id := xmlpath.FindText(result, "TripId")
	if id == "" {
		id = fmt.Sprintf("trip_%d", idx)
	}

	var legs []models.TripLeg
	for i, n := range xmlpath.FindAll(result, "TripLeg") {
		if leg, ok := parseLeg(n, i, now); ok {
			legs = append(legs, leg)
		}
	}
	if len(legs) == 0 {
		return models.Trip{}, false
	}

	departure := legs[0].Origin.ScheduledTime
	arrival := legs[len(legs)-1].Destination.ScheduledTime
	transfers := -1
	for _, leg := range legs {
		if leg.Mode != models.ModeWalk {
			transfers++
		}
	}

	return models.Trip{
		TripID:          id,
		Legs:            legs,
		DepartureTime:   departure,
		ArrivalTime:     arrival,
		DurationMinutes: max(1, minutesBetween(departure, arrival)),
		NumTransfers:    max(0, transfers),
		Disruptions:     []models.Disruption{},
	}, true
}

func parseLeg(n *xmlquery.Node, idx int, now time.Time) (models.TripLeg, bool) {
	legID := fmt.Sprintf("leg_%d", idx)

	if timed := xmlpath.Find(n, "TimedLeg"); timed != nil {
		return parseTimedLeg(timed, legID)
	}

	walk := xmlpath.Find(n, "TransferLeg")
	if walk == nil {
		walk = xmlpath.Find(n, "ContinuousLeg")
	}
	if walk == nil {
		return models.TripLeg{}, false
	}
	return parseWalkLeg(walk, legID, now), true
}

func parseTimedLeg(timed *xmlquery.Node, legID string) (models.TripLeg, bool) {
	board := xmlpath.Find(timed, "LegBoard")
	alight := xmlpath.Find(timed, "LegAlight")
	if board == nil || alight == nil {
		return models.TripLeg{}, false
	}
	origin, ok := parseStopPoint(board)
	if !ok {
		return models.TripLeg{}, false
	}
	destination, ok := parseStopPoint(alight)
	if !ok {
		return models.TripLeg{}, false
	}

	intermediates := make([]models.StopPoint, 0)
	for _, inter := range xmlpath.FindAll(timed, "LegIntermediates") {
		if stop, ok := parseStopPoint(inter); ok {
			intermediates = append(intermediates, stop)
		}
	}

	service := xmlpath.Find(timed, "Service")
	mode := models.ModeUnknown
	if m, ok := modes[strings.ToLower(xmlpath.FindText(service, "PtMode"))]; ok {
		mode = m
	}

	return models.TripLeg{
		LegID:             legID,
		Mode:              mode,
		LineName:          xmlpath.FindText(service, "PublishedLineName/Text"),
		LineNumber:        xmlpath.FindText(service, "LineRef"),
		DestinationText:   xmlpath.FindText(service, "DestinationText/Text"),
		Operator:          xmlpath.FindText(service, "OperatorRef"),
		Origin:            origin,
		Destination:       destination,
		IntermediateStops: intermediates,
		DurationMinutes:   max(1, minutesBetween(origin.ScheduledTime, destination.ScheduledTime)),
		HasRealtime:       mode.IsRoadBased(),
	}, true
}

func parseWalkLeg(walk *xmlquery.Node, legID string, now time.Time) models.TripLeg {
	start := timeOr(xmlpath.FindText(walk, "TimeWindowStart"), now)
	end := timeOr(xmlpath.FindText(walk, "TimeWindowEnd"), now)

	startName := xmlpath.FindText(xmlpath.Find(walk, "LegStart"), "Text")
	if startName == "" {
		startName = "Start"
	}
	endName := xmlpath.FindText(xmlpath.Find(walk, "LegEnd"), "Text")
	if endName == "" {
		endName = "End"
	}

	return models.TripLeg{
		LegID:             legID,
		Mode:              models.ModeWalk,
		Origin:            models.StopPoint{ID: "walk_start", Name: startName, ScheduledTime: start},
		Destination:       models.StopPoint{ID: "walk_end", Name: endName, ScheduledTime: end},
		IntermediateStops: []models.StopPoint{},
		DurationMinutes:   walkMinutes(xmlpath.FindText(walk, "Duration")),
	}
}

// parseStopPoint requires a reference, a name and a timetabled time.
func parseStopPoint(n *xmlquery.Node) (models.StopPoint, bool) {
	ref := xmlpath.FindText(n, "StopPointRef")
	name := xmlpath.FirstText(n, "StopPointName/Text", "Text")
	scheduled, err := models.ParseTime(xmlpath.FindText(n, "TimetabledTime"))
	if ref == "" || name == "" || err != nil {
		return models.StopPoint{}, false
	}

	stop := models.StopPoint{
		ID:            ref,
		Name:          name,
		Platform:      xmlpath.FirstText(n, "PlannedQuay/Text", "EstimatedQuay/Text"),
		ScheduledTime: scheduled,
		Position:      position(n),
	}
	if est, err := models.ParseTime(xmlpath.FindText(n, "EstimatedTime")); err == nil {
		stop.EstimatedTime = &est
		stop.DelayMinutes = minutesBetween(scheduled, est)
	}
	return stop, true
}

func position(n *xmlquery.Node) *models.GeoPoint {
	lat, latOK := xmlpath.FindFloat(n, "Latitude")
	lon, lonOK := xmlpath.FindFloat(n, "Longitude")
	if !latOK || !lonOK {
		return nil
	}
	return models.NewGeoPoint(&lat, &lon)
}

func timeOr(s string, fallback time.Time) time.Time {
	t, err := models.ParseTime(s)
	if err != nil {
		return fallback
	}
	return t
}

// walkMinutes reads an ISO 8601 duration such as PT1H5M.
func walkMinutes(s string) int {
	m := isoDuration.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil || (m[1] == "" && m[2] == "" && m[3] == "") {
		return defaultWalkMinutes
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	return hours*60 + minutes
}

// minutesBetween truncates toward zero.
func minutesBetween(from, to time.Time) int {
	return int(to.Sub(from) / time.Minute)
}
