package transit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/transitwatch/internal/adapters"
	"github.com/transitwatch/internal/adapters/ojp"
	"github.com/transitwatch/internal/feedcache"
	"github.com/transitwatch/internal/prediction"
	"github.com/transitwatch/internal/relevance"
	"github.com/transitwatch/pkg/models"
)

const (
	listLimitRule     = "min=1,max=200"
	locationLimitRule = "min=1,max=50"

	defaultTripResults = 5
	maxTripDisruptions = 5
)

// PlanRequest asks for trips between two stop places.
type PlanRequest struct {
	OriginID           string     `json:"origin_id" validate:"required,max=128"`
	OriginName         string     `json:"origin_name" validate:"max=200"`
	DestinationID      string     `json:"destination_id" validate:"required,max=128"`
	DestinationName    string     `json:"destination_name" validate:"max=200"`
	DepartureTime      *time.Time `json:"departure_time"`
	NumResults         int        `json:"num_results" validate:"min=1,max=10"`
	IncludePredictions *bool      `json:"include_predictions"`
}

func (r *PlanRequest) applyDefaults() {
	if r.NumResults == 0 {
		r.NumResults = defaultTripResults
	}
	if r.IncludePredictions == nil {
		include := true
		r.IncludePredictions = &include
	}
}

func (r PlanRequest) cacheKey() string {
	departure := "now"
	if r.DepartureTime != nil {
		departure = r.DepartureTime.UTC().Truncate(time.Minute).Format(time.RFC3339)
	}
	return fmt.Sprintf("%s|%s|%s|%d", r.OriginID, r.DestinationID, departure, r.NumResults)
}

type routeQuery struct {
	StopIDs  []string `validate:"max=500,dive,required,max=128"`
	LineRefs []string `validate:"max=500,dive,required,max=128"`
}

// Disruptions returns up to limit current disruptions and whether the
// feed is available.
func (s *Service) Disruptions(ctx context.Context, limit int) ([]models.Disruption, bool, error) {
	if err := s.validate.Var(limit, listLimitRule); err != nil {
		return nil, false, s.invalid(fmt.Errorf("limit: %w", err))
	}
	list, available := s.disruptions.GetOrRefresh(ctx)
	return head(list, limit), available, nil
}

// TrafficSituations returns up to limit road traffic situations.
func (s *Service) TrafficSituations(ctx context.Context, limit int) ([]models.TrafficSituation, bool, error) {
	if err := s.validate.Var(limit, listLimitRule); err != nil {
		return nil, false, s.invalid(fmt.Errorf("limit: %w", err))
	}
	list, available := s.situations.GetOrRefresh(ctx)
	return head(list, limit), available, nil
}

// TrafficLights returns the traffic lights of area, or of the default
// area when area is empty.
func (s *Service) TrafficLights(ctx context.Context, area string) ([]models.TrafficLightStatus, bool, error) {
	area = strings.TrimSpace(area)
	if err := s.validate.Var(area, "max=128"); err != nil {
		return nil, false, s.invalid(fmt.Errorf("area: %w", err))
	}
	list, available := s.lightsFeed(area).GetOrRefresh(ctx)
	return nonNil(list), available, nil
}

// TransitDelay returns the live delay of a trip in minutes, 0 when the
// trip is not reported.
func (s *Service) TransitDelay(ctx context.Context, tripID string) (int, bool, error) {
	if err := s.validate.Var(tripID, "required,max=256"); err != nil {
		return 0, false, s.invalid(fmt.Errorf("trip id: %w", err))
	}
	delays, available := s.delays.GetOrRefresh(ctx)
	return delays[tripID], available, nil
}

// PredictForTrip returns copies of legs with a delay prediction attached
// to every road-based leg.
func (s *Service) PredictForTrip(ctx context.Context, legs []models.TripLeg) []models.TripLeg {
	return s.engine.PredictTrip(legs, s.traffic(ctx), s.now())
}

// RelevantDisruptions returns the disruptions affecting any of the stops
// or lines.
func (s *Service) RelevantDisruptions(ctx context.Context, stopIDs, lineRefs []string) ([]models.Disruption, bool, error) {
	if err := s.validate.Struct(routeQuery{StopIDs: stopIDs, LineRefs: lineRefs}); err != nil {
		return nil, false, s.invalid(err)
	}
	list, available := s.disruptions.GetOrRefresh(ctx)
	return nonNil(relevance.Filter(list, relevance.NewSet(stopIDs...), relevance.NewSet(lineRefs...))), available, nil
}

// PlanTrip searches trips, attaches predictions to road legs when
// requested and flags trips touched by current disruptions. Results of
// identical searches are shared for the routes TTL.
func (s *Service) PlanTrip(ctx context.Context, req PlanRequest) (models.TripSearchResult, error) {
	req.applyDefaults()
	if err := s.validate.Struct(req); err != nil {
		return models.TripSearchResult{}, s.invalid(err)
	}
	if !s.src.Planner.Configured() {
		return models.TripSearchResult{}, fmt.Errorf("trip planner: %w", adapters.ErrNotConfigured)
	}

	search := ojp.TripRequest{
		OriginID:      req.OriginID,
		DestinationID: req.DestinationID,
		NumResults:    req.NumResults,
	}
	if req.DepartureTime != nil {
		search.Departure = *req.DepartureTime
	}

	feed := s.trips.Feed(req.cacheKey(), func(ctx context.Context) (models.TripSearchResult, error) {
		return s.src.Planner.SearchTrips(ctx, search)
	})
	cached, err := lookup(ctx, feed)
	if err != nil {
		return models.TripSearchResult{}, fmt.Errorf("trip search: %w", err)
	}

	var traffic prediction.Traffic
	if *req.IncludePredictions {
		traffic = s.traffic(ctx)
	}
	disruptions, _ := s.disruptions.GetOrRefresh(ctx)
	now := s.now()

	// cached trips are shared, annotate copies
	result := models.TripSearchResult{
		Trips:      make([]models.Trip, 0, len(cached.Trips)),
		SearchTime: cached.SearchTime,
	}
	for _, trip := range cached.Trips {
		if *req.IncludePredictions {
			trip.Legs = s.engine.PredictTrip(trip.Legs, traffic, now)
		}

		stops, lines := relevance.TripKeys(trip.Legs)
		relevant := relevance.Filter(disruptions, stops, lines)
		trip.HasDisruptions = len(relevant) > 0
		trip.Disruptions = nonNil(head(relevant, maxTripDisruptions))

		result.Trips = append(result.Trips, trip)
	}
	return result, nil
}

// SearchLocations returns up to limit stops matching query.
func (s *Service) SearchLocations(ctx context.Context, query string, limit int) ([]models.Location, error) {
	query = strings.TrimSpace(query)
	if err := s.validate.Var(query, "min=2,max=200"); err != nil {
		return nil, s.invalid(fmt.Errorf("query: %w", err))
	}
	if err := s.validate.Var(limit, locationLimitRule); err != nil {
		return nil, s.invalid(fmt.Errorf("limit: %w", err))
	}
	if !s.src.Planner.Configured() {
		return nil, fmt.Errorf("location search: %w", adapters.ErrNotConfigured)
	}

	key := fmt.Sprintf("%s|%d", strings.ToLower(query), limit)
	feed := s.locations.Feed(key, func(ctx context.Context) ([]models.Location, error) {
		return s.src.Planner.SearchLocations(ctx, query, limit)
	})
	locations, err := lookup(ctx, feed)
	if err != nil {
		return nil, fmt.Errorf("location search: %w", err)
	}
	return nonNil(locations), nil
}

// lookup reads a request-scoped feed. Unlike the polled feeds a failure
// with nothing cached is reported to the caller.
func lookup[T any](ctx context.Context, feed *feedcache.Feed[T]) (T, error) {
	value, available := feed.GetOrRefresh(ctx)
	if available {
		return value, nil
	}
	snap := feed.Snapshot()
	if !snap.FetchedAt.IsZero() {
		return value, nil
	}
	if errors.Is(snap.Err, adapters.ErrNotConfigured) {
		return value, snap.Err
	}
	if snap.Err != nil {
		return value, fmt.Errorf("%w: %v", ErrUnavailable, snap.Err)
	}
	if err := ctx.Err(); err != nil {
		return value, err
	}
	return value, ErrUnavailable
}

// traffic reads both traffic feeds in parallel.
func (s *Service) traffic(ctx context.Context) prediction.Traffic {
	var t prediction.Traffic
	var g errgroup.Group
	g.Go(func() error {
		t.Situations, t.SituationsAvailable = s.situations.GetOrRefresh(ctx)
		return nil
	})
	g.Go(func() error {
		t.Lights, t.LightsAvailable = s.lights.GetOrRefresh(ctx)
		return nil
	})
	_ = g.Wait()
	return t
}

// lightsFeed returns the polled default feed for an empty area. Any other
// value, "all" included, is an explicit area id.
func (s *Service) lightsFeed(area string) *feedcache.Feed[[]models.TrafficLightStatus] {
	if area == "" {
		return s.lights
	}
	return s.areaLights.Feed(area, func(ctx context.Context) ([]models.TrafficLightStatus, error) {
		return s.src.Lights.Fetch(ctx, area)
	})
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		s = s[:n]
	}
	return nonNil(s)
}
