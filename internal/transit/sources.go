package transit

import (
	"context"

	"github.com/transitwatch/internal/adapters/ojp"
	"github.com/transitwatch/pkg/models"
)

// DisruptionSource fetches public transport disruptions.
type DisruptionSource interface {
	Fetch(ctx context.Context) ([]models.Disruption, error)
}

// SituationSource fetches road traffic situations.
type SituationSource interface {
	Fetch(ctx context.Context) ([]models.TrafficSituation, error)
}

// LightSource fetches traffic light state for an area; "" selects the
// default area.
type LightSource interface {
	Fetch(ctx context.Context, area string) ([]models.TrafficLightStatus, error)
}

// DelaySource fetches current delays in minutes keyed by trip id.
type DelaySource interface {
	Fetch(ctx context.Context) (map[string]int, error)
}

// Planner searches stops and plans trips.
type Planner interface {
	Configured() bool
	SearchLocations(ctx context.Context, query string, limit int) ([]models.Location, error)
	SearchTrips(ctx context.Context, req ojp.TripRequest) (models.TripSearchResult, error)
}

// Sources bundles the upstream adapters the service reads through its
// caches.
type Sources struct {
	Disruptions DisruptionSource
	Situations  SituationSource
	Lights      LightSource
	Delays      DelaySource
	Planner     Planner
}
