package transit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/transitwatch/internal/adapters"
	"github.com/transitwatch/internal/feedcache"
	"github.com/transitwatch/internal/scheduler"
	"github.com/transitwatch/pkg/models"
)

// maxStreamedDisruptions caps the disruption list carried by events.
const maxStreamedDisruptions = 20

// DisruptionsUpdate is the payload of a disruptions_update event.
type DisruptionsUpdate struct {
	Count       int                 `json:"count"`
	Available   bool                `json:"available"`
	Disruptions []models.Disruption `json:"disruptions"`
}

// TrafficUpdate is the payload of a traffic_update event.
type TrafficUpdate struct {
	SituationsCount     int        `json:"situations_count"`
	SituationsAvailable bool       `json:"situations_available"`
	LightsCount         int        `json:"lights_count"`
	LightsAvailable     bool       `json:"lights_available"`
	LastUpdate          *time.Time `json:"last_update,omitempty"`
}

// Snapshot is the payload of the snapshot event sent on connect.
type Snapshot struct {
	Disruptions DisruptionsUpdate `json:"disruptions"`
	Traffic     TrafficUpdate     `json:"traffic"`
}

func (s *Service) refreshDisruptions(ctx context.Context) error {
	snap := s.disruptions.Refresh(ctx)
	if snap.Err != nil {
		return jobError(snap.Err)
	}

	update := disruptionsUpdate(snap)
	delivered := s.hub.Publish(models.NewEvent(models.EventDisruptionsUpdate, update, s.now()))
	s.logger.Info("Refreshed disruptions", "count", update.Count, "subscribers", delivered)
	return nil
}

func (s *Service) refreshTraffic(ctx context.Context) error {
	var (
		situations feedcache.Snapshot[[]models.TrafficSituation]
		lights     feedcache.Snapshot[[]models.TrafficLightStatus]
	)

	// both feeds are refreshed even when one of them fails
	var g errgroup.Group
	g.Go(func() error {
		situations = s.situations.Refresh(ctx)
		return nil
	})
	g.Go(func() error {
		lights = s.lights.Refresh(ctx)
		return nil
	})
	_ = g.Wait()

	update := trafficUpdate(situations, lights)
	if situations.Err == nil || lights.Err == nil {
		s.hub.Publish(models.NewEvent(models.EventTrafficUpdate, update, s.now()))
		s.logger.Info("Refreshed traffic",
			"situations", update.SituationsCount,
			"situations_available", update.SituationsAvailable,
			"lights", update.LightsCount,
			"lights_available", update.LightsAvailable,
		)
	}

	switch {
	case situations.Err != nil && lights.Err != nil:
		return jobError(errors.Join(situations.Err, lights.Err))
	case situations.Err != nil:
		return jobError(situations.Err)
	case lights.Err != nil:
		return jobError(lights.Err)
	}
	return nil
}

// jobError marks errors that retrying cannot fix. A joined error is
// permanent only when all of its parts are.
func jobError(err error) error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if !errors.Is(e, adapters.ErrNotConfigured) {
				return err
			}
		}
		return scheduler.Permanent(err)
	}
	if errors.Is(err, adapters.ErrNotConfigured) {
		return scheduler.Permanent(err)
	}
	return err
}

func (s *Service) snapshot() any {
	return Snapshot{
		Disruptions: disruptionsUpdate(s.disruptions.Snapshot()),
		Traffic:     trafficUpdate(s.situations.Snapshot(), s.lights.Snapshot()),
	}
}

func disruptionsUpdate(snap feedcache.Snapshot[[]models.Disruption]) DisruptionsUpdate {
	list := snap.Value
	if len(list) > maxStreamedDisruptions {
		list = list[:maxStreamedDisruptions]
	}
	return DisruptionsUpdate{
		Count:       len(snap.Value),
		Available:   snap.Available,
		Disruptions: nonNil(list),
	}
}

func trafficUpdate(situations feedcache.Snapshot[[]models.TrafficSituation], lights feedcache.Snapshot[[]models.TrafficLightStatus]) TrafficUpdate {
	last := situations.FetchedAt
	if lights.FetchedAt.After(last) {
		last = lights.FetchedAt
	}
	return TrafficUpdate{
		SituationsCount:     len(situations.Value),
		SituationsAvailable: situations.Available,
		LightsCount:         len(lights.Value),
		LightsAvailable:     lights.Available,
		LastUpdate:          models.TimePtr(last.UTC()),
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
