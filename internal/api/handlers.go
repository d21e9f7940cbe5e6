package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/transitwatch/internal/transit"
	"github.com/transitwatch/pkg/models"
)

const (
	defaultListLimit     = 50
	defaultLocationLimit = 10

	// availableHeader tells clients whether a list came from a healthy
	// feed. An empty list with "false" means the upstream is down.
	availableHeader = "X-Data-Available"

	maxRequestBody = 64 << 10
)

// DelayResponse is the body of GET /api/delays/{tripID}.
type DelayResponse struct {
	TripID       string `json:"trip_id"`
	DelayMinutes int    `json:"delay_minutes"`
	Available    bool   `json:"available"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Health())
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	rules := s.opts.Rules

	peaks := make([]string, 0, len(rules.PeakWindows))
	for _, pw := range rules.PeakWindows {
		peaks = append(peaks, clockText(pw.Start)+"-"+clockText(pw.End))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    s.opts.Name,
		"version": s.opts.Version,
		"data_sources": map[string]string{
			"routing":            "OJP (Open Journey Planner), timetable only",
			"disruptions":        "SIRI-SX / VDV736",
			"delays":             "GTFS-RT Trip Updates",
			"traffic_situations": "DATEX II road incidents",
			"traffic_lights":     "OCIT-C level of service and queue lengths",
		},
		"assumptions": []string{
			"OJP routing is timetable-only; real-time data is used for display",
			"GTFS-RT provides delays only, no vehicle positions",
			"Delay predictions use heuristic rules based on traffic data",
			"Peak hours: " + strings.Join(peaks, " and ") + " local time",
			"Traffic data coverage varies by region",
		},
		"prediction_rules": map[string]string{
			"traffic_situation_severe":   minutes(rules.SituationDelay[models.SeveritySevere]),
			"traffic_situation_moderate": minutes(rules.SituationDelay[models.SeverityModerate]),
			"traffic_situation_minor":    minutes(rules.SituationDelay[models.SeverityMinor]),
			"traffic_los_f":              minutes(rules.LOSDelay["F"]),
			"traffic_los_e":              minutes(rules.LOSDelay["E"]),
			"traffic_los_d":              minutes(rules.LOSDelay["D"]),
			"traffic_los_c":              minutes(rules.LOSDelay["C"]),
			"spillback_per_100m":         minutes(rules.SpillbackPer100m),
			"peak_hour_multiplier":       fmt.Sprintf("%gx", rules.PeakMultiplier),
		},
	})
}

func (s *Server) searchLocations(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultLocationLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	locations, err := s.svc.SearchLocations(r.Context(), r.URL.Query().Get("query"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, locations)
}

func (s *Server) planTrip(w http.ResponseWriter, r *http.Request) {
	var req transit.PlanRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty request body")
		}
		s.writeError(w, r, fmt.Errorf("%w: %v", transit.ErrInvalidInput, err))
		return
	}

	result, err := s.svc.PlanTrip(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) disruptions(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultListLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, available, err := s.svc.Disruptions(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, list, available)
}

func (s *Server) disruptionsForRoute(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("stop_ids") {
		s.writeError(w, r, fmt.Errorf("%w: stop_ids is required", transit.ErrInvalidInput))
		return
	}
	list, available, err := s.svc.RelevantDisruptions(r.Context(), splitList(q.Get("stop_ids")), splitList(q.Get("line_refs")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, list, available)
}

func (s *Server) trafficSituations(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultListLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, available, err := s.svc.TrafficSituations(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, list, available)
}

func (s *Server) trafficLights(w http.ResponseWriter, r *http.Request) {
	list, available, err := s.svc.TrafficLights(r.Context(), r.URL.Query().Get("area_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, list, available)
}

func (s *Server) transitDelay(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripID")
	delay, available, err := s.svc.TransitDelay(r.Context(), tripID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DelayResponse{TripID: tripID, DelayMinutes: delay, Available: available})
}

func writeList(w http.ResponseWriter, list interface{}, available bool) {
	w.Header().Set(availableHeader, strconv.FormatBool(available))
	writeJSON(w, http.StatusOK, list)
}

// intParam reads an optional integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", transit.ErrInvalidInput, name)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func minutes(v float64) string {
	return fmt.Sprintf("+%g min", v)
}

func clockText(d time.Duration) string {
	return fmt.Sprintf("%d:%02d", int(d.Hours()), int(d.Minutes())%60)
}
