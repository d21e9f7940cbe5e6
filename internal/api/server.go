// Package api exposes the transit service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/transitwatch/internal/adapters"
	"github.com/transitwatch/internal/broadcast"
	"github.com/transitwatch/internal/common/logger"
	"github.com/transitwatch/internal/prediction"
	"github.com/transitwatch/internal/transit"
	"github.com/transitwatch/pkg/models"
)

// TransitService is the part of *transit.Service the handlers use.
type TransitService interface {
	Health() map[string]interface{}
	Disruptions(ctx context.Context, limit int) ([]models.Disruption, bool, error)
	TrafficSituations(ctx context.Context, limit int) ([]models.TrafficSituation, bool, error)
	TrafficLights(ctx context.Context, area string) ([]models.TrafficLightStatus, bool, error)
	TransitDelay(ctx context.Context, tripID string) (int, bool, error)
	RelevantDisruptions(ctx context.Context, stopIDs, lineRefs []string) ([]models.Disruption, bool, error)
	PlanTrip(ctx context.Context, req transit.PlanRequest) (models.TripSearchResult, error)
	SearchLocations(ctx context.Context, query string, limit int) ([]models.Location, error)
	Subscribe() *broadcast.Subscriber
}

// Options configures the HTTP surface.
type Options struct {
	Name        string
	Version     string
	CORSOrigins []string
	Rules       prediction.Rules
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server routes requests to the transit service.
type Server struct {
	svc    TransitService
	opts   Options
	logger logger.Logger
	router chi.Router
}

// NewServer builds the router.
func NewServer(svc TransitService, opts Options, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{svc: svc, opts: opts, logger: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{availableHeader},
		AllowCredentials: true,
	}))

	r.Get("/health", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/info", s.info)
		r.Get("/locations", s.searchLocations)
		r.Post("/trips", s.planTrip)
		r.Get("/disruptions", s.disruptions)
		r.Get("/disruptions/for-route", s.disruptionsForRoute)
		r.Get("/traffic/situations", s.trafficSituations)
		r.Get("/traffic/lights", s.trafficLights)
		r.Get("/delays/{tripID}", s.transitDelay)
		r.Get("/events", s.events)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto status codes. Upstream details are
// logged, not returned.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, transit.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, adapters.ErrNotConfigured):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "API key not configured"})
	case errors.Is(err, transit.ErrUnavailable):
		s.logger.Warn("Upstream unavailable", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "upstream service unavailable"})
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		s.logger.Error("Request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
