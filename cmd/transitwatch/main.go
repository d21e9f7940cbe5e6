package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/transitwatch/internal/adapters"
	"github.com/transitwatch/internal/adapters/datex"
	"github.com/transitwatch/internal/adapters/gtfsrt"
	"github.com/transitwatch/internal/adapters/ocit"
	"github.com/transitwatch/internal/adapters/ojp"
	"github.com/transitwatch/internal/adapters/siri"
	"github.com/transitwatch/internal/api"
	"github.com/transitwatch/internal/common/config"
	"github.com/transitwatch/internal/common/discord"
	"github.com/transitwatch/internal/common/logger"
	"github.com/transitwatch/internal/prediction"
	"github.com/transitwatch/internal/transit"
)

const (
	appName         = "transitwatch"
	version         = "1.0.0"
	shutdownTimeout = 10 * time.Second
)

func main() {
	// .env is optional, the environment may already be set
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}

	loggerConfig := logger.DefaultConfig()
	loggerConfig.Level = logger.ParseLogLevel(cfg.Logging.Level)
	loggerConfig.FilePath = cfg.Logging.FilePath
	loggerConfig.File = cfg.Logging.FilePath != ""
	if alerts := discord.NewClient(cfg.Logging.DiscordURL); alerts.Enabled() {
		loggerConfig.Hooks = []zerolog.Hook{logger.NewAlertHook(alerts)}
	}
	log := logger.New(loggerConfig)

	log.Info("Transitwatch starting",
		"version", version,
		"log_level", cfg.Logging.Level,
		"port", cfg.Server.Port,
		"api_configured", cfg.Upstream.APIKey != "",
	)

	upstream := adapters.Config{
		APIKey:    cfg.Upstream.APIKey,
		UserAgent: cfg.Upstream.UserAgent,
		Timeout:   cfg.Upstream.HTTPTimeout,
	}
	planner := upstream
	planner.APIKey = cfg.Upstream.OJPAPIKey

	svc := transit.New(cfg, transit.Sources{
		Disruptions: siri.NewClient(upstream, cfg.Upstream.SIRISXEndpoint),
		Situations:  datex.NewClient(upstream, cfg.Upstream.TrafficSituationsURL, appName),
		Lights:      ocit.NewClient(upstream, cfg.Upstream.TrafficLightsBase),
		Delays:      gtfsrt.NewClient(upstream, cfg.Upstream.GTFSRTEndpoint),
		Planner:     ojp.NewClient(planner, cfg.Upstream.OJPEndpoint, appName),
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := svc.Start(ctx); err != nil {
		log.Fatal("Failed to start transit service", "error", err)
	}

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewServer(svc, api.Options{
			Name:        appName,
			Version:     version,
			CORSOrigins: cfg.Server.CORSOrigins,
			Rules:       prediction.DefaultRules(),
		}, log.With("component", "api")),
		// no write timeout, /api/events holds the response open
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-sigChan:
		log.Info("Shutdown signal received")
	case err := <-serverErr:
		log.Error("HTTP server failed", "error", err)
	}

	// stopping the service first closes open event streams so Shutdown
	// does not wait for them
	svc.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown incomplete", "error", err)
	}
	wg.Wait()

	log.Info("Transitwatch stopped")
}
