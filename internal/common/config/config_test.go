package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Cache.DisruptionsTTL >= cfg.Cache.RoutesTTL {
		t.Errorf("disruptions TTL %v should be shorter than routes TTL %v", cfg.Cache.DisruptionsTTL, cfg.Cache.RoutesTTL)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("OTD_API_KEY", "secret")
	t.Setenv("CACHE_TTL_DISRUPTIONS", "45")
	t.Setenv("POLL_INTERVAL_TRAFFIC", "2m")
	t.Setenv("PREDICTION_RADIUS_KM", "0.5")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Cache.DisruptionsTTL != 45*time.Second {
		t.Errorf("expected bare integer TTL in seconds, got %v", cfg.Cache.DisruptionsTTL)
	}
	if cfg.Polling.TrafficInterval != 2*time.Minute {
		t.Errorf("expected 2m traffic interval, got %v", cfg.Polling.TrafficInterval)
	}
	if cfg.Prediction.RadiusKM != 0.5 {
		t.Errorf("expected radius 0.5, got %v", cfg.Prediction.RadiusKM)
	}
	if len(cfg.Server.CORSOrigins) != 2 {
		t.Errorf("expected 2 CORS origins, got %v", cfg.Server.CORSOrigins)
	}
	if cfg.Upstream.OJPAPIKey != "secret" {
		t.Errorf("OJP key should fall back to OTD_API_KEY, got %q", cfg.Upstream.OJPAPIKey)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transitwatch.yaml")
	data := []byte(`
server:
  port: 7000
stream:
  queueSize: 10
prediction:
  timezone: Europe/Berlin
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("STREAM_QUEUE_SIZE", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("expected port from file, got %d", cfg.Server.Port)
	}
	if cfg.Stream.QueueSize != 25 {
		t.Errorf("env should override file, got queue size %d", cfg.Stream.QueueSize)
	}
	if cfg.Location().String() != "Europe/Berlin" {
		t.Errorf("unexpected location %s", cfg.Location())
	}
	if cfg.Cache.RoutesTTL != 5*time.Minute {
		t.Errorf("unset fields should keep defaults, got %v", cfg.Cache.RoutesTTL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"unknown timezone", func(c *Config) { c.Prediction.Timezone = "Mars/Olympus" }},
		{"negative radius", func(c *Config) { c.Prediction.RadiusKM = -1 }},
		{"bad endpoint", func(c *Config) { c.Upstream.SIRISXEndpoint = "not a url" }},
		{"zero queue", func(c *Config) { c.Stream.QueueSize = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}
