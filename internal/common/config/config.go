package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Cache      CacheConfig      `yaml:"cache"`
	Polling    PollingConfig    `yaml:"polling"`
	Prediction PredictionConfig `yaml:"prediction"`
	Stream     StreamConfig     `yaml:"stream"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port        int      `yaml:"port" validate:"gt=0,lt=65536"`
	CORSOrigins []string `yaml:"corsOrigins" validate:"min=1"`
}

// UpstreamConfig describes the Open Transport Data endpoints. Empty API
// keys are allowed: the affected feeds report unavailable.
type UpstreamConfig struct {
	APIKey               string        `yaml:"apiKey"`
	OJPAPIKey            string        `yaml:"ojpApiKey"`
	OJPEndpoint          string        `yaml:"ojpEndpoint" validate:"required,url"`
	GTFSRTEndpoint       string        `yaml:"gtfsRtEndpoint" validate:"required,url"`
	SIRISXEndpoint       string        `yaml:"siriSxEndpoint" validate:"required,url"`
	TrafficLightsBase    string        `yaml:"trafficLightsBase" validate:"required,url"`
	TrafficSituationsURL string        `yaml:"trafficSituationsEndpoint" validate:"required,url"`
	HTTPTimeout          time.Duration `yaml:"httpTimeout" validate:"gt=0"`
	UserAgent            string        `yaml:"userAgent" validate:"required"`
}

// CacheConfig holds per-feed TTLs.
type CacheConfig struct {
	RoutesTTL      time.Duration `yaml:"routesTTL" validate:"gt=0"`
	DisruptionsTTL time.Duration `yaml:"disruptionsTTL" validate:"gt=0"`
	TrafficTTL     time.Duration `yaml:"trafficTTL" validate:"gt=0"`
	DelaysTTL      time.Duration `yaml:"delaysTTL" validate:"gt=0"`
	LightsAreas    int           `yaml:"lightsAreas" validate:"gt=0"`
	TripSearches   int           `yaml:"tripSearches" validate:"gt=0"`
}

type PollingConfig struct {
	DisruptionsInterval time.Duration `yaml:"disruptionsInterval" validate:"gt=0"`
	TrafficInterval     time.Duration `yaml:"trafficInterval" validate:"gt=0"`
	WarmupTimeout       time.Duration `yaml:"warmupTimeout" validate:"gt=0"`
}

type PredictionConfig struct {
	RadiusKM float64 `yaml:"radiusKm" validate:"gt=0"`
	Timezone string  `yaml:"timezone" validate:"required"`
}

type StreamConfig struct {
	QueueSize int           `yaml:"queueSize" validate:"gt=0"`
	Heartbeat time.Duration `yaml:"heartbeat" validate:"gt=0"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	FilePath   string `yaml:"filePath"`
	DiscordURL string `yaml:"discordWebhookURL" validate:"omitempty,url"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"*"},
		},
		Upstream: UpstreamConfig{
			OJPEndpoint:          "https://api.opentransportdata.swiss/ojp2020",
			GTFSRTEndpoint:       "https://api.opentransportdata.swiss/la/gtfs-rt",
			SIRISXEndpoint:       "https://api.opentransportdata.swiss/la/siri-sx-unplanned",
			TrafficLightsBase:    "https://api.opentransportdata.swiss/TDP/Rest_OcitC/Read/v1",
			TrafficSituationsURL: "https://api.opentransportdata.swiss/TDP/Soap_Datex2/TrafficSituations/Pull",
			HTTPTimeout:          30 * time.Second,
			UserAgent:            "transitwatch/1.0",
		},
		Cache: CacheConfig{
			RoutesTTL:      5 * time.Minute,
			DisruptionsTTL: 30 * time.Second,
			TrafficTTL:     60 * time.Second,
			DelaysTTL:      60 * time.Second,
			LightsAreas:    100,
			TripSearches:   500,
		},
		Polling: PollingConfig{
			DisruptionsInterval: 30 * time.Second,
			TrafficInterval:     60 * time.Second,
			WarmupTimeout:       20 * time.Second,
		},
		Prediction: PredictionConfig{
			RadiusKM: 0.3,
			Timezone: "Europe/Zurich",
		},
		Stream: StreamConfig{
			QueueSize: 100,
			Heartbeat: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			FilePath: "transitwatch.log",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named
// by CONFIG_FILE, and environment variables, in increasing precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if cfg.Upstream.OJPAPIKey == "" {
		cfg.Upstream.OJPAPIKey = cfg.Upstream.APIKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getIntEnv("PORT", c.Server.Port)
	c.Server.CORSOrigins = getListEnv("CORS_ORIGINS", c.Server.CORSOrigins)

	c.Upstream.APIKey = getEnv("OTD_API_KEY", c.Upstream.APIKey)
	c.Upstream.OJPAPIKey = getEnv("OTD_OJP_API_KEY", c.Upstream.OJPAPIKey)
	c.Upstream.OJPEndpoint = getEnv("OJP_ENDPOINT", c.Upstream.OJPEndpoint)
	c.Upstream.GTFSRTEndpoint = getEnv("GTFS_RT_ENDPOINT", c.Upstream.GTFSRTEndpoint)
	c.Upstream.SIRISXEndpoint = getEnv("SIRI_SX_ENDPOINT", c.Upstream.SIRISXEndpoint)
	c.Upstream.TrafficLightsBase = getEnv("TRAFFIC_LIGHTS_BASE", c.Upstream.TrafficLightsBase)
	c.Upstream.TrafficSituationsURL = getEnv("TRAFFIC_SITUATIONS_ENDPOINT", c.Upstream.TrafficSituationsURL)
	c.Upstream.HTTPTimeout = getDurationEnv("HTTP_TIMEOUT", c.Upstream.HTTPTimeout)

	c.Cache.RoutesTTL = getDurationEnv("CACHE_TTL_ROUTES", c.Cache.RoutesTTL)
	c.Cache.DisruptionsTTL = getDurationEnv("CACHE_TTL_DISRUPTIONS", c.Cache.DisruptionsTTL)
	c.Cache.TrafficTTL = getDurationEnv("CACHE_TTL_TRAFFIC", c.Cache.TrafficTTL)
	c.Cache.DelaysTTL = getDurationEnv("CACHE_TTL_DELAYS", c.Cache.DelaysTTL)

	c.Polling.DisruptionsInterval = getDurationEnv("POLL_INTERVAL_DISRUPTIONS", c.Polling.DisruptionsInterval)
	c.Polling.TrafficInterval = getDurationEnv("POLL_INTERVAL_TRAFFIC", c.Polling.TrafficInterval)
	c.Polling.WarmupTimeout = getDurationEnv("WARMUP_TIMEOUT", c.Polling.WarmupTimeout)

	c.Prediction.RadiusKM = getFloatEnv("PREDICTION_RADIUS_KM", c.Prediction.RadiusKM)
	c.Prediction.Timezone = getEnv("PREDICTION_TIMEZONE", c.Prediction.Timezone)

	c.Stream.QueueSize = getIntEnv("STREAM_QUEUE_SIZE", c.Stream.QueueSize)
	c.Stream.Heartbeat = getDurationEnv("STREAM_HEARTBEAT", c.Stream.Heartbeat)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.FilePath = getEnv("LOG_FILE", c.Logging.FilePath)
	c.Logging.DiscordURL = getEnv("DISCORD_WEBHOOK_URL", c.Logging.DiscordURL)
}

// Validate checks struct constraints and that the timezone resolves.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := time.LoadLocation(c.Prediction.Timezone); err != nil {
		return fmt.Errorf("invalid configuration: timezone %q: %w", c.Prediction.Timezone, err)
	}
	return nil
}

// Location returns the local timezone used for peak-hour windows.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Prediction.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		// bare integers are seconds
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
