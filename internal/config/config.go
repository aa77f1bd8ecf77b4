package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides, e.g. HUD__ROUTING__OSRM_URL
const EnvPrefix = "HUD__"

// Config represents the complete HUD client configuration
type Config struct {
	Routing    RoutingConfig    `koanf:"routing"`
	Navigation NavigationConfig `koanf:"navigation"`
	Location   LocationConfig   `koanf:"location"`
	Publisher  PublisherConfig  `koanf:"publisher"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	TripLog    TripLogConfig    `koanf:"triplog"`
}

// RoutingConfig selects and configures the route provider
type RoutingConfig struct {
	Provider             string        `koanf:"provider"` // "osrm" or "google"
	Profile              string        `koanf:"profile"`
	OSRMURL              string        `koanf:"osrm_url"`
	GoogleAPIKey         string        `koanf:"google_api_key"`
	CacheTTL             time.Duration `koanf:"cache_ttl"`
	CacheCleanupInterval time.Duration `koanf:"cache_cleanup_interval"`
}

// NavigationConfig holds engine and session tuning
type NavigationConfig struct {
	AdvanceThreshold    float64       `koanf:"advance_threshold"`
	LaneWindowMin       float64       `koanf:"lane_window_min"`
	LaneWindowMax       float64       `koanf:"lane_window_max"`
	DeviationMeters     float64       `koanf:"deviation_meters"` // 0 disables automatic recalculation
	RecalculateCooldown time.Duration `koanf:"recalculate_cooldown"`
}

// LocationConfig configures the position feed
type LocationConfig struct {
	NATSURL string `koanf:"nats_url"`
	Subject string `koanf:"subject"`
}

// PublisherConfig configures snapshot publishing over NATS
type PublisherConfig struct {
	Enabled bool   `koanf:"enabled"`
	Subject string `koanf:"subject"`
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// TripLogConfig configures the trip journal
type TripLogConfig struct {
	File        string `koanf:"file"`
	MaxSizeMB   int    `koanf:"max_size_mb"`
	MaxBackups  int    `koanf:"max_backups"`
	MaxAgeDays  int    `koanf:"max_age_days"`
	PostgresDSN string `koanf:"postgres_dsn"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Routing: RoutingConfig{
			Provider:             "osrm",
			Profile:              "car",
			OSRMURL:              "https://router.project-osrm.org",
			CacheTTL:             10 * time.Minute,
			CacheCleanupInterval: 5 * time.Minute,
		},
		Navigation: NavigationConfig{
			AdvanceThreshold:    20,
			LaneWindowMin:       80,
			LaneWindowMax:       300,
			DeviationMeters:     50,
			RecalculateCooldown: 15 * time.Second,
		},
		Location: LocationConfig{
			NATSURL: "nats://127.0.0.1:4222",
			Subject: "hud.position",
		},
		Publisher: PublisherConfig{
			Enabled: true,
			Subject: "hud.snapshot",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		TripLog: TripLogConfig{
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, a .env
// file in the working directory and HUD__ environment variables, in that
// order of precedence.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return load(path)
}

func load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps HUD__ROUTING__OSRM_URL to routing.osrm_url
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func defaults() map[string]interface{} {
	d := DefaultConfig()
	return map[string]interface{}{
		"routing.provider":               d.Routing.Provider,
		"routing.profile":                d.Routing.Profile,
		"routing.osrm_url":               d.Routing.OSRMURL,
		"routing.google_api_key":         d.Routing.GoogleAPIKey,
		"routing.cache_ttl":              d.Routing.CacheTTL,
		"routing.cache_cleanup_interval": d.Routing.CacheCleanupInterval,

		"navigation.advance_threshold":    d.Navigation.AdvanceThreshold,
		"navigation.lane_window_min":      d.Navigation.LaneWindowMin,
		"navigation.lane_window_max":      d.Navigation.LaneWindowMax,
		"navigation.deviation_meters":     d.Navigation.DeviationMeters,
		"navigation.recalculate_cooldown": d.Navigation.RecalculateCooldown,

		"location.nats_url": d.Location.NATSURL,
		"location.subject":  d.Location.Subject,

		"publisher.enabled": d.Publisher.Enabled,
		"publisher.subject": d.Publisher.Subject,

		"metrics.enabled": d.Metrics.Enabled,

		"triplog.file":         d.TripLog.File,
		"triplog.max_size_mb":  d.TripLog.MaxSizeMB,
		"triplog.max_backups":  d.TripLog.MaxBackups,
		"triplog.max_age_days": d.TripLog.MaxAgeDays,
		"triplog.postgres_dsn": d.TripLog.PostgresDSN,
	}
}

// Validate checks the configuration for values the client cannot run with
func (c *Config) Validate() error {
	var errs []error

	switch c.Routing.Provider {
	case "osrm":
		if c.Routing.OSRMURL == "" {
			errs = append(errs, errors.New("routing.osrm_url is required for the osrm provider"))
		}
	case "google":
		if c.Routing.GoogleAPIKey == "" {
			errs = append(errs, errors.New("routing.google_api_key is required for the google provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown routing.provider %q", c.Routing.Provider))
	}

	switch c.Routing.Profile {
	case "car", "bike", "foot":
	default:
		errs = append(errs, fmt.Errorf("unknown routing.profile %q", c.Routing.Profile))
	}

	if c.Navigation.AdvanceThreshold <= 0 {
		errs = append(errs, errors.New("navigation.advance_threshold must be positive"))
	}
	if c.Navigation.LaneWindowMin < 0 || c.Navigation.LaneWindowMax <= c.Navigation.LaneWindowMin {
		errs = append(errs, errors.New("navigation lane window must satisfy 0 <= min < max"))
	}
	if c.Navigation.DeviationMeters < 0 {
		errs = append(errs, errors.New("navigation.deviation_meters must not be negative"))
	}
	if c.Location.Subject == "" {
		errs = append(errs, errors.New("location.subject is required"))
	}
	if c.Publisher.Enabled && c.Publisher.Subject == "" {
		errs = append(errs, errors.New("publisher.subject is required when publishing is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
