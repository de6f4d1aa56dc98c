// Package config loads roofiq configuration from config.yaml and ROOFIQ_*
// environment variables, and initialises the global logger.
package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Structural StructuralConfig `yaml:"structural" mapstructure:"structural"`
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	Overpass   OverpassConfig   `yaml:"overpass" mapstructure:"overpass"`
	Footprints FootprintsConfig `yaml:"footprints" mapstructure:"footprints"`
	Geometry   GeometryConfig   `yaml:"geometry" mapstructure:"geometry"`
	Consensus  ConsensusConfig  `yaml:"consensus" mapstructure:"consensus"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// StoreConfig configures the analysis store. Driver is "sqlite" or "postgres".
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig configures the image-analysis backend.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	MaxTokens   int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// StructuralConfig configures the structural-analysis backend.
type StructuralConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Key         string  `yaml:"key" mapstructure:"key"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
	Burst       int     `yaml:"burst" mapstructure:"burst"`
}

// GeocodeConfig configures the Census geocoder.
type GeocodeConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// OverpassConfig configures OSM building lookups.
type OverpassConfig struct {
	Enabled                  bool   `yaml:"enabled" mapstructure:"enabled"`
	Endpoint                 string `yaml:"endpoint" mapstructure:"endpoint"`
	RadiusMeters             int    `yaml:"radius_meters" mapstructure:"radius_meters"`
	NeighborhoodRadiusMeters int    `yaml:"neighborhood_radius_meters" mapstructure:"neighborhood_radius_meters"`
	MaxParallel              int    `yaml:"max_parallel" mapstructure:"max_parallel"`
	TimeoutSecs              int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// FootprintsConfig configures the local footprint dataset.
type FootprintsConfig struct {
	ShapefilePath string `yaml:"shapefile_path" mapstructure:"shapefile_path"`
}

// GeometryConfig configures the geometry estimator.
type GeometryConfig struct {
	StyleRulesFile string `yaml:"style_rules_file" mapstructure:"style_rules_file"`
}

// ConsensusConfig configures the consensus engine.
type ConsensusConfig struct {
	DisagreementThreshold float64 `yaml:"disagreement_threshold" mapstructure:"disagreement_threshold"` // sq ft
}

// CacheConfig bounds the result cache.
type CacheConfig struct {
	Size       int `yaml:"size" mapstructure:"size"`
	TTLMinutes int `yaml:"ttl_minutes" mapstructure:"ttl_minutes"`
}

// RetryConfig configures backend retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures backend circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// BatchConfig configures batch analysis.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"` // 0-1
	OpenFlagThreshold    int     `yaml:"open_flag_threshold" mapstructure:"open_flag_threshold"`
	ErrorRateThreshold   float64 `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"` // mean abs pct error, 0-1
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ROOFIQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 10)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "roofiq.db")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("structural.base_url", "http://localhost:8090")
	v.SetDefault("structural.key", "")
	v.SetDefault("structural.timeout_secs", 30)
	v.SetDefault("structural.rate_limit", 5.0)
	v.SetDefault("structural.burst", 5)
	v.SetDefault("geocode.base_url", "https://geocoding.geo.census.gov/geocoder")
	v.SetDefault("geocode.rate_limit", 5.0)
	v.SetDefault("geocode.timeout_secs", 15)
	v.SetDefault("overpass.enabled", true)
	v.SetDefault("overpass.endpoint", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overpass.radius_meters", 30)
	v.SetDefault("overpass.neighborhood_radius_meters", 250)
	v.SetDefault("overpass.max_parallel", 2)
	v.SetDefault("overpass.timeout_secs", 25)
	v.SetDefault("footprints.shapefile_path", "")
	v.SetDefault("geometry.style_rules_file", "")
	v.SetDefault("consensus.disagreement_threshold", 100.0)
	v.SetDefault("cache.size", 1000)
	v.SetDefault("cache.ttl_minutes", 1440)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.open_flag_threshold", 50)
	v.SetDefault("monitoring.error_rate_threshold", 0.15)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of "predict",
// "serve" or "store"; "predict" and "serve" also need the store.
func (c *Config) Validate(mode string) error {
	var problems []string
	require := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not sqlite or postgres", c.Store.Driver))
	}
	require(c.Store.DatabaseURL != "", "store.database_url is required")

	switch mode {
	case "store":
	case "predict", "serve":
		require(c.Anthropic.Key != "", "anthropic.key is required")
		require(c.Structural.BaseURL != "", "structural.base_url is required")
		require(c.Consensus.DisagreementThreshold > 0, "consensus.disagreement_threshold must be positive")
		require(c.Batch.Concurrency > 0, "batch.concurrency must be positive")
		if mode == "serve" {
			require(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d is out of range", c.Server.Port)
		}
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
