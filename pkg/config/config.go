// Package config provides configuration file support for cachegpt.
// It handles loading, validation, and environment variable interpolation
// for cachegpt.yaml configuration files.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Fender1992/cachegpt-sub001/pkg/cache"
	"github.com/Fender1992/cachegpt-sub001/pkg/flags"
	"github.com/Fender1992/cachegpt-sub001/pkg/llm"
	"github.com/Fender1992/cachegpt-sub001/pkg/logging"
	"github.com/Fender1992/cachegpt-sub001/pkg/predict"
	"github.com/Fender1992/cachegpt-sub001/pkg/ranking"
	"github.com/Fender1992/cachegpt-sub001/pkg/scheduler"
)

// Config represents the full cachegpt configuration.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Embedding EmbeddingConfig  `mapstructure:"embedding"`
	Cache     cache.Config     `mapstructure:"cache"`
	Ranking   ranking.Config   `mapstructure:"ranking"`
	Predict   predict.Config   `mapstructure:"predict"`
	Scheduler scheduler.Config `mapstructure:"scheduler"`
	Store     StoreConfig      `mapstructure:"store"`
	Flags     FlagsConfig      `mapstructure:"flags"`
	LLM       LLMConfig        `mapstructure:"llm"`
	Logging   logging.Config   `mapstructure:"logging"`
	Telemetry TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider is "openai" or "local". Local skips the network entirely.
	Provider  string        `mapstructure:"provider"`
	Model     string        `mapstructure:"model"`
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Dimension int           `mapstructure:"dimension"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheSize int           `mapstructure:"cache_size"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// FlagsConfig selects the feature flag source.
type FlagsConfig struct {
	// Backend is "static" or "redis".
	Backend string `mapstructure:"backend"`

	// Defaults answer every flag lookup for the static backend and back
	// up Redis when a key is missing or Redis is down.
	Defaults map[string]bool  `mapstructure:"defaults"`
	Redis    flags.RedisConfig `mapstructure:"redis"`
}

// LLMConfig holds upstream provider settings.
type LLMConfig struct {
	OpenAI    llm.ProviderConfig `mapstructure:"openai"`
	Anthropic llm.ProviderConfig `mapstructure:"anthropic"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Tracing TracingConfig `mapstructure:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
	Insecure   bool    `mapstructure:"insecure"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			Timeout:   10 * time.Second,
			CacheSize: 1000,
		},
		Cache:     cache.DefaultConfig(),
		Ranking:   ranking.DefaultConfig(),
		Predict:   predict.DefaultConfig(),
		Scheduler: scheduler.DefaultConfig(),
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "cachegpt.db",
		},
		Flags: FlagsConfig{
			Backend: "static",
			Defaults: map[string]bool{
				flags.SemanticCache:        true,
				flags.PredictivePrewarming: false,
			},
			Redis: flags.DefaultRedisConfig(),
		},
		LLM: LLMConfig{
			OpenAI: llm.ProviderConfig{
				Model:      "gpt-4o-mini",
				MaxTokens:  1024,
				Timeout:    60 * time.Second,
				TokenPrice: llm.DefaultTokenPrice,
			},
			Anthropic: llm.ProviderConfig{
				Model:      "claude-3-5-haiku-latest",
				MaxTokens:  1024,
				Timeout:    60 * time.Second,
				TokenPrice: llm.DefaultTokenPrice,
			},
		},
		Logging: logging.DefaultConfig(),
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "otlp",
				Endpoint:   "localhost:4317",
				SampleRate: 1.0,
				Insecure:   true,
			},
			Metrics: MetricsConfig{Enabled: true},
		},
	}
}

// Load reads configuration from the given viper instance and returns
// a validated Config. Environment variables in string values are
// interpolated using ${VAR} syntax.
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Interpolate environment variables in string fields
	interpolateConfig(cfg)
	cfg.Cache.Dimension = cfg.Embedding.Dimension

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile reads a specific config file and returns a validated Config.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Load(v)
}

// Validate checks the configuration for errors and returns a descriptive
// error listing every invalid field.
func Validate(cfg *Config) error {
	var errs []string

	// Server validation
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port: must be between 0 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, "server.read_timeout: must be non-negative")
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, "server.write_timeout: must be non-negative")
	}

	// Embedding validation
	validProviders := map[string]bool{"openai": true, "local": true, "": true}
	if !validProviders[cfg.Embedding.Provider] {
		errs = append(errs, fmt.Sprintf("embedding.provider: unsupported provider %q (supported: openai, local)", cfg.Embedding.Provider))
	}
	if cfg.Embedding.Dimension <= 0 {
		errs = append(errs, fmt.Sprintf("embedding.dimension: must be positive, got %d", cfg.Embedding.Dimension))
	}
	if cfg.Embedding.Timeout < 0 {
		errs = append(errs, "embedding.timeout: must be non-negative")
	}
	if cfg.Embedding.CacheSize < 0 {
		errs = append(errs, "embedding.cache_size: must be non-negative")
	}

	// Cache validation
	if !inUnit(cfg.Cache.SimilarityThreshold) {
		errs = append(errs, fmt.Sprintf("cache.similarity_threshold: must be between 0 and 1, got %f", cfg.Cache.SimilarityThreshold))
	}
	if !inUnit(cfg.Cache.HighConfidence) || cfg.Cache.HighConfidence < cfg.Cache.SimilarityThreshold {
		errs = append(errs, fmt.Sprintf("cache.high_confidence: must be between similarity_threshold and 1, got %f", cfg.Cache.HighConfidence))
	}
	if cfg.Cache.MaxResults < 0 {
		errs = append(errs, "cache.max_results: must be non-negative")
	}
	if cfg.Cache.Retention < 0 {
		errs = append(errs, "cache.retention: must be non-negative")
	}

	// Ranking validation
	for _, e := range cfg.Ranking.Validate() {
		errs = append(errs, "ranking: "+e)
	}

	// Predict validation
	if !inUnit(cfg.Predict.MinProbability) {
		errs = append(errs, fmt.Sprintf("predict.min_probability: must be between 0 and 1, got %f", cfg.Predict.MinProbability))
	}
	if !inUnit(cfg.Predict.PrewarmProbability) {
		errs = append(errs, fmt.Sprintf("predict.prewarm_probability: must be between 0 and 1, got %f", cfg.Predict.PrewarmProbability))
	}
	if !inUnit(cfg.Predict.DuplicateSimilarity) {
		errs = append(errs, fmt.Sprintf("predict.duplicate_similarity: must be between 0 and 1, got %f", cfg.Predict.DuplicateSimilarity))
	}
	if cfg.Predict.Location != "" {
		if _, err := time.LoadLocation(cfg.Predict.Location); err != nil {
			errs = append(errs, fmt.Sprintf("predict.location: %v", err))
		}
	}

	// LLM validation
	if cfg.LLM.OpenAI.TokenPrice < 0 {
		errs = append(errs, "llm.openai.token_price: must be non-negative")
	}
	if cfg.LLM.Anthropic.TokenPrice < 0 {
		errs = append(errs, "llm.anthropic.token_price: must be non-negative")
	}

	// Store validation
	switch cfg.Store.Driver {
	case "memory", "":
	case "sqlite":
		if cfg.Store.Path == "" {
			errs = append(errs, "store.path: required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver: unsupported driver %q (supported: sqlite, memory)", cfg.Store.Driver))
	}

	// Flags validation
	switch cfg.Flags.Backend {
	case "static", "":
	case "redis":
		if cfg.Flags.Redis.URL == "" {
			errs = append(errs, "flags.redis.url: required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("flags.backend: unsupported backend %q (supported: static, redis)", cfg.Flags.Backend))
	}

	// Logging validation
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, fmt.Sprintf("logging.level: unsupported level %q", cfg.Logging.Level))
	}
	validFormats := map[string]bool{logging.FormatJSON: true, logging.FormatPretty: true, "": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, fmt.Sprintf("logging.format: unsupported format %q (supported: json, pretty)", cfg.Logging.Format))
	}

	// Telemetry validation
	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true, "": true}
	if !validExporters[cfg.Telemetry.Tracing.Exporter] {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.exporter: unsupported exporter %q (supported: otlp, stdout, none)", cfg.Telemetry.Tracing.Exporter))
	}
	if !inUnit(cfg.Telemetry.Tracing.SampleRate) {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.sample_rate: must be between 0 and 1, got %f", cfg.Telemetry.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnv replaces ${VAR} and ${VAR:-default} patterns in a string
// with the corresponding environment variable values.
func InterpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		if defaultVal != "" {
			return defaultVal
		}
		return match
	})
}

// interpolateSecret interpolates s and drops it entirely when a
// reference stays unresolved, so a missing key reads as unset.
func interpolateSecret(s string) string {
	s = InterpolateEnv(s)
	if envVarPattern.MatchString(s) {
		return ""
	}
	return s
}

// interpolateConfig applies environment variable interpolation to all
// string fields in the config.
func interpolateConfig(cfg *Config) {
	cfg.Server.Host = InterpolateEnv(cfg.Server.Host)
	cfg.Embedding.Provider = InterpolateEnv(cfg.Embedding.Provider)
	cfg.Embedding.Model = InterpolateEnv(cfg.Embedding.Model)
	cfg.Embedding.APIKey = interpolateSecret(cfg.Embedding.APIKey)
	cfg.Embedding.BaseURL = InterpolateEnv(cfg.Embedding.BaseURL)
	cfg.Store.Driver = InterpolateEnv(cfg.Store.Driver)
	cfg.Store.Path = InterpolateEnv(cfg.Store.Path)
	cfg.Flags.Backend = InterpolateEnv(cfg.Flags.Backend)
	cfg.Flags.Redis.URL = InterpolateEnv(cfg.Flags.Redis.URL)
	cfg.Flags.Redis.Password = interpolateSecret(cfg.Flags.Redis.Password)
	cfg.Predict.Location = InterpolateEnv(cfg.Predict.Location)

	for _, p := range []*llm.ProviderConfig{&cfg.LLM.OpenAI, &cfg.LLM.Anthropic} {
		p.APIKey = interpolateSecret(p.APIKey)
		p.BaseURL = InterpolateEnv(p.BaseURL)
		p.Model = InterpolateEnv(p.Model)
	}

	cfg.Logging.Output = InterpolateEnv(cfg.Logging.Output)
	cfg.Telemetry.Tracing.Exporter = InterpolateEnv(cfg.Telemetry.Tracing.Exporter)
	cfg.Telemetry.Tracing.Endpoint = InterpolateEnv(cfg.Telemetry.Tracing.Endpoint)
}

// GenerateTemplate returns a YAML template string with all available
// configuration options and their defaults, suitable for writing to
// a cachegpt.yaml file.
func GenerateTemplate() string {
	return `# cachegpt configuration

server:
  port: 8080
  host: 0.0.0.0
  read_timeout: 30s
  write_timeout: 60s
  shutdown_timeout: 30s

embedding:
  provider: openai     # openai or local
  model: text-embedding-3-small
  api_key: ${OPENAI_API_KEY}
  dimension: 1536
  timeout: 10s
  cache_size: 1000

cache:
  similarity_threshold: 0.85
  max_results: 50       # split evenly across the five tiers
  high_confidence: 0.95
  pooled_model: free-model
  pooled_provider: mixed
  seed_cost: 0.001
  hit_value: 0.002
  retention: 720h       # frozen entries unread this long are archived
  rebalance_concurrency: 4

ranking:
  frequency_weight: 0.5
  recency_weight: 0.3
  value_weight: 0.2
  saturation: 100
  half_life: 168h
  value_cap: 1.0
  hot_threshold: 0.70
  warm_threshold: 0.50
  cool_threshold: 0.30
  cold_threshold: 0.15

predict:
  min_access_count: 2
  max_patterns: 50
  max_predictions: 10
  min_probability: 0.3
  prewarm_probability: 0.6
  duplicate_similarity: 0.9
  prewarm_model: free-model
  prewarm_provider: mixed
  upstream_model: gpt-4o-mini
  prewarm_concurrency: 4
  budget: 2m
  location: UTC

scheduler:
  prewarm_interval: 15m
  rebalance_interval: 1h
  archive_interval: 24h
  run_on_start: false

store:
  driver: sqlite       # sqlite or memory
  path: cachegpt.db

flags:
  backend: static      # static or redis
  defaults:
    semantic_cache: true
    predictive_prewarming: false
  redis:
    url: ${REDIS_URL:-redis://localhost:6379/0}
    key_prefix: "cachegpt:flags:"
    timeout: 250ms

llm:
  openai:
    api_key: ${OPENAI_API_KEY}
    model: gpt-4o-mini
    max_tokens: 1024
    timeout: 60s
    token_price: 0.000002   # USD per token, prices cost_saved and usage
  anthropic:
    api_key: ${ANTHROPIC_API_KEY}
    model: claude-3-5-haiku-latest
    max_tokens: 1024
    timeout: 60s
    token_price: 0.000002

logging:
  level: info          # debug, info, warn, error
  format: json         # json or pretty
  output: stderr       # stderr, stdout, or a file path

telemetry:
  tracing:
    enabled: false
    exporter: otlp       # otlp, stdout, or none
    endpoint: localhost:4317
    sample_rate: 1.0     # 0.0 to 1.0
    insecure: true
  metrics:
    enabled: true
`
}
