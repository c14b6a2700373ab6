// Package config provides configuration management for the application.
//
// Configuration is resolved in layers: built-in defaults, then an optional
// YAML file whose values may reference the environment with ${VAR} or
// ${VAR:-default}, then environment variables, which always win.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Operation names used as keys of Config.Operations.
const (
	OperationPostalCode   = "postal_code"
	OperationRegions      = "regions"
	OperationWeather      = "weather"
	OperationTaxID        = "tax_id"
	OperationMarketQuotes = "market_quotes"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig               `yaml:"server"`
	Logging    LogConfig                  `yaml:"logging"`
	Metrics    MetricsConfig              `yaml:"metrics"`
	HTTP       HTTPConfig                 `yaml:"http"`
	Cache      CacheConfig                `yaml:"cache"`
	Session    SessionConfig              `yaml:"session"`
	Retry      RetryConfig                `yaml:"retry"`
	Operations map[string]OperationConfig `yaml:"operations"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	// MasterKey protects the API with a bearer token when set
	MasterKey string `yaml:"master_key"`
	// BodySizeLimit accepts echo's format, e.g. "1M"
	BodySizeLimit string `yaml:"body_size_limit"`
	// Environment is "development" or "production"
	Environment string `yaml:"environment"`
}

// Production reports whether the server runs with production defaults.
func (s ServerConfig) Production() bool {
	return strings.EqualFold(s.Environment, "production")
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// HTTPConfig holds outbound HTTP client configuration. Values are seconds.
type HTTPConfig struct {
	Timeout               int `yaml:"timeout"`
	ResponseHeaderTimeout int `yaml:"response_header_timeout"`
}

// CacheConfig selects and configures the result cache backend
type CacheConfig struct {
	// Type is "memory", "redis" or "olric"
	Type string `yaml:"type"`
	// Tiered puts an in-process memory tier in front of a shared backend
	Tiered bool `yaml:"tiered"`
	// LocalTTL bounds how long the memory tier keeps a shared entry
	LocalTTL time.Duration `yaml:"local_ttl"`
	// SweepInterval is how often expired memory entries are purged; 0 disables the janitor
	SweepInterval time.Duration `yaml:"sweep_interval"`

	Redis RedisConfig `yaml:"redis"`
	Olric OlricConfig `yaml:"olric"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// OlricConfig holds Olric cluster client settings
type OlricConfig struct {
	Servers []string `yaml:"servers"`
	DMap    string   `yaml:"dmap"`
}

// SessionConfig configures credential storage and the sign-in redirect
type SessionConfig struct {
	// Type is "memory" or "redis"
	Type          string        `yaml:"type"`
	RedisURL      string        `yaml:"redis_url"`
	RedisKey      string        `yaml:"redis_key"`
	RedirectDelay time.Duration `yaml:"redirect_delay"`
	SignInPath    string        `yaml:"sign_in_path"`
}

// RetryConfig holds the default retry policy
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	Delay             time.Duration `yaml:"delay"`
	Backoff           string        `yaml:"backoff"` // linear, exponential
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	// AllowDuplicateFetches disables sharing of in-flight fetches for the same key
	AllowDuplicateFetches bool `yaml:"allow_duplicate_fetches"`
}

// OperationConfig describes one upstream data source. Zero retry fields
// inherit the global RetryConfig.
type OperationConfig struct {
	BaseURL      string        `yaml:"base_url"`
	FallbackURLs []string      `yaml:"fallback_urls"`
	Timeout      time.Duration `yaml:"timeout"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	APIKey       string        `yaml:"api_key"`

	MaxAttempts       int           `yaml:"max_attempts"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	Backoff           string        `yaml:"backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoadResult is the outcome of Load.
type LoadResult struct {
	Config *Config
	// File is the YAML file that was applied, empty when none was found
	File string
}

// Load resolves the configuration. path names an optional YAML file; when
// empty, config.yaml and config/config.yaml are tried in that order.
func Load(path string) (*LoadResult, error) {
	// A missing .env file is not an error
	_ = godotenv.Load()

	cfg := buildDefaultConfig()

	file, err := applyYAML(cfg, path)
	if err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &LoadResult{Config: cfg, File: file}, nil
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return buildDefaultConfig()
}

func buildDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodySizeLimit: "1M",
			Environment:   "development",
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
		HTTP: HTTPConfig{
			Timeout:               30,
			ResponseHeaderTimeout: 15,
		},
		Cache: CacheConfig{
			Type:          "memory",
			LocalTTL:      time.Minute,
			SweepInterval: time.Minute,
			Olric: OlricConfig{
				DMap: "agrodata-cache",
			},
		},
		Session: SessionConfig{
			Type:          "memory",
			RedirectDelay: 2 * time.Second,
			SignInPath:    "/login",
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			Delay:             time.Second,
			Backoff:           "linear",
			BackoffMultiplier: 2.0,
			MaxDelay:          30 * time.Second,
		},
		Operations: defaultOperations(),
	}
}

func defaultOperations() map[string]OperationConfig {
	return map[string]OperationConfig{
		OperationPostalCode: {
			BaseURL:      "https://viacep.com.br/ws",
			FallbackURLs: []string{"https://brasilapi.com.br/api/cep/v1"},
			Timeout:      5 * time.Second,
			CacheTTL:     24 * time.Hour,
		},
		OperationRegions: {
			BaseURL:  "https://servicodados.ibge.gov.br/api/v1/localidades",
			Timeout:  5 * time.Second,
			CacheTTL: 24 * time.Hour,
		},
		OperationWeather: {
			BaseURL:  "https://api.openweathermap.org/data/2.5",
			Timeout:  5 * time.Second,
			CacheTTL: 10 * time.Minute,
		},
		OperationTaxID: {
			BaseURL:  "https://receitaws.com.br/v1",
			Timeout:  10 * time.Second,
			CacheTTL: time.Hour,
		},
		OperationMarketQuotes: {
			BaseURL:  "https://api.agrolink.com.br",
			Timeout:  5 * time.Second,
			CacheTTL: 5 * time.Minute,
		},
	}
}

// applyYAML merges the YAML file into cfg and returns the path used.
func applyYAML(cfg *Config, path string) (string, error) {
	candidates := []string{path}
	if path == "" {
		candidates = []string{"config.yaml", "config/config.yaml"}
	}

	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && path == "" {
				continue
			}
			return "", fmt.Errorf("failed to read config file: %w", err)
		}

		// Operations given in the file are merged over the defaults per field
		defaults := cfg.Operations
		cfg.Operations = nil

		if err := yaml.Unmarshal([]byte(expandString(string(data))), cfg); err != nil {
			return "", fmt.Errorf("failed to parse config file %s: %w", candidate, err)
		}

		cfg.Operations = mergeOperations(defaults, cfg.Operations)
		return candidate, nil
	}
	return "", nil
}

func mergeOperations(defaults, overrides map[string]OperationConfig) map[string]OperationConfig {
	out := make(map[string]OperationConfig, len(defaults)+len(overrides))
	for name, op := range defaults {
		out[name] = op
	}
	for name, o := range overrides {
		op := out[name]
		if o.BaseURL != "" {
			op.BaseURL = o.BaseURL
		}
		if o.FallbackURLs != nil {
			op.FallbackURLs = o.FallbackURLs
		}
		if o.Timeout != 0 {
			op.Timeout = o.Timeout
		}
		if o.CacheTTL != 0 {
			op.CacheTTL = o.CacheTTL
		}
		if o.APIKey != "" {
			op.APIKey = o.APIKey
		}
		if o.MaxAttempts != 0 {
			op.MaxAttempts = o.MaxAttempts
		}
		if o.RetryDelay != 0 {
			op.RetryDelay = o.RetryDelay
		}
		if o.Backoff != "" {
			op.Backoff = o.Backoff
		}
		if o.BackoffMultiplier != 0 {
			op.BackoffMultiplier = o.BackoffMultiplier
		}
		out[name] = op
	}
	return out
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default} with values from the
// environment. Placeholders without a default whose variable is unset or
// empty are left untouched.
func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := placeholderPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if parts[2] != "" {
			return parts[3]
		}
		return match
	})
}

func applyEnvOverrides(cfg *Config) error {
	setString("PORT", &cfg.Server.Port)
	setString("AGRODATA_MASTER_KEY", &cfg.Server.MasterKey)
	setString("APP_ENV", &cfg.Server.Environment)
	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)
	setString("METRICS_ENDPOINT", &cfg.Metrics.Endpoint)
	setString("CACHE_TYPE", &cfg.Cache.Type)
	setString("SESSION_TYPE", &cfg.Session.Type)
	setString("RETRY_BACKOFF", &cfg.Retry.Backoff)

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Redis.URL = v
		cfg.Session.RedisURL = v
	}
	if v := os.Getenv("OLRIC_SERVERS"); v != "" {
		cfg.Cache.Olric.Servers = splitList(v)
	}

	var errs []error
	errs = append(errs,
		setBool("METRICS_ENABLED", &cfg.Metrics.Enabled),
		setBool("CACHE_TIERED", &cfg.Cache.Tiered),
		setBool("ALLOW_DUPLICATE_FETCHES", &cfg.Retry.AllowDuplicateFetches),
		setInt("HTTP_TIMEOUT", &cfg.HTTP.Timeout),
		setInt("HTTP_RESPONSE_HEADER_TIMEOUT", &cfg.HTTP.ResponseHeaderTimeout),
		setInt("RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts),
		setDuration("RETRY_DELAY", &cfg.Retry.Delay),
	)

	apiKeys := map[string]string{
		"WEATHER_API_KEY": OperationWeather,
		"QUOTES_API_KEY":  OperationMarketQuotes,
		"TAX_ID_API_KEY":  OperationTaxID,
	}
	for env, name := range apiKeys {
		if v := os.Getenv(env); v != "" {
			op := cfg.Operations[name]
			op.APIKey = v
			cfg.Operations[name] = op
		}
	}

	return errors.Join(errs...)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %q is not a boolean", key, v)
	}
	*dst = b
	return nil
}

func setInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %q is not an integer", key, v)
	}
	*dst = n
	return nil
}

// setDuration accepts either plain integers (milliseconds) or Go duration
// strings such as "1500ms" or "2s".
func setDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if ms, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %q is not a duration", key, v)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) validate() error {
	var errs []error

	switch c.Cache.Type {
	case "memory":
	case "redis":
		if c.Cache.Redis.URL == "" {
			errs = append(errs, errors.New("cache.redis.url is required when cache.type is redis"))
		}
	case "olric":
		if len(c.Cache.Olric.Servers) == 0 {
			errs = append(errs, errors.New("cache.olric.servers is required when cache.type is olric"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.type %q (expected memory, redis or olric)", c.Cache.Type))
	}

	switch c.Session.Type {
	case "memory":
	case "redis":
		if c.Session.RedisURL == "" {
			errs = append(errs, errors.New("session.redis_url is required when session.type is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session.type %q (expected memory or redis)", c.Session.Type))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if !validBackoff(c.Retry.Backoff) {
		errs = append(errs, fmt.Errorf("unknown retry.backoff %q (expected linear or exponential)", c.Retry.Backoff))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown logging.format %q (expected text or json)", c.Logging.Format))
	}

	for name, op := range c.Operations {
		if op.BaseURL == "" {
			errs = append(errs, fmt.Errorf("operations.%s.base_url is required", name))
		}
		if op.Backoff != "" && !validBackoff(op.Backoff) {
			errs = append(errs, fmt.Errorf("unknown operations.%s.backoff %q", name, op.Backoff))
		}
	}

	return errors.Join(errs...)
}

func validBackoff(b string) bool {
	return b == "linear" || b == "exponential"
}
