package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestBuildDefaultConfig(t *testing.T) {
	cfg := buildDefaultConfig()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.False(t, cfg.Server.Production())
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, "memory", cfg.Session.Type)
	assert.Equal(t, 2*time.Second, cfg.Session.RedirectDelay)
	assert.Equal(t, "/login", cfg.Session.SignInPath)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.Delay)
	assert.Equal(t, "linear", cfg.Retry.Backoff)

	ttls := map[string]time.Duration{
		OperationPostalCode:   24 * time.Hour,
		OperationRegions:      24 * time.Hour,
		OperationWeather:      10 * time.Minute,
		OperationTaxID:        time.Hour,
		OperationMarketQuotes: 5 * time.Minute,
	}
	for name, ttl := range ttls {
		op, ok := cfg.Operations[name]
		require.True(t, ok, name)
		assert.Equal(t, ttl, op.CacheTTL, name)
		assert.NotEmpty(t, op.BaseURL, name)
		assert.Empty(t, op.APIKey, name)
	}
	assert.Equal(t, []string{"https://brasilapi.com.br/api/cep/v1"}, cfg.Operations[OperationPostalCode].FallbackURLs)

	require.NoError(t, cfg.validate())
}

func TestApplyEnvOverrides(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:    "PORT override",
			envVars: map[string]string{"PORT": "3000"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "3000", cfg.Server.Port)
			},
		},
		{
			name:    "AGRODATA_MASTER_KEY override",
			envVars: map[string]string{"AGRODATA_MASTER_KEY": "my-secret"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "my-secret", cfg.Server.MasterKey)
			},
		},
		{
			name:    "production environment",
			envVars: map[string]string{"APP_ENV": "production", "LOG_FORMAT": "json", "LOG_LEVEL": "warn"},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Server.Production())
				assert.Equal(t, "json", cfg.Logging.Format)
				assert.Equal(t, "warn", cfg.Logging.Level)
			},
		},
		{
			name:    "cache overrides",
			envVars: map[string]string{"CACHE_TYPE": "redis", "REDIS_URL": "redis://localhost:6379/1", "CACHE_TIERED": "true"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "redis", cfg.Cache.Type)
				assert.Equal(t, "redis://localhost:6379/1", cfg.Cache.Redis.URL)
				assert.Equal(t, "redis://localhost:6379/1", cfg.Session.RedisURL)
				assert.True(t, cfg.Cache.Tiered)
			},
		},
		{
			name:    "olric servers",
			envVars: map[string]string{"OLRIC_SERVERS": "olric-1:3320, olric-2:3320,,"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"olric-1:3320", "olric-2:3320"}, cfg.Cache.Olric.Servers)
			},
		},
		{
			name:    "retry overrides",
			envVars: map[string]string{"RETRY_MAX_ATTEMPTS": "5", "RETRY_DELAY": "250", "RETRY_BACKOFF": "exponential"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 5, cfg.Retry.MaxAttempts)
				assert.Equal(t, 250*time.Millisecond, cfg.Retry.Delay)
				assert.Equal(t, "exponential", cfg.Retry.Backoff)
			},
		},
		{
			name:    "retry delay as duration",
			envVars: map[string]string{"RETRY_DELAY": "2s"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 2*time.Second, cfg.Retry.Delay)
			},
		},
		{
			name:    "API keys",
			envVars: map[string]string{"WEATHER_API_KEY": "w-key", "QUOTES_API_KEY": "q-key", "TAX_ID_API_KEY": "t-key"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "w-key", cfg.Operations[OperationWeather].APIKey)
				assert.Equal(t, "q-key", cfg.Operations[OperationMarketQuotes].APIKey)
				assert.Equal(t, "t-key", cfg.Operations[OperationTaxID].APIKey)
				assert.NotEmpty(t, cfg.Operations[OperationWeather].BaseURL, "other fields are kept")
			},
		},
		{
			name:    "bool and HTTP overrides",
			envVars: map[string]string{"METRICS_ENABLED": "1", "HTTP_TIMEOUT": "10", "HTTP_RESPONSE_HEADER_TIMEOUT": "4"},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Metrics.Enabled)
				assert.Equal(t, 10, cfg.HTTP.Timeout)
				assert.Equal(t, 4, cfg.HTTP.ResponseHeaderTimeout)
			},
		},
		{
			name:    "no env vars set preserves defaults",
			envVars: map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "8080", cfg.Server.Port)
				assert.Equal(t, 30, cfg.HTTP.Timeout)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := buildDefaultConfig()
			require.NoError(t, applyEnvOverrides(cfg))
			tt.check(t, cfg)
		})
	}
}

func TestApplyEnvOverrides_InvalidValues(t *testing.T) {
	t.Setenv("METRICS_ENABLED", "maybe")
	t.Setenv("RETRY_MAX_ATTEMPTS", "three")
	t.Setenv("RETRY_DELAY", "soon")

	err := applyEnvOverrides(buildDefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "METRICS_ENABLED")
	assert.Contains(t, err.Error(), "RETRY_MAX_ATTEMPTS")
	assert.Contains(t, err.Error(), "RETRY_DELAY")
}

func TestLoad_YAMLWithDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "${TEST_AGRODATA_PORT:-9999}"
cache:
  type: memory
  local_ttl: 30s
retry:
  max_attempts: 4
  delay: 500ms
operations:
  weather:
    api_key: "${TEST_WEATHER_KEY:-default-key}"
    cache_ttl: 15m
  custom:
    base_url: https://example.com/api
`)

	t.Run("UseDefaultValue", func(t *testing.T) {
		for _, key := range []string{"PORT", "WEATHER_API_KEY", "TEST_AGRODATA_PORT", "TEST_WEATHER_KEY"} {
			t.Setenv(key, "")
		}

		result, err := Load(path)
		require.NoError(t, err)
		cfg := result.Config

		assert.Equal(t, path, result.File)
		assert.Equal(t, "9999", cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Cache.LocalTTL)
		assert.Equal(t, 4, cfg.Retry.MaxAttempts)
		assert.Equal(t, 500*time.Millisecond, cfg.Retry.Delay)

		weather := cfg.Operations[OperationWeather]
		assert.Equal(t, "default-key", weather.APIKey)
		assert.Equal(t, 15*time.Minute, weather.CacheTTL)
		assert.Equal(t, "https://api.openweathermap.org/data/2.5", weather.BaseURL, "unset fields keep defaults")

		assert.Equal(t, "https://example.com/api", cfg.Operations["custom"].BaseURL)
		assert.Contains(t, cfg.Operations, OperationPostalCode)
	})

	t.Run("OverrideDefaultValue", func(t *testing.T) {
		t.Setenv("PORT", "")
		t.Setenv("WEATHER_API_KEY", "")
		t.Setenv("TEST_AGRODATA_PORT", "1111")
		t.Setenv("TEST_WEATHER_KEY", "real-key")

		result, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "1111", result.Config.Server.Port)
		assert.Equal(t, "real-key", result.Config.Operations[OperationWeather].APIKey)
	})

	t.Run("EnvironmentWinsOverFile", func(t *testing.T) {
		t.Setenv("PORT", "7070")
		t.Setenv("WEATHER_API_KEY", "env-key")

		result, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "7070", result.Config.Server.Port)
		assert.Equal(t, "env-key", result.Config.Operations[OperationWeather].APIKey)
	})
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("PORT", "9090")

	result, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, result.File)
	assert.Equal(t, "9090", result.Config.Server.Port)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{"unknown cache type", func(c *Config) { c.Cache.Type = "memcached" }, "cache.type"},
		{"redis without url", func(c *Config) { c.Cache.Type = "redis" }, "cache.redis.url"},
		{"olric without servers", func(c *Config) { c.Cache.Type = "olric" }, "cache.olric.servers"},
		{"redis session without url", func(c *Config) { c.Session.Type = "redis" }, "session.redis_url"},
		{"unknown session type", func(c *Config) { c.Session.Type = "cookie" }, "session.type"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"unknown backoff", func(c *Config) { c.Retry.Backoff = "fibonacci" }, "retry.backoff"},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"operation without base url", func(c *Config) {
			c.Operations["custom"] = OperationConfig{}
		}, "operations.custom.base_url"},
		{"operation backoff", func(c *Config) {
			op := c.Operations[OperationWeather]
			op.Backoff = "random"
			c.Operations[OperationWeather] = op
		}, "operations.weather.backoff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := buildDefaultConfig()
			tt.mutate(cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
