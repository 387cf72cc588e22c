package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, 2, cfg.Router.MaxRetries)

	assert.Equal(t, 1000, cfg.Cache.L1Capacity)
	assert.Equal(t, "assistant_cache.db", cfg.Cache.L2Path)
	assert.True(t, cfg.Cache.L3Enabled)

	assert.Equal(t, 10, cfg.Executor.MaxParallel)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.Empty(t, cfg.Providers)
}

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 2, cfg.Router.MaxRetries)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s

providers:
  - name: fast-remote
    kind: openai-compat
    base_url: "https://api.example.com/v1"
    api_key: "sk-test"
    model: "gpt-test"
  - name: local
    kind: anthropic-compat
    base_url: "http://localhost:11434"

router:
  max_retries: 5
  default_provider: fast-remote

cache:
  l1_capacity: 5000
  l3_enabled: false

log:
  level: "debug"
  format: "console"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "fast-remote", cfg.Providers[0].Name)
	assert.Equal(t, "openai-compat", cfg.Providers[0].Kind)
	assert.Equal(t, "sk-test", cfg.Providers[0].APIKey)
	assert.Equal(t, "local", cfg.Providers[1].Name)
	assert.Equal(t, "anthropic-compat", cfg.Providers[1].Kind)

	assert.Equal(t, 5, cfg.Router.MaxRetries)
	assert.Equal(t, "fast-remote", cfg.Router.DefaultProvider)

	assert.Equal(t, 5000, cfg.Cache.L1Capacity)
	assert.False(t, cfg.Cache.L3Enabled)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"ASSISTANT_SERVER_HTTP_PORT":     "7777",
		"ASSISTANT_SERVER_METRICS_PORT":  "8888",
		"ASSISTANT_ROUTER_MAX_RETRIES":   "4",
		"ASSISTANT_EXECUTOR_MAX_PARALLEL": "16",
		"ASSISTANT_LOG_LEVEL":            "warn",
	}

	for k, v := range envVars {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range envVars {
			os.Unsetenv(k)
		}
	}()

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, 8888, cfg.Server.MetricsPort)
	assert.Equal(t, 4, cfg.Router.MaxRetries)
	assert.Equal(t, 16, cfg.Executor.MaxParallel)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
router:
  max_retries: 3
  default_provider: "yaml-provider"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	os.Setenv("ASSISTANT_SERVER_HTTP_PORT", "9999")
	os.Setenv("ASSISTANT_ROUTER_MAX_RETRIES", "7")
	defer func() {
		os.Unsetenv("ASSISTANT_SERVER_HTTP_PORT")
		os.Unsetenv("ASSISTANT_ROUTER_MAX_RETRIES")
	}()

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, 7, cfg.Router.MaxRetries)
	// Untouched by env, should keep the YAML value.
	assert.Equal(t, "yaml-provider", cfg.Router.DefaultProvider)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	os.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")
	os.Setenv("MYAPP_ROUTER_MAX_RETRIES", "9")
	defer func() {
		os.Unsetenv("MYAPP_SERVER_HTTP_PORT")
		os.Unsetenv("MYAPP_ROUTER_MAX_RETRIES")
	}()

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Server.HTTPPort)
	assert.Equal(t, 9, cfg.Router.MaxRetries)
}

func TestLoader_WithValidator(t *testing.T) {
	validator := func(cfg *Config) error {
		if cfg.Server.HTTPPort < 1024 {
			return assert.AnError
		}
		return nil
	}

	os.Setenv("ASSISTANT_SERVER_HTTP_PORT", "80")
	defer os.Unsetenv("ASSISTANT_SERVER_HTTP_PORT")

	_, err := NewLoader().WithValidator(validator).Load()
	assert.Error(t, err)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/non/existent/path/config.yaml").Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
server:
  http_port: [invalid
  this is not valid yaml
`
	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err)

	_, err = NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	validConfig := func() *Config {
		c := DefaultConfig()
		c.Providers = []ProviderConfig{{Name: "fast-remote", Kind: "openai-compat"}}
		return c
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config with one provider",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid HTTP port (negative)",
			modify: func(c *Config) {
				c.Server.HTTPPort = -1
			},
			wantErr: true,
		},
		{
			name: "invalid HTTP port (too large)",
			modify: func(c *Config) {
				c.Server.HTTPPort = 70000
			},
			wantErr: true,
		},
		{
			name: "no providers configured",
			modify: func(c *Config) {
				c.Providers = nil
			},
			wantErr: true,
		},
		{
			name: "duplicate provider names",
			modify: func(c *Config) {
				c.Providers = append(c.Providers, ProviderConfig{Name: "fast-remote", Kind: "anthropic-compat"})
			},
			wantErr: true,
		},
		{
			name: "unknown provider kind",
			modify: func(c *Config) {
				c.Providers[0].Kind = "carrier-pigeon"
			},
			wantErr: true,
		},
		{
			name: "negative max retries",
			modify: func(c *Config) {
				c.Router.MaxRetries = -1
			},
			wantErr: true,
		},
		{
			name: "non-positive max parallel",
			modify: func(c *Config) {
				c.Executor.MaxParallel = 0
			},
			wantErr: true,
		},
		{
			name: "sample rate out of range",
			modify: func(c *Config) {
				c.Telemetry.SampleRate = 1.5
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMustLoad_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8080
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, 8080, cfg.Server.HTTPPort)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	err := os.WriteFile(configPath, []byte("invalid: [yaml"), 0644)
	require.NoError(t, err)

	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	os.Setenv("ASSISTANT_ROUTER_DEFAULT_PROVIDER", "env-only-provider")
	defer os.Unsetenv("ASSISTANT_ROUTER_DEFAULT_PROVIDER")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "env-only-provider", cfg.Router.DefaultProvider)
}
