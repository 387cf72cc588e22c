// =============================================================================
// Assistant configuration loader
// =============================================================================
// Unified configuration loading: YAML file + environment variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("ASSISTANT").
//	    Load()
//
// Precedence: defaults -> YAML file -> environment variables
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Core configuration structure
// =============================================================================

// Config is the assistant's complete configuration tree.
type Config struct {
	// Server carries the transport (A4) listen/timeout settings.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Providers lists every configured remote/local LLM backend (C6/C7).
	Providers []ProviderConfig `yaml:"providers" env:"-"`

	// Router carries candidate-selection and retry settings (C7).
	Router RouterConfig `yaml:"router" env:"ROUTER"`

	// Cache carries the four-tier cache's settings (C5).
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Executor carries the parallel executor and resource monitor
	// settings (C10).
	Executor ExecutorConfig `yaml:"executor" env:"EXECUTOR"`

	// Log carries structured logging settings.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry carries OpenTelemetry/Prometheus settings (A2).
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP transport (A4).
type ServerConfig struct {
	// HTTPPort is the main request/stream/parallel API port.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// MetricsPort serves /metrics.
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// ReadTimeout bounds inbound request reads.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// WriteTimeout bounds non-streaming response writes.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// ShutdownTimeout bounds graceful shutdown draining.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// APIKeys authenticates callers via the X-API-Key header; empty
	// disables API key auth entirely.
	APIKeys []string `yaml:"api_keys" env:"-"`
	// CORSAllowedOrigins lists origins permitted to make cross-origin
	// requests; empty rejects every cross-origin request.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"-"`
	// RateLimitRPS bounds sustained requests per second per client IP.
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// RateLimitBurst bounds the token bucket's burst size.
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// ProviderConfig describes one configured LLM backend. Kind selects the
// adapter (C6): "openai-compat" or "anthropic-compat".
type ProviderConfig struct {
	// Name is the provider's identity as used by the Router, health
	// tracker, and rate limit ledger (e.g. "fast-remote").
	Name string `yaml:"name"`
	// Kind selects the wire adapter implementation.
	Kind string `yaml:"kind"`
	// BaseURL is the API endpoint.
	BaseURL string `yaml:"base_url"`
	// APIKey authenticates requests. Sensitive: never logged or
	// returned by the config HTTP API.
	APIKey string `yaml:"api_key"`
	// Model is the default model identifier sent with each request.
	Model string `yaml:"model"`
	// Timeout bounds a single provider call.
	Timeout time.Duration `yaml:"timeout"`
	// RateLimitRPM caps admitted requests per rolling minute; 0 means
	// unbounded (see ratelimit.Ledger's unconfigured-provider window).
	RateLimitRPM int `yaml:"rate_limit_rpm"`
	// RateLimitTPM caps admitted tokens per rolling minute; 0 means
	// unbounded.
	RateLimitTPM int `yaml:"rate_limit_tpm"`
}

// RouterConfig configures provider candidate selection and retry (C7).
type RouterConfig struct {
	// MaxRetries bounds same-provider retry attempts before failover.
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// DefaultProvider is tried ahead of the task-preference table when set.
	DefaultProvider string `yaml:"default_provider" env:"DEFAULT_PROVIDER"`
}

// CacheConfig configures the four cache tiers (C5).
type CacheConfig struct {
	// L1Capacity bounds the in-process exact-match tier's entry count.
	L1Capacity int `yaml:"l1_capacity" env:"L1_CAPACITY"`
	// L2Path is the SQLite database file backing the persistent tier.
	L2Path string `yaml:"l2_path" env:"L2_PATH"`
	// L3Enabled turns on the semantic-similarity tier.
	L3Enabled bool `yaml:"l3_enabled" env:"L3_ENABLED"`
	// L3Threshold is the minimum cosine similarity for an L3 hit.
	L3Threshold float64 `yaml:"l3_threshold" env:"L3_THRESHOLD"`
	// DefaultTTL is loaded and listed as hot-reloadable, but the cache
	// wiring does not read it: entries always take the built-in
	// per-category TTLs (core.CategoryTTL).
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
}

// ExecutorConfig configures the parallel executor and resource monitor (C10).
type ExecutorConfig struct {
	// MaxParallel bounds concurrent task execution.
	MaxParallel int `yaml:"max_parallel" env:"MAX_PARALLEL"`
	// BatchTimeout bounds one Parallel/ParallelWithPriority call.
	BatchTimeout time.Duration `yaml:"batch_timeout" env:"BATCH_TIMEOUT"`
	// MonitorInterval is the resource sampling period.
	MonitorInterval time.Duration `yaml:"monitor_interval" env:"MONITOR_INTERVAL"`
	// MonitorSoftThresholdMB triggers a GC nudge.
	MonitorSoftThresholdMB int `yaml:"monitor_soft_threshold_mb" env:"MONITOR_SOFT_THRESHOLD_MB"`
	// MonitorHardThresholdMB invokes the overload callback.
	MonitorHardThresholdMB int `yaml:"monitor_hard_threshold_mb" env:"MONITOR_HARD_THRESHOLD_MB"`
}

// LogConfig configures zap.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths lists zap sink targets ("stdout", a file path, ...).
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig configures OpenTelemetry export and Prometheus scraping (A2).
type TelemetryConfig struct {
	// Enabled turns on span export and metric registration.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLPEndpoint is the trace collector address.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// ServiceName identifies this process in exported spans.
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// SampleRate is the trace sampling fraction, 0 to 1.
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// Loader
// =============================================================================

// Loader loads a Config via the builder pattern.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a Loader with the default environment prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "ASSISTANT",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a configuration validator run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load loads a Config. Precedence: defaults -> YAML file -> environment.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv recursively overrides struct fields from environment
// variables. Providers is intentionally excluded (env:"-"): a variable-length
// slice of structs has no natural PREFIX_N_FIELD env scheme the rest of the
// pack follows, so providers are YAML/API-only.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// MustLoad loads a Config from path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads a Config from defaults plus environment variables only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks a Config for internally-inconsistent values.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid http port")
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if len(c.Providers) == 0 {
		errs = append(errs, "at least one provider must be configured")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, "provider name must not be empty")
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Sprintf("duplicate provider name %q", p.Name))
		}
		seen[p.Name] = true
		if p.Kind != "openai-compat" && p.Kind != "anthropic-compat" {
			errs = append(errs, fmt.Sprintf("provider %q has unknown kind %q", p.Name, p.Kind))
		}
	}
	if c.Router.MaxRetries < 0 {
		errs = append(errs, "router max_retries must not be negative")
	}
	if c.Executor.MaxParallel <= 0 {
		errs = append(errs, "executor max_parallel must be positive")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
