// =============================================================================
// Assistant default configuration
// =============================================================================
package config

import "time"

// DefaultConfig returns the assistant's default configuration. Providers is
// left empty: there is no sane default remote backend, so callers must
// supply at least one via YAML, environment, or direct construction.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Router:    DefaultRouterConfig(),
		Cache:     DefaultCacheConfig(),
		Executor:  DefaultExecutorConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns default transport settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    10,
		RateLimitBurst:  20,
	}
}

// DefaultRouterConfig returns default routing settings.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		MaxRetries: 2,
	}
}

// DefaultCacheConfig returns default cache tier settings.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		L1Capacity:  1000,
		L2Path:      "assistant_cache.db",
		L3Enabled:   true,
		L3Threshold: 0.92,
	}
}

// DefaultExecutorConfig returns default executor/monitor settings.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxParallel:            10,
		BatchTimeout:           60 * time.Second,
		MonitorInterval:        10 * time.Second,
		MonitorSoftThresholdMB: 512,
		MonitorHardThresholdMB: 1024,
	}
}

// DefaultLogConfig returns default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultTelemetryConfig returns default telemetry settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:     false,
		ServiceName: "assistant-core",
		SampleRate:  0.1,
	}
}
