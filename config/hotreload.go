// =============================================================================
// Assistant configuration hot reload manager
// =============================================================================
// Manages configuration hot reloading:
// - Partial field updates (no restart required)
// - Full reloads from file (may require restart)
// - Change callbacks and notifications
// - Validation before applying
// - Change history for audit
// =============================================================================
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// Hot reload types
// =============================================================================

// HotReloadManager manages configuration hot reloading.
type HotReloadManager struct {
	mu sync.RWMutex

	config     *Config
	configPath string

	watcher *FileWatcher

	changeCallbacks []ChangeCallback
	reloadCallbacks []ReloadCallback

	changeLog []ConfigChange

	logger *zap.Logger

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// ChangeCallback is called when a single field changes.
type ChangeCallback func(change ConfigChange)

// ReloadCallback is called after a full configuration reload.
type ReloadCallback func(oldConfig, newConfig *Config)

// ConfigChange records one field-level configuration change.
type ConfigChange struct {
	Timestamp       time.Time   `json:"timestamp"`
	Source          string      `json:"source"` // "file", "api", "env"
	Path            string      `json:"path"`
	OldValue        interface{} `json:"old_value,omitempty"`
	NewValue        interface{} `json:"new_value,omitempty"`
	RequiresRestart bool        `json:"requires_restart"`
	Applied         bool        `json:"applied"`
	Error           string      `json:"error,omitempty"`
}

// HotReloadableField declares whether a field can change without a restart.
type HotReloadableField struct {
	Path            string
	Description     string
	RequiresRestart bool
	Sensitive       bool
	Validator       func(value interface{}) error
}

// =============================================================================
// Hot reloadable field registry
// =============================================================================

// hotReloadableFields lists the fields UpdateField accepts, each marked
// with whether a change to it needs a process restart; a file reload
// treats any field not listed here as needing one. Provider identity,
// router preference shape, and listen ports change the shape of in-flight
// work, so they require a restart; per-call tunables (retry counts,
// thresholds, log level) don't. Accepting a change updates the manager's
// Config and fires the registered callbacks; a running component sees the
// new value only if one of those callbacks pushes it there.
var hotReloadableFields = map[string]HotReloadableField{
	"Log.Level": {
		Path:        "Log.Level",
		Description: "Log level (debug, info, warn, error)",
	},
	"Log.Format": {
		Path:        "Log.Format",
		Description: "Log format (json, console)",
	},
	"Router.MaxRetries": {
		Path:        "Router.MaxRetries",
		Description: "Maximum same-provider retry attempts before failover",
	},
	"Router.DefaultProvider": {
		Path:        "Router.DefaultProvider",
		Description: "Provider tried ahead of the task-preference table",
	},
	"Cache.DefaultTTL": {
		Path:        "Cache.DefaultTTL",
		Description: "Fallback cache entry TTL",
	},
	"Cache.L3Enabled": {
		Path:        "Cache.L3Enabled",
		Description: "Enable the semantic-similarity cache tier",
	},
	"Cache.L3Threshold": {
		Path:        "Cache.L3Threshold",
		Description: "Minimum cosine similarity for a semantic cache hit",
	},
	"Executor.MaxParallel": {
		Path:        "Executor.MaxParallel",
		Description: "Maximum concurrently executing tasks",
	},
	"Executor.MonitorSoftThresholdMB": {
		Path:        "Executor.MonitorSoftThresholdMB",
		Description: "Heap size that triggers a GC nudge",
	},
	"Executor.MonitorHardThresholdMB": {
		Path:        "Executor.MonitorHardThresholdMB",
		Description: "Heap size that triggers the overload callback",
	},
	"Telemetry.Enabled": {
		Path:        "Telemetry.Enabled",
		Description: "Enable telemetry",
	},
	"Telemetry.SampleRate": {
		Path:        "Telemetry.SampleRate",
		Description: "Trace sample rate",
	},

	"Server.HTTPPort": {
		Path:            "Server.HTTPPort",
		Description:     "HTTP server port",
		RequiresRestart: true,
	},
	"Server.MetricsPort": {
		Path:            "Server.MetricsPort",
		Description:     "Metrics server port",
		RequiresRestart: true,
	},
	"Server.ReadTimeout": {
		Path:            "Server.ReadTimeout",
		Description:     "HTTP read timeout",
		RequiresRestart: true,
	},
	"Server.WriteTimeout": {
		Path:            "Server.WriteTimeout",
		Description:     "HTTP write timeout",
		RequiresRestart: true,
	},
	"Cache.L2Path": {
		Path:            "Cache.L2Path",
		Description:     "SQLite database path backing the persistent cache tier",
		RequiresRestart: true,
	},
}

// =============================================================================
// Hot reload manager options
// =============================================================================

// HotReloadOption configures a HotReloadManager.
type HotReloadOption func(*HotReloadManager)

// WithHotReloadLogger sets the manager's logger.
func WithHotReloadLogger(logger *zap.Logger) HotReloadOption {
	return func(m *HotReloadManager) { m.logger = logger }
}

// WithConfigPath sets the watched configuration file path.
func WithConfigPath(path string) HotReloadOption {
	return func(m *HotReloadManager) { m.configPath = path }
}

// =============================================================================
// Hot reload manager implementation
// =============================================================================

// NewHotReloadManager creates a manager wrapping an already-loaded Config.
func NewHotReloadManager(config *Config, opts ...HotReloadOption) *HotReloadManager {
	m := &HotReloadManager{
		config:          config,
		changeCallbacks: make([]ChangeCallback, 0),
		reloadCallbacks: make([]ReloadCallback, 0),
		changeLog:       make([]ConfigChange, 0, 100),
		logger:          zap.NewNop(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start begins watching the configured file, if any, for changes.
func (m *HotReloadManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("hot reload manager already running")
	}

	m.ctx, m.cancel = context.WithCancel(ctx)

	if m.configPath != "" {
		watcher, err := NewFileWatcher(
			[]string{m.configPath},
			WithWatcherLogger(m.logger),
			WithDebounceDelay(500*time.Millisecond),
		)
		if err != nil {
			return fmt.Errorf("failed to create file watcher: %w", err)
		}

		watcher.OnChange(m.handleFileChange)

		if err := watcher.Start(m.ctx); err != nil {
			return fmt.Errorf("failed to start file watcher: %w", err)
		}

		m.watcher = watcher
	}

	m.running = true
	m.logger.Info("hot reload manager started", zap.String("config_path", m.configPath))

	return nil
}

// Stop stops the file watcher and the manager.
func (m *HotReloadManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	if m.cancel != nil {
		m.cancel()
	}

	if m.watcher != nil {
		if err := m.watcher.Stop(); err != nil {
			m.logger.Error("failed to stop file watcher", zap.Error(err))
		}
	}

	m.running = false
	m.logger.Info("hot reload manager stopped")

	return nil
}

func (m *HotReloadManager) handleFileChange(event FileEvent) {
	m.logger.Info("configuration file changed",
		zap.String("path", event.Path), zap.String("op", event.Op.String()))

	if event.Op == FileOpWrite || event.Op == FileOpCreate {
		if err := m.ReloadFromFile(); err != nil {
			m.logger.Error("failed to reload configuration", zap.Error(err))
		}
	}
}

// ReloadFromFile reloads, validates, and applies the configuration file.
func (m *HotReloadManager) ReloadFromFile() error {
	if m.configPath == "" {
		return fmt.Errorf("no config path set")
	}

	newConfig, err := NewLoader().WithConfigPath(m.configPath).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return m.ApplyConfig(newConfig, "file")
}

// ApplyConfig replaces the current configuration, recording and
// broadcasting every changed field.
func (m *HotReloadManager) ApplyConfig(newConfig *Config, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldConfig := m.config
	changes := m.detectChanges(oldConfig, newConfig)

	var requiresRestart bool
	var appliedChanges []ConfigChange

	for _, change := range changes {
		change.Source = source
		change.Timestamp = time.Now()

		field, known := hotReloadableFields[change.Path]
		if known {
			change.RequiresRestart = field.RequiresRestart
			if field.Sensitive {
				change.OldValue = "[REDACTED]"
				change.NewValue = "[REDACTED]"
			}
		} else {
			change.RequiresRestart = true
			if change.Path == "Providers" || change.Path == "Server.APIKeys" {
				change.OldValue = "[REDACTED]"
				change.NewValue = "[REDACTED]"
			}
		}

		if change.RequiresRestart {
			requiresRestart = true
		}

		change.Applied = true
		appliedChanges = append(appliedChanges, change)
		m.logChange(change)
	}

	m.config = newConfig
	m.changeLog = append(m.changeLog, appliedChanges...)
	if len(m.changeLog) > 1000 {
		m.changeLog = m.changeLog[len(m.changeLog)-1000:]
	}

	for _, cb := range m.changeCallbacks {
		for _, change := range appliedChanges {
			cb(change)
		}
	}
	for _, cb := range m.reloadCallbacks {
		cb(oldConfig, newConfig)
	}

	if requiresRestart {
		m.logger.Warn("some configuration changes require a restart to take effect")
	}

	m.logger.Info("configuration reloaded",
		zap.Int("changes", len(appliedChanges)), zap.Bool("requires_restart", requiresRestart))

	return nil
}

func (m *HotReloadManager) detectChanges(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange

	oldVal := reflect.ValueOf(oldConfig).Elem()
	newVal := reflect.ValueOf(newConfig).Elem()

	m.compareStructs("", oldVal, newVal, &changes)

	return changes
}

func (m *HotReloadManager) compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	if oldVal.Kind() != reflect.Struct || newVal.Kind() != reflect.Struct {
		return
	}

	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		fieldPath := field.Name
		if prefix != "" {
			fieldPath = prefix + "." + field.Name
		}

		oldField := oldVal.Field(i)
		newField := newVal.Field(i)

		if oldField.Kind() == reflect.Struct {
			m.compareStructs(fieldPath, oldField, newField, changes)
		} else if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			*changes = append(*changes, ConfigChange{
				Path:     fieldPath,
				OldValue: oldField.Interface(),
				NewValue: newField.Interface(),
			})
		}
	}
}

func (m *HotReloadManager) logChange(change ConfigChange) {
	fields := []zap.Field{
		zap.String("path", change.Path),
		zap.String("source", change.Source),
		zap.Bool("requires_restart", change.RequiresRestart),
	}

	field, known := hotReloadableFields[change.Path]
	if !known || !field.Sensitive {
		fields = append(fields, zap.Any("old_value", change.OldValue), zap.Any("new_value", change.NewValue))
	}

	m.logger.Info("configuration changed", fields...)
}

// OnChange registers a callback fired for each changed field.
func (m *HotReloadManager) OnChange(callback ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeCallbacks = append(m.changeCallbacks, callback)
}

// OnReload registers a callback fired once per full reload.
func (m *HotReloadManager) OnReload(callback ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadCallbacks = append(m.reloadCallbacks, callback)
}

// GetConfig returns the current configuration.
func (m *HotReloadManager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetChangeLog returns up to limit of the most recent changes.
func (m *HotReloadManager) GetChangeLog(limit int) []ConfigChange {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.changeLog) {
		limit = len(m.changeLog)
	}

	start := len(m.changeLog) - limit
	result := make([]ConfigChange, limit)
	copy(result, m.changeLog[start:])

	return result
}

// UpdateField applies a single hot-reloadable field update by dotted path.
func (m *HotReloadManager) UpdateField(path string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	field, known := hotReloadableFields[path]
	if !known {
		return fmt.Errorf("unknown configuration field: %s", path)
	}

	if field.Validator != nil {
		if err := field.Validator(value); err != nil {
			return fmt.Errorf("validation failed for %s: %w", path, err)
		}
	}

	oldValue, err := m.getFieldValue(path)
	if err != nil {
		return fmt.Errorf("failed to get old value: %w", err)
	}

	if err := m.setFieldValue(path, value); err != nil {
		return fmt.Errorf("failed to set value: %w", err)
	}

	change := ConfigChange{
		Timestamp:       time.Now(),
		Source:          "api",
		Path:            path,
		OldValue:        oldValue,
		NewValue:        value,
		RequiresRestart: field.RequiresRestart,
		Applied:         true,
	}

	if field.Sensitive {
		change.OldValue = "[REDACTED]"
		change.NewValue = "[REDACTED]"
	}

	m.logChange(change)
	m.changeLog = append(m.changeLog, change)

	for _, cb := range m.changeCallbacks {
		cb(change)
	}

	return nil
}

func (m *HotReloadManager) getFieldValue(path string) (interface{}, error) {
	val := reflect.ValueOf(m.config).Elem()
	return getNestedField(val, path)
}

func (m *HotReloadManager) setFieldValue(path string, value interface{}) error {
	val := reflect.ValueOf(m.config).Elem()
	return setNestedField(val, path, value)
}

func getNestedField(v reflect.Value, path string) (interface{}, error) {
	parts := splitPath(path)

	for _, part := range parts {
		if v.Kind() == reflect.Ptr {
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return nil, fmt.Errorf("not a struct at %s", part)
		}
		v = v.FieldByName(part)
		if !v.IsValid() {
			return nil, fmt.Errorf("field not found: %s", part)
		}
	}

	return v.Interface(), nil
}

func setNestedField(v reflect.Value, path string, value interface{}) error {
	parts := splitPath(path)

	for i, part := range parts {
		if v.Kind() == reflect.Ptr {
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return fmt.Errorf("not a struct at %s", part)
		}
		v = v.FieldByName(part)
		if !v.IsValid() {
			return fmt.Errorf("field not found: %s", part)
		}

		if i == len(parts)-1 {
			if !v.CanSet() {
				return fmt.Errorf("cannot set field: %s", part)
			}

			newVal := reflect.ValueOf(value)
			if newVal.Type().ConvertibleTo(v.Type()) {
				v.Set(newVal.Convert(v.Type()))
			} else {
				return fmt.Errorf("type mismatch: expected %s, got %s", v.Type(), newVal.Type())
			}
		}
	}

	return nil
}

func splitPath(path string) []string {
	var parts []string
	var current string

	for _, c := range path {
		if c == '.' {
			if current != "" {
				parts = append(parts, current)
				current = ""
			}
		} else {
			current += string(c)
		}
	}

	if current != "" {
		parts = append(parts, current)
	}

	return parts
}

// GetHotReloadableFields returns a copy of the hot-reloadable field registry.
func GetHotReloadableFields() map[string]HotReloadableField {
	result := make(map[string]HotReloadableField)
	for k, v := range hotReloadableFields {
		result[k] = v
	}
	return result
}

// IsHotReloadable reports whether path can change without a restart.
func IsHotReloadable(path string) bool {
	field, known := hotReloadableFields[path]
	return known && !field.RequiresRestart
}

// =============================================================================
// Sanitized config for the HTTP API
// =============================================================================

// SanitizedConfig returns the configuration as a JSON-shaped map with
// sensitive fields (API keys, passwords) redacted.
func (m *HotReloadManager) SanitizedConfig() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := json.Marshal(m.config)
	if err != nil {
		return nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}

	redactSensitiveFields(result, "")

	return result
}

func redactSensitiveFields(data map[string]interface{}, prefix string) {
	sensitiveKeys := []string{"password", "api_key", "apikey", "secret", "token", "credential"}

	for key, value := range data {
		fullPath := key
		if prefix != "" {
			fullPath = prefix + "." + key
		}

		lowerKey := strings.ToLower(key)
		for _, sensitiveKey := range sensitiveKeys {
			if strings.Contains(lowerKey, sensitiveKey) {
				switch sv := value.(type) {
				case string:
					if sv != "" {
						data[key] = "[REDACTED]"
					}
				case []interface{}:
					for i, entry := range sv {
						if str, ok := entry.(string); ok && str != "" {
							sv[i] = "[REDACTED]"
						}
					}
				}
				break
			}
		}

		switch v := value.(type) {
		case map[string]interface{}:
			redactSensitiveFields(v, fullPath)
		case []interface{}:
			for _, entry := range v {
				if nested, ok := entry.(map[string]interface{}); ok {
					redactSensitiveFields(nested, fullPath)
				}
			}
		}
	}
}
