// Package config loads and validates the amoeba host configuration.
// Configuration is YAML on disk with a small set of environment variable
// overrides applied after parsing. A missing file yields the defaults;
// an unreadable or unparseable file is an error the caller must handle.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// HostAPIVersion is the plugin API version this host implements.
// Plugins declare the API they were built against; see plugin.IsCompatible.
const HostAPIVersion = "1.0"

// Config holds all amoeba host configuration.
type Config struct {
	Amoeba      AmoebaConfig      `yaml:"amoeba"`
	Environment EnvironmentConfig `yaml:"environment"`
	Plugins     PluginsConfig     `yaml:"plugins"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// AmoebaConfig holds core host settings.
type AmoebaConfig struct {
	Version      string `yaml:"version"`
	LogLevel     string `yaml:"log_level"` // debug, info, warn, error
	AutoAttach   bool   `yaml:"auto_attach"`
	AutoOptimize bool   `yaml:"auto_optimize"`
}

// EnvironmentConfig controls adapter selection.
type EnvironmentConfig struct {
	// Prefer names an explicit adapter (local, docker, wsl, cloud) or
	// "auto" for priority-ordered detection.
	Prefer string `yaml:"prefer"`
}

// PluginsConfig configures plugin discovery and loading.
type PluginsConfig struct {
	// DiscoveryPaths lists directories or files scanned for plugin sources.
	DiscoveryPaths []string `yaml:"discovery_paths"`

	// Allowlist and Blocklist are glob patterns matched against the plugin
	// name (file stem). A name must match an allow pattern and no block
	// pattern; any block match wins.
	Allowlist []string `yaml:"allowlist"`
	Blocklist []string `yaml:"blocklist"`

	// Autoload names plugins loaded and started during Attach.
	Autoload []string `yaml:"autoload"`

	Security SecurityConfig `yaml:"security"`

	// Watch enables the fsnotify watcher on discovery paths.
	Watch bool `yaml:"watch"`
}

// SecurityConfig gates plugin loading.
type SecurityConfig struct {
	PluginSignatureRequired bool `yaml:"plugin_signature_required"`

	// MaxImportTimeMs bounds the sandboxed pre-check, in milliseconds.
	MaxImportTimeMs int `yaml:"max_import_time_ms"`
}

// ImportTimeout returns the sandbox pre-check deadline as a duration.
func (s SecurityConfig) ImportTimeout() time.Duration {
	if s.MaxImportTimeMs <= 0 {
		return 800 * time.Millisecond
	}
	return time.Duration(s.MaxImportTimeMs) * time.Millisecond
}

// TelemetryConfig configures the event/status collector.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Sink    string `yaml:"sink"` // file, stdout, none
	Path    string `yaml:"path"`

	// AutoMonitor starts the background sampler once Attach completes.
	AutoMonitor     bool   `yaml:"auto_monitor"`
	MonitorInterval string `yaml:"monitor_interval"`

	// MetricsAddr, when set, exposes a Prometheus /metrics listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Interval parses MonitorInterval, defaulting to 60s.
func (t TelemetryConfig) Interval() time.Duration {
	d, err := time.ParseDuration(t.MonitorInterval)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Amoeba: AmoebaConfig{
			Version:      "0.2",
			LogLevel:     "info",
			AutoAttach:   true,
			AutoOptimize: true,
		},
		Environment: EnvironmentConfig{
			Prefer: "auto",
		},
		Plugins: PluginsConfig{
			DiscoveryPaths: nil,
			Allowlist:      []string{"*"},
			Blocklist:      nil,
			Security: SecurityConfig{
				PluginSignatureRequired: false,
				MaxImportTimeMs:         800,
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:         true,
			Level:           "info",
			Sink:            "file",
			Path:            filepath.Join("logs", "amoeba.log"),
			AutoMonitor:     true,
			MonitorInterval: "60s",
		},
	}
}

// Load reads configuration from a YAML file. A missing file returns the
// defaults; a present but invalid file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file, creating parent directories.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects structurally invalid configuration.
func (c *Config) Validate() error {
	switch c.Environment.Prefer {
	case "", "auto", "local", "docker", "wsl", "cloud":
	default:
		return fmt.Errorf("environment.prefer: unknown adapter %q", c.Environment.Prefer)
	}

	switch c.Telemetry.Sink {
	case "", "file", "stdout", "none":
	default:
		return fmt.Errorf("telemetry.sink: must be file, stdout or none, got %q", c.Telemetry.Sink)
	}

	if c.Plugins.Security.MaxImportTimeMs < 0 {
		return fmt.Errorf("plugins.security.max_import_time_ms: must be >= 0")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AMOEBA_LOG_LEVEL"); v != "" {
		c.Amoeba.LogLevel = v
	}
	if v := os.Getenv("AMOEBA_PREFER"); v != "" {
		c.Environment.Prefer = v
	}
	if v := os.Getenv("AMOEBA_TELEMETRY_SINK"); v != "" {
		c.Telemetry.Sink = v
	}
	if v := os.Getenv("AMOEBA_TELEMETRY_PATH"); v != "" {
		c.Telemetry.Path = v
	}
}
