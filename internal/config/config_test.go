package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)

	assert.Equal(t, "0.2", cfg.Amoeba.Version)
	assert.Equal(t, "auto", cfg.Environment.Prefer)
	assert.Equal(t, []string{"*"}, cfg.Plugins.Allowlist)
	assert.Empty(t, cfg.Plugins.Blocklist)
	assert.False(t, cfg.Plugins.Security.PluginSignatureRequired)
	assert.Equal(t, 800, cfg.Plugins.Security.MaxImportTimeMs)
	assert.Equal(t, "file", cfg.Telemetry.Sink)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Amoeba, cfg.Amoeba)
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "amoeba.yaml")
	data := `
amoeba:
  version: "0.2"
  log_level: debug
environment:
  prefer: docker
plugins:
  discovery_paths: ["./plugins_ext"]
  allowlist: ["echo_*"]
  blocklist: ["*_test"]
  security:
    plugin_signature_required: true
    max_import_time_ms: 250
telemetry:
  enabled: true
  sink: stdout
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Amoeba.LogLevel)
	assert.Equal(t, "docker", cfg.Environment.Prefer)
	assert.Equal(t, []string{"./plugins_ext"}, cfg.Plugins.DiscoveryPaths)
	assert.Equal(t, []string{"echo_*"}, cfg.Plugins.Allowlist)
	assert.Equal(t, []string{"*_test"}, cfg.Plugins.Blocklist)
	assert.True(t, cfg.Plugins.Security.PluginSignatureRequired)
	assert.Equal(t, 250*time.Millisecond, cfg.Plugins.Security.ImportTimeout())
	assert.Equal(t, "stdout", cfg.Telemetry.Sink)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("amoeba: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsUnknownAdapter(t *testing.T) {
	cfg := Default()
	cfg.Environment.Prefer = "mainframe"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownSink(t *testing.T) {
	cfg := Default()
	cfg.Telemetry.Sink = "syslog"
	assert.Error(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AMOEBA_LOG_LEVEL", "warn")
	t.Setenv("AMOEBA_PREFER", "wsl")
	t.Setenv("AMOEBA_TELEMETRY_SINK", "none")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Amoeba.LogLevel)
	assert.Equal(t, "wsl", cfg.Environment.Prefer)
	assert.Equal(t, "none", cfg.Telemetry.Sink)
}

func TestImportTimeoutDefault(t *testing.T) {
	s := SecurityConfig{MaxImportTimeMs: 0}
	assert.Equal(t, 800*time.Millisecond, s.ImportTimeout())
}

func TestMonitorIntervalDefault(t *testing.T) {
	tc := TelemetryConfig{MonitorInterval: "garbage"}
	assert.Equal(t, 60*time.Second, tc.Interval())

	tc.MonitorInterval = "5s"
	assert.Equal(t, 5*time.Second, tc.Interval())
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "amoeba.yaml")

	cfg := Default()
	cfg.Plugins.DiscoveryPaths = []string{"./ext"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Plugins.DiscoveryPaths, loaded.Plugins.DiscoveryPaths)
}
