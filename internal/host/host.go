// Package host wires the amoeba subsystems into one manager and drives
// the attach lifecycle: detect the environment, adapt to it, bring up
// plugins and telemetry, and tear everything down on shutdown. Every
// phase is fault-tolerant; a failing subsystem is logged and recorded,
// never allowed to abort the rest.
package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"amoeba/internal/adapter"
	"amoeba/internal/config"
	"amoeba/internal/linker"
	"amoeba/internal/optimizer"
	"amoeba/internal/plugin"
	"amoeba/internal/probe"
	"amoeba/internal/sandbox"
	"amoeba/internal/security"
	"amoeba/internal/telemetry"
)

// Status aggregates the state of every subsystem.
type Status struct {
	Version     string             `json:"version"`
	Attached    bool               `json:"attached"`
	Adapter     string             `json:"adapter"`
	Environment *probe.Environment `json:"environment,omitempty"`
	Linker      linker.Status      `json:"linker"`
	Optimizer   optimizer.Report   `json:"optimizer"`
	Plugins     []PluginStatus     `json:"plugins"`
	Failed      map[string]string  `json:"failed_plugins,omitempty"`
	Telemetry   telemetry.Stats    `json:"telemetry"`
	Monitoring  bool               `json:"monitoring"`
}

// PluginStatus is one plugin's entry in the aggregate status.
type PluginStatus struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	State   string `json:"state"`
	Path    string `json:"path"`
}

// Manager owns the subsystems and the attach lifecycle.
type Manager struct {
	log *zap.Logger
	cfg *config.Config

	probe     *probe.Probe
	linker    *linker.Linker
	optimizer *optimizer.Optimizer
	selector  *adapter.Selector
	security  *security.Manager
	registry  *plugin.Registry
	collector *telemetry.Collector
	monitor   *telemetry.Monitor
	metrics   *telemetry.Metrics
	watcher   *plugin.Watcher

	mu       sync.RWMutex
	env      *probe.Environment
	adapter  adapter.Adapter
	attached bool
}

// Option customizes a Manager.
type Option func(*options)

type options struct {
	importer plugin.Importer
}

// WithImporter substitutes the sandbox pre-check, e.g. in tests.
func WithImporter(imp plugin.Importer) Option {
	return func(o *options) { o.importer = imp }
}

// New creates a Manager from configuration. The sandbox needs the running
// binary to re-exec; when that fails plugins load without the
// out-of-process pre-check, with a warning.
func New(cfg *config.Config, log *zap.Logger, opts ...Option) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		log:       log,
		cfg:       cfg,
		probe:     probe.New(log),
		linker:    linker.New(log),
		optimizer: optimizer.New(log),
		selector:  adapter.DefaultSelector(log),
		security:  security.NewManager(log),
	}

	m.collector = telemetry.NewCollector(
		cfg.Telemetry.Enabled, cfg.Telemetry.Sink, cfg.Telemetry.Path, log)
	if cfg.Telemetry.MetricsAddr != "" {
		m.metrics = telemetry.NewMetrics(log)
		m.collector.SetMetrics(m.metrics)
	}

	importer := o.importer
	if importer == nil {
		if sb, err := sandbox.New(log); err != nil {
			log.Warn("sandbox unavailable, plugins load without pre-check", zap.Error(err))
		} else {
			importer = sb
		}
	}
	m.registry = plugin.NewRegistry(cfg.Plugins, m.security, importer, m.capabilities, log)

	m.monitor = telemetry.NewMonitor(m.collector, cfg.Telemetry.Interval(),
		func() int { return len(m.registry.Names()) }, log)

	return m
}

// Environment returns the last detected environment, or nil before detection.
func (m *Manager) Environment() *probe.Environment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.env
}

// Linker returns the linker.
func (m *Manager) Linker() *linker.Linker { return m.linker }

// Optimizer returns the optimizer.
func (m *Manager) Optimizer() *optimizer.Optimizer { return m.optimizer }

// Registry returns the plugin registry.
func (m *Manager) Registry() *plugin.Registry { return m.registry }

// Telemetry returns the telemetry collector.
func (m *Manager) Telemetry() *telemetry.Collector { return m.collector }

// DetectEnvironment probes the runtime environment and caches the result.
func (m *Manager) DetectEnvironment(ctx context.Context) *probe.Environment {
	env := m.probe.Detect(ctx)

	m.mu.Lock()
	m.env = env
	m.mu.Unlock()

	m.collector.Record("info", "detect", "environment detected", map[string]any{
		"os":     env.OS.System,
		"wsl":    env.IsWSL,
		"docker": env.IsDocker,
		"cloud":  env.IsCloud,
		"gpu":    env.HasGPU,
	})
	return env
}

// Attach selects an adapter for the environment and runs its prelink and
// link phases, then brings up plugins, the watcher and the monitor.
// Phase failures are recorded and attach continues; only a failed adapter
// selection reports false.
func (m *Manager) Attach(ctx context.Context) bool {
	env := m.Environment()
	if env == nil {
		env = m.DetectEnvironment(ctx)
	}

	a, err := m.selector.Select(env, m.cfg.Environment.Prefer)
	if err != nil {
		m.log.Error("adapter selection failed", zap.Error(err))
		m.collector.Record("error", "attach", "adapter selection failed", map[string]any{
			"error": err.Error(),
		})
		return false
	}

	m.mu.Lock()
	m.adapter = a
	m.mu.Unlock()

	if err := a.Prelink(m); err != nil {
		m.log.Warn("prelink failed, continuing", zap.String("adapter", a.Name()), zap.Error(err))
		m.collector.Record("warn", "attach", "prelink failed", map[string]any{
			"adapter": a.Name(), "error": err.Error(),
		})
	}
	if err := a.Link(m); err != nil {
		m.log.Warn("link failed, continuing", zap.String("adapter", a.Name()), zap.Error(err))
		m.collector.Record("warn", "attach", "link failed", map[string]any{
			"adapter": a.Name(), "error": err.Error(),
		})
	}
	m.linker.EnsureSymlinks()

	loaded := m.registry.LoadAll(ctx)
	for _, name := range m.cfg.Plugins.Autoload {
		if err := m.registry.Start(name); err != nil {
			m.log.Warn("autoload start failed", zap.String("plugin", name), zap.Error(err))
		}
	}

	if m.cfg.Plugins.Watch {
		if w, err := plugin.NewWatcher(m.registry, m.log); err != nil {
			m.log.Warn("plugin watcher unavailable", zap.Error(err))
		} else {
			m.watcher = w
			_ = w.Start(ctx)
		}
	}

	if m.cfg.Telemetry.Enabled && m.cfg.Telemetry.AutoMonitor {
		m.monitor.Start(ctx)
	}
	if m.metrics != nil {
		m.metrics.Serve(m.cfg.Telemetry.MetricsAddr)
	}

	m.mu.Lock()
	m.attached = true
	m.mu.Unlock()

	m.collector.Record("info", "attach", "attach complete", map[string]any{
		"adapter": a.Name(),
		"plugins": loaded,
	})
	m.log.Info("attach complete",
		zap.String("adapter", a.Name()),
		zap.Int("plugins", loaded))
	return true
}

// Optimize runs the selected adapter's optimization phase and returns the
// accumulated report. Without an adapter it applies the baseline tunings.
func (m *Manager) Optimize() optimizer.Report {
	m.mu.RLock()
	a := m.adapter
	m.mu.RUnlock()

	if a != nil {
		if err := a.Optimize(m); err != nil {
			m.log.Warn("optimize failed, continuing", zap.String("adapter", a.Name()), zap.Error(err))
			m.collector.Record("warn", "optimize", "optimize failed", map[string]any{
				"adapter": a.Name(), "error": err.Error(),
			})
		}
	} else {
		m.optimizer.OptimizeMemory()
		m.optimizer.OptimizeDiskIO()
	}

	report := m.optimizer.Report()
	m.collector.Record("info", "optimize", "optimization complete", map[string]any{
		"applied": len(report.OptimizationsApplied),
	})
	return report
}

// ReloadPlugins reloads every registered plugin from source.
func (m *Manager) ReloadPlugins(ctx context.Context) error {
	var firstErr error
	for _, name := range m.registry.Names() {
		if err := m.registry.Reload(ctx, name); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("reloading %s: %w", name, err)
		}
	}
	return firstErr
}

// GetStatus aggregates the state of every subsystem.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	env := m.env
	attached := m.attached
	adapterName := ""
	if m.adapter != nil {
		adapterName = m.adapter.Name()
	}
	m.mu.RUnlock()

	var plugins []PluginStatus
	for _, name := range m.registry.Names() {
		if d, ok := m.registry.Get(name); ok {
			plugins = append(plugins, PluginStatus{
				Name:    name,
				Version: d.Manifest.Version,
				State:   d.State.String(),
				Path:    d.Path,
			})
		}
	}
	failed := make(map[string]string)
	for name, err := range m.registry.Failed() {
		failed[name] = err.Error()
	}

	return Status{
		Version:     m.cfg.Amoeba.Version,
		Attached:    attached,
		Adapter:     adapterName,
		Environment: env,
		Linker:      m.linker.GetStatus(),
		Optimizer:   m.optimizer.Report(),
		Plugins:     plugins,
		Failed:      failed,
		Telemetry:   m.collector.Stats(),
		Monitoring:  m.monitor.Running(),
	}
}

// Shutdown tears the host down: watcher, plugins, monitor, metrics,
// telemetry sink. Each step is tolerant; the first error is returned
// after everything has been attempted.
func (m *Manager) Shutdown(ctx context.Context) error {
	var firstErr error

	if m.watcher != nil {
		m.watcher.Stop()
	}

	for _, err := range m.registry.StopAll() {
		m.log.Warn("plugin stop during shutdown failed", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	for _, err := range m.registry.UnloadAll() {
		m.log.Warn("plugin unload during shutdown failed", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	m.monitor.Stop()

	if m.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := m.metrics.Shutdown(shutdownCtx); err != nil && firstErr == nil {
			firstErr = err
		}
		cancel()
	}

	m.collector.Record("info", "shutdown", "host shut down", nil)
	if err := m.collector.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	m.mu.Lock()
	m.attached = false
	m.adapter = nil
	m.mu.Unlock()

	m.log.Info("shutdown complete")
	return firstErr
}

// capabilities builds the map handed to plugin lifecycle functions.
// Plugins declare requirements against these keys and call the function
// values to reach host services.
func (m *Manager) capabilities() map[string]any {
	return map[string]any{
		"linker":      struct{}{},
		"optimizer":   struct{}{},
		"telemetry":   struct{}{},
		"environment": struct{}{},
		"register_service": func(name string, meta map[string]any) {
			m.linker.RegisterService(name, linker.ServiceEntry(meta))
		},
		"unregister_service": func(name string) {
			m.linker.UnregisterService(name)
		},
		"resolve_path": func(path string) string {
			return m.linker.ResolvePath(path)
		},
		"log_event": func(level, message string) {
			m.collector.Record(level, "plugin", message, nil)
		},
	}
}
