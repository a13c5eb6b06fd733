package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"amoeba/internal/config"
	"amoeba/internal/sandbox"
	"amoeba/internal/security"
)

// Importer pre-checks a plugin source out of process. Satisfied by
// *sandbox.Sandbox; tests substitute scripted probes.
type Importer interface {
	SafeImport(ctx context.Context, path string, timeout time.Duration) (*sandbox.Result, error)
}

// sourceLoader evaluates a plugin source in-process.
type sourceLoader interface {
	Load(path string) (Plugin, error)
}

// Registry discovers, validates, loads and drives plugins. All lifecycle
// operations are tolerant: one plugin's failure never aborts the batch,
// it lands in the failed map instead.
type Registry struct {
	log      *zap.Logger
	cfg      config.PluginsConfig
	security *security.Manager
	sandbox  Importer
	loader   sourceLoader
	hostAPI  string

	// host builds the capability map handed to plugin lifecycle functions.
	host func() map[string]any

	mu      sync.RWMutex
	plugins map[string]*Descriptor
	failed  map[string]error
}

// NewRegistry creates a plugin Registry. host supplies the capability map
// passed to plugins; a nil host yields an empty map.
func NewRegistry(cfg config.PluginsConfig, sec *security.Manager, sb Importer, host func() map[string]any, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	if sec == nil {
		sec = security.NewManager(log)
	}
	if host == nil {
		host = func() map[string]any { return map[string]any{} }
	}
	return &Registry{
		log:      log,
		cfg:      cfg,
		security: sec,
		sandbox:  sb,
		loader:   NewLoader(log),
		hostAPI:  config.HostAPIVersion,
		host:     host,
		plugins:  make(map[string]*Descriptor),
		failed:   make(map[string]error),
	}
}

// Discover scans the configured discovery paths for plugin sources and
// applies the allow/block filters. Paths may be directories or glob
// patterns; results are sorted and deduplicated.
func (r *Registry) Discover() []string {
	seen := make(map[string]bool)
	var out []string

	for _, p := range r.cfg.DiscoveryPaths {
		var candidates []string
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			candidates, _ = filepath.Glob(filepath.Join(p, "*.go"))
		} else {
			candidates, _ = filepath.Glob(p)
		}
		for _, c := range candidates {
			if !strings.HasSuffix(c, ".go") || seen[c] {
				continue
			}
			if !r.admitted(pluginStem(c)) {
				continue
			}
			seen[c] = true
			out = append(out, c)
		}
	}

	sort.Strings(out)
	r.log.Debug("plugin discovery complete", zap.Int("count", len(out)))
	return out
}

// admitted applies the allow/block patterns to a plugin name. A name must
// match at least one allow pattern and no block pattern; any block match
// wins. An empty allowlist admits nothing.
func (r *Registry) admitted(name string) bool {
	for _, pat := range r.cfg.Blocklist {
		if ok, _ := filepath.Match(pat, name); ok {
			return false
		}
	}
	for _, pat := range r.cfg.Allowlist {
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}

func pluginStem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".go")
}

// Load runs the full pipeline for one plugin source: static validation,
// signature check, sandboxed pre-check, in-process evaluation, API and
// requirement checks, then the plugin's Load lifecycle. Failures are
// recorded in the failed map under the plugin name (or file stem when the
// name is not yet known).
func (r *Registry) Load(ctx context.Context, path string) error {
	name := pluginStem(path)

	fail := func(err error) error {
		r.mu.Lock()
		r.failed[name] = err
		r.mu.Unlock()
		r.log.Warn("plugin load failed", zap.String("plugin", name), zap.Error(err))
		return err
	}

	if v := r.security.ValidatePluginFile(path); v.Err != nil {
		return fail(fmt.Errorf("validation: %w", v.Err))
	}
	if err := r.security.VerifySignature(path, r.cfg.Security.PluginSignatureRequired); err != nil {
		return fail(err)
	}

	if r.sandbox != nil {
		res, err := r.sandbox.SafeImport(ctx, path, r.cfg.Security.ImportTimeout())
		if err != nil {
			return fail(err)
		}
		if !res.Success {
			return fail(fmt.Errorf("sandbox pre-check: %s", res.Error))
		}
	}

	p, err := r.loader.Load(path)
	if err != nil {
		return fail(err)
	}
	m := p.Manifest()
	name = m.Name

	r.mu.RLock()
	_, dup := r.plugins[name]
	r.mu.RUnlock()
	if dup {
		return fail(fmt.Errorf("%w: %s", ErrAlreadyLoaded, name))
	}

	apiVersion := m.APIVersion
	if apiVersion == "" {
		apiVersion = r.hostAPI
	}
	ok, err := IsCompatible(apiVersion, r.hostAPI)
	if err != nil {
		return fail(err)
	}
	if !ok {
		return fail(fmt.Errorf("%w: plugin %s targets %s, host speaks %s",
			ErrIncompatibleAPI, name, apiVersion, r.hostAPI))
	}

	host := r.host()
	for _, req := range m.Requires {
		if _, ok := host[req]; !ok {
			return fail(fmt.Errorf("%w: %s needs %q", ErrMissingRequirement, name, req))
		}
	}

	perms := m.Permissions
	if perms == nil {
		perms = map[string]bool{}
	}
	if err := r.security.CheckPermissions(name, perms); err != nil {
		return fail(err)
	}

	if err := p.Load(host); err != nil {
		return fail(fmt.Errorf("plugin %s Load: %w", name, err))
	}

	r.mu.Lock()
	r.plugins[name] = &Descriptor{Path: path, Manifest: m, State: StateLoaded, Plugin: p}
	delete(r.failed, name)
	delete(r.failed, pluginStem(path))
	r.mu.Unlock()

	r.log.Info("plugin loaded",
		zap.String("plugin", name),
		zap.String("version", m.Version),
		zap.String("path", path))
	return nil
}

// LoadAll discovers and loads every admitted plugin. Individual failures
// are collected, not fatal; the returned count is the number loaded.
func (r *Registry) LoadAll(ctx context.Context) int {
	loaded := 0
	for _, path := range r.Discover() {
		if err := r.Load(ctx, path); err == nil {
			loaded++
		}
	}
	return loaded
}

// Start transitions a loaded or stopped plugin to started.
func (r *Registry) Start(name string) error {
	r.mu.Lock()
	d, ok := r.plugins[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if d.State == StateStarted {
		return nil
	}
	if err := d.Plugin.Start(r.host()); err != nil {
		r.mu.Lock()
		r.failed[name] = err
		r.mu.Unlock()
		return fmt.Errorf("plugin %s Start: %w", name, err)
	}
	r.setState(name, StateStarted)
	r.log.Info("plugin started", zap.String("plugin", name))
	return nil
}

// Stop transitions a started plugin to stopped. Stopping a plugin that is
// not started is a no-op.
func (r *Registry) Stop(name string) error {
	r.mu.Lock()
	d, ok := r.plugins[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if d.State != StateStarted {
		return nil
	}
	if err := d.Plugin.Stop(r.host()); err != nil {
		r.mu.Lock()
		r.failed[name] = err
		r.mu.Unlock()
		return fmt.Errorf("plugin %s Stop: %w", name, err)
	}
	r.setState(name, StateStopped)
	r.log.Info("plugin stopped", zap.String("plugin", name))
	return nil
}

// Unload stops the plugin if needed, runs its Unload lifecycle and
// removes it from the registry. Unloading an unknown name is a no-op.
func (r *Registry) Unload(name string) error {
	r.mu.Lock()
	d, ok := r.plugins[name]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if d.State == StateStarted {
		if err := r.Stop(name); err != nil {
			r.log.Warn("stop before unload failed", zap.String("plugin", name), zap.Error(err))
		}
	}
	if err := d.Plugin.Unload(r.host()); err != nil {
		r.log.Warn("plugin Unload lifecycle failed", zap.String("plugin", name), zap.Error(err))
	}
	r.mu.Lock()
	delete(r.plugins, name)
	r.mu.Unlock()
	r.log.Info("plugin unloaded", zap.String("plugin", name))
	return nil
}

// Reload unloads and re-runs the full load pipeline from the plugin's
// source path, then starts it again.
func (r *Registry) Reload(ctx context.Context, name string) error {
	r.mu.RLock()
	d, ok := r.plugins[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	path := d.Path

	if err := r.Unload(name); err != nil {
		return err
	}
	if err := r.Load(ctx, path); err != nil {
		return err
	}
	return r.Start(name)
}

// StartAll starts every plugin that is not already started. Failures are
// logged and collected; the rest of the batch proceeds.
func (r *Registry) StartAll() []error {
	var errs []error
	for _, name := range r.Names() {
		if err := r.Start(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// StopAll stops every started plugin.
func (r *Registry) StopAll() []error {
	var errs []error
	for _, name := range r.Names() {
		if err := r.Stop(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// UnloadAll unloads every plugin, stopping first where needed.
func (r *Registry) UnloadAll() []error {
	var errs []error
	for _, name := range r.Names() {
		if err := r.Unload(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Get returns the descriptor for a plugin.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.plugins[name]
	if !ok {
		return nil, false
	}
	cp := *d
	return &cp, true
}

// Names returns the registered plugin names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Failed returns a copy of the failed-plugin map.
func (r *Registry) Failed() map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]error, len(r.failed))
	for k, v := range r.failed {
		out[k] = v
	}
	return out
}

func (r *Registry) setState(name string, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.plugins[name]; ok {
		d.State = s
	}
}
