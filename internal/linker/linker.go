// Package linker owns the path-mapping table, the service registry and
// symlink bookkeeping that adapters and plugins publish their configuration
// through. It performs no network I/O; the only filesystem side effect is
// symlink creation in EnsureSymlinks.
package linker

import (
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ServiceEntry is the opaque metadata registered under a service name.
type ServiceEntry map[string]any

// PathMapping is a single aliasPrefix → realPath pair. Resolution is
// first-match over insertion order, not longest-prefix, so callers must
// order entries deliberately.
type PathMapping struct {
	Alias string `json:"alias"`
	Real  string `json:"real"`
}

// SymlinkSpec declares a symlink the active adapter wants established.
type SymlinkSpec struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Created     bool   `json:"created"`
}

// Linker is safe for concurrent use; adapters and plugins may register
// interleaved in a multi-goroutine host.
type Linker struct {
	log *zap.Logger

	mu              sync.RWMutex
	mappings        []PathMapping
	services        map[string]ServiceEntry
	symlinks        []SymlinkSpec
	bridges         map[string]string
	healthEndpoints []string
}

// Status is the snapshot returned by the host's status query.
type Status struct {
	PathMappings    []PathMapping           `json:"path_mappings"`
	Services        map[string]ServiceEntry `json:"services"`
	Symlinks        []SymlinkSpec           `json:"symlinks"`
	Bridges         map[string]string       `json:"bridges"`
	HealthEndpoints []string                `json:"health_endpoints"`
}

// New creates an empty Linker.
func New(log *zap.Logger) *Linker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Linker{
		log:      log,
		services: make(map[string]ServiceEntry),
		bridges:  make(map[string]string),
	}
}

// RegisterService records metadata under name. Re-registration overwrites
// the previous entry and is logged as a warning; the registry size stays
// constant.
func (l *Linker) RegisterService(name string, meta ServiceEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.services[name]; exists {
		l.log.Warn("service re-registered, overwriting", zap.String("service", name))
	}
	if meta == nil {
		meta = ServiceEntry{}
	}
	l.services[name] = meta
	l.log.Debug("service registered", zap.String("service", name))
}

// UnregisterService removes a service. Removing an unknown name is a no-op.
func (l *Linker) UnregisterService(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.services, name)
}

// Service returns the metadata for name and whether it exists.
func (l *Linker) Service(name string) (ServiceEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.services[name]
	return entry, ok
}

// ServiceNames returns the sorted registered service names.
func (l *Linker) ServiceNames() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.services))
	for name := range l.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddMapping appends an aliasPrefix → realPath pair to the mapping table.
func (l *Linker) AddMapping(alias, real string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mappings = append(l.mappings, PathMapping{Alias: alias, Real: real})
}

// ResolvePath substitutes the first mapping whose alias prefixes path.
// Unmatched input is returned unchanged.
func (l *Linker) ResolvePath(path string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, m := range l.mappings {
		if strings.HasPrefix(path, m.Alias) {
			return m.Real + path[len(m.Alias):]
		}
	}
	return path
}

// DeclareSymlink records a (source, destination) pair for EnsureSymlinks.
func (l *Linker) DeclareSymlink(source, destination string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.symlinks = append(l.symlinks, SymlinkSpec{Source: source, Destination: destination})
}

// EnsureSymlinks creates every declared symlink whose source exists and
// whose destination does not. I/O failures are logged and skipped rather
// than aborting the sweep.
func (l *Linker) EnsureSymlinks() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.symlinks {
		spec := &l.symlinks[i]
		if spec.Created {
			continue
		}
		if _, err := os.Stat(spec.Source); err != nil {
			l.log.Debug("symlink source missing, skipping",
				zap.String("source", spec.Source))
			continue
		}
		if _, err := os.Lstat(spec.Destination); err == nil {
			l.log.Debug("symlink destination exists, skipping",
				zap.String("destination", spec.Destination))
			continue
		}
		if err := os.Symlink(spec.Source, spec.Destination); err != nil {
			l.log.Warn("symlink creation failed",
				zap.String("source", spec.Source),
				zap.String("destination", spec.Destination),
				zap.Error(err))
			continue
		}
		spec.Created = true
	}
}

// RegisterBridge records an external bridge endpoint.
func (l *Linker) RegisterBridge(name, target string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bridges[name] = target
}

// ExposeHealthEndpoint advertises a health-check path for external callers.
// Duplicate paths are kept single.
func (l *Linker) ExposeHealthEndpoint(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.healthEndpoints {
		if existing == path {
			return
		}
	}
	l.healthEndpoints = append(l.healthEndpoints, path)
}

// GetStatus returns a deep-enough copy of the linker's bookkeeping.
func (l *Linker) GetStatus() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	status := Status{
		PathMappings:    append([]PathMapping(nil), l.mappings...),
		Services:        make(map[string]ServiceEntry, len(l.services)),
		Symlinks:        append([]SymlinkSpec(nil), l.symlinks...),
		Bridges:         make(map[string]string, len(l.bridges)),
		HealthEndpoints: append([]string(nil), l.healthEndpoints...),
	}
	for name, entry := range l.services {
		status.Services[name] = entry
	}
	for name, target := range l.bridges {
		status.Bridges[name] = target
	}
	return status
}
