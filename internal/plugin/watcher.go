package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher monitors discovery directories for plugin source changes and
// reloads or loads plugins as files are written. Deletions are left to
// the operator; a plugin keeps running until explicitly unloaded.
type Watcher struct {
	log      *zap.Logger
	registry *Registry
	watcher  *fsnotify.Watcher

	mu          sync.Mutex
	debounce    map[string]time.Time
	debounceDur time.Duration
	running     bool
	stopped     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewWatcher creates a Watcher over the registry's discovery paths.
func NewWatcher(registry *Registry, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		log:         log,
		registry:    registry,
		watcher:     fsw,
		debounce:    make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
	}, nil
}

// Start begins watching. Non-blocking; events are handled in a goroutine
// until Stop is called or ctx is cancelled. Discovery paths that do not
// exist yet are skipped with a warning. Stop closes the underlying
// notifier, so a stopped Watcher cannot be restarted.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return fmt.Errorf("plugin watcher cannot be restarted after stop")
	}
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	for _, p := range w.registry.cfg.DiscoveryPaths {
		dir := p
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			dir = filepath.Dir(p)
		}
		if err := w.watcher.Add(dir); err != nil {
			w.log.Warn("watch failed, skipping path", zap.String("path", dir), zap.Error(err))
			continue
		}
		w.log.Debug("watching plugin directory", zap.String("path", dir))
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to drain.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.stopped = true
		w.mu.Unlock()
		return
	}
	w.running = false
	w.stopped = true
	w.mu.Unlock()

	close(w.stopCh)
	_ = w.watcher.Close()
	<-w.doneCh
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("plugin watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".go") {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	if !w.registry.admitted(pluginStem(event.Name)) {
		return
	}

	// Editors fire bursts of writes for one save.
	w.mu.Lock()
	if last, ok := w.debounce[event.Name]; ok && time.Since(last) < w.debounceDur {
		w.mu.Unlock()
		return
	}
	w.debounce[event.Name] = time.Now()
	w.mu.Unlock()

	w.log.Info("plugin source changed", zap.String("path", event.Name), zap.String("op", event.Op.String()))

	// Reload if a registered plugin owns this path, otherwise load fresh.
	for _, name := range w.registry.Names() {
		if d, ok := w.registry.Get(name); ok && d.Path == event.Name {
			if err := w.registry.Reload(ctx, name); err != nil {
				w.log.Warn("reload after change failed", zap.String("plugin", name), zap.Error(err))
			}
			return
		}
	}
	if err := w.registry.Load(ctx, event.Name); err != nil {
		w.log.Warn("load after change failed", zap.String("path", event.Name), zap.Error(err))
	}
}
