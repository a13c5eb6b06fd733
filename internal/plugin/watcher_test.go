package plugin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"amoeba/internal/config"
)

func TestWatcherStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	cfg := config.PluginsConfig{DiscoveryPaths: []string{dir}, Allowlist: []string{"*"}}
	r := newTestRegistry(t, cfg, okImporter())

	w, err := NewWatcher(r, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	// Second Start is a no-op.
	require.NoError(t, w.Start(context.Background()))

	w.Stop()
	// Second Stop is a no-op too.
	w.Stop()
}

func TestWatcherRejectsRestart(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	cfg := config.PluginsConfig{DiscoveryPaths: []string{dir}, Allowlist: []string{"*"}}
	r := newTestRegistry(t, cfg, okImporter())

	w, err := NewWatcher(r, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	w.Stop()

	// The notifier is closed on Stop; restarting must fail loudly
	// instead of panicking on the drained channels.
	assert.Error(t, w.Start(context.Background()))
}

func TestWatcherLoadsNewPlugin(t *testing.T) {
	dir := t.TempDir()
	cfg := config.PluginsConfig{DiscoveryPaths: []string{dir}, Allowlist: []string{"*"}}
	r := newTestRegistry(t, cfg, okImporter())

	w, err := NewWatcher(r, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	writeSource(t, dir, "fresh.go", pluginSource("fresh", "1.0", nil))

	deadline := time.After(3 * time.Second)
	for {
		if _, ok := r.Get("fresh"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("watcher never loaded the new plugin")
		case <-time.After(20 * time.Millisecond):
		}
	}

	d, _ := r.Get("fresh")
	assert.Equal(t, StateLoaded, d.State)
}

func TestWatcherIgnoresNonGoFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := config.PluginsConfig{DiscoveryPaths: []string{dir}, Allowlist: []string{"*"}}
	r := newTestRegistry(t, cfg, okImporter())

	w, err := NewWatcher(r, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	writeSource(t, dir, "notes.txt", "not a plugin")
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, r.Names())
}
