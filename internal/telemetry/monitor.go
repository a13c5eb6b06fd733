package telemetry

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Monitor samples host vitals on an interval and feeds them to the
// collector. Start is idempotent; Stop cancels the loop and waits for it
// to drain, bounded so a wedged loop cannot hang shutdown.
type Monitor struct {
	log       *zap.Logger
	collector *Collector
	interval  time.Duration

	// pluginCount supplies the live plugin total for each sample.
	pluginCount func() int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMonitor creates a Monitor. pluginCount may be nil.
func NewMonitor(collector *Collector, interval time.Duration, pluginCount func() int, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if pluginCount == nil {
		pluginCount = func() int { return 0 }
	}
	return &Monitor{
		log:         log,
		collector:   collector,
		interval:    interval,
		pluginCount: pluginCount,
	}
}

// Start launches the sampling loop. A second Start while running is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go m.run(ctx)
	m.log.Info("telemetry monitor started", zap.Duration("interval", m.interval))
}

// Stop cancels the loop and waits up to five seconds for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		m.log.Warn("telemetry monitor did not stop in time")
	}
	m.log.Info("telemetry monitor stopped")
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *Monitor) sample() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.collector.RecordStatus(StatusSample{
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		HeapSys:    ms.HeapSys,
		NumGC:      ms.NumGC,
		Plugins:    m.pluginCount(),
	})
}
