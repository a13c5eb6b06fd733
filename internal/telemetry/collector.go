// Package telemetry records host events and status samples. Events and
// samples land in fixed-size ring buffers and, when a sink is configured,
// as JSON lines on disk or stdout. Collection is opt-in and losing the
// sink never fails the caller.
package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// eventBufferSize bounds the in-memory event history.
	eventBufferSize = 1000
	// statusBufferSize bounds the in-memory status history.
	statusBufferSize = 100
)

// Event is one telemetry record. Goroutines stands in for a thread
// identifier: goroutine IDs are deliberately hidden by the runtime, so the
// count at record time is the closest observable.
type Event struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Kind       string         `json:"kind"`
	Message    string         `json:"message"`
	ProcessID  int            `json:"process_id"`
	Goroutines int            `json:"goroutines"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// StatusSample is one point-in-time snapshot of host vitals.
type StatusSample struct {
	Timestamp  time.Time `json:"timestamp"`
	Goroutines int       `json:"goroutines"`
	HeapAlloc  uint64    `json:"heap_alloc"`
	HeapSys    uint64    `json:"heap_sys"`
	NumGC      uint32    `json:"num_gc"`
	Plugins    int       `json:"plugins"`
	Uptime     string    `json:"uptime"`
}

// Stats summarizes collector activity.
type Stats struct {
	EventsRecorded  int64   `json:"events_recorded"`
	EventsBuffered  int     `json:"events_buffered"`
	SamplesRecorded int64   `json:"samples_recorded"`
	SamplesBuffered int     `json:"samples_buffered"`
	SinkErrors      int64   `json:"sink_errors"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	EventsPerMinute float64 `json:"events_per_minute"`
}

// Collector buffers events and status samples and mirrors them to a sink.
type Collector struct {
	log     *zap.Logger
	metrics *Metrics

	mu      sync.Mutex
	enabled bool
	events  []Event
	status  []StatusSample
	stats   Stats
	sink    io.WriteCloser
	started time.Time
}

// NewCollector creates a Collector. sink is "file", "stdout" or "none";
// path is the JSONL file for the file sink. A file sink that cannot be
// opened degrades to none with a warning.
func NewCollector(enabled bool, sink, path string, log *zap.Logger) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Collector{
		log:     log,
		enabled: enabled,
		started: time.Now(),
	}
	if !enabled {
		return c
	}

	switch sink {
	case "stdout":
		c.sink = nopCloser{os.Stdout}
	case "file":
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			log.Warn("telemetry sink directory unavailable", zap.String("path", path), zap.Error(err))
			break
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Warn("telemetry sink unavailable", zap.String("path", path), zap.Error(err))
			break
		}
		c.sink = f
	case "", "none":
	default:
		log.Warn("unknown telemetry sink, recording in memory only", zap.String("sink", sink))
	}
	return c
}

// SetMetrics attaches a Prometheus mirror. Optional.
func (c *Collector) SetMetrics(m *Metrics) {
	c.mu.Lock()
	c.metrics = m
	c.mu.Unlock()
}

// Record appends an event to the ring buffer and the sink.
func (c *Collector) Record(level, kind, message string, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}

	ev := Event{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Level:      level,
		Kind:       kind,
		Message:    message,
		ProcessID:  os.Getpid(),
		Goroutines: runtime.NumGoroutine(),
		Fields:     fields,
	}

	c.events = append(c.events, ev)
	if len(c.events) > eventBufferSize {
		c.events = c.events[len(c.events)-eventBufferSize:]
	}
	c.stats.EventsRecorded++
	c.writeLine(ev)

	if c.metrics != nil {
		c.metrics.EventRecorded(kind)
	}
}

// RecordStatus appends a status sample.
func (c *Collector) RecordStatus(s StatusSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	s.Uptime = time.Since(c.started).Round(time.Second).String()

	c.status = append(c.status, s)
	if len(c.status) > statusBufferSize {
		c.status = c.status[len(c.status)-statusBufferSize:]
	}
	c.stats.SamplesRecorded++
	c.writeLine(s)

	if c.metrics != nil {
		c.metrics.StatusSampled(s)
	}
}

func (c *Collector) writeLine(v any) {
	if c.sink == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.stats.SinkErrors++
		return
	}
	if _, err := c.sink.Write(append(data, '\n')); err != nil {
		c.stats.SinkErrors++
	}
}

// Events returns a copy of the buffered events, oldest first.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// StatusHistory returns a copy of the buffered samples, oldest first.
func (c *Collector) StatusHistory() []StatusSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StatusSample, len(c.status))
	copy(out, c.status)
	return out
}

// Stats returns collector counters plus the derived rate fields.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *Collector) statsLocked() Stats {
	s := c.stats
	s.EventsBuffered = len(c.events)
	s.SamplesBuffered = len(c.status)
	uptime := time.Since(c.started)
	s.UptimeSeconds = uptime.Seconds()
	if uptime > 0 {
		s.EventsPerMinute = float64(s.EventsRecorded) / uptime.Minutes()
	}
	return s
}

// Export writes the buffered events and samples as JSON to w.
func (c *Collector) Export(w io.Writer) error {
	c.mu.Lock()
	snapshot := struct {
		Events []Event        `json:"events"`
		Status []StatusSample `json:"status"`
		Stats  Stats          `json:"stats"`
	}{
		Events: append([]Event(nil), c.events...),
		Status: append([]StatusSample(nil), c.status...),
		Stats:  c.statsLocked(),
	}
	c.mu.Unlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snapshot)
}

// Close releases the sink.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sink == nil {
		return nil
	}
	err := c.sink.Close()
	c.sink = nil
	if err != nil {
		return fmt.Errorf("closing telemetry sink: %w", err)
	}
	return nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
