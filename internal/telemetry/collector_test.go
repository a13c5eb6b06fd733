package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestRecordBuffersAndAssignsIDs(t *testing.T) {
	c := NewCollector(true, "none", "", zap.NewNop())

	c.Record("info", "attach", "adapter selected", map[string]any{"adapter": "local"})
	c.Record("warn", "plugin", "load failed", nil)

	events := c.Events()
	require.Len(t, events, 2)
	assert.NotEmpty(t, events[0].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID)
	assert.Equal(t, "attach", events[0].Kind)
	assert.Equal(t, "local", events[0].Fields["adapter"])
}

func TestRecordCarriesProcessAndGoroutineInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	c := NewCollector(true, "file", path, zap.NewNop())

	c.Record("info", "attach", "x", nil)
	require.NoError(t, c.Close())

	events := c.Events()
	require.Len(t, events, 1)
	assert.Equal(t, os.Getpid(), events[0].ProcessID)
	assert.Greater(t, events[0].Goroutines, 0)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &line))
	assert.Contains(t, line, "process_id")
	assert.Contains(t, line, "goroutines")
}

func TestStatsDerivedFields(t *testing.T) {
	c := NewCollector(true, "none", "", zap.NewNop())
	c.Record("info", "attach", "x", nil)
	c.Record("info", "attach", "y", nil)
	time.Sleep(5 * time.Millisecond)

	stats := c.Stats()
	assert.Greater(t, stats.UptimeSeconds, 0.0)
	assert.Greater(t, stats.EventsPerMinute, 0.0)
}

func TestDisabledCollectorRecordsNothing(t *testing.T) {
	c := NewCollector(false, "stdout", "", zap.NewNop())
	c.Record("info", "attach", "x", nil)
	c.RecordStatus(StatusSample{Goroutines: 3})

	assert.Empty(t, c.Events())
	assert.Empty(t, c.StatusHistory())
	assert.Zero(t, c.Stats().EventsRecorded)
}

func TestEventRingBufferBound(t *testing.T) {
	c := NewCollector(true, "none", "", zap.NewNop())
	for i := 0; i < eventBufferSize+50; i++ {
		c.Record("info", "tick", fmt.Sprintf("event %d", i), nil)
	}

	events := c.Events()
	require.Len(t, events, eventBufferSize)
	// Oldest entries are evicted first.
	assert.Equal(t, "event 50", events[0].Message)

	stats := c.Stats()
	assert.Equal(t, int64(eventBufferSize+50), stats.EventsRecorded)
	assert.Equal(t, eventBufferSize, stats.EventsBuffered)
}

func TestStatusRingBufferBound(t *testing.T) {
	c := NewCollector(true, "none", "", zap.NewNop())
	for i := 0; i < statusBufferSize+10; i++ {
		c.RecordStatus(StatusSample{Goroutines: i})
	}

	history := c.StatusHistory()
	require.Len(t, history, statusBufferSize)
	assert.Equal(t, 10, history[0].Goroutines)
}

func TestFileSinkWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry", "events.jsonl")
	c := NewCollector(true, "file", path, zap.NewNop())

	c.Record("info", "attach", "first", nil)
	c.Record("info", "attach", "second", nil)
	require.NoError(t, c.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestUnwritableFileSinkDegrades(t *testing.T) {
	c := NewCollector(true, "file", string([]byte{0}), zap.NewNop())
	c.Record("info", "attach", "still buffered", nil)
	assert.Len(t, c.Events(), 1)
}

func TestExportSnapshot(t *testing.T) {
	c := NewCollector(true, "none", "", zap.NewNop())
	c.Record("info", "attach", "x", nil)
	c.RecordStatus(StatusSample{Goroutines: 7})

	var buf bytes.Buffer
	require.NoError(t, c.Export(&buf))

	var snapshot struct {
		Events []Event        `json:"events"`
		Status []StatusSample `json:"status"`
		Stats  Stats          `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &snapshot))
	assert.Len(t, snapshot.Events, 1)
	assert.Len(t, snapshot.Status, 1)
	assert.Equal(t, int64(1), snapshot.Stats.EventsRecorded)
}

func TestMonitorSamplesAndStopsCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewCollector(true, "none", "", zap.NewNop())
	m := NewMonitor(c, 10*time.Millisecond, func() int { return 2 }, zap.NewNop())

	m.Start(context.Background())
	assert.True(t, m.Running())

	require.Eventually(t, func() bool {
		return len(c.StatusHistory()) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	m.Stop()
	assert.False(t, m.Running())

	sample := c.StatusHistory()[0]
	assert.Equal(t, 2, sample.Plugins)
	assert.Greater(t, sample.Goroutines, 0)

	// Stop again is a no-op.
	m.Stop()
}

func TestMonitorStartIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewCollector(true, "none", "", zap.NewNop())
	m := NewMonitor(c, time.Hour, nil, zap.NewNop())

	m.Start(context.Background())
	m.Start(context.Background())
	m.Stop()
}

func TestMetricsMirror(t *testing.T) {
	metrics := NewMetrics(zap.NewNop())
	c := NewCollector(true, "none", "", zap.NewNop())
	c.SetMetrics(metrics)

	c.Record("info", "attach", "x", nil)
	c.Record("info", "attach", "y", nil)
	c.RecordStatus(StatusSample{Goroutines: 12, HeapAlloc: 2048, Plugins: 3})

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.eventsTotal.WithLabelValues("attach")))
	assert.Equal(t, float64(12), testutil.ToFloat64(metrics.goroutines))
	assert.Equal(t, float64(2048), testutil.ToFloat64(metrics.heapAlloc))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.plugins))
}
