package optimizer

import (
	"testing"

	"go.uber.org/zap"
)

func TestReportStartsEmpty(t *testing.T) {
	o := New(zap.NewNop())
	report := o.Report()

	if len(report.OptimizationsApplied) != 0 {
		t.Errorf("fresh optimizer should have no applied tags: %v", report.OptimizationsApplied)
	}
	if report.SystemInfo.NumCPU <= 0 {
		t.Error("system info should record CPU count")
	}
}

func TestOptimizeMemoryRecordsTagAndMetrics(t *testing.T) {
	o := New(zap.NewNop())
	o.OptimizeMemory()

	report := o.Report()
	if !containsTag(report.OptimizationsApplied, "memory_optimization") {
		t.Errorf("missing memory_optimization tag: %v", report.OptimizationsApplied)
	}
	if _, ok := report.PerformanceMetrics["heap_alloc_bytes"]; !ok {
		t.Error("heap_alloc_bytes metric not recorded")
	}
}

func TestOptimizeDiskIORecordsTag(t *testing.T) {
	o := New(zap.NewNop())
	o.OptimizeDiskIO()

	if !containsTag(o.Report().OptimizationsApplied, "disk_io_optimization") {
		t.Error("missing disk_io_optimization tag")
	}
}

func TestApplyAppendsArbitraryTag(t *testing.T) {
	o := New(zap.NewNop())
	o.Apply("linux_malloc_optimization")
	o.Apply("cloud_network_optimization")

	applied := o.Report().OptimizationsApplied
	if len(applied) != 2 {
		t.Fatalf("applied = %v, want 2 tags", applied)
	}
	if applied[0] != "linux_malloc_optimization" {
		t.Error("tags must keep append order")
	}
}

func TestRunBenchmarkPopulatesMetrics(t *testing.T) {
	o := New(zap.NewNop())
	results := o.RunBenchmark()

	if _, ok := results["cpu_benchmark_ms"]; !ok {
		t.Error("cpu benchmark missing")
	}
	report := o.Report()
	if _, ok := report.PerformanceMetrics["cpu_benchmark_ms"]; !ok {
		t.Error("benchmark results not merged into report metrics")
	}
}

func TestReportIsSnapshot(t *testing.T) {
	o := New(zap.NewNop())
	o.Apply("first")
	report := o.Report()
	o.Apply("second")

	if len(report.OptimizationsApplied) != 1 {
		t.Error("report must be a snapshot, not a live view")
	}
}

func containsTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}
