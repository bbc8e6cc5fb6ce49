package metrics_test

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/atlas-quant/strategy-forge/internal/metrics"
	"github.com/atlas-quant/strategy-forge/internal/workers"
)

func gaugeValue(t *testing.T, m interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if out.Gauge != nil {
		return out.Gauge.GetValue()
	}
	if out.Counter != nil {
		return out.Counter.GetValue()
	}
	t.Fatal("metric has neither Gauge nor Counter value")
	return 0
}

func TestRecordGenerationUpdatesLabeledGauges(t *testing.T) {
	metrics.RecordGeneration(0, 7, 1.25, 3)

	m, err := metrics.DiscoveryGeneration.GetMetricWithLabelValues("island-0")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if got := gaugeValue(t, m); got != 7 {
		t.Errorf("generation gauge = %v, want 7", got)
	}

	fitness, _ := metrics.DiscoveryBestFitness.GetMetricWithLabelValues("island-0")
	if got := gaugeValue(t, fitness); got != 1.25 {
		t.Errorf("best fitness gauge = %v, want 1.25", got)
	}

	stagnant, _ := metrics.DiscoveryStagnantGenerations.GetMetricWithLabelValues("island-0")
	if got := gaugeValue(t, stagnant); got != 3 {
		t.Errorf("stagnant generations gauge = %v, want 3", got)
	}
}

func TestRecordEvaluationsAccumulates(t *testing.T) {
	metrics.RecordEvaluations(1, 4)
	metrics.RecordEvaluations(1, 2)

	m, err := metrics.DiscoveryIndividualsEvaluated.GetMetricWithLabelValues("island-1")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if got := gaugeValue(t, m); got < 6 {
		t.Errorf("evaluated counter = %v, want at least 6", got)
	}
}

func TestRecordPoolStatsPublishesSnapshot(t *testing.T) {
	stats := workers.PoolStats{
		TasksSubmitted: 10,
		TasksCompleted: 8,
		TasksFailed:    1,
		TasksTimeout:   1,
		P99Latency:     250 * time.Millisecond,
		Throughput:     3.5,
	}
	metrics.RecordPoolStats("test-pool", stats)

	completed, err := metrics.PoolTasksCompleted.GetMetricWithLabelValues("test-pool")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if got := gaugeValue(t, completed); got != 8 {
		t.Errorf("completed gauge = %v, want 8", got)
	}

	latency, _ := metrics.PoolP99LatencySeconds.GetMetricWithLabelValues("test-pool")
	if got := gaugeValue(t, latency); got != 0.25 {
		t.Errorf("p99 latency gauge = %v, want 0.25", got)
	}
}

func TestSetCacheSize(t *testing.T) {
	metrics.SetCacheSize(42)
	if got := gaugeValue(t, metrics.DiscoveryCacheSize); got != 42 {
		t.Errorf("cache size gauge = %v, want 42", got)
	}
}
