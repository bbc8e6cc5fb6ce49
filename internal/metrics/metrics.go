// Package metrics exposes the discovery run and worker pool as Prometheus
// collectors, grounded on a single custom registry rather than the global
// default so an embedding process can run more than one discovery run
// without label collisions.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/atlas-quant/strategy-forge/internal/workers"
)

var (
	// Registry is the custom prometheus registry for strategy-forge metrics.
	Registry = prometheus.NewRegistry()

	mu sync.RWMutex

	// ============================================
	// Discovery (genetic algorithm) metrics
	// ============================================

	DiscoveryGeneration = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "strategyforge",
			Subsystem: "discovery",
			Name:      "generation_current",
			Help:      "Current generation number per island",
		},
		[]string{"island"},
	)

	DiscoveryBestFitness = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "strategyforge",
			Subsystem: "discovery",
			Name:      "best_fitness",
			Help:      "Best fitness score seen so far per island",
		},
		[]string{"island"},
	)

	DiscoveryStagnantGenerations = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "strategyforge",
			Subsystem: "discovery",
			Name:      "stagnant_generations",
			Help:      "Consecutive generations without meaningful fitness improvement per island",
		},
		[]string{"island"},
	)

	DiscoveryIndividualsEvaluated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strategyforge",
			Subsystem: "discovery",
			Name:      "individuals_evaluated_total",
			Help:      "Total individuals evaluated through the backtest engine per island",
		},
		[]string{"island"},
	)

	DiscoveryMigrationEvents = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "strategyforge",
			Subsystem: "discovery",
			Name:      "migration_events_total",
			Help:      "Total ring-topology migration events across all islands",
		},
	)

	DiscoveryRestartEvents = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strategyforge",
			Subsystem: "discovery",
			Name:      "restart_events_total",
			Help:      "Total stagnation-triggered restarts per island",
		},
		[]string{"island"},
	)

	DiscoveryCacheSize = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "strategyforge",
			Subsystem: "discovery",
			Name:      "evaluation_cache_size",
			Help:      "Distinct structural+parameter signatures evaluated so far",
		},
	)

	// ============================================
	// Worker pool metrics
	// ============================================

	PoolTasksSubmitted = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "strategyforge",
			Subsystem: "pool",
			Name:      "tasks_submitted",
			Help:      "Tasks submitted to the pool",
		},
		[]string{"pool"},
	)

	PoolTasksCompleted = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "strategyforge",
			Subsystem: "pool",
			Name:      "tasks_completed",
			Help:      "Tasks completed successfully",
		},
		[]string{"pool"},
	)

	PoolTasksFailed = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "strategyforge",
			Subsystem: "pool",
			Name:      "tasks_failed",
			Help:      "Tasks that returned an error",
		},
		[]string{"pool"},
	)

	PoolTasksTimeout = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "strategyforge",
			Subsystem: "pool",
			Name:      "tasks_timeout",
			Help:      "Tasks that exceeded the per-task timeout",
		},
		[]string{"pool"},
	)

	PoolP99LatencySeconds = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "strategyforge",
			Subsystem: "pool",
			Name:      "p99_latency_seconds",
			Help:      "P99 task latency",
		},
		[]string{"pool"},
	)

	PoolThroughput = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "strategyforge",
			Subsystem: "pool",
			Name:      "throughput_tasks_per_second",
			Help:      "Lifetime average tasks completed per second",
		},
		[]string{"pool"},
	)
)

// RecordGeneration snapshots one island's generation-level state.
func RecordGeneration(island int, generation int, bestFitness float64, stagnantGenerations int) {
	mu.Lock()
	defer mu.Unlock()

	label := islandLabel(island)
	DiscoveryGeneration.WithLabelValues(label).Set(float64(generation))
	DiscoveryBestFitness.WithLabelValues(label).Set(bestFitness)
	DiscoveryStagnantGenerations.WithLabelValues(label).Set(float64(stagnantGenerations))
}

// RecordEvaluations increments the per-island evaluated-individual counter.
func RecordEvaluations(island int, count int) {
	DiscoveryIndividualsEvaluated.WithLabelValues(islandLabel(island)).Add(float64(count))
}

// RecordMigration increments the global migration event counter.
func RecordMigration() {
	DiscoveryMigrationEvents.Inc()
}

// RecordRestart increments one island's stagnation-restart counter.
func RecordRestart(island int) {
	DiscoveryRestartEvents.WithLabelValues(islandLabel(island)).Inc()
}

// SetCacheSize publishes the evaluation runner's current cache size.
func SetCacheSize(size int) {
	DiscoveryCacheSize.Set(float64(size))
}

// RecordPoolStats publishes a worker pool's current snapshot under name.
func RecordPoolStats(name string, stats workers.PoolStats) {
	PoolTasksSubmitted.WithLabelValues(name).Set(float64(stats.TasksSubmitted))
	PoolTasksCompleted.WithLabelValues(name).Set(float64(stats.TasksCompleted))
	PoolTasksFailed.WithLabelValues(name).Set(float64(stats.TasksFailed))
	PoolTasksTimeout.WithLabelValues(name).Set(float64(stats.TasksTimeout))
	PoolP99LatencySeconds.WithLabelValues(name).Set(stats.P99Latency.Seconds())
	PoolThroughput.WithLabelValues(name).Set(stats.Throughput)
}

func islandLabel(island int) string {
	return "island-" + itoa(island)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Init registers the standard Go process collectors alongside the custom
// metrics above.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
