// Package metrics holds the Prometheus collectors of the graph engine.
//
// Collectors are registered on a package registry rather than the global
// default one so a batch run can dump exactly the engine's series to a
// textfile-collector file when it finishes.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "jcfg"

// Registry is the registry every engine collector is registered on.
var Registry = prometheus.NewRegistry()

var (
	// graphsBuilt counts graph requests by outcome.
	// Labels: status (built, reused, failed)
	graphsBuilt = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "builder",
		Name:      "graphs_total",
		Help:      "Graph requests by outcome",
	}, []string{"status"})

	// buildDuration measures the construction time of one method graph.
	buildDuration = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "builder",
		Name:      "build_duration_seconds",
		Help:      "Time to construct one method graph",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	// impreciseResults counts exception sites whose thrown types could only
	// be estimated.
	// Labels: level (conservative, flow-sensitive, flow-insensitive, combined)
	impreciseResults = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "inference",
		Name:      "imprecise_total",
		Help:      "Exception sites with an imprecise inferred type",
	}, []string{"level"})

	// cacheLookups counts graph cache lookups.
	// Labels: result (hit, miss, reload)
	cacheLookups = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Graph cache lookups by result",
	}, []string{"result"})

	// cacheSpills counts graphs moved from memory to the backing store.
	cacheSpills = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "spills_total",
		Help:      "Graphs spilled from memory to the backing store",
	})

	// classCacheLookups counts parsed-class cache lookups of the hierarchy.
	// Labels: result (hit, miss)
	classCacheLookups = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hierarchy",
		Name:      "class_lookups_total",
		Help:      "Class cache lookups by result",
	}, []string{"result"})

	// branchIDs observes the branch count of processed graphs.
	branchIDs = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "branch",
		Name:      "ids_per_graph",
		Help:      "Branch IDs assigned per graph",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})
)

// RecordGraph records the outcome of one graph request and, for built
// graphs, its construction time.
func RecordGraph(status string, durationSec float64) {
	graphsBuilt.WithLabelValues(status).Inc()
	if status == "built" {
		buildDuration.Observe(durationSec)
	}
}

// RecordImprecise records n imprecise inference results at a level.
func RecordImprecise(level string, n int) {
	if n > 0 {
		impreciseResults.WithLabelValues(level).Add(float64(n))
	}
}

// RecordCacheLookup records a graph cache lookup.
//
// Inputs:
//
//	result - "hit", "miss", or "reload" (hit served from the backing store).
func RecordCacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}

// RecordCacheSpill records graphs written out to the backing store.
func RecordCacheSpill(n int) {
	cacheSpills.Add(float64(n))
}

// RecordClassCache adds the hit and miss counts of one hierarchy's class
// cache.
func RecordClassCache(hits, misses int64) {
	classCacheLookups.WithLabelValues("hit").Add(float64(hits))
	classCacheLookups.WithLabelValues("miss").Add(float64(misses))
}

// RecordBranchCount records the branch count of a processed graph.
func RecordBranchCount(n int) {
	branchIDs.Observe(float64(n))
}

// WriteTextfile writes the current values of all engine collectors to path
// in the Prometheus text format.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
