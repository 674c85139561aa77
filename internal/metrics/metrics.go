// Package metrics records aggregation counters on a private prometheus
// registry. A nil *Recorder discards everything.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "scagg"

// Recorder holds the run metrics.
type Recorder struct {
	registry *prometheus.Registry

	chunksCompleted  prometheus.Counter
	pointsSummarized prometheus.Counter
	pointsEmpty      prometheus.Counter
	techmapBuilds    prometheus.Counter
	chunkDuration    prometheus.Histogram
}

// New registers the metrics on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		chunksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_completed_total",
			Help:      "Chunks that finished successfully.",
		}),
		pointsSummarized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_summarized_total",
			Help:      "Supply curve points with at least one valid pixel.",
		}),
		pointsEmpty: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_empty_total",
			Help:      "Supply curve points skipped for having no valid pixels.",
		}),
		techmapBuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "techmap_builds_total",
			Help:      "Tech-map builds triggered by a missing artifact.",
		}),
		chunkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_duration_seconds",
			Help:      "Wall time of one chunk.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	r.registry.MustRegister(r.chunksCompleted, r.pointsSummarized, r.pointsEmpty, r.techmapBuilds, r.chunkDuration)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ChunkCompleted records one finished chunk and its point counts.
func (r *Recorder) ChunkCompleted(d time.Duration, summarized, empty int) {
	if r == nil {
		return
	}
	r.chunksCompleted.Inc()
	r.chunkDuration.Observe(d.Seconds())
	r.pointsSummarized.Add(float64(summarized))
	r.pointsEmpty.Add(float64(empty))
}

// TechMapBuilt records a tech-map build.
func (r *Recorder) TechMapBuilt() {
	if r == nil {
		return
	}
	r.techmapBuilds.Inc()
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
