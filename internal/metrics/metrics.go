// Package metrics self-instruments the history store with Prometheus
// collectors, distinct from the query-client use of the same library
// elsewhere in the ecosystem: here client_golang exposes counters and
// gauges for this process to be scraped, not to query one.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TilesFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statehist",
		Name:      "tiles_flushed_total",
		Help:      "Tiles appended to a tile file, by resolution level.",
	}, []string{"level"})

	TileCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statehist",
		Name:      "tile_cache_hits_total",
		Help:      "Tile cache lookups, by outcome (hit or miss).",
	}, []string{"outcome"})

	ReplayDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "statehist",
		Name:      "replay_duration_seconds",
		Help:      "Time spent replaying trace events during a partial-history query.",
		Buckets:   prometheus.DefBuckets,
	})

	CheckpointCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "statehist",
		Name:      "checkpoints",
		Help:      "Number of checkpoints currently recorded by the partial back-end.",
	})

	OpenBackends = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "statehist",
		Name:      "open_backends",
		Help:      "Tiled back-ends currently open for writing or reading.",
	})
)
